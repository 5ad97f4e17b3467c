package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/pipeline"
	"github.com/tablesense/repute/internal/server"
	"github.com/tablesense/repute/internal/store"
	"github.com/tablesense/repute/internal/telemetry"
)

func main() {
	var root = &cobra.Command{Use: "reputed"}

	root.AddCommand(serveCMD(), runCMD(), reportCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server with the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			return server.Run(cfg)
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}

func runCMD() *cobra.Command {
	var cfgPath string
	var run = &cobra.Command{
		Use:   "run",
		Short: "Execute a single pipeline run and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			tele := telemetry.NewTelemetry(cfg.Telemetry)
			orch, err := pipeline.New(cfg, tele)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := orch.RunOnce(ctx); err != nil {
				return err
			}

			st := orch.Status()
			fmt.Printf("run %s finished: %d reviews stored\n", st.RunID, orch.Store().Len())
			return nil
		},
	}
	run.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}

func reportCMD() *cobra.Command {
	var cfgPath string
	var report = &cobra.Command{
		Use:   "report",
		Short: "Print the latest generated report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			rep, ok, err := store.NewReports(cfg.Storage).Latest()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no report generated yet")
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	report.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return report
}
