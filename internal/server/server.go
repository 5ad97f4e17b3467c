// Package server exposes the report boundary: latest report, manual
// trigger, run status, health and metrics.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/pipeline"
	"github.com/tablesense/repute/internal/telemetry"
)

// Run builds the orchestrator, starts the scheduler and serves the API.
// It blocks until the listener fails.
func Run(cfg *config.Config) error {
	tele := telemetry.NewTelemetry(cfg.Telemetry)
	orch, err := pipeline.New(cfg, tele)
	if err != nil {
		return err
	}

	if cfg.Scheduler.Enabled {
		sched := pipeline.NewScheduler(orch, cfg.Scheduler)
		sched.Start()
		defer sched.Shutdown()
	}

	e := newEcho()
	h := &Handler{Orch: orch, Reports: orch.Reports()}
	h.Register(e.Group("/api"))

	addr := cfg.Server.Address
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// newEcho assembles the echo instance with recovery, CORS, the unified
// JSON error handler and the operational endpoints.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}
