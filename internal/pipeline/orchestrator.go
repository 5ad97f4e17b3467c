// Package pipeline drives the refresh cycle: fetch from every platform,
// validate, merge into the store, extract signals, rebuild the report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/analytics"
	"github.com/tablesense/repute/internal/extract"
	"github.com/tablesense/repute/internal/platform"
	"github.com/tablesense/repute/internal/review"
	"github.com/tablesense/repute/internal/store"
	"github.com/tablesense/repute/internal/telemetry"
	"github.com/tablesense/repute/internal/validate"
)

// State is the orchestrator's position in the run cycle.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateDeduping    State = "deduping"
	StateExtracting  State = "extracting"
	StateAggregating State = "aggregating"
	StateDone        State = "done"
	StateError       State = "error"
)

// ErrRunInProgress is returned by Trigger when a run is already active.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Status is the externally visible orchestrator state.
type Status struct {
	State       State             `json:"state"`
	RunID       string            `json:"run_id,omitempty"`
	RunStarted  *time.Time        `json:"run_started,omitempty"`
	StepStarted *time.Time        `json:"step_started,omitempty"`
	Stalled     bool              `json:"stalled"`
	LastReport  *time.Time        `json:"last_report,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Metrics     telemetry.Metrics `json:"metrics"`
}

// Orchestrator owns the five-step run cycle. Triggers are coalesced: at
// most one run is active, and a trigger during a run reports the current
// status instead of starting another.
type Orchestrator struct {
	cfg       *config.Config
	adapters  []platform.Adapter
	store     *store.Store
	reports   *store.Reports
	engine    *extract.Engine
	builder   *analytics.Builder
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	stepCeiling time.Duration

	mu          sync.Mutex
	state       State
	runID       string
	runStarted  time.Time
	stepStarted time.Time
	lastReport  time.Time
	lastError   string
}

// New wires an orchestrator from configuration.
func New(cfg *config.Config, tele *telemetry.Telemetry) (*Orchestrator, error) {
	adapters, err := platform.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg.Storage)
	if err != nil {
		return nil, err
	}
	provider := extract.NewClient(cfg.LLM)
	return &Orchestrator{
		cfg:         cfg,
		adapters:    adapters,
		store:       st,
		reports:     store.NewReports(cfg.Storage),
		engine:      extract.NewEngine(provider, cfg.Extraction),
		builder:     analytics.NewBuilder(cfg.Analytics),
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
		stepCeiling: cfg.StepCeiling(),
		state:       StateIdle,
	}, nil
}

// NewWithDeps wires an orchestrator from prebuilt components.
func NewWithDeps(cfg *config.Config, adapters []platform.Adapter, st *store.Store, reports *store.Reports,
	engine *extract.Engine, builder *analytics.Builder, tele *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		adapters:    adapters,
		store:       st,
		reports:     reports,
		engine:      engine,
		builder:     builder,
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
		stepCeiling: cfg.StepCeiling(),
		state:       StateIdle,
	}
}

// Store exposes the review database (for the CLI and API layers).
func (o *Orchestrator) Store() *store.Store { return o.store }

// Reports exposes the report persistence layer.
func (o *Orchestrator) Reports() *store.Reports { return o.reports }

// Trigger starts a run in the calling goroutine if none is active. When a
// run is already in progress it returns the current status and
// ErrRunInProgress without starting anything.
func (o *Orchestrator) Trigger(ctx context.Context) (Status, error) {
	o.mu.Lock()
	if o.state != StateIdle && o.state != StateDone && o.state != StateError {
		st := o.statusLocked()
		o.mu.Unlock()
		return st, ErrRunInProgress
	}
	o.runID = uuid.NewString()
	o.runStarted = time.Now().UTC()
	o.lastError = ""
	o.setStateLocked(StateFetching)
	st := o.statusLocked()
	runID := o.runID
	o.mu.Unlock()

	go o.run(ctx, runID)
	return st, nil
}

// RunOnce executes one full run synchronously (CLI use).
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	st, err := o.Trigger(ctx)
	if err != nil {
		return fmt.Errorf("%w (run %s)", err, st.RunID)
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s := o.Status()
			if s.State == StateDone || s.State == StateError || s.State == StateIdle {
				if s.LastError != "" {
					return errors.New(s.LastError)
				}
				return nil
			}
		}
	}
}

// Status returns the current orchestrator status, including a stall flag
// when the active step has exceeded its ceiling.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Orchestrator) statusLocked() Status {
	st := Status{State: o.state, LastError: o.lastError}
	if o.telemetry != nil {
		st.Metrics = o.telemetry.Snapshot()
	}
	if o.runID != "" {
		st.RunID = o.runID
	}
	if !o.runStarted.IsZero() {
		t := o.runStarted
		st.RunStarted = &t
	}
	if !o.lastReport.IsZero() {
		t := o.lastReport
		st.LastReport = &t
	}
	if active(o.state) && !o.stepStarted.IsZero() {
		t := o.stepStarted
		st.StepStarted = &t
		st.Stalled = time.Since(o.stepStarted) > o.stepCeiling
	}
	return st
}

func active(s State) bool {
	switch s {
	case StateFetching, StateDeduping, StateExtracting, StateAggregating:
		return true
	}
	return false
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.setStateLocked(s)
	o.mu.Unlock()
}

func (o *Orchestrator) setStateLocked(s State) {
	o.state = s
	o.stepStarted = time.Now().UTC()
}

// run executes fetch, merge, extract, aggregate. A failing platform only
// degrades its own contribution; a failing step surfaces in LastError but
// the last persisted report stays served.
func (o *Orchestrator) run(ctx context.Context, runID string) {
	started := time.Now()
	o.logger.Printf("run %s started", runID)

	err := o.runSteps(ctx)

	o.mu.Lock()
	if err != nil {
		o.state = StateError
		o.lastError = err.Error()
	} else {
		o.state = StateDone
		o.lastReport = time.Now().UTC()
	}
	o.mu.Unlock()

	if o.telemetry != nil {
		o.telemetry.RecordRun(err == nil, time.Since(started))
	}
	if err != nil {
		o.logger.Printf("run %s failed: %v", runID, err)
		return
	}
	o.logger.Printf("run %s finished in %s", runID, time.Since(started))
}

func (o *Orchestrator) runSteps(ctx context.Context) error {
	// Fetching: all platforms in parallel, each failure isolated.
	fetched := o.fetchAll(ctx)

	// Deduping: validate and merge. Merges are serialized by the store.
	o.setState(StateDeduping)
	var valid []review.Review
	for _, r := range fetched {
		if err := validate.Review(r); err != nil {
			o.logger.Printf("dropping %s: %v", r.Key(), err)
			continue
		}
		valid = append(valid, r)
	}
	added, err := o.store.Merge(valid)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	o.logger.Printf("merged %d new of %d fetched", added, len(fetched))

	// Extracting: only reviews without signals, bounded by the attempt cap.
	o.setState(StateExtracting)
	pending := o.store.Unprocessed(o.cfg.Extraction.MaxAttempts)
	if len(pending) > 0 {
		results, stats := o.engine.Process(ctx, pending)
		updates := make([]store.ExtractionUpdate, 0, len(results))
		for _, res := range results {
			// A cancelled call was never a real attempt; leave the review
			// untouched for the next run.
			if res.Canceled {
				continue
			}
			updates = append(updates, store.ExtractionUpdate{
				Key:     res.Key,
				Signals: res.Signals,
				Failure: res.Failure,
			})
		}
		if err := o.store.ApplyExtraction(updates); err != nil {
			return fmt.Errorf("recording extraction results: %w", err)
		}
		if o.telemetry != nil {
			o.telemetry.RecordExtraction(stats.Succeeded, stats.Failed, stats.InputTokens, stats.OutputTokens)
		}
	}

	// Aggregating: deterministic rebuild over the whole database.
	o.setState(StateAggregating)
	report := o.builder.BuildReport(o.store.All(), time.Now())
	if err := o.reports.Save(report); err != nil {
		return fmt.Errorf("persisting report: %w", err)
	}
	return nil
}

func (o *Orchestrator) fetchAll(ctx context.Context) []review.Review {
	var (
		mu      sync.Mutex
		fetched []review.Review
		wg      sync.WaitGroup
	)
	for _, a := range o.adapters {
		wg.Add(1)
		go func(a platform.Adapter) {
			defer wg.Done()
			reviews, err := a.Fetch(ctx, o.cfg.Business.ID)
			if o.telemetry != nil {
				o.telemetry.RecordFetch(a.Platform(), len(reviews), err)
			}
			if err != nil {
				o.logger.Printf("platform %s degraded for this run: %v", a.Platform(), err)
				return
			}
			mu.Lock()
			fetched = append(fetched, reviews...)
			mu.Unlock()
		}(a)
	}
	wg.Wait()
	return fetched
}
