package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/analytics"
	"github.com/tablesense/repute/internal/extract"
	"github.com/tablesense/repute/internal/platform"
	"github.com/tablesense/repute/internal/review"
	"github.com/tablesense/repute/internal/store"
	"github.com/tablesense/repute/internal/telemetry"
)

type stubAdapter struct {
	name    string
	reviews []review.Review
	err     error
	block   chan struct{} // when set, Fetch waits until closed
}

func (a *stubAdapter) Platform() string { return a.name }

func (a *stubAdapter) Fetch(ctx context.Context, businessID string) ([]review.Review, error) {
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.reviews, a.err
}

func (a *stubAdapter) BusinessInfo(context.Context, string) (*platform.BusinessInfo, error) {
	return &platform.BusinessInfo{BusinessID: "biz"}, nil
}

func (a *stubAdapter) ValidateCredentials(context.Context) error { return nil }

type stubProvider struct {
	calls atomic.Int64
	block chan struct{} // when set, Extract waits until closed
}

func (p *stubProvider) Extract(ctx context.Context, _ extract.Request) (review.ExtractedSignals, extract.Usage, error) {
	p.calls.Add(1)
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return review.ExtractedSignals{}, extract.Usage{}, ctx.Err()
		}
	}
	return review.ExtractedSignals{
		Sentiment:   review.SentimentPositive,
		ExtractedAt: time.Now().UTC(),
	}, extract.Usage{InputTokens: 1, OutputTokens: 1}, nil
}

func testReview(platformName, id string, rating int) review.Review {
	return review.Review{
		Platform:  platformName,
		NativeID:  id,
		Author:    "A",
		Rating:    rating,
		Text:      "fine",
		PostedAt:  time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		FetchedAt: time.Now().UTC(),
	}
}

func testOrchestrator(t *testing.T, adapters []platform.Adapter) (*Orchestrator, *stubProvider) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Business.ID = "biz"
	cfg.General.DefaultTimeout = time.Minute
	cfg.Extraction = config.ExtractionConfig{
		Concurrency:     2,
		RateLimitPerSec: 1000,
		MaxRetries:      1,
		MaxAttempts:     3,
		Backoff:         time.Millisecond,
	}
	cfg.Storage = config.StorageConfig{
		DataDir:        t.TempDir(),
		DatabaseFile:   "reviews.json",
		ReportFile:     "report.json",
		BackupDir:      "backups",
		BackupMaxCount: 5,
	}

	st, err := store.New(cfg.Storage)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	provider := &stubProvider{}
	tele := telemetry.NewTelemetryWithRegistry(cfg.Telemetry, prometheus.NewRegistry())
	orch := NewWithDeps(cfg, adapters, st, store.NewReports(cfg.Storage),
		extract.NewEngine(provider, cfg.Extraction), analytics.NewBuilder(cfg.Analytics), tele)
	return orch, provider
}

func TestRunOnceEndToEnd(t *testing.T) {
	t.Parallel()

	google := &stubAdapter{name: "google", reviews: []review.Review{
		testReview("google", "a", 5),
		testReview("google", "a", 5), // duplicate within the batch
		testReview("google", "b", 3),
	}}
	yelp := &stubAdapter{name: "yelp", reviews: []review.Review{
		testReview("yelp", "a", 2), // same native id, different platform
	}}
	orch, provider := testOrchestrator(t, []platform.Adapter{google, yelp})

	if err := orch.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if got := orch.Store().Len(); got != 3 {
		t.Fatalf("expected 3 stored reviews, got %d", got)
	}
	if got := provider.calls.Load(); got != 3 {
		t.Fatalf("expected 3 extraction calls, got %d", got)
	}

	report, ok, err := orch.Reports().Latest()
	if err != nil || !ok {
		t.Fatalf("expected persisted report, ok=%v err=%v", ok, err)
	}
	if report.Metadata.TotalReviews != 3 || report.Metadata.ProcessedReviews != 3 {
		t.Fatalf("unexpected report metadata: %+v", report.Metadata)
	}

	st := orch.Status()
	if st.State != StateDone || st.LastReport == nil {
		t.Fatalf("unexpected final status: %+v", st)
	}

	// A second run must not duplicate or re-extract anything.
	if err := orch.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if got := orch.Store().Len(); got != 3 {
		t.Fatalf("second run added reviews: %d", got)
	}
	if got := provider.calls.Load(); got != 3 {
		t.Fatalf("second run re-extracted: %d calls", got)
	}
}

func TestFailingPlatformDegradesOnlyItself(t *testing.T) {
	t.Parallel()

	google := &stubAdapter{name: "google", err: context.DeadlineExceeded}
	yelp := &stubAdapter{name: "yelp", reviews: []review.Review{testReview("yelp", "y1", 4)}}
	orch, _ := testOrchestrator(t, []platform.Adapter{google, yelp})

	if err := orch.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := orch.Store().Len(); got != 1 {
		t.Fatalf("expected yelp review stored despite google failure, got %d", got)
	}
	st := orch.Status()
	if st.Metrics.FetchErrorsByPlatform["google"] != 1 {
		t.Fatalf("google failure not recorded: %+v", st.Metrics)
	}
}

func TestTriggerCoalesces(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	slow := &stubAdapter{name: "google", block: block}
	orch, _ := testOrchestrator(t, []platform.Adapter{slow})

	first, err := orch.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	second, err := orch.Trigger(context.Background())
	if err != ErrRunInProgress {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if second.RunID != first.RunID {
		t.Fatalf("coalesced trigger must report the active run: %q vs %q", second.RunID, first.RunID)
	}

	close(block)
	waitForRun(t, orch)
}

func waitForRun(t *testing.T, orch *Orchestrator) Status {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		st := orch.Status()
		if st.State == StateDone || st.State == StateError {
			return st
		}
		select {
		case <-deadline:
			t.Fatalf("run did not finish: %+v", st)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCancelledExtractionLeavesAttemptsUntouched(t *testing.T) {
	t.Parallel()

	google := &stubAdapter{name: "google", reviews: []review.Review{testReview("google", "a", 5)}}
	orch, provider := testOrchestrator(t, []platform.Adapter{google})
	provider.block = make(chan struct{})
	defer close(provider.block)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := orch.Trigger(ctx); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	cancel()
	waitForRun(t, orch)

	stored := orch.Store().All()
	if len(stored) != 1 {
		t.Fatalf("expected the fetched review stored, got %d", len(stored))
	}
	if stored[0].ExtractionAttempts != 0 || stored[0].ExtractionFailed {
		t.Fatalf("cancelled call must not count as an attempt: %+v", stored[0])
	}
	if got := len(orch.Store().Unprocessed(3)); got != 1 {
		t.Fatalf("review should stay eligible for the next run, got %d pending", got)
	}
}

func TestSchedulerCoalescedTickStaysDue(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	slow := &stubAdapter{name: "google", block: block}
	orch, _ := testOrchestrator(t, []platform.Adapter{slow})

	if _, err := orch.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	s := NewScheduler(orch, config.SchedulerConfig{Spec: "@daily", Tick: time.Minute})
	s.tick()
	if s.lastRun != nil {
		t.Fatalf("tick that coalesced into an active run must not advance lastRun")
	}

	close(block)
	waitForRun(t, orch)
	s.tick()
	if s.lastRun == nil {
		t.Fatalf("tick that started a run must advance lastRun")
	}
	waitForRun(t, orch)
}

func TestStatusReportsStall(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	slow := &stubAdapter{name: "google", block: block}
	orch, _ := testOrchestrator(t, []platform.Adapter{slow})
	orch.stepCeiling = time.Millisecond

	if _, err := orch.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	st := orch.Status()
	if !st.Stalled {
		t.Fatalf("expected stall flag: %+v", st)
	}

	close(block)
	waitForRun(t, orch)
}

func TestIsDue(t *testing.T) {
	t.Parallel()

	if !isDue("@daily", nil) {
		t.Fatalf("never-run @daily must be due")
	}
	recent := time.Now().Add(-time.Hour)
	if isDue("@daily", &recent) {
		t.Fatalf("@daily after an hour must not be due")
	}
	old := time.Now().Add(-25 * time.Hour)
	if !isDue("@daily", &old) {
		t.Fatalf("@daily after 25h must be due")
	}
	if isDue("@hourly", &recent) == false && time.Since(recent) >= time.Hour {
		t.Fatalf("@hourly after an hour must be due")
	}
	twoHours := time.Now().Add(-2 * time.Hour)
	if !isDue("@hourly", &twoHours) {
		t.Fatalf("@hourly after 2h must be due")
	}
	if !isDue("*/5 * * * *", &twoHours) {
		t.Fatalf("cron spec with elapsed next must be due")
	}
}
