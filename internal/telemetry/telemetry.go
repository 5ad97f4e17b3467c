// Package telemetry tracks pipeline run, fetch and extraction metrics. It
// keeps mutex-guarded in-process counters for the status API and mirrors
// them to prometheus for the /metrics endpoint.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tablesense/repute/config"
)

// Telemetry provides monitoring across pipeline runs.
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	mu      sync.RWMutex
	metrics Metrics

	promRuns        *prometheus.CounterVec
	promRunDuration prometheus.Histogram
	promFetched     *prometheus.CounterVec
	promFetchErrors *prometheus.CounterVec
	promExtractions *prometheus.CounterVec
	promTokens      *prometheus.CounterVec
}

// Metrics holds the in-process counters exposed on the status endpoint.
type Metrics struct {
	RunsTotal      int64   `json:"runs_total"`
	RunsFailed     int64   `json:"runs_failed"`
	LastRunSeconds float64 `json:"last_run_seconds"`

	FetchedByPlatform     map[string]int64 `json:"fetched_by_platform"`
	FetchErrorsByPlatform map[string]int64 `json:"fetch_errors_by_platform"`

	ExtractionsSucceeded int64 `json:"extractions_succeeded"`
	ExtractionsFailed    int64 `json:"extractions_failed"`
	InputTokens          int64 `json:"input_tokens"`
	OutputTokens         int64 `json:"output_tokens"`
}

// NewTelemetry creates a new telemetry instance and registers its
// prometheus collectors on the default registry.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	return NewTelemetryWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewTelemetryWithRegistry registers the collectors on a caller-provided
// registry. Tests use this to avoid duplicate registration on the default
// one.
func NewTelemetryWithRegistry(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: Metrics{
			FetchedByPlatform:     make(map[string]int64),
			FetchErrorsByPlatform: make(map[string]int64),
		},
		promRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repute", Name: "pipeline_runs_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		promRunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "repute", Name: "pipeline_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		promFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repute", Name: "reviews_fetched_total",
			Help: "Reviews fetched per platform.",
		}, []string{"platform"}),
		promFetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repute", Name: "fetch_errors_total",
			Help: "Fetch failures per platform.",
		}, []string{"platform"}),
		promExtractions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repute", Name: "extractions_total",
			Help: "Signal extractions by outcome.",
		}, []string{"outcome"}),
		promTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repute", Name: "llm_tokens_total",
			Help: "LLM tokens consumed by direction.",
		}, []string{"direction"}),
	}
	return t
}

// RecordRun records the outcome of one full pipeline run.
func (t *Telemetry) RecordRun(success bool, duration time.Duration) {
	t.mu.Lock()
	t.metrics.RunsTotal++
	if !success {
		t.metrics.RunsFailed++
	}
	t.metrics.LastRunSeconds = duration.Seconds()
	t.mu.Unlock()

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	t.promRuns.WithLabelValues(outcome).Inc()
	t.promRunDuration.Observe(duration.Seconds())
	if t.config.PeriodicLogs {
		t.logger.Printf("run finished: outcome=%s duration=%s", outcome, duration)
	}
}

// RecordFetch records one adapter fetch.
func (t *Telemetry) RecordFetch(platform string, count int, err error) {
	t.mu.Lock()
	if err != nil {
		t.metrics.FetchErrorsByPlatform[platform]++
	} else {
		t.metrics.FetchedByPlatform[platform] += int64(count)
	}
	t.mu.Unlock()

	if err != nil {
		t.promFetchErrors.WithLabelValues(platform).Inc()
		return
	}
	t.promFetched.WithLabelValues(platform).Add(float64(count))
}

// RecordExtraction records the stats of one extraction batch.
func (t *Telemetry) RecordExtraction(succeeded, failed, inputTokens, outputTokens int) {
	t.mu.Lock()
	t.metrics.ExtractionsSucceeded += int64(succeeded)
	t.metrics.ExtractionsFailed += int64(failed)
	t.metrics.InputTokens += int64(inputTokens)
	t.metrics.OutputTokens += int64(outputTokens)
	t.mu.Unlock()

	t.promExtractions.WithLabelValues("success").Add(float64(succeeded))
	t.promExtractions.WithLabelValues("failure").Add(float64(failed))
	t.promTokens.WithLabelValues("input").Add(float64(inputTokens))
	t.promTokens.WithLabelValues("output").Add(float64(outputTokens))
}

// Snapshot returns a copy of the in-process counters.
func (t *Telemetry) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.metrics
	out.FetchedByPlatform = make(map[string]int64, len(t.metrics.FetchedByPlatform))
	for k, v := range t.metrics.FetchedByPlatform {
		out.FetchedByPlatform[k] = v
	}
	out.FetchErrorsByPlatform = make(map[string]int64, len(t.metrics.FetchErrorsByPlatform))
	for k, v := range t.metrics.FetchErrorsByPlatform {
		out.FetchErrorsByPlatform[k] = v
	}
	return out
}
