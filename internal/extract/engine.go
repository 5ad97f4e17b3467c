package extract

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/review"
	"github.com/tablesense/repute/internal/validate"
)

// Result is the outcome of extraction for one review. Exactly one of
// Signals and Failure is set. Canceled marks failures caused by the run
// context, not by the review; those must not count as attempts.
type Result struct {
	Key      review.Key
	Signals  *review.ExtractedSignals
	Failure  string
	Canceled bool
	Usage    Usage
}

// Stats summarizes one engine run.
type Stats struct {
	Attempted    int `json:"attempted"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Engine fans reviews out to a bounded worker pool, each worker calling the
// provider under a shared rate limit. Transient provider errors are retried
// with exponential backoff; schema-invalid output gets one strict retry and
// is then reported as a failure for the review.
type Engine struct {
	provider    Provider
	limiter     *rate.Limiter
	concurrency int
	maxRetries  int
	backoff     time.Duration
	logger      *log.Logger
}

func NewEngine(provider Provider, cfg config.ExtractionConfig) *Engine {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	limit := rate.Limit(cfg.RateLimitPerSec)
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Engine{
		provider:    provider,
		limiter:     rate.NewLimiter(limit, 1),
		concurrency: concurrency,
		maxRetries:  cfg.MaxRetries,
		backoff:     backoff,
		logger:      log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags),
	}
}

// Process extracts signals for every review in the batch. One review's
// failure never aborts the batch; a cancelled context stops scheduling new
// work and returns what finished.
func (e *Engine) Process(ctx context.Context, reviews []review.Review) ([]Result, Stats) {
	jobs := make(chan review.Review)
	results := make(chan Result, len(reviews))

	var wg sync.WaitGroup
	for i := 0; i < e.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				results <- e.processOne(ctx, r)
			}
		}()
	}

feed:
	for _, r := range reviews {
		select {
		case jobs <- r:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	var out []Result
	var stats Stats
	for res := range results {
		out = append(out, res)
		stats.Attempted++
		stats.InputTokens += res.Usage.InputTokens
		stats.OutputTokens += res.Usage.OutputTokens
		if res.Signals != nil {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	if stats.Failed > 0 {
		e.logger.Printf("extraction finished: %d ok, %d failed of %d", stats.Succeeded, stats.Failed, stats.Attempted)
	}
	return out, stats
}

func (e *Engine) processOne(ctx context.Context, r review.Review) Result {
	res := Result{Key: r.Key()}

	sig, usage, err := e.callWithRetry(ctx, Request{Text: r.Text, Rating: r.Rating})
	res.Usage.InputTokens += usage.InputTokens
	res.Usage.OutputTokens += usage.OutputTokens

	// Structurally valid JSON can still violate the schema; both paths
	// earn exactly one strict retry.
	if err == nil {
		err = validate.Extraction(sig)
	}
	if err != nil && (errors.Is(err, ErrMalformedOutput) || errors.Is(err, validate.ErrInvalid)) {
		e.logger.Printf("review %s: invalid output, retrying strict: %v", res.Key, err)
		sig, usage, err = e.callWithRetry(ctx, Request{Text: r.Text, Rating: r.Rating, Strict: true})
		res.Usage.InputTokens += usage.InputTokens
		res.Usage.OutputTokens += usage.OutputTokens
		if err == nil {
			err = validate.Extraction(sig)
		}
	}
	if err != nil {
		res.Failure = err.Error()
		res.Canceled = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		return res
	}
	res.Signals = &sig
	return res
}

// callWithRetry retries transient provider errors with exponential backoff.
// Non-transient errors (schema, hard 4xx, cancellation) return immediately.
func (e *Engine) callWithRetry(ctx context.Context, req Request) (review.ExtractedSignals, Usage, error) {
	var total Usage
	var lastErr error
	tries := e.maxRetries + 1
	for attempt := 0; attempt < tries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return review.ExtractedSignals{}, total, err
		}
		sig, usage, err := e.provider.Extract(ctx, req)
		total.InputTokens += usage.InputTokens
		total.OutputTokens += usage.OutputTokens
		if err == nil {
			return sig, total, nil
		}
		lastErr = err
		if !Transient(err) {
			return review.ExtractedSignals{}, total, err
		}
		if attempt < tries-1 {
			select {
			case <-time.After(e.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return review.ExtractedSignals{}, total, ctx.Err()
			}
		}
	}
	return review.ExtractedSignals{}, total, lastErr
}
