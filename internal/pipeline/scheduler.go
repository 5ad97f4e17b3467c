package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/tablesense/repute/config"
)

// Scheduler re-enters the orchestrator on a schedule. Supports @daily,
// @hourly and 5-field cron specs. When a Redis client is set, replicas
// sharing storage coordinate through a SetNX run lock. Stopping the
// scheduler never cancels an in-flight run.
type Scheduler struct {
	Orch   *Orchestrator
	Spec   string
	Tick   time.Duration
	Rdb    *redis.Client
	Logger *log.Logger

	LockTTL time.Duration

	stop    chan struct{}
	lastRun *time.Time
}

// NewScheduler builds a scheduler from config, dialing Redis only when the
// run lock is enabled.
func NewScheduler(orch *Orchestrator, cfg config.SchedulerConfig) *Scheduler {
	s := &Scheduler{
		Orch:    orch,
		Spec:    cfg.Spec,
		Tick:    cfg.Tick,
		LockTTL: cfg.Redis.LockTTL,
		Logger:  log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
		stop:    make(chan struct{}),
	}
	if s.Tick <= 0 {
		s.Tick = time.Minute
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 30 * time.Minute
	}
	if cfg.Redis.Enabled {
		s.Rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return s
}

// Start begins ticking in a background goroutine.
func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.Tick)
	go func() {
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Shutdown stops scheduling new runs. An in-flight run keeps going.
func (s *Scheduler) Shutdown() {
	close(s.stop)
}

func (s *Scheduler) tick() {
	if !isDue(s.Spec, s.lastRun) {
		return
	}
	ctx := context.Background()

	// distributed lock to avoid duplicate runs across replicas
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, "repute:sched:lock", "1", s.LockTTL).Result()
		if err != nil {
			s.Logger.Printf("run lock unavailable, skipping tick: %v", err)
			return
		}
		if !ok {
			return
		}
	}

	if _, err := s.Orch.Trigger(ctx); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return // coalesced into the active run, stays due for the next tick
		}
		s.Logger.Printf("scheduled trigger failed: %v", err)
		return
	}
	now := time.Now()
	s.lastRun = &now
}

// isDue determines whether a run should fire now given the last run time.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
