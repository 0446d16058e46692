// Package maintenance runs the background housekeeping loop: periodic
// limits refresh and durable-cache expiry sweeps, driven by cron
// schedules so operators can tune cadence without code changes.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olumi/olumi-go/internal/cache"
	"github.com/olumi/olumi-go/internal/limits"
)

// Default cron schedules. Standard five-field expressions.
const (
	DefaultRefreshSchedule = "*/30 * * * *" // limits refresh every 30 minutes
	DefaultPurgeSchedule   = "0 * * * *"    // cache sweep hourly
)

// Config configures a Scheduler.
type Config struct {
	Limits *limits.Manager
	Cache  cache.Cache
	Logger *slog.Logger
	// RefreshSchedule and PurgeSchedule override the default cadences.
	RefreshSchedule string
	PurgeSchedule   string
}

// Scheduler runs maintenance jobs on their cron schedules. A job still
// running when its next tick arrives is skipped, not stacked.
type Scheduler struct {
	cfg    Config
	parser cron.Parser
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RefreshSchedule == "" {
		cfg.RefreshSchedule = DefaultRefreshSchedule
	}
	if cfg.PurgeSchedule == "" {
		cfg.PurgeSchedule = DefaultPurgeSchedule
	}
	return &Scheduler{
		cfg:      cfg,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("maintenance scheduler already started")
	}

	if _, err := s.parser.Parse(s.cfg.RefreshSchedule); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("parse refresh schedule %q: %w", s.cfg.RefreshSchedule, err)
	}
	if _, err := s.parser.Parse(s.cfg.PurgeSchedule); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("parse purge schedule %q: %w", s.cfg.PurgeSchedule, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.cfg.Logger.Info("maintenance scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	last := time.Now().UTC()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			s.tick(ctx, last, now)
			last = now
		}
	}
}

// tick runs each job whose schedule fired in the (last, now] window.
func (s *Scheduler) tick(ctx context.Context, last, now time.Time) {
	if s.due(s.cfg.RefreshSchedule, last, now) {
		s.runJob(ctx, "limits_refresh", s.refreshLimits)
	}
	if s.due(s.cfg.PurgeSchedule, last, now) {
		s.runJob(ctx, "cache_purge", s.purgeCache)
	}
}

// due reports whether a cron expression fires within (last, now].
func (s *Scheduler) due(expr string, last, now time.Time) bool {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return false
	}
	next := schedule.Next(last)
	return !next.After(now)
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(context.Context) error) {
	if !s.tryAcquire(name) {
		return
	}
	go func() {
		defer s.release(name)
		if err := fn(ctx); err != nil {
			s.cfg.Logger.Error("maintenance job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (s *Scheduler) refreshLimits(ctx context.Context) error {
	if s.cfg.Limits == nil {
		return nil
	}
	return s.cfg.Limits.Hydrate(ctx)
}

func (s *Scheduler) purgeCache(ctx context.Context) error {
	if s.cfg.Cache == nil {
		return nil
	}
	purged, err := s.cfg.Cache.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		s.cfg.Logger.Info("purged expired cache entries", slog.Int("count", purged))
	}
	return nil
}

// tryAcquire returns true and marks the job in-flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.cfg.Logger.Info("maintenance scheduler stopped")
	return nil
}
