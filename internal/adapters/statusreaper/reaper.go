// Package statusreaper reconciles agents left in running status by a
// crashed scheduler process.
package statusreaper

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/target/agent-scheduler/internal/core"
	"github.com/target/agent-scheduler/internal/data"
	"github.com/target/agent-scheduler/internal/observability/statsd"
)

// Default values for the reaper cadence.
const (
	DefaultInterval   = time.Minute
	DefaultStaleAfter = 10 * time.Minute
)

// Options groups dependencies for the Service.
type Options struct {
	Repo         core.StatusReaperRepository
	Interval     time.Duration
	StaleAfter   time.Duration
	Logger       *slog.Logger
	Metrics      statsd.Sink
	TimeProvider data.TimeProvider
}

// Service periodically resets stale running agents to error status.
type Service struct {
	repo         core.StatusReaperRepository
	interval     time.Duration
	staleAfter   time.Duration
	logger       *slog.Logger
	metrics      statsd.Sink
	timeProvider data.TimeProvider
}

// NewService constructs a status reaper.
func NewService(opts Options) (*Service, error) {
	if opts.Repo == nil {
		return nil, errors.New("status reaper repository is required")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	return &Service{
		repo:         opts.Repo,
		interval:     interval,
		staleAfter:   staleAfter,
		logger:       logger.With("component", "status_reaper"),
		metrics:      opts.Metrics,
		timeProvider: tp,
	}, nil
}

// Run executes the reconcile loop until the context is cancelled. Returns nil
// on graceful shutdown.
func (s *Service) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting status reaper",
		"interval", s.interval, "stale_after", s.staleAfter)

	// Jitter spreads instances started together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "status reaper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Sweep runs one reconcile pass. Exported for the admin CLI.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.timeProvider.Now().Add(-s.staleAfter)
	return s.repo.ResetStaleRunning(ctx, cutoff)
}

func (s *Service) sweep(ctx context.Context) {
	reset, err := s.Sweep(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "stale status sweep failed", "error", err)
		if s.metrics != nil {
			s.metrics.Count("status_reaper.sweep", 1, map[string]string{"result": "error"})
		}
		return
	}

	if reset > 0 {
		s.logger.WarnContext(ctx, "reset stale running agents",
			"count", reset, "stale_after", s.staleAfter)
	}
	if s.metrics != nil {
		s.metrics.Count("status_reaper.sweep", 1, map[string]string{"result": "success"})
		if reset > 0 {
			s.metrics.Count("status_reaper.reset", reset, nil)
		}
	}
}

func (s *Service) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return
	}
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}
