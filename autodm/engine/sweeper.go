package engine

import (
	"context"
	"log/slog"
	"time"
)

const DefaultSweepInterval = time.Minute

// Runs the reconciliation sweep on a fixed interval.
type Sweeper struct {
	Engine   *Engine
	Interval time.Duration
	Logger   *slog.Logger
}

// Blocks until ctx is done. A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("system", "sweeper", "interval", interval)
	logger.Info("starting follow-gate sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Engine.RunReconciliationSweep(ctx); err != nil && ctx.Err() == nil {
			logger.Error("reconciliation sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("stopping follow-gate sweeper")
			return nil
		case <-ticker.C:
		}
	}
}
