package users

import (
	"context"
	"log/slog"
	"time"
)

// Recalculator periodically refreshes every user's risk profile.
type Recalculator struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewRecalculator creates a risk recalculation loop. A non-positive interval
// defaults to 15 minutes.
func NewRecalculator(service *Service, interval time.Duration, logger *slog.Logger) *Recalculator {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recalculator{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start runs the recalculation loop. Call in a goroutine.
func (r *Recalculator) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// Stop signals the loop to exit.
func (r *Recalculator) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

// RunOnce performs a single recalculation pass.
func (r *Recalculator) RunOnce(ctx context.Context) {
	n, err := r.service.RecalculateAll(ctx)
	if err != nil {
		r.logger.Warn("risk recalculation pass failed", "updated", n, "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("risk recalculation pass complete", "updated", n)
	}
}
