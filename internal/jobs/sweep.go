package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
)

// Sweeper runs a named scheduler sweep and reports how many jobs it enqueued.
type Sweeper interface {
	RunSweep(ctx context.Context, name string) (int, error)
}

// Sweep executes the repeating scheduler jobs.
type Sweep struct {
	sweeper Sweeper
	logger  *zap.Logger
}

// NewSweep builds the sweep handler.
func NewSweep(sweeper Sweeper, logger *zap.Logger) *Sweep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweep{sweeper: sweeper, logger: logger.Named("jobs.sweep")}
}

// Handle implements worker.Handler.
func (h *Sweep) Handle(ctx context.Context, job queue.Job) error {
	var p SweepPayload
	if err := decode(job, &p); err != nil {
		return err
	}
	n, err := h.sweeper.RunSweep(ctx, p.Sweep)
	if err != nil {
		return err
	}
	h.logger.Debug("sweep ran", zap.String("sweep", p.Sweep), zap.Int("enqueued", n))
	return nil
}
