// Package worker implements the per-queue job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/metrics"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
	"github.com/JakeFAU/rankyak-pipeline/internal/telemetry"
)

// Handler executes one job attempt. Returning an error fails the attempt and
// hands it to the queue retry policy.
type Handler interface {
	Handle(ctx context.Context, job queue.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job queue.Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job queue.Job) error { return f(ctx, job) }

// Config controls Worker behavior.
type Config struct {
	// Timeout bounds a single attempt. Zero disables the bound.
	Timeout time.Duration
	// ErrorBackoff is the pause after a failed dequeue.
	ErrorBackoff time.Duration
}

// Worker consumes one named queue.
type Worker struct {
	queue     queue.Queue
	queueName string
	handler   Handler
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(q queue.Queue, queueName string, handler Handler, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		queue:     q,
		queueName: queueName,
		handler:   handler,
		cfg:       cfg,
		logger:    logger.Named("worker").With(zap.String("queue", queueName)),
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx, w.queueName)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		w.Process(ctx, job)
	}
}

// Process runs one leased job and settles it with the queue.
func (w *Worker) Process(ctx context.Context, job queue.Job) {
	metrics.IncActiveWorkers(w.queueName)
	defer metrics.DecActiveWorkers(w.queueName)

	start := time.Now()
	err := w.execute(ctx, job)
	elapsed := time.Since(start)

	// Settle even when shutdown cancelled the attempt.
	settleCtx := context.WithoutCancel(ctx)
	log := w.logger.With(zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	if err == nil {
		if ackErr := w.queue.Ack(settleCtx, job); ackErr != nil {
			log.Error("ack failed", zap.Error(ackErr))
		}
		metrics.ObserveJob(w.queueName, string(queue.OutcomeSucceeded), elapsed)
		log.Info("job succeeded", zap.Duration("elapsed", elapsed))
		return
	}

	next, nackErr := w.queue.Nack(settleCtx, job, err)
	if nackErr != nil {
		log.Error("nack failed", zap.Error(err), zap.NamedError("nack_error", nackErr))
		metrics.ObserveJob(w.queueName, "nack_error", elapsed)
		return
	}
	switch next.State {
	case queue.StateDead:
		metrics.ObserveJob(w.queueName, string(next.Outcome), elapsed)
		log.Error("job dead",
			zap.String("outcome", string(next.Outcome)),
			zap.String("code", next.ErrorCode),
			zap.Error(err),
		)
	default:
		metrics.ObserveJob(w.queueName, "retry", elapsed)
		log.Warn("job failed, retry scheduled",
			zap.Time("run_at", next.RunAt),
			zap.String("code", string(content.CodeOf(err))),
			zap.Error(err),
		)
	}
}

func (w *Worker) execute(ctx context.Context, job queue.Job) (err error) {
	if w.handler == nil {
		return content.Errorf(content.CodeValidationFailed, "worker", "no handler for queue %s", w.queueName)
	}
	ctx, span := telemetry.StartJob(ctx, w.queueName, job.ID, job.Attempt)
	defer func() { telemetry.EndJob(span, err) }()
	attemptCtx := ctx
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("handler panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	if err := w.handler.Handle(attemptCtx, job); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && attemptCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("attempt timed out after %s: %w", w.cfg.Timeout, err)
		}
		return err
	}
	return nil
}
