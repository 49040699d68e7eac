// Package dispatcher manages worker fan-out over the job queues.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
	"github.com/JakeFAU/rankyak-pipeline/internal/worker"
)

// Pool binds a queue to a handler with a fixed concurrency cap.
type Pool struct {
	Queue       string
	Concurrency int
	Handler     worker.Handler
}

// Dispatcher fans out queue work to per-queue pools of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher with Concurrency workers per pool.
func New(q queue.Queue, pools []Pool, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{queue: q, logger: logger.Named("dispatcher")}
	for _, p := range pools {
		n := p.Concurrency
		if n <= 0 {
			n = 1
		}
		for range n {
			d.workers = append(d.workers, worker.New(q, p.Queue, p.Handler, cfg, logger))
		}
		d.logger.Info("pool configured", zap.String("queue", p.Queue), zap.Int("workers", n))
	}
	return d
}

// Size reports the total number of workers.
func (d *Dispatcher) Size() int { return len(d.workers) }

// Run starts all workers and blocks until the context finishes and every
// in-flight job settles.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, name string, payload []byte, opts queue.Options) (queue.Job, error) {
	job, err := d.queue.Enqueue(ctx, name, payload, opts)
	if err != nil {
		return queue.Job{}, fmt.Errorf("queue enqueue: %w", err)
	}
	return job, nil
}
