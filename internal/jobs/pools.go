package jobs

import (
	"github.com/JakeFAU/rankyak-pipeline/internal/dispatcher"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
	"github.com/JakeFAU/rankyak-pipeline/internal/worker"
)

// DefaultConcurrency caps workers per queue.
var DefaultConcurrency = map[string]int{
	queue.Generation: 3,
	queue.Publishing: 5,
	queue.Analytics:  2,
	queue.Sweeps:     1,
}

// Handlers groups one handler per queue.
type Handlers struct {
	Generation worker.Handler
	Publishing worker.Handler
	Analytics  worker.Handler
	Sweeps     worker.Handler
}

// Pools binds each non-nil handler to its queue. concurrency overrides
// DefaultConcurrency per queue name.
func Pools(h Handlers, concurrency map[string]int) []dispatcher.Pool {
	bindings := []struct {
		queue   string
		handler worker.Handler
	}{
		{queue.Generation, h.Generation},
		{queue.Publishing, h.Publishing},
		{queue.Analytics, h.Analytics},
		{queue.Sweeps, h.Sweeps},
	}
	pools := make([]dispatcher.Pool, 0, len(bindings))
	for _, b := range bindings {
		if b.handler == nil {
			continue
		}
		n := DefaultConcurrency[b.queue]
		if v, ok := concurrency[b.queue]; ok && v > 0 {
			n = v
		}
		pools = append(pools, dispatcher.Pool{Queue: b.queue, Concurrency: n, Handler: b.handler})
	}
	return pools
}
