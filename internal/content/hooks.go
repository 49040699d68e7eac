package content

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ArticleEvent describes a committed article mutation.
type ArticleEvent struct {
	Before Article
	After  Article
	Change ArticleChange
	Origin Origin
}

// ArticleHook runs after an article mutation has been committed. The
// returned detail is surfaced to the caller as diagnostics.
type ArticleHook interface {
	Name() string
	AfterArticleUpdate(ctx context.Context, ev ArticleEvent) (any, error)
}

// HookReport is the outcome of one hook invocation.
type HookReport struct {
	Hook   string `json:"hook"`
	Detail any    `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HookRunner dispatches hooks asynchronously. Hook failures are logged and
// reported, never returned to the mutating caller.
type HookRunner struct {
	hooks   []ArticleHook
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewHookRunner builds a runner; timeout bounds each dispatch.
func NewHookRunner(timeout time.Duration, logger *zap.Logger, hooks ...ArticleHook) *HookRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HookRunner{hooks: hooks, timeout: timeout, logger: logger.Named("hooks")}
}

// Register appends a hook. It must be called before the first Dispatch.
func (r *HookRunner) Register(h ArticleHook) {
	r.hooks = append(r.hooks, h)
}

// Dispatch runs every hook for ev in the background. The returned channel
// yields exactly one slice of reports and is then closed. Cancellation of
// parent does not abort hooks; only the runner timeout does.
func (r *HookRunner) Dispatch(parent context.Context, ev ArticleEvent) <-chan []HookReport {
	out := make(chan []HookReport, 1)
	if r == nil || len(r.hooks) == 0 {
		out <- nil
		close(out)
		return out
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(out)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
		defer cancel()

		reports := make([]HookReport, len(r.hooks))
		var wg sync.WaitGroup
		for i, h := range r.hooks {
			wg.Add(1)
			go func(i int, h ArticleHook) {
				defer wg.Done()
				reports[i] = r.run(ctx, h, ev)
			}(i, h)
		}
		wg.Wait()
		out <- reports
	}()
	return out
}

// Wait blocks until every in-flight dispatch finishes.
func (r *HookRunner) Wait() {
	r.wg.Wait()
}

func (r *HookRunner) run(ctx context.Context, h ArticleHook, ev ArticleEvent) (report HookReport) {
	report.Hook = h.Name()
	defer func() {
		if p := recover(); p != nil {
			report.Error = fmt.Sprintf("hook panic: %v", p)
			r.logger.Error("article hook panicked",
				zap.String("hook", report.Hook),
				zap.String("article_id", ev.After.ID),
				zap.Any("panic", p),
			)
		}
	}()
	detail, err := h.AfterArticleUpdate(ctx, ev)
	report.Detail = detail
	if err != nil {
		report.Error = err.Error()
		r.logger.Warn("article hook failed",
			zap.String("hook", report.Hook),
			zap.String("article_id", ev.After.ID),
			zap.Error(err),
		)
	}
	return report
}
