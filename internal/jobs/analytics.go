package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/analytics"
	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
)

// Prober checks a remote URL.
type Prober interface {
	Probe(ctx context.Context, url string) (analytics.Result, error)
}

// Analytics records a liveness snapshot for every published article of a
// project that has a remote URL.
type Analytics struct {
	deps   Deps
	prober Prober
	logger *zap.Logger
}

// NewAnalytics builds the analytics handler.
func NewAnalytics(deps Deps, prober Prober) *Analytics {
	return &Analytics{deps: deps, prober: prober, logger: deps.logger("jobs.analytics")}
}

// Handle implements worker.Handler.
func (h *Analytics) Handle(ctx context.Context, job queue.Job) error {
	var p AnalyticsPayload
	if err := decode(job, &p); err != nil {
		return err
	}
	articles, err := h.deps.Store.ListArticles(ctx, p.ProjectID, content.ArticlePublished)
	if err != nil {
		return fmt.Errorf("list published articles: %w", err)
	}
	var (
		errs    []error
		probed  int
		offline int
	)
	for _, a := range articles {
		if a.RemoteURL == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		snap := h.probe(ctx, a)
		if err := h.deps.Store.SaveSnapshot(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("save snapshot %s: %w", a.ID, err))
			continue
		}
		probed++
		if !snap.Live {
			offline++
		}
	}
	h.logger.Info("analytics sync finished",
		zap.String("project_id", p.ProjectID),
		zap.Int("probed", probed),
		zap.Int("offline", offline),
	)
	return errors.Join(errs...)
}

// probe never fails: a transport error is recorded as an offline snapshot.
func (h *Analytics) probe(ctx context.Context, a content.Article) content.AnalyticsSnapshot {
	snap := content.AnalyticsSnapshot{
		ArticleID: a.ID,
		ProjectID: a.ProjectID,
		URL:       a.RemoteURL,
	}
	res, err := h.prober.Probe(ctx, a.RemoteURL)
	if err != nil {
		h.logger.Debug("probe failed", zap.String("url", a.RemoteURL), zap.Error(err))
	}
	snap.StatusCode = res.StatusCode
	snap.Live = err == nil && res.Live
	snap.ResponseMs = res.ResponseTime.Milliseconds()
	snap.CheckedAt = h.deps.Clock.Now().UTC()
	return snap
}
