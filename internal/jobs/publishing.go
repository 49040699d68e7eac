package jobs

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/publishing"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
)

// ArticlePublisher is the part of the integration layer the handler needs.
type ArticlePublisher interface {
	Publish(ctx context.Context, article content.Article, hint publishing.Hint) publishing.Result
}

// Publishing pushes one article to its integration and records the outcome.
type Publishing struct {
	deps      Deps
	publisher ArticlePublisher
	recorder  publishing.RemoteRecorder
	logger    *zap.Logger
}

// NewPublishing builds the publishing handler.
func NewPublishing(deps Deps, publisher ArticlePublisher, recorder publishing.RemoteRecorder) *Publishing {
	return &Publishing{deps: deps, publisher: publisher, recorder: recorder, logger: deps.logger("jobs.publishing")}
}

// Handle implements worker.Handler.
func (h *Publishing) Handle(ctx context.Context, job queue.Job) error {
	var p PublishingPayload
	if err := decode(job, &p); err != nil {
		return err
	}
	article, err := h.deps.Store.GetArticle(ctx, p.ArticleID)
	if err != nil {
		return err
	}
	if article.ProjectID != p.ProjectID {
		return content.Errorf(content.CodeNotFound, "publish job", "article %s in project %s", p.ArticleID, p.ProjectID)
	}

	hint := publishing.Hint{IntegrationID: p.IntegrationID, Platform: p.Platform}
	res := h.publisher.Publish(ctx, article, hint)
	ref := content.RemoteRef{URL: res.URL, PostID: res.PostID}
	if err := res.Err(); err != nil {
		if !h.publishLocally(article, hint, err) {
			return err
		}
		h.logger.Info("no integration, publishing locally",
			zap.String("article_id", article.ID),
			zap.String("project_id", article.ProjectID),
		)
		ref = content.RemoteRef{}
	}

	updated, err := h.recorder.MarkPublished(ctx, article.ID, ref)
	if err != nil {
		return err
	}
	h.logger.Info("article marked published",
		zap.String("article_id", updated.ID),
		zap.String("integration_id", res.IntegrationID),
		zap.String("url", updated.RemoteURL),
		zap.Bool("reused", res.Reused),
	)
	h.deps.emit(ctx, h.logger, content.Event{
		Type:       content.EventArticlePublished,
		ProjectID:  updated.ProjectID,
		ArticleID:  updated.ID,
		URL:        updated.RemoteURL,
		OccurredAt: h.deps.Clock.Now().UTC(),
	})
	return nil
}

// publishLocally reports whether a missing integration should still let a
// due article go live. Explicit targets never fall back.
func (h *Publishing) publishLocally(article content.Article, hint publishing.Hint, err error) bool {
	if hint.IntegrationID != "" || hint.Platform != "" {
		return false
	}
	if !errors.Is(err, content.ErrNoIntegrationConfigured) {
		return false
	}
	return article.Status == content.ArticleScheduled || article.Status == content.ArticlePublished
}
