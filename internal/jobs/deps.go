package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// Deps are the collaborators shared by every handler. Events and Blobs are
// optional; a nil value disables that side effect.
type Deps struct {
	Store  content.Store
	IDs    content.IDGenerator
	Clock  content.Clock
	Events content.Publisher
	Blobs  content.BlobStore
	Logger *zap.Logger
}

func (d Deps) logger(name string) *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger.Named(name)
}

// emit publishes ev best effort. Event delivery never fails a job because the
// state change it describes is already committed.
func (d Deps) emit(ctx context.Context, logger *zap.Logger, ev content.Event) {
	if d.Events == nil {
		return
	}
	if err := d.Events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logger.Warn("event publish failed",
			zap.String("type", ev.Type),
			zap.String("article_id", ev.ArticleID),
			zap.Error(err),
		)
	}
}
