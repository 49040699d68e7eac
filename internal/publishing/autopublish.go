package publishing

import (
	"context"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// Publisher is the part of Service the auto-publish hook needs.
type Publisher interface {
	Resolve(ctx context.Context, projectID string, hint Hint) (content.Integration, error)
	Publish(ctx context.Context, article content.Article, hint Hint) Result
}

// RemoteRecorder stores the remote reference of a published article.
type RemoteRecorder interface {
	MarkPublished(ctx context.Context, articleID string, ref content.RemoteRef) (content.Article, error)
}

// Diagnostic is the auto-publish hook report.
type Diagnostic struct {
	Attempted       bool             `json:"attempted"`
	Platform        content.Platform `json:"platform,omitempty"`
	IntegrationID   string           `json:"integrationId,omitempty"`
	HasWordPressURL bool             `json:"hasWordPressUrl"`
	Result          *Result          `json:"result,omitempty"`
}

// AutoPublisher pushes an article to the project default integration when a
// user moves it from draft to published.
type AutoPublisher struct {
	publisher Publisher
	recorder  RemoteRecorder
}

// NewAutoPublisher builds the hook. recorder may be nil.
func NewAutoPublisher(publisher Publisher, recorder RemoteRecorder) *AutoPublisher {
	return &AutoPublisher{publisher: publisher, recorder: recorder}
}

// Name implements content.ArticleHook.
func (h *AutoPublisher) Name() string { return "auto-publish" }

// AfterArticleUpdate implements content.ArticleHook.
func (h *AutoPublisher) AfterArticleUpdate(ctx context.Context, ev content.ArticleEvent) (any, error) {
	if !ev.Change.TriggersAutoPublish {
		return Diagnostic{}, nil
	}
	diag := Diagnostic{Attempted: true}
	if integ, err := h.publisher.Resolve(ctx, ev.After.ProjectID, Hint{}); err == nil {
		diag.Platform = integ.Platform
		diag.IntegrationID = integ.ID
		diag.HasWordPressURL = integ.Platform == content.PlatformWordPress && TargetOf(integ).URL != ""
	}
	res := h.publisher.Publish(ctx, ev.After, Hint{})
	diag.Result = &res
	if err := res.Err(); err != nil {
		return diag, err
	}
	if h.recorder != nil {
		if _, err := h.recorder.MarkPublished(ctx, ev.After.ID, content.RemoteRef{URL: res.URL, PostID: res.PostID}); err != nil {
			return diag, err
		}
	}
	return diag, nil
}
