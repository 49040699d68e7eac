package publishing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/markup"
	"github.com/JakeFAU/rankyak-pipeline/internal/metrics"
)

const excerptLength = 160

// Store is the persistence the publishing layer needs.
type Store interface {
	content.IntegrationStore
	content.PublishLedger
}

// Limiter throttles outbound calls per host.
type Limiter interface {
	Wait(ctx context.Context, target string) error
}

// KeyHasher derives idempotency keys.
type KeyHasher interface {
	Key(parts ...string) string
}

// Service publishes articles through the registered adapters.
type Service struct {
	store     Store
	registry  *Registry
	refresher *Refresher
	limiter   Limiter
	hasher    KeyHasher
	clock     content.Clock
	logger    *zap.Logger
}

// NewService wires a publishing Service. refresher and limiter may be nil.
func NewService(
	store Store,
	registry *Registry,
	refresher *Refresher,
	limiter Limiter,
	hasher KeyHasher,
	clock content.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		registry:  registry,
		refresher: refresher,
		limiter:   limiter,
		hasher:    hasher,
		clock:     clock,
		logger:    logger.Named("publishing"),
	}
}

// Resolve picks the integration for a publish of a project's article.
func (s *Service) Resolve(ctx context.Context, projectID string, hint Hint) (content.Integration, error) {
	if hint.IntegrationID != "" {
		integ, err := s.store.GetIntegration(ctx, hint.IntegrationID)
		if err != nil {
			return content.Integration{}, err
		}
		if integ.ProjectID != projectID {
			return content.Integration{}, content.Errorf(content.CodeNotFound, "resolve integration",
				"integration %s not found in project %s", hint.IntegrationID, projectID)
		}
		if !integ.IsActive {
			return content.Integration{}, content.Errorf(content.CodeIntegrationInactive, "resolve integration",
				"integration %s is inactive", integ.ID)
		}
		return integ, nil
	}
	all, err := s.store.ListIntegrations(ctx, projectID)
	if err != nil {
		return content.Integration{}, fmt.Errorf("list integrations: %w", err)
	}
	if hint.Platform != "" {
		for _, integ := range all {
			if integ.IsActive && integ.Platform == hint.Platform {
				return integ, nil
			}
		}
	}
	for _, integ := range all {
		if integ.IsActive {
			return integ, nil
		}
	}
	return content.Integration{}, content.Errorf(content.CodeNoIntegrationConfigured, "resolve integration",
		"project %s has no active integration", projectID)
}

// Publish delivers article to the integration selected by hint. Failures are
// reported in the Result, never returned.
func (s *Service) Publish(ctx context.Context, article content.Article, hint Hint) Result {
	integ, err := s.Resolve(ctx, article.ProjectID, hint)
	if err != nil {
		return s.finish(article, content.Integration{Platform: hint.Platform}, failure(err))
	}
	res := s.publishTo(ctx, article, integ)
	return s.finish(article, integ, res)
}

func (s *Service) finish(article content.Article, integ content.Integration, res Result) Result {
	res.IntegrationID = integ.ID
	res.Platform = integ.Platform
	code := ""
	if res.Error != nil {
		code = string(res.Error.Code)
		s.logger.Warn("publish failed",
			zap.String("article_id", article.ID),
			zap.String("integration_id", integ.ID),
			zap.String("code", code),
			zap.String("message", res.Error.Message),
		)
	} else {
		s.logger.Info("article published",
			zap.String("article_id", article.ID),
			zap.String("integration_id", integ.ID),
			zap.String("url", res.URL),
			zap.Bool("reused", res.Reused),
		)
	}
	platform := string(integ.Platform)
	if platform == "" {
		platform = "none"
	}
	metrics.ObservePublish(platform, code)
	return res
}

func (s *Service) publishTo(ctx context.Context, article content.Article, integ content.Integration) Result {
	adapter, ok := s.registry.Lookup(integ.Platform)
	if !ok {
		return failure(content.Errorf(content.CodeValidationFailed, "publish",
			"no adapter registered for platform %q", integ.Platform))
	}
	cred, err := Narrow(integ)
	if err != nil {
		return failure(err)
	}
	target := TargetOf(integ)
	if err := adapter.Validate(cred, target); err != nil {
		return failure(err)
	}
	if oauth, ok := cred.(OAuth); ok {
		if s.refresher == nil {
			if oauth.Expired(s.clock.Now(), 0) {
				return failure(content.Errorf(content.CodeAuthExpired, "publish", "token expired"))
			}
		} else {
			fresh, err := s.refresher.Ensure(ctx, integ, oauth)
			if err != nil {
				return failure(err)
			}
			cred = fresh
		}
	}

	htmlBody, err := markup.ToHTML(article.Body)
	if err != nil {
		return failure(content.Wrap(content.CodeValidationFailed, "publish", err))
	}
	req := Request{
		Article:        article,
		HTML:           htmlBody,
		Excerpt:        markup.Excerpt(article.Body, excerptLength),
		Publish:        true,
		IdempotencyKey: s.hasher.Key(article.ID, integ.ID),
		Credential:     cred,
		Target:         target,
	}
	if req.Article.Slug == "" {
		req.Article.Slug = markup.Slugify(article.Title)
	}

	rec, err := s.store.GetPublishRecord(ctx, article.ID, integ.ID)
	switch {
	case errors.Is(err, content.ErrNotFound):
		rec = content.PublishRecord{ArticleID: article.ID, IntegrationID: integ.ID}
	case err != nil:
		return failure(fmt.Errorf("read publish ledger: %w", err))
	}
	rec.IdempotencyKey = req.IdempotencyKey

	switch rec.State {
	case content.PublishConfirmed:
		return Result{Success: true, URL: rec.RemoteURL, PostID: rec.RemotePostID, Reused: true}
	case content.PublishAttempted:
		// The previous attempt may have landed; never post blind.
		remote, found, err := adapter.Find(ctx, req)
		if err != nil {
			return failure(Unreachable("publish lookup", err))
		}
		if found {
			if remote.Draft && req.Publish {
				return s.complete(ctx, adapter, req, rec, remote)
			}
			if err := s.confirm(ctx, rec, remote); err != nil {
				return failure(err)
			}
			return Result{Success: true, URL: remote.URL, PostID: remote.PostID, Reused: true}
		}
	}

	rec.State = content.PublishAttempted
	rec.Attempts++
	rec.LastError = ""
	rec.UpdatedAt = s.clock.Now()
	if err := s.store.SavePublishRecord(ctx, rec); err != nil {
		return failure(fmt.Errorf("record publish attempt: %w", err))
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, adapter.Host(target)); err != nil {
			return failure(Unreachable("publish", err))
		}
	}
	remote, err := adapter.Publish(ctx, req)
	if err != nil {
		return s.recordFailure(ctx, rec, err)
	}
	if err := s.confirm(context.WithoutCancel(ctx), rec, remote); err != nil {
		// The remote side exists; the attempted record makes the next try find it.
		return failure(err)
	}
	return Result{Success: true, URL: remote.URL, PostID: remote.PostID}
}

// complete finishes a multi-step publish whose first step landed earlier.
// The ledger stays attempted until the artifact is live.
func (s *Service) complete(ctx context.Context, adapter Adapter, req Request, rec content.PublishRecord, found Remote) Result {
	completer, ok := adapter.(Completer)
	if !ok {
		return failure(content.Errorf(content.CodePlatformRejected, "publish",
			"%s artifact %s exists but is not live", adapter.Platform(), found.PostID))
	}
	rec.Attempts++
	rec.UpdatedAt = s.clock.Now()
	if err := s.store.SavePublishRecord(ctx, rec); err != nil {
		return failure(fmt.Errorf("record publish attempt: %w", err))
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, adapter.Host(req.Target)); err != nil {
			return failure(Unreachable("publish", err))
		}
	}
	remote, err := completer.Complete(ctx, req, found)
	if err != nil {
		return s.recordFailure(ctx, rec, err)
	}
	if err := s.confirm(context.WithoutCancel(ctx), rec, remote); err != nil {
		return failure(err)
	}
	return Result{Success: true, URL: remote.URL, PostID: remote.PostID, Reused: true}
}

func (s *Service) recordFailure(ctx context.Context, rec content.PublishRecord, cause error) Result {
	res := failure(cause)
	if !res.Error.Retryable {
		rec.State = content.PublishFailed
	}
	rec.LastError = res.Error.Message
	rec.UpdatedAt = s.clock.Now()
	if err := s.store.SavePublishRecord(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("record publish failure", zap.String("article_id", rec.ArticleID), zap.Error(err))
	}
	return res
}

func (s *Service) confirm(ctx context.Context, rec content.PublishRecord, remote Remote) error {
	rec.State = content.PublishConfirmed
	rec.RemoteURL = remote.URL
	rec.RemotePostID = remote.PostID
	rec.LastError = ""
	rec.UpdatedAt = s.clock.Now()
	if err := s.store.SavePublishRecord(ctx, rec); err != nil {
		return fmt.Errorf("confirm publish: %w", err)
	}
	return nil
}
