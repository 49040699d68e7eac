package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"go.uber.org/zap"
)

// NewProject is the input for CreateProject.
type NewProject struct {
	Name       string `json:"name"`
	WebsiteURL string `json:"websiteUrl"`
	Language   string `json:"language"`
}

// Validate checks required fields.
func (p NewProject) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.WebsiteURL, validation.Required, is.URL),
		validation.Field(&p.Language, validation.Length(2, 10)),
	)
}

// NewKeyword is the input for CreateKeyword.
type NewKeyword struct {
	Text         string     `json:"text"`
	SearchVolume int        `json:"searchVolume"`
	Difficulty   int        `json:"difficulty"`
	PlannedDate  *time.Time `json:"plannedDate,omitempty"`
}

// Validate checks required fields.
func (k NewKeyword) Validate() error {
	return validation.ValidateStruct(&k,
		validation.Field(&k.Text, validation.Required, validation.Length(1, 500)),
		validation.Field(&k.SearchVolume, validation.Min(0)),
		validation.Field(&k.Difficulty, validation.Min(0), validation.Max(100)),
	)
}

// UpdateResult is returned by UpdateArticle. Hooks yields the post-commit
// hook reports once they finish; callers may ignore it.
type UpdateResult struct {
	Article Article
	Change  ArticleChange
	Hooks   <-chan []HookReport
}

// RemoteRef identifies the remote artifact of a publish.
type RemoteRef struct {
	URL    string
	PostID string
}

// Service owns every keyword and article state change.
type Service struct {
	store  Store
	ids    IDGenerator
	clock  Clock
	hooks  *HookRunner
	logger *zap.Logger
}

// NewService wires a Service.
func NewService(store Store, ids IDGenerator, clock Clock, hooks *HookRunner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ids: ids, clock: clock, hooks: hooks, logger: logger.Named("content")}
}

// CreateProject registers a project that still needs onboarding.
func (s *Service) CreateProject(ctx context.Context, in NewProject) (Project, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return Project{}, Wrap(CodeValidationFailed, "create project", err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Project{}, fmt.Errorf("generate project id: %w", err)
	}
	lang := in.Language
	if lang == "" {
		lang = "en"
	}
	p := Project{
		ID:         id,
		Name:       in.Name,
		WebsiteURL: in.WebsiteURL,
		Language:   lang,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// CompleteOnboarding makes a project eligible for the scheduler sweeps.
func (s *Service) CompleteOnboarding(ctx context.Context, projectID string) (Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	if p.OnboardingComplete {
		return p, nil
	}
	p.OnboardingComplete = true
	if err := s.store.UpdateProject(ctx, p); err != nil {
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	return p, nil
}

// CreateKeyword adds a keyword. A plannedDate places it straight into the plan.
func (s *Service) CreateKeyword(ctx context.Context, projectID string, in NewKeyword) (Keyword, error) {
	in.Text = strings.TrimSpace(in.Text)
	if err := in.Validate(); err != nil {
		return Keyword{}, Wrap(CodeValidationFailed, "create keyword", err)
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return Keyword{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Keyword{}, fmt.Errorf("generate keyword id: %w", err)
	}
	kw := Keyword{
		ID:           id,
		ProjectID:    projectID,
		Text:         in.Text,
		SearchVolume: in.SearchVolume,
		Difficulty:   in.Difficulty,
		Status:       KeywordUnplanned,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if in.PlannedDate != nil {
		if err := TransitionKeyword(&kw, KeywordPlanned, in.PlannedDate); err != nil {
			return Keyword{}, err
		}
	}
	if err := s.store.CreateKeyword(ctx, kw); err != nil {
		return Keyword{}, fmt.Errorf("create keyword: %w", err)
	}
	return kw, nil
}

// PlanKeyword assigns a plannedDate. Planning a used keyword is a no-op and
// returns the keyword unchanged.
func (s *Service) PlanKeyword(ctx context.Context, projectID, keywordID string, date time.Time) (Keyword, error) {
	kw, err := s.store.GetKeyword(ctx, keywordID)
	if err != nil {
		return Keyword{}, err
	}
	if kw.ProjectID != projectID {
		return Keyword{}, Errorf(CodeNotFound, "plan keyword", "keyword %s", keywordID)
	}
	if err := TransitionKeyword(&kw, KeywordPlanned, &date); err != nil {
		if errors.Is(err, ErrKeywordUsed) {
			s.logger.Info("ignoring plan of used keyword", zap.String("keyword_id", kw.ID))
			return kw, nil
		}
		return Keyword{}, err
	}
	if err := s.store.UpdateKeyword(ctx, kw); err != nil {
		return Keyword{}, fmt.Errorf("update keyword: %w", err)
	}
	return kw, nil
}

// ListKeywords returns a project's keywords.
func (s *Service) ListKeywords(ctx context.Context, projectID string) ([]Keyword, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListKeywords(ctx, projectID)
}

// GetArticle loads an article scoped to its project.
func (s *Service) GetArticle(ctx context.Context, projectID, articleID string) (Article, error) {
	a, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return Article{}, err
	}
	if projectID != "" && a.ProjectID != projectID {
		return Article{}, Errorf(CodeNotFound, "get article", "article %s", articleID)
	}
	return a, nil
}

// ListArticles lists a project's articles, optionally filtered by status.
func (s *Service) ListArticles(ctx context.Context, projectID string, status ArticleStatus) ([]Article, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListArticles(ctx, projectID, status)
}

// UpdateArticle applies patch, commits it and only then dispatches the
// post-commit hooks. Hook outcomes never affect the returned error.
func (s *Service) UpdateArticle(
	ctx context.Context,
	projectID, articleID string,
	patch ArticlePatch,
	origin Origin,
) (UpdateResult, error) {
	before, err := s.GetArticle(ctx, projectID, articleID)
	if err != nil {
		return UpdateResult{}, err
	}
	after := before
	change, err := ApplyArticlePatch(&after, patch, origin, s.clock.Now())
	if err != nil {
		return UpdateResult{}, err
	}
	if err := s.store.UpdateArticle(ctx, after); err != nil {
		return UpdateResult{}, fmt.Errorf("update article: %w", err)
	}
	s.logger.Debug("article updated",
		zap.String("article_id", after.ID),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
		zap.String("origin", string(origin)),
	)
	hooks := s.hooks.Dispatch(ctx, ArticleEvent{Before: before, After: after, Change: change, Origin: origin})
	return UpdateResult{Article: after, Change: change, Hooks: hooks}, nil
}

// MarkPublished records a successful remote publish. It is machine-originated
// so it never triggers auto-publish, and it is idempotent for articles that
// are already published.
func (s *Service) MarkPublished(ctx context.Context, articleID string, ref RemoteRef) (Article, error) {
	a, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return Article{}, err
	}
	status := ArticlePublished
	if _, err := ApplyArticlePatch(&a, ArticlePatch{Status: &status}, OriginMachine, s.clock.Now()); err != nil {
		return Article{}, err
	}
	if ref.URL != "" {
		a.RemoteURL = ref.URL
	}
	if ref.PostID != "" {
		a.RemotePostID = ref.PostID
	}
	if err := s.store.UpdateArticle(ctx, a); err != nil {
		return Article{}, fmt.Errorf("update article: %w", err)
	}
	return a, nil
}
