// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// Store implements content.Store in memory. Reads return copies.
type Store struct {
	mu           sync.RWMutex
	projects     map[string]content.Project
	keywords     map[string]content.Keyword
	articles     map[string]content.Article
	integrations map[string]content.Integration
	ledger       map[string]content.PublishRecord
	snapshots    map[string][]content.AnalyticsSnapshot
}

var _ content.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		projects:     make(map[string]content.Project),
		keywords:     make(map[string]content.Keyword),
		articles:     make(map[string]content.Article),
		integrations: make(map[string]content.Integration),
		ledger:       make(map[string]content.PublishRecord),
		snapshots:    make(map[string][]content.AnalyticsSnapshot),
	}
}

func notFound(op, kind, id string) error {
	return content.Errorf(content.CodeNotFound, op, "%s %s", kind, id)
}

// CreateProject stores a new project.
func (s *Store) CreateProject(_ context.Context, p content.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return content.Errorf(content.CodeConflict, "create project", "project %s exists", p.ID)
	}
	s.projects[p.ID] = p
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(_ context.Context, id string) (content.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return content.Project{}, notFound("get project", "project", id)
	}
	return p, nil
}

// UpdateProject replaces a stored project.
func (s *Store) UpdateProject(_ context.Context, p content.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return notFound("update project", "project", p.ID)
	}
	s.projects[p.ID] = p
	return nil
}

// ListOnboardedProjects returns onboarded projects ordered by creation.
func (s *Store) ListOnboardedProjects(_ context.Context) ([]content.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]content.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if p.OnboardingComplete {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreated(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

// CreateKeyword stores a keyword. Text is unique per project.
func (s *Store) CreateKeyword(_ context.Context, kw content.Keyword) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[kw.ProjectID]; !ok {
		return notFound("create keyword", "project", kw.ProjectID)
	}
	for _, existing := range s.keywords {
		if existing.ProjectID == kw.ProjectID && strings.EqualFold(existing.Text, kw.Text) {
			return content.Errorf(content.CodeConflict, "create keyword", "keyword %q exists", kw.Text)
		}
	}
	s.keywords[kw.ID] = copyKeyword(kw)
	return nil
}

// GetKeyword fetches a keyword by ID.
func (s *Store) GetKeyword(_ context.Context, id string) (content.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kw, ok := s.keywords[id]
	if !ok {
		return content.Keyword{}, notFound("get keyword", "keyword", id)
	}
	return copyKeyword(kw), nil
}

// FindKeywordByText looks up a keyword case-insensitively.
func (s *Store) FindKeywordByText(_ context.Context, projectID, text string) (content.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, kw := range s.keywords {
		if kw.ProjectID == projectID && strings.EqualFold(kw.Text, strings.TrimSpace(text)) {
			return copyKeyword(kw), nil
		}
	}
	return content.Keyword{}, notFound("find keyword", "keyword", text)
}

// UpdateKeyword replaces a keyword. A used keyword can no longer change status.
func (s *Store) UpdateKeyword(_ context.Context, kw content.Keyword) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.keywords[kw.ID]
	if !ok {
		return notFound("update keyword", "keyword", kw.ID)
	}
	if existing.Status == content.KeywordUsed && kw.Status != content.KeywordUsed {
		return content.ErrKeywordUsed
	}
	s.keywords[kw.ID] = copyKeyword(kw)
	return nil
}

// ListKeywords returns a project's keywords ordered by creation.
func (s *Store) ListKeywords(_ context.Context, projectID string) ([]content.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]content.Keyword, 0)
	for _, kw := range s.keywords {
		if kw.ProjectID == projectID {
			out = append(out, copyKeyword(kw))
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreated(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

// NextDueKeyword returns the earliest due planned keyword of a project.
func (s *Store) NextDueKeyword(_ context.Context, projectID string, now time.Time) (content.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  content.Keyword
		found bool
	)
	for _, kw := range s.keywords {
		if kw.ProjectID != projectID || !isDue(kw, now) {
			continue
		}
		if !found || kw.PlannedDate.Before(*best.PlannedDate) ||
			(kw.PlannedDate.Equal(*best.PlannedDate) && kw.ID < best.ID) {
			best = kw
			found = true
		}
	}
	if !found {
		return content.Keyword{}, notFound("next due keyword", "project", projectID)
	}
	return copyKeyword(best), nil
}

// ProjectsWithDueKeywords lists onboarded projects owning a due keyword.
func (s *Store) ProjectsWithDueKeywords(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, kw := range s.keywords {
		if !isDue(kw, now) {
			continue
		}
		if p, ok := s.projects[kw.ProjectID]; ok && p.OnboardingComplete {
			seen[kw.ProjectID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// GetArticle fetches an article by ID.
func (s *Store) GetArticle(_ context.Context, id string) (content.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.articles[id]
	if !ok {
		return content.Article{}, notFound("get article", "article", id)
	}
	return copyArticle(a), nil
}

// UpdateArticle replaces a stored article.
func (s *Store) UpdateArticle(_ context.Context, a content.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[a.ID]; !ok {
		return notFound("update article", "article", a.ID)
	}
	s.articles[a.ID] = copyArticle(a)
	return nil
}

// ListArticles returns a project's articles, newest first. An empty status
// matches all.
func (s *Store) ListArticles(_ context.Context, projectID string, status content.ArticleStatus) ([]content.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]content.Article, 0)
	for _, a := range s.articles {
		if a.ProjectID != projectID || (status != "" && a.Status != status) {
			continue
		}
		out = append(out, copyArticle(a))
	}
	sort.Slice(out, func(i, j int) bool { return byCreated(out[j].CreatedAt, out[i].CreatedAt, out[j].ID, out[i].ID) })
	return out, nil
}

// DueScheduledArticles returns scheduled articles that are due.
func (s *Store) DueScheduledArticles(_ context.Context, now time.Time) ([]content.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]content.Article, 0)
	for _, a := range s.articles {
		if a.Status == content.ArticleScheduled && a.ScheduledFor != nil && !a.ScheduledFor.After(now) {
			out = append(out, copyArticle(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return byCreated(*out[i].ScheduledFor, *out[j].ScheduledFor, out[i].ID, out[j].ID)
	})
	return out, nil
}

// CommitGeneration inserts the article and consumes the keyword atomically.
func (s *Store) CommitGeneration(_ context.Context, a content.Article, keywordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[a.ProjectID]; !ok {
		return notFound("commit generation", "project", a.ProjectID)
	}
	if _, ok := s.articles[a.ID]; ok {
		return content.Errorf(content.CodeConflict, "commit generation", "article %s exists", a.ID)
	}
	if keywordID != "" {
		kw, ok := s.keywords[keywordID]
		if !ok {
			return notFound("commit generation", "keyword", keywordID)
		}
		if err := content.TransitionKeyword(&kw, content.KeywordUsed, nil); err != nil {
			return content.Wrap(content.CodeAlreadyUsed, "commit generation", err)
		}
		s.keywords[keywordID] = kw
	}
	s.articles[a.ID] = copyArticle(a)
	return nil
}

// CreateIntegration stores an integration.
func (s *Store) CreateIntegration(_ context.Context, in content.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[in.ProjectID]; !ok {
		return notFound("create integration", "project", in.ProjectID)
	}
	in.Credentials = in.Credentials.Clone()
	s.integrations[in.ID] = in
	return nil
}

// GetIntegration fetches an integration by ID.
func (s *Store) GetIntegration(_ context.Context, id string) (content.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.integrations[id]
	if !ok {
		return content.Integration{}, notFound("get integration", "integration", id)
	}
	in.Credentials = in.Credentials.Clone()
	return in, nil
}

// ListIntegrations returns a project's integrations ordered by creation.
func (s *Store) ListIntegrations(_ context.Context, projectID string) ([]content.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]content.Integration, 0)
	for _, in := range s.integrations {
		if in.ProjectID == projectID {
			in.Credentials = in.Credentials.Clone()
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreated(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

// UpdateCredentials swaps credentials when the refresh token still matches.
func (s *Store) UpdateCredentials(_ context.Context, id, expectedRefreshToken string, creds content.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.integrations[id]
	if !ok {
		return notFound("update credentials", "integration", id)
	}
	current, _ := in.Credentials["refresh_token"].(string)
	if current != expectedRefreshToken {
		return content.Errorf(content.CodeConflict, "update credentials", "refresh token changed")
	}
	in.Credentials = creds.Clone()
	in.UpdatedAt = time.Now().UTC()
	s.integrations[id] = in
	return nil
}

// SetIntegrationKey stores the key on the project's integration for platform.
func (s *Store) SetIntegrationKey(
	_ context.Context,
	projectID string,
	platform content.Platform,
	key string,
) (content.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return content.Integration{}, notFound("set integration key", "project", projectID)
	}
	now := time.Now().UTC()
	var (
		target content.Integration
		found  bool
	)
	for _, in := range s.integrations {
		if in.ProjectID == projectID && in.Platform == platform {
			if !found || byCreated(in.CreatedAt, target.CreatedAt, in.ID, target.ID) {
				target = in
				found = true
			}
		}
	}
	if !found {
		target = content.Integration{
			ID:          projectID + ":" + string(platform),
			ProjectID:   projectID,
			Platform:    platform,
			Credentials: content.Credentials{},
			CreatedAt:   now,
		}
	}
	target.IntegrationKey = key
	target.UpdatedAt = now
	target.Credentials = target.Credentials.Clone()
	s.integrations[target.ID] = target
	return target, nil
}

// GetPublishRecord returns the ledger row for the pair.
func (s *Store) GetPublishRecord(_ context.Context, articleID, integrationID string) (content.PublishRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.ledger[ledgerKey(articleID, integrationID)]
	if !ok {
		return content.PublishRecord{}, notFound("get publish record", "publish record", articleID)
	}
	return rec, nil
}

// SavePublishRecord upserts a ledger row.
func (s *Store) SavePublishRecord(_ context.Context, rec content.PublishRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[ledgerKey(rec.ArticleID, rec.IntegrationID)] = rec
	return nil
}

// SaveSnapshot appends an analytics snapshot.
func (s *Store) SaveSnapshot(_ context.Context, snap content.AnalyticsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ArticleID] = append(s.snapshots[snap.ArticleID], snap)
	return nil
}

// ListSnapshots returns snapshots for an article in insertion order.
func (s *Store) ListSnapshots(_ context.Context, articleID string) ([]content.AnalyticsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]content.AnalyticsSnapshot(nil), s.snapshots[articleID]...), nil
}

// PutArticle inserts an article directly. It is intended for seeding.
func (s *Store) PutArticle(a content.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[a.ID] = copyArticle(a)
}

func ledgerKey(articleID, integrationID string) string {
	return articleID + "|" + integrationID
}

func isDue(kw content.Keyword, now time.Time) bool {
	return kw.Status == content.KeywordPlanned && kw.PlannedDate != nil && !kw.PlannedDate.After(now)
}

func byCreated(a, b time.Time, idA, idB string) bool {
	if a.Equal(b) {
		return idA < idB
	}
	return a.Before(b)
}

func copyKeyword(kw content.Keyword) content.Keyword {
	if kw.PlannedDate != nil {
		d := *kw.PlannedDate
		kw.PlannedDate = &d
	}
	return kw
}

func copyArticle(a content.Article) content.Article {
	if a.KeywordID != nil {
		k := *a.KeywordID
		a.KeywordID = &k
	}
	if a.ScheduledFor != nil {
		t := *a.ScheduledFor
		a.ScheduledFor = &t
	}
	if a.PublishedAt != nil {
		t := *a.PublishedAt
		a.PublishedAt = &t
	}
	return a
}
