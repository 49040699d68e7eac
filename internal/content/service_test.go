package content_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type recordingHook struct {
	mu     sync.Mutex
	events []content.ArticleEvent
	err    error
	panic  bool
}

func (h *recordingHook) Name() string { return "recorder" }

func (h *recordingHook) AfterArticleUpdate(_ context.Context, ev content.ArticleEvent) (any, error) {
	if h.panic {
		panic("hook exploded")
	}
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	return map[string]bool{"auto": ev.Change.TriggersAutoPublish}, h.err
}

var now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T, hooks ...content.ArticleHook) (*content.Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	runner := content.NewHookRunner(time.Second, zap.NewNop(), hooks...)
	svc := content.NewService(store, &seqIDs{}, fakeClock{now: now}, runner, zap.NewNop())
	return svc, store
}

func TestCreateProjectValidates(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	_, err := svc.CreateProject(context.Background(), content.NewProject{Name: "", WebsiteURL: "nope"})
	require.ErrorIs(t, err, content.ErrValidationFailed)

	p, err := svc.CreateProject(context.Background(), content.NewProject{Name: "Acme", WebsiteURL: "https://acme.test"})
	require.NoError(t, err)
	require.Equal(t, "en", p.Language)
	require.False(t, p.OnboardingComplete)

	p, err = svc.CompleteOnboarding(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, p.OnboardingComplete)
}

func TestPlanKeywordIgnoresUsedKeyword(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, store := newService(t)
	p, err := svc.CreateProject(ctx, content.NewProject{Name: "Acme", WebsiteURL: "https://acme.test"})
	require.NoError(t, err)
	kw, err := svc.CreateKeyword(ctx, p.ID, content.NewKeyword{Text: "best crm"})
	require.NoError(t, err)
	require.Equal(t, content.KeywordUnplanned, kw.Status)

	kw, err = svc.PlanKeyword(ctx, p.ID, kw.ID, now)
	require.NoError(t, err)
	require.Equal(t, content.KeywordPlanned, kw.Status)

	require.NoError(t, store.CommitGeneration(ctx, content.Article{ID: "a1", ProjectID: p.ID}, kw.ID))

	kw, err = svc.PlanKeyword(ctx, p.ID, kw.ID, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, content.KeywordUsed, kw.Status)

	_, err = svc.PlanKeyword(ctx, "other-project", kw.ID, now)
	require.ErrorIs(t, err, content.ErrNotFound)
}

func TestUpdateArticleCommitsBeforeHooks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hook := &recordingHook{err: errors.New("remote down")}
	svc, store := newService(t, hook)
	p, err := svc.CreateProject(ctx, content.NewProject{Name: "Acme", WebsiteURL: "https://acme.test"})
	require.NoError(t, err)
	store.PutArticle(content.Article{ID: "a1", ProjectID: p.ID, Status: content.ArticleDraft})

	published := content.ArticlePublished
	res, err := svc.UpdateArticle(ctx, p.ID, "a1", content.ArticlePatch{Status: &published}, content.OriginUser)
	require.NoError(t, err)
	require.Equal(t, content.ArticlePublished, res.Article.Status)
	require.True(t, res.Change.TriggersAutoPublish)

	reports := <-res.Hooks
	require.Len(t, reports, 1)
	require.Equal(t, "remote down", reports[0].Error)
	require.Equal(t, map[string]bool{"auto": true}, reports[0].Detail)

	stored, err := store.GetArticle(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, content.ArticlePublished, stored.Status)
	require.NotNil(t, stored.PublishedAt)
}

func TestUpdateArticleSurvivesPanickingHook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, store := newService(t, &recordingHook{panic: true})
	p, err := svc.CreateProject(ctx, content.NewProject{Name: "Acme", WebsiteURL: "https://acme.test"})
	require.NoError(t, err)
	store.PutArticle(content.Article{ID: "a1", ProjectID: p.ID, Status: content.ArticleDraft})

	published := content.ArticlePublished
	res, err := svc.UpdateArticle(ctx, p.ID, "a1", content.ArticlePatch{Status: &published}, content.OriginUser)
	require.NoError(t, err)
	reports := <-res.Hooks
	require.Contains(t, reports[0].Error, "hook exploded")
}

func TestUpdateArticleRejectsIllegalTransition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, store := newService(t)
	p, err := svc.CreateProject(ctx, content.NewProject{Name: "Acme", WebsiteURL: "https://acme.test"})
	require.NoError(t, err)
	at := now
	store.PutArticle(content.Article{ID: "a1", ProjectID: p.ID, Status: content.ArticlePublished, PublishedAt: &at})

	draft := content.ArticleDraft
	_, err = svc.UpdateArticle(ctx, p.ID, "a1", content.ArticlePatch{Status: &draft}, content.OriginUser)
	require.ErrorIs(t, err, content.ErrInvalidTransition)

	_, err = svc.UpdateArticle(ctx, "elsewhere", "a1", content.ArticlePatch{}, content.OriginUser)
	require.ErrorIs(t, err, content.ErrNotFound)
}

func TestMarkPublishedIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, store := newService(t)
	p, err := svc.CreateProject(ctx, content.NewProject{Name: "Acme", WebsiteURL: "https://acme.test"})
	require.NoError(t, err)
	due := now.Add(-time.Hour)
	store.PutArticle(content.Article{ID: "a1", ProjectID: p.ID, Status: content.ArticleScheduled, ScheduledFor: &due})

	a, err := svc.MarkPublished(ctx, "a1", content.RemoteRef{URL: "https://acme.test/post", PostID: "42"})
	require.NoError(t, err)
	require.Equal(t, content.ArticlePublished, a.Status)
	require.Equal(t, now, *a.PublishedAt)
	require.Equal(t, "42", a.RemotePostID)

	again, err := svc.MarkPublished(ctx, "a1", content.RemoteRef{})
	require.NoError(t, err)
	require.Equal(t, "https://acme.test/post", again.RemoteURL)
	require.Equal(t, now, *again.PublishedAt)
}
