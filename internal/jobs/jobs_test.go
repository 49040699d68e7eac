package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/analytics"
	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/generation"
	"github.com/JakeFAU/rankyak-pipeline/internal/jobs"
	pubmemory "github.com/JakeFAU/rankyak-pipeline/internal/publisher/memory"
	"github.com/JakeFAU/rankyak-pipeline/internal/publishing"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
	"github.com/JakeFAU/rankyak-pipeline/internal/storage/memory"
)

var now = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "gen-" + strconv.Itoa(g.n), nil
}

type env struct {
	store  *memory.Store
	blobs  *memory.BlobStore
	events *pubmemory.Publisher
	deps   jobs.Deps
	svc    *content.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	blobs := memory.NewBlobStore()
	events := pubmemory.New()
	ids := &seqIDs{}
	clock := fixedClock{t: now}
	e := &env{
		store:  store,
		blobs:  blobs,
		events: events,
		deps: jobs.Deps{
			Store:  store,
			IDs:    ids,
			Clock:  clock,
			Events: events,
			Blobs:  blobs,
			Logger: zap.NewNop(),
		},
		svc: content.NewService(store, ids, clock, content.NewHookRunner(time.Second, zap.NewNop()), zap.NewNop()),
	}
	require.NoError(t, store.CreateProject(context.Background(), content.Project{
		ID:                 "p1",
		Name:               "Acme",
		WebsiteURL:         "https://acme.example",
		Language:           "en",
		OnboardingComplete: true,
		CreatedAt:          now.Add(-48 * time.Hour),
	}))
	return e
}

func (e *env) plan(t *testing.T, id, text string, at time.Time) {
	t.Helper()
	require.NoError(t, e.store.CreateKeyword(context.Background(), content.Keyword{
		ID:          id,
		ProjectID:   "p1",
		Text:        text,
		PlannedDate: &at,
		Status:      content.KeywordPlanned,
		CreatedAt:   now.Add(-24 * time.Hour),
	}))
}

func job(t *testing.T, name string, payload any) queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return queue.Job{ID: "job-" + name, Queue: name, Payload: raw, Attempt: 1, MaxAttempts: 3}
}

func TestGenerationBestCRMScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.plan(t, "kw-crm", "best crm", time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC))
	h := jobs.NewGeneration(e.deps, generation.Template{})

	require.NoError(t, h.Handle(ctx, job(t, queue.Generation, jobs.GenerationPayload{ProjectID: "p1"})))

	articles, err := e.store.ListArticles(ctx, "p1", "")
	require.NoError(t, err)
	require.Len(t, articles, 1)
	a := articles[0]
	require.Equal(t, content.ArticleDraft, a.Status)
	require.NotNil(t, a.KeywordID)
	require.Equal(t, "kw-crm", *a.KeywordID)
	require.Equal(t, "best-crm", a.Slug)
	require.Positive(t, a.WordCount)
	require.Positive(t, a.HeadingCount)
	require.Equal(t, 1, a.InternalLinks)
	require.Nil(t, a.PublishedAt)

	kw, err := e.store.GetKeyword(ctx, "kw-crm")
	require.NoError(t, err)
	require.Equal(t, content.KeywordUsed, kw.Status)

	_, _, ok := e.blobs.Get("drafts/p1/" + a.ID + ".json")
	require.True(t, ok)
	evs := e.events.Events(content.EventArticleGenerated)
	require.Len(t, evs, 1)
	require.Equal(t, a.ID, evs[0].ArticleID)

	err = h.Handle(ctx, job(t, queue.Generation, jobs.GenerationPayload{ProjectID: "p1", KeywordID: "kw-crm"}))
	require.ErrorIs(t, err, content.ErrAlreadyUsed)
	require.True(t, content.IsPermanent(err))

	articles, err = e.store.ListArticles(ctx, "p1", "")
	require.NoError(t, err)
	require.Len(t, articles, 1)
}

func TestGenerationNothingDueIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.plan(t, "kw-later", "crm pricing", now.Add(72*time.Hour))
	h := jobs.NewGeneration(e.deps, generation.Template{})

	require.NoError(t, h.Handle(ctx, job(t, queue.Generation, jobs.GenerationPayload{ProjectID: "p1"})))

	articles, err := e.store.ListArticles(ctx, "p1", "")
	require.NoError(t, err)
	require.Empty(t, articles)
	require.Zero(t, e.blobs.Len())
}

func TestGenerationKeywordPriority(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.plan(t, "kw-due", "crm tools", now.Add(-time.Hour))
	e.plan(t, "kw-id", "crm reviews", now.Add(96*time.Hour))
	h := jobs.NewGeneration(e.deps, generation.Template{})

	// Text beats id; unknown text is ad hoc and leaves no keyword behind.
	require.NoError(t, h.Handle(ctx, job(t, queue.Generation, jobs.GenerationPayload{
		ProjectID: "p1", KeywordID: "kw-id", Keyword: "open source crm",
	})))
	_, err := e.store.FindKeywordByText(ctx, "p1", "open source crm")
	require.ErrorIs(t, err, content.ErrNotFound)
	articles, err := e.store.ListArticles(ctx, "p1", "")
	require.NoError(t, err)
	require.Len(t, articles, 1)
	require.Nil(t, articles[0].KeywordID)

	kw, err := e.store.GetKeyword(ctx, "kw-id")
	require.NoError(t, err)
	require.Equal(t, content.KeywordPlanned, kw.Status)

	// Id beats the due plan even when the keyword is not due yet.
	require.NoError(t, h.Handle(ctx, job(t, queue.Generation, jobs.GenerationPayload{ProjectID: "p1", KeywordID: "kw-id"})))
	kw, err = e.store.GetKeyword(ctx, "kw-id")
	require.NoError(t, err)
	require.Equal(t, content.KeywordUsed, kw.Status)

	due, err := e.store.GetKeyword(ctx, "kw-due")
	require.NoError(t, err)
	require.Equal(t, content.KeywordPlanned, due.Status)

	// Text matching an unused record consumes it.
	require.NoError(t, h.Handle(ctx, job(t, queue.Generation, jobs.GenerationPayload{ProjectID: "p1", Keyword: "crm tools"})))
	due, err = e.store.GetKeyword(ctx, "kw-due")
	require.NoError(t, err)
	require.Equal(t, content.KeywordUsed, due.Status)

	// Text matching a used record is generated ad hoc, not rejected.
	require.NoError(t, h.Handle(ctx, job(t, queue.Generation, jobs.GenerationPayload{ProjectID: "p1", Keyword: "crm reviews"})))
	articles, err = e.store.ListArticles(ctx, "p1", "")
	require.NoError(t, err)
	require.Len(t, articles, 4)

	// Only the id path insists on an unused keyword.
	err = h.Handle(ctx, job(t, queue.Generation, jobs.GenerationPayload{ProjectID: "p1", KeywordID: "kw-id"}))
	require.ErrorIs(t, err, content.ErrAlreadyUsed)
}

func TestGenerationAdHocFailureStoresNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	h := jobs.NewGeneration(e.deps, failingGenerator{err: errors.New("upstream 503")})

	err := h.Handle(ctx, job(t, queue.Generation, jobs.GenerationPayload{ProjectID: "p1", Keyword: "ad hoc topic"}))
	require.Error(t, err)

	keywords, err := e.store.ListKeywords(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, keywords)
}

func TestGenerationRejectsForeignKeyword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.store.CreateProject(ctx, content.Project{ID: "p2", Name: "Other", WebsiteURL: "https://o.example"}))
	require.NoError(t, e.store.CreateKeyword(ctx, content.Keyword{ID: "kw-x", ProjectID: "p2", Text: "x", Status: content.KeywordUnplanned}))
	h := jobs.NewGeneration(e.deps, generation.Template{})

	err := h.Handle(ctx, job(t, queue.Generation, jobs.GenerationPayload{ProjectID: "p1", KeywordID: "kw-x"}))
	require.ErrorIs(t, err, content.ErrNotFound)
}

type failingGenerator struct{ err error }

func (g failingGenerator) Generate(context.Context, generation.Brief) (generation.Draft, error) {
	return generation.Draft{}, g.err
}

func TestGenerationGeneratorFailureKeepsKeyword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.plan(t, "kw-crm", "best crm", now)
	h := jobs.NewGeneration(e.deps, failingGenerator{err: errors.New("upstream 503")})

	err := h.Handle(ctx, job(t, queue.Generation, jobs.GenerationPayload{ProjectID: "p1"}))
	require.Error(t, err)
	require.False(t, content.IsPermanent(err))

	kw, err := e.store.GetKeyword(ctx, "kw-crm")
	require.NoError(t, err)
	require.Equal(t, content.KeywordPlanned, kw.Status)
}

func TestPayloadValidationIsPermanent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	cases := []struct {
		name    string
		handler interface {
			Handle(context.Context, queue.Job) error
		}
		job queue.Job
	}{
		{"generation missing project", jobs.NewGeneration(e.deps, generation.Template{}), job(t, queue.Generation, map[string]string{})},
		{"publishing bad platform", jobs.NewPublishing(e.deps, nil, nil), job(t, queue.Publishing, jobs.PublishingPayload{
			ArticleID: "a", ProjectID: "p1", Platform: "ghost",
		})},
		{"analytics bad date", jobs.NewAnalytics(e.deps, nil), job(t, queue.Analytics, jobs.AnalyticsPayload{ProjectID: "p1", Date: "May 4"})},
		{"sweep missing name", jobs.NewSweep(nil, nil), job(t, queue.Sweeps, jobs.SweepPayload{})},
		{"garbage", jobs.NewSweep(nil, nil), queue.Job{Queue: queue.Sweeps, Payload: []byte("{")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.handler.Handle(ctx, tc.job)
			require.ErrorIs(t, err, content.ErrValidationFailed)
			require.True(t, content.IsPermanent(err))
		})
	}
}

type stubPublisher struct {
	calls atomic.Int32
	res   publishing.Result
	hint  publishing.Hint
}

func (p *stubPublisher) Publish(_ context.Context, _ content.Article, hint publishing.Hint) publishing.Result {
	p.calls.Add(1)
	p.hint = hint
	return p.res
}

func (e *env) scheduled(t *testing.T, id string) content.Article {
	t.Helper()
	due := now.Add(-time.Minute)
	a := content.Article{
		ID:           id,
		ProjectID:    "p1",
		Title:        "Best CRM",
		Body:         "# Best CRM",
		Slug:         "best-crm",
		Status:       content.ArticleScheduled,
		ScheduledFor: &due,
		CreatedAt:    now.Add(-time.Hour),
		UpdatedAt:    now.Add(-time.Hour),
	}
	e.store.PutArticle(a)
	return a
}

func TestPublishingMarksPublished(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.scheduled(t, "a1")
	pub := &stubPublisher{res: publishing.Result{Success: true, URL: "https://acme.example/best-crm", PostID: "42"}}
	h := jobs.NewPublishing(e.deps, pub, e.svc)

	err := h.Handle(ctx, job(t, queue.Publishing, jobs.PublishingPayload{
		ArticleID: "a1", ProjectID: "p1", Platform: content.PlatformWordPress,
	}))
	require.NoError(t, err)
	require.Equal(t, content.PlatformWordPress, pub.hint.Platform)

	a, err := e.store.GetArticle(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, content.ArticlePublished, a.Status)
	require.NotNil(t, a.PublishedAt)
	require.Equal(t, "https://acme.example/best-crm", a.RemoteURL)
	require.Equal(t, "42", a.RemotePostID)

	evs := e.events.Events(content.EventArticlePublished)
	require.Len(t, evs, 1)
	require.Equal(t, a.RemoteURL, evs[0].URL)
}

func noIntegration() publishing.Result {
	return publishing.Result{Error: &publishing.ResultError{
		Code:    content.CodeNoIntegrationConfigured,
		Message: "project p1 has no active integration",
	}}
}

func TestPublishingWithoutIntegrationPublishesLocally(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.scheduled(t, "a1")
	h := jobs.NewPublishing(e.deps, &stubPublisher{res: noIntegration()}, e.svc)

	require.NoError(t, h.Handle(ctx, job(t, queue.Publishing, jobs.PublishingPayload{ArticleID: "a1", ProjectID: "p1"})))

	a, err := e.store.GetArticle(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, content.ArticlePublished, a.Status)
	require.Empty(t, a.RemoteURL)
}

func TestPublishingExplicitTargetNeverFallsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.scheduled(t, "a1")
	h := jobs.NewPublishing(e.deps, &stubPublisher{res: noIntegration()}, e.svc)

	err := h.Handle(ctx, job(t, queue.Publishing, jobs.PublishingPayload{
		ArticleID: "a1", ProjectID: "p1", IntegrationID: "int-9",
	}))
	require.ErrorIs(t, err, content.ErrNoIntegrationConfigured)

	a, err := e.store.GetArticle(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, content.ArticleScheduled, a.Status)
}

func TestPublishingRetryableFailureLeavesArticle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.scheduled(t, "a1")
	pub := &stubPublisher{res: publishing.Result{Error: &publishing.ResultError{
		Code: content.CodePlatformUnreachable, Message: "dial tcp: timeout", Retryable: true,
	}}}
	h := jobs.NewPublishing(e.deps, pub, e.svc)

	err := h.Handle(ctx, job(t, queue.Publishing, jobs.PublishingPayload{ArticleID: "a1", ProjectID: "p1"}))
	require.ErrorIs(t, err, content.ErrPlatformUnreachable)
	require.False(t, content.IsPermanent(err))
	require.Empty(t, e.events.Events())
}

func TestPublishingProjectMismatch(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.scheduled(t, "a1")
	pub := &stubPublisher{}
	h := jobs.NewPublishing(e.deps, pub, e.svc)

	err := h.Handle(context.Background(), job(t, queue.Publishing, jobs.PublishingPayload{ArticleID: "a1", ProjectID: "p2"}))
	require.ErrorIs(t, err, content.ErrNotFound)
	require.Zero(t, pub.calls.Load())
}

type stubProber struct {
	results map[string]analytics.Result
}

func (p stubProber) Probe(_ context.Context, url string) (analytics.Result, error) {
	res, ok := p.results[url]
	if !ok {
		return analytics.Result{URL: url}, errors.New("connection refused")
	}
	return res, nil
}

func TestAnalyticsRecordsSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	published := now.Add(-time.Hour)
	for _, a := range []content.Article{
		{ID: "live", ProjectID: "p1", Status: content.ArticlePublished, PublishedAt: &published, RemoteURL: "https://acme.example/live"},
		{ID: "down", ProjectID: "p1", Status: content.ArticlePublished, PublishedAt: &published, RemoteURL: "https://acme.example/down"},
		{ID: "local", ProjectID: "p1", Status: content.ArticlePublished, PublishedAt: &published},
		{ID: "draft", ProjectID: "p1", Status: content.ArticleDraft, RemoteURL: "https://acme.example/draft"},
	} {
		e.store.PutArticle(a)
	}
	prober := stubProber{results: map[string]analytics.Result{
		"https://acme.example/live": {StatusCode: 200, Live: true, ResponseTime: 120 * time.Millisecond},
	}}
	h := jobs.NewAnalytics(e.deps, prober)

	require.NoError(t, h.Handle(ctx, job(t, queue.Analytics, jobs.AnalyticsPayload{ProjectID: "p1", Date: "2026-05-04"})))

	live, err := e.store.ListSnapshots(ctx, "live")
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.True(t, live[0].Live)
	require.Equal(t, int64(120), live[0].ResponseMs)
	require.Equal(t, now, live[0].CheckedAt)

	down, err := e.store.ListSnapshots(ctx, "down")
	require.NoError(t, err)
	require.Len(t, down, 1)
	require.False(t, down[0].Live)

	for _, id := range []string{"local", "draft"} {
		snaps, err := e.store.ListSnapshots(ctx, id)
		require.NoError(t, err)
		require.Empty(t, snaps)
	}
}

type recordingSweeper struct {
	names []string
	err   error
}

func (s *recordingSweeper) RunSweep(_ context.Context, name string) (int, error) {
	s.names = append(s.names, name)
	return 2, s.err
}

func TestSweepDelegates(t *testing.T) {
	t.Parallel()
	sw := &recordingSweeper{}
	h := jobs.NewSweep(sw, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), job(t, queue.Sweeps, jobs.SweepPayload{Sweep: "publish-sweep"})))
	require.Equal(t, []string{"publish-sweep"}, sw.names)

	sw.err = errors.New("scan failed")
	require.ErrorContains(t, h.Handle(context.Background(), job(t, queue.Sweeps, jobs.SweepPayload{Sweep: "publish-sweep"})), "scan failed")
}

func TestPoolsApplyCaps(t *testing.T) {
	t.Parallel()
	noop := jobs.NewSweep(&recordingSweeper{}, nil)
	pools := jobs.Pools(jobs.Handlers{Generation: noop, Publishing: noop, Sweeps: noop}, map[string]int{queue.Publishing: 8})

	got := map[string]int{}
	for _, p := range pools {
		got[p.Queue] = p.Concurrency
	}
	require.Equal(t, map[string]int{queue.Generation: 3, queue.Publishing: 8, queue.Sweeps: 1}, got)
}
