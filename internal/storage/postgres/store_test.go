package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil)
	require.Error(t, err)
}

func TestCommitGenerationConsumesKeyword(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	kwID := "k1"
	article := content.Article{ID: "a1", ProjectID: "p1", KeywordID: &kwID, Title: "Best CRM", Status: content.ArticleDraft}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE keywords SET status = 'used'").
		WithArgs("k1", "p1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO articles").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.CommitGeneration(context.Background(), article, "k1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitGenerationRejectsUsedKeyword(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE keywords SET status = 'used'").
		WithArgs("k1", "p1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM keywords").
		WithArgs("k1", "p1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("used"))
	mock.ExpectRollback()

	err := store.CommitGeneration(context.Background(), content.Article{ID: "a2", ProjectID: "p1"}, "k1")
	require.ErrorIs(t, err, content.ErrAlreadyUsed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitGenerationUnknownKeyword(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE keywords SET status = 'used'").
		WithArgs("ghost", "p1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM keywords").
		WithArgs("ghost", "p1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := store.CommitGeneration(context.Background(), content.Article{ID: "a2", ProjectID: "p1"}, "ghost")
	require.ErrorIs(t, err, content.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetArticleNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM articles WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetArticle(context.Background(), "missing")
	require.ErrorIs(t, err, content.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListArticlesFiltersByStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows(articleColumns).AddRow(
		"a1", "p1", (*string)(nil), "Title", "Body", "Meta", "Desc",
		"", "title", 900, 4, 12,
		1, 2, 1.2, 88, "draft",
		(*time.Time)(nil), (*time.Time)(nil), "", "", created, created,
	)
	mock.ExpectQuery(`SELECT .* FROM articles WHERE project_id = \$1 AND status = \$2 ORDER BY created_at DESC, id DESC`).
		WithArgs("p1", "draft").
		WillReturnRows(rows)

	list, err := store.ListArticles(context.Background(), "p1", content.ArticleDraft)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, content.ArticleDraft, list[0].Status)
	require.Equal(t, 88, list[0].SEOScore)
	require.Nil(t, list[0].PublishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCredentialsConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE integrations SET credentials").
		WithArgs("i1", pgxmock.AnyArg(), pgxmock.AnyArg(), "stale").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT .* FROM integrations WHERE id = \$1`).
		WithArgs("i1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "project_id", "platform", "credentials", "is_active", "integration_key", "created_at", "updated_at",
		}).AddRow("i1", "p1", "webflow", []byte(`{"refresh_token":"fresh"}`), true, "", now, now))

	err := store.UpdateCredentials(context.Background(), "i1", "stale", content.Credentials{"access_token": "x"})
	require.ErrorIs(t, err, content.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePublishRecordUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := content.PublishRecord{
		ArticleID:      "a1",
		IntegrationID:  "i1",
		IdempotencyKey: "a1:i1",
		State:          content.PublishAttempted,
		Attempts:       1,
		UpdatedAt:      time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	mock.ExpectExec("INSERT INTO publish_records").
		WithArgs("a1", "i1", "a1:i1", "attempted", 1, "", "", "", rec.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SavePublishRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSnapshotInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	snap := content.AnalyticsSnapshot{
		ArticleID:  "a1",
		ProjectID:  "p1",
		URL:        "https://acme.test/best-crm",
		StatusCode: 200,
		Live:       true,
		ResponseMs: 120,
		CheckedAt:  time.Date(2026, 5, 2, 2, 0, 0, 0, time.UTC),
	}
	mock.ExpectExec("INSERT INTO analytics_snapshots").
		WithArgs("a1", "p1", snap.URL, 200, true, int64(120), snap.CheckedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveSnapshot(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsAreEmbedded(t *testing.T) {
	t.Parallel()

	names, err := MigrationNames()
	require.NoError(t, err)
	require.Contains(t, names, "0001_init.up.sql")
	require.Contains(t, names, "0001_init.down.sql")
}
