package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// GetPublishRecord returns the ledger row for the pair.
func (s *Store) GetPublishRecord(ctx context.Context, articleID, integrationID string) (content.PublishRecord, error) {
	var (
		rec   content.PublishRecord
		state string
	)
	err := s.db.QueryRow(ctx, `
SELECT article_id, integration_id, idempotency_key, state, attempts, remote_url, remote_post_id, last_error, updated_at
FROM publish_records WHERE article_id = $1 AND integration_id = $2`, articleID, integrationID).
		Scan(&rec.ArticleID, &rec.IntegrationID, &rec.IdempotencyKey, &state, &rec.Attempts,
			&rec.RemoteURL, &rec.RemotePostID, &rec.LastError, &rec.UpdatedAt)
	if err != nil {
		return content.PublishRecord{}, mapNoRows(err, "get publish record", "publish record", articleID)
	}
	rec.State = content.PublishState(state)
	return rec, nil
}

// SavePublishRecord upserts a ledger row.
func (s *Store) SavePublishRecord(ctx context.Context, rec content.PublishRecord) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO publish_records (article_id, integration_id, idempotency_key, state, attempts, remote_url, remote_post_id, last_error, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (article_id, integration_id) DO UPDATE SET
	idempotency_key = EXCLUDED.idempotency_key,
	state = EXCLUDED.state,
	attempts = EXCLUDED.attempts,
	remote_url = EXCLUDED.remote_url,
	remote_post_id = EXCLUDED.remote_post_id,
	last_error = EXCLUDED.last_error,
	updated_at = EXCLUDED.updated_at`,
		rec.ArticleID, rec.IntegrationID, rec.IdempotencyKey, string(rec.State), rec.Attempts,
		rec.RemoteURL, rec.RemotePostID, rec.LastError, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert publish record: %w", err)
	}
	return nil
}

// SaveSnapshot inserts an analytics snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap content.AnalyticsSnapshot) error {
	query, args, err := psql.Insert("analytics_snapshots").
		Columns("article_id", "project_id", "url", "status_code", "live", "response_ms", "checked_at").
		Values(snap.ArticleID, snap.ProjectID, snap.URL, snap.StatusCode, snap.Live, snap.ResponseMs, snap.CheckedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build snapshot insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns an article's snapshots oldest first.
func (s *Store) ListSnapshots(ctx context.Context, articleID string) ([]content.AnalyticsSnapshot, error) {
	query, args, err := psql.
		Select("article_id", "project_id", "url", "status_code", "live", "response_ms", "checked_at").
		From("analytics_snapshots").
		Where(sq.Eq{"article_id": articleID}).
		OrderBy("checked_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build snapshot query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()
	out := make([]content.AnalyticsSnapshot, 0)
	for rows.Next() {
		var snap content.AnalyticsSnapshot
		if err := rows.Scan(&snap.ArticleID, &snap.ProjectID, &snap.URL, &snap.StatusCode,
			&snap.Live, &snap.ResponseMs, &snap.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
