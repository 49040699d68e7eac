package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

const integrationColumns = "id, project_id, platform, credentials, is_active, integration_key, created_at, updated_at"

func scanIntegration(row pgx.Row) (content.Integration, error) {
	var (
		in       content.Integration
		platform string
		raw      []byte
	)
	if err := row.Scan(&in.ID, &in.ProjectID, &platform, &raw, &in.IsActive, &in.IntegrationKey, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return content.Integration{}, err
	}
	in.Platform = content.Platform(platform)
	in.Credentials = content.Credentials{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in.Credentials); err != nil {
			return content.Integration{}, fmt.Errorf("decode credentials: %w", err)
		}
	}
	return in, nil
}

func marshalCredentials(c content.Credentials) ([]byte, error) {
	if c == nil {
		c = content.Credentials{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}
	return b, nil
}

// CreateIntegration inserts an integration.
func (s *Store) CreateIntegration(ctx context.Context, in content.Integration) error {
	creds, err := marshalCredentials(in.Credentials)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO integrations (id, project_id, platform, credentials, is_active, integration_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		in.ID, in.ProjectID, string(in.Platform), creds, in.IsActive, in.IntegrationKey, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert integration: %w", err)
	}
	return nil
}

// GetIntegration fetches an integration by ID.
func (s *Store) GetIntegration(ctx context.Context, id string) (content.Integration, error) {
	in, err := scanIntegration(s.db.QueryRow(ctx, "SELECT "+integrationColumns+" FROM integrations WHERE id = $1", id))
	if err != nil {
		return content.Integration{}, mapNoRows(err, "get integration", "integration", id)
	}
	return in, nil
}

// ListIntegrations returns a project's integrations ordered by creation.
func (s *Store) ListIntegrations(ctx context.Context, projectID string) ([]content.Integration, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+integrationColumns+" FROM integrations WHERE project_id = $1 ORDER BY created_at, id", projectID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()
	out := make([]content.Integration, 0)
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// UpdateCredentials swaps credentials while the stored refresh token still
// equals expectedRefreshToken.
func (s *Store) UpdateCredentials(ctx context.Context, id, expectedRefreshToken string, creds content.Credentials) error {
	raw, err := marshalCredentials(creds)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
UPDATE integrations SET credentials = $2, updated_at = $3
WHERE id = $1 AND coalesce(credentials->>'refresh_token', '') = $4`,
		id, raw, time.Now().UTC(), expectedRefreshToken)
	if err != nil {
		return fmt.Errorf("update credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetIntegration(ctx, id); err != nil {
			return err
		}
		return content.Errorf(content.CodeConflict, "update credentials", "refresh token changed")
	}
	return nil
}

// SetIntegrationKey stores key on the project's oldest integration for
// platform, creating an inactive one when none exists.
func (s *Store) SetIntegrationKey(
	ctx context.Context,
	projectID string,
	platform content.Platform,
	key string,
) (content.Integration, error) {
	now := time.Now().UTC()
	in, err := scanIntegration(s.db.QueryRow(ctx, `
UPDATE integrations SET integration_key = $3, updated_at = $4
WHERE id = (
	SELECT id FROM integrations WHERE project_id = $1 AND platform = $2
	ORDER BY created_at, id LIMIT 1
)
RETURNING `+integrationColumns, projectID, string(platform), key, now))
	if err == nil {
		return in, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return content.Integration{}, fmt.Errorf("set integration key: %w", err)
	}
	in = content.Integration{
		ID:             projectID + ":" + string(platform),
		ProjectID:      projectID,
		Platform:       platform,
		Credentials:    content.Credentials{},
		IntegrationKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.CreateIntegration(ctx, in); err != nil {
		return content.Integration{}, err
	}
	return in, nil
}
