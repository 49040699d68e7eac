package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// Store implements content.Store on Postgres.
type Store struct {
	db DB
}

var _ content.Store = (*Store)(nil)

// NewStore wraps an open pool.
func NewStore(db DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

const projectColumns = "id, name, website_url, language, onboarding_complete, created_at"

func scanProject(row pgx.Row) (content.Project, error) {
	var p content.Project
	err := row.Scan(&p.ID, &p.Name, &p.WebsiteURL, &p.Language, &p.OnboardingComplete, &p.CreatedAt)
	return p, err
}

// CreateProject inserts a project.
func (s *Store) CreateProject(ctx context.Context, p content.Project) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO projects (id, name, website_url, language, onboarding_complete, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.WebsiteURL, p.Language, p.OnboardingComplete, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (content.Project, error) {
	p, err := scanProject(s.db.QueryRow(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = $1", id))
	if err != nil {
		return content.Project{}, mapNoRows(err, "get project", "project", id)
	}
	return p, nil
}

// UpdateProject replaces mutable project fields.
func (s *Store) UpdateProject(ctx context.Context, p content.Project) error {
	tag, err := s.db.Exec(ctx, `
UPDATE projects SET name = $2, website_url = $3, language = $4, onboarding_complete = $5
WHERE id = $1`,
		p.ID, p.Name, p.WebsiteURL, p.Language, p.OnboardingComplete)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return content.Errorf(content.CodeNotFound, "update project", "project %s", p.ID)
	}
	return nil
}

// ListOnboardedProjects returns onboarded projects ordered by creation.
func (s *Store) ListOnboardedProjects(ctx context.Context) ([]content.Project, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE onboarding_complete ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	out := make([]content.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const keywordColumns = "id, project_id, text, search_volume, difficulty, planned_date, status, created_at"

func scanKeyword(row pgx.Row) (content.Keyword, error) {
	var (
		kw     content.Keyword
		status string
	)
	err := row.Scan(&kw.ID, &kw.ProjectID, &kw.Text, &kw.SearchVolume, &kw.Difficulty, &kw.PlannedDate, &status, &kw.CreatedAt)
	kw.Status = content.KeywordStatus(status)
	return kw, err
}

func (s *Store) queryKeywords(ctx context.Context, query string, args ...any) ([]content.Keyword, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()
	out := make([]content.Keyword, 0)
	for rows.Next() {
		kw, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, kw)
	}
	return out, rows.Err()
}

// CreateKeyword inserts a keyword.
func (s *Store) CreateKeyword(ctx context.Context, kw content.Keyword) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO keywords (id, project_id, text, search_volume, difficulty, planned_date, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		kw.ID, kw.ProjectID, kw.Text, kw.SearchVolume, kw.Difficulty, kw.PlannedDate, string(kw.Status), kw.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert keyword: %w", err)
	}
	return nil
}

// GetKeyword fetches a keyword by ID.
func (s *Store) GetKeyword(ctx context.Context, id string) (content.Keyword, error) {
	kw, err := scanKeyword(s.db.QueryRow(ctx, "SELECT "+keywordColumns+" FROM keywords WHERE id = $1", id))
	if err != nil {
		return content.Keyword{}, mapNoRows(err, "get keyword", "keyword", id)
	}
	return kw, nil
}

// FindKeywordByText looks up a keyword case-insensitively.
func (s *Store) FindKeywordByText(ctx context.Context, projectID, text string) (content.Keyword, error) {
	kw, err := scanKeyword(s.db.QueryRow(ctx,
		"SELECT "+keywordColumns+" FROM keywords WHERE project_id = $1 AND lower(text) = lower($2)",
		projectID, strings.TrimSpace(text)))
	if err != nil {
		return content.Keyword{}, mapNoRows(err, "find keyword", "keyword", text)
	}
	return kw, nil
}

// UpdateKeyword replaces a keyword. The guard keeps used keywords used.
func (s *Store) UpdateKeyword(ctx context.Context, kw content.Keyword) error {
	tag, err := s.db.Exec(ctx, `
UPDATE keywords SET text = $2, search_volume = $3, difficulty = $4, planned_date = $5, status = $6
WHERE id = $1 AND (status <> 'used' OR $6 = 'used')`,
		kw.ID, kw.Text, kw.SearchVolume, kw.Difficulty, kw.PlannedDate, string(kw.Status))
	if err != nil {
		return fmt.Errorf("update keyword: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetKeyword(ctx, kw.ID); err != nil {
			return err
		}
		return content.ErrKeywordUsed
	}
	return nil
}

// ListKeywords returns a project's keywords ordered by creation.
func (s *Store) ListKeywords(ctx context.Context, projectID string) ([]content.Keyword, error) {
	return s.queryKeywords(ctx,
		"SELECT "+keywordColumns+" FROM keywords WHERE project_id = $1 ORDER BY created_at, id", projectID)
}

// NextDueKeyword returns the earliest due planned keyword of a project.
func (s *Store) NextDueKeyword(ctx context.Context, projectID string, now time.Time) (content.Keyword, error) {
	kw, err := scanKeyword(s.db.QueryRow(ctx, "SELECT "+keywordColumns+` FROM keywords
WHERE project_id = $1 AND status = 'planned' AND planned_date <= $2
ORDER BY planned_date, id LIMIT 1`, projectID, now))
	if err != nil {
		return content.Keyword{}, mapNoRows(err, "next due keyword", "project", projectID)
	}
	return kw, nil
}

// ProjectsWithDueKeywords lists onboarded projects owning a due keyword.
func (s *Store) ProjectsWithDueKeywords(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT p.id FROM projects p
JOIN keywords k ON k.project_id = p.id
WHERE p.onboarding_complete AND k.status = 'planned' AND k.planned_date <= $1
ORDER BY p.id`, now)
	if err != nil {
		return nil, fmt.Errorf("list due projects: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
