package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

var articleColumns = []string{
	"id", "project_id", "keyword_id", "title", "body", "meta_title", "meta_description",
	"featured_image_url", "slug", "word_count", "heading_count", "paragraph_count",
	"internal_links", "external_links", "keyword_density", "seo_score", "status",
	"scheduled_for", "published_at", "remote_url", "remote_post_id", "created_at", "updated_at",
}

func articleValues(a content.Article) []any {
	return []any{
		a.ID, a.ProjectID, a.KeywordID, a.Title, a.Body, a.MetaTitle, a.MetaDescription,
		a.FeaturedImageURL, a.Slug, a.WordCount, a.HeadingCount, a.ParagraphCount,
		a.InternalLinks, a.ExternalLinks, a.KeywordDensity, a.SEOScore, string(a.Status),
		a.ScheduledFor, a.PublishedAt, a.RemoteURL, a.RemotePostID, a.CreatedAt, a.UpdatedAt,
	}
}

func scanArticle(row pgx.Row) (content.Article, error) {
	var (
		a      content.Article
		status string
	)
	err := row.Scan(
		&a.ID, &a.ProjectID, &a.KeywordID, &a.Title, &a.Body, &a.MetaTitle, &a.MetaDescription,
		&a.FeaturedImageURL, &a.Slug, &a.WordCount, &a.HeadingCount, &a.ParagraphCount,
		&a.InternalLinks, &a.ExternalLinks, &a.KeywordDensity, &a.SEOScore, &status,
		&a.ScheduledFor, &a.PublishedAt, &a.RemoteURL, &a.RemotePostID, &a.CreatedAt, &a.UpdatedAt,
	)
	a.Status = content.ArticleStatus(status)
	return a, err
}

func (s *Store) selectArticles(ctx context.Context, b sq.SelectBuilder) ([]content.Article, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()
	out := make([]content.Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetArticle fetches an article by ID.
func (s *Store) GetArticle(ctx context.Context, id string) (content.Article, error) {
	query, args, err := psql.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return content.Article{}, fmt.Errorf("build article query: %w", err)
	}
	a, err := scanArticle(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return content.Article{}, mapNoRows(err, "get article", "article", id)
	}
	return a, nil
}

// UpdateArticle replaces every mutable article column.
func (s *Store) UpdateArticle(ctx context.Context, a content.Article) error {
	query, args, err := psql.Update("articles").
		SetMap(map[string]any{
			"title":              a.Title,
			"body":               a.Body,
			"meta_title":         a.MetaTitle,
			"meta_description":   a.MetaDescription,
			"featured_image_url": a.FeaturedImageURL,
			"slug":               a.Slug,
			"word_count":         a.WordCount,
			"heading_count":      a.HeadingCount,
			"paragraph_count":    a.ParagraphCount,
			"internal_links":     a.InternalLinks,
			"external_links":     a.ExternalLinks,
			"keyword_density":    a.KeywordDensity,
			"seo_score":          a.SEOScore,
			"status":             string(a.Status),
			"scheduled_for":      a.ScheduledFor,
			"published_at":       a.PublishedAt,
			"remote_url":         a.RemoteURL,
			"remote_post_id":     a.RemotePostID,
			"updated_at":         a.UpdatedAt,
		}).
		Where(sq.Eq{"id": a.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build article update: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return content.Errorf(content.CodeNotFound, "update article", "article %s", a.ID)
	}
	return nil
}

// ListArticles returns a project's articles, newest first. An empty status
// matches all.
func (s *Store) ListArticles(ctx context.Context, projectID string, status content.ArticleStatus) ([]content.Article, error) {
	b := psql.Select(articleColumns...).From("articles").Where(sq.Eq{"project_id": projectID})
	if status != "" {
		b = b.Where(sq.Eq{"status": string(status)})
	}
	return s.selectArticles(ctx, b.OrderBy("created_at DESC", "id DESC"))
}

// DueScheduledArticles returns scheduled articles that are due.
func (s *Store) DueScheduledArticles(ctx context.Context, now time.Time) ([]content.Article, error) {
	return s.selectArticles(ctx, psql.Select(articleColumns...).From("articles").
		Where(sq.Eq{"status": string(content.ArticleScheduled)}).
		Where(sq.LtOrEq{"scheduled_for": now}).
		OrderBy("scheduled_for", "id"))
}

// CommitGeneration inserts the article and consumes the keyword in one
// transaction.
func (s *Store) CommitGeneration(ctx context.Context, a content.Article, keywordID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin generation commit: %w", err)
	}
	defer rollback(ctx, tx)

	if keywordID != "" {
		tag, err := tx.Exec(ctx,
			"UPDATE keywords SET status = 'used' WHERE id = $1 AND project_id = $2 AND status <> 'used'",
			keywordID, a.ProjectID)
		if err != nil {
			return fmt.Errorf("consume keyword: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var status string
			err := tx.QueryRow(ctx, "SELECT status FROM keywords WHERE id = $1 AND project_id = $2",
				keywordID, a.ProjectID).Scan(&status)
			if err != nil {
				return mapNoRows(err, "commit generation", "keyword", keywordID)
			}
			return content.Errorf(content.CodeAlreadyUsed, "commit generation", "keyword %s already used", keywordID)
		}
	}

	query, args, err := psql.Insert("articles").Columns(articleColumns...).Values(articleValues(a)...).ToSql()
	if err != nil {
		return fmt.Errorf("build article insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit generation: %w", err)
	}
	return nil
}
