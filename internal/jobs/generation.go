package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/generation"
	"github.com/JakeFAU/rankyak-pipeline/internal/markup"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
	"github.com/JakeFAU/rankyak-pipeline/internal/seo"
)

// Generation turns one keyword into a draft article.
type Generation struct {
	deps      Deps
	generator generation.Generator
	logger    *zap.Logger
}

// NewGeneration builds the generation handler.
func NewGeneration(deps Deps, generator generation.Generator) *Generation {
	return &Generation{deps: deps, generator: generator, logger: deps.logger("jobs.generation")}
}

// archivedDraft is what lands in the blob store next to each article.
type archivedDraft struct {
	ArticleID string           `json:"articleId"`
	ProjectID string           `json:"projectId"`
	KeywordID string           `json:"keywordId"`
	Keyword   string           `json:"keyword"`
	Draft     generation.Draft `json:"draft"`
	JobID     string           `json:"jobId"`
	Attempt   int              `json:"attempt"`
}

// Handle implements worker.Handler.
func (g *Generation) Handle(ctx context.Context, job queue.Job) error {
	var p GenerationPayload
	if err := decode(job, &p); err != nil {
		return err
	}
	project, err := g.deps.Store.GetProject(ctx, p.ProjectID)
	if err != nil {
		return err
	}
	kw, ok, err := g.pickKeyword(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		g.logger.Info("no keyword due", zap.String("project_id", p.ProjectID), zap.String("job_id", job.ID))
		return nil
	}

	draft, err := g.generator.Generate(ctx, generation.Brief{Project: project, Keyword: kw})
	if err != nil {
		return fmt.Errorf("generate %q: %w", kw.Text, err)
	}
	if err := draft.Validate(); err != nil {
		return err
	}
	article, err := g.buildArticle(project, kw, draft)
	if err != nil {
		return err
	}
	if err := g.deps.Store.CommitGeneration(ctx, article, kw.ID); err != nil {
		return err
	}
	g.logger.Info("article generated",
		zap.String("project_id", project.ID),
		zap.String("keyword_id", kw.ID),
		zap.String("article_id", article.ID),
		zap.Int("seo_score", article.SEOScore),
	)

	g.archive(ctx, job, kw, article, draft)
	g.deps.emit(ctx, g.logger, content.Event{
		Type:       content.EventArticleGenerated,
		ProjectID:  project.ID,
		ArticleID:  article.ID,
		KeywordID:  kw.ID,
		OccurredAt: g.deps.Clock.Now().UTC(),
	})
	return nil
}

// pickKeyword applies the selection priority: explicit text, then explicit
// id, then the earliest due planned keyword. ok is false when an implicit
// run finds nothing due. Text that matches no unused record yields an ad hoc
// keyword with an empty ID; nothing is stored or consumed for it.
func (g *Generation) pickKeyword(ctx context.Context, p GenerationPayload) (content.Keyword, bool, error) {
	const op = "select keyword"
	if text := strings.TrimSpace(p.Keyword); text != "" {
		kw, err := g.deps.Store.FindKeywordByText(ctx, p.ProjectID, text)
		switch {
		case errors.Is(err, content.ErrNotFound):
		case err != nil:
			return content.Keyword{}, false, err
		case kw.Status != content.KeywordUsed:
			return kw, true, nil
		}
		return content.Keyword{ProjectID: p.ProjectID, Text: text}, true, nil
	}

	if p.KeywordID != "" {
		kw, err := g.deps.Store.GetKeyword(ctx, p.KeywordID)
		if err != nil {
			return content.Keyword{}, false, err
		}
		if kw.ProjectID != p.ProjectID {
			return content.Keyword{}, false, content.Errorf(content.CodeNotFound, op, "keyword %s", p.KeywordID)
		}
		if kw.Status == content.KeywordUsed {
			return content.Keyword{}, false, content.Errorf(content.CodeAlreadyUsed, op, "keyword %s already used", kw.ID)
		}
		return kw, true, nil
	}

	kw, err := g.deps.Store.NextDueKeyword(ctx, p.ProjectID, g.deps.Clock.Now())
	if errors.Is(err, content.ErrNotFound) {
		return content.Keyword{}, false, nil
	}
	if err != nil {
		return content.Keyword{}, false, err
	}
	return kw, true, nil
}

func (g *Generation) buildArticle(project content.Project, kw content.Keyword, draft generation.Draft) (content.Article, error) {
	body, err := markup.Normalize(draft.Body)
	if err != nil {
		return content.Article{}, content.Wrap(content.CodeValidationFailed, "normalize draft", err)
	}
	report, err := seo.Analyze(seo.Input{
		Title:           draft.Title,
		Body:            body,
		MetaTitle:       draft.MetaTitle,
		MetaDescription: draft.MetaDescription,
		Keyword:         kw.Text,
		SiteURL:         project.WebsiteURL,
	})
	if err != nil {
		return content.Article{}, fmt.Errorf("analyze draft: %w", err)
	}
	id, err := g.deps.IDs.NewID()
	if err != nil {
		return content.Article{}, fmt.Errorf("article id: %w", err)
	}
	slug := markup.Slugify(draft.Slug)
	if slug == "" {
		slug = markup.Slugify(draft.Title)
	}
	now := g.deps.Clock.Now().UTC()
	var keywordID *string
	if kw.ID != "" {
		keywordID = &kw.ID
	}
	return content.Article{
		ID:               id,
		ProjectID:        project.ID,
		KeywordID:        keywordID,
		Title:            strings.TrimSpace(draft.Title),
		Body:             body,
		MetaTitle:        strings.TrimSpace(draft.MetaTitle),
		MetaDescription:  strings.TrimSpace(draft.MetaDescription),
		FeaturedImageURL: draft.FeaturedImageURL,
		Slug:             slug,
		WordCount:        report.WordCount,
		HeadingCount:     report.HeadingCount,
		ParagraphCount:   report.ParagraphCount,
		InternalLinks:    report.InternalLinks,
		ExternalLinks:    report.ExternalLinks,
		KeywordDensity:   report.KeywordDensity,
		SEOScore:         report.Score,
		Status:           content.ArticleDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// archive stores the raw draft. Failures are logged only.
func (g *Generation) archive(ctx context.Context, job queue.Job, kw content.Keyword, a content.Article, d generation.Draft) {
	if g.deps.Blobs == nil {
		return
	}
	raw, err := json.Marshal(archivedDraft{
		ArticleID: a.ID,
		ProjectID: a.ProjectID,
		KeywordID: kw.ID,
		Keyword:   kw.Text,
		Draft:     d,
		JobID:     job.ID,
		Attempt:   job.Attempt,
	})
	if err != nil {
		g.logger.Warn("draft archive encode failed", zap.String("article_id", a.ID), zap.Error(err))
		return
	}
	path := fmt.Sprintf("drafts/%s/%s.json", a.ProjectID, a.ID)
	uri, err := g.deps.Blobs.PutObject(context.WithoutCancel(ctx), path, "application/json", bytes.NewReader(raw))
	if err != nil {
		g.logger.Warn("draft archive failed", zap.String("article_id", a.ID), zap.Error(err))
		return
	}
	g.logger.Debug("draft archived", zap.String("article_id", a.ID), zap.String("uri", uri))
}
