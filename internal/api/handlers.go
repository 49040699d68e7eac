package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/jobs"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
)

type planRequest struct {
	Date time.Time `json:"date"`
}

func (p planRequest) Validate() error {
	return validation.ValidateStruct(&p, validation.Field(&p.Date, validation.Required))
}

type generateRequest struct {
	KeywordID string `json:"keywordId,omitempty"`
	Keyword   string `json:"keyword,omitempty"`
}

type publishRequest struct {
	IntegrationID string           `json:"integrationId,omitempty"`
	Platform      content.Platform `json:"platform,omitempty"`
}

type updateResponse struct {
	Article content.Article       `json:"article"`
	Change  content.ArticleChange `json:"change"`
	Hooks   []content.HookReport  `json:"hooks,omitempty"`
}

type keyResponse struct {
	IntegrationID  string           `json:"integrationId"`
	Platform       content.Platform `json:"platform"`
	IntegrationKey string           `json:"integrationKey"`
	IsActive       bool             `json:"isActive"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, content.CodeValidationFailed, "invalid JSON")
		return false
	}
	if vv, ok := v.(validation.Validatable); ok {
		if err := vv.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, content.CodeValidationFailed, err.Error())
			return false
		}
	}
	return true
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req content.NewProject
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.deps.Content.CreateProject(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) completeOnboarding(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Content.CompleteOnboarding(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listKeywords(w http.ResponseWriter, r *http.Request) {
	kws, err := s.deps.Content.ListKeywords(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": kws})
}

func (s *Server) createKeyword(w http.ResponseWriter, r *http.Request) {
	var req content.NewKeyword
	if !decodeBody(w, r, &req) {
		return
	}
	kw, err := s.deps.Content.CreateKeyword(r.Context(), chi.URLParam(r, "project_id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, kw)
}

func (s *Server) planKeyword(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kw, err := s.deps.Content.PlanKeyword(r.Context(), chi.URLParam(r, "project_id"), chi.URLParam(r, "keyword_id"), req.Date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kw)
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	status := content.ArticleStatus(r.URL.Query().Get("status"))
	switch status {
	case "", content.ArticleDraft, content.ArticleScheduled, content.ArticlePublished:
	default:
		writeError(w, http.StatusBadRequest, content.CodeValidationFailed, "unknown status filter")
		return
	}
	articles, err := s.deps.Content.ListArticles(r.Context(), chi.URLParam(r, "project_id"), status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles})
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Content.GetArticle(r.Context(), chi.URLParam(r, "project_id"), chi.URLParam(r, "article_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// updateArticle commits a user edit. With ?wait=true the response also
// carries the post-commit hook diagnostics.
func (s *Server) updateArticle(w http.ResponseWriter, r *http.Request) {
	var patch content.ArticlePatch
	if !decodeBody(w, r, &patch) {
		return
	}
	res, err := s.deps.Content.UpdateArticle(
		r.Context(),
		chi.URLParam(r, "project_id"),
		chi.URLParam(r, "article_id"),
		patch,
		content.OriginUser,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := updateResponse{Article: res.Article, Change: res.Change}
	if r.URL.Query().Get("wait") == "true" && res.Hooks != nil {
		select {
		case reports := <-res.Hooks:
			out.Hooks = reports
		case <-r.Context().Done():
			s.logger.Warn("hook wait abandoned", zap.String("article_id", res.Article.ID))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) enqueueGeneration(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	payload := jobs.GenerationPayload{
		ProjectID: chi.URLParam(r, "project_id"),
		KeywordID: req.KeywordID,
		Keyword:   req.Keyword,
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, content.CodeValidationFailed, err.Error())
		return
	}
	job, err := queue.EnqueueJSON(r.Context(), s.deps.Queue, queue.Generation, payload, queue.Options{})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "queue": job.Queue})
}

func (s *Server) enqueuePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	projectID := chi.URLParam(r, "project_id")
	article, err := s.deps.Content.GetArticle(r.Context(), projectID, chi.URLParam(r, "article_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	payload := jobs.PublishingPayload{
		ArticleID:     article.ID,
		ProjectID:     projectID,
		IntegrationID: req.IntegrationID,
		Platform:      req.Platform,
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, content.CodeValidationFailed, err.Error())
		return
	}
	job, err := queue.EnqueueJSON(r.Context(), s.deps.Queue, queue.Publishing, payload, queue.Options{})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "queue": job.Queue})
}

func (s *Server) issueKey(w http.ResponseWriter, r *http.Request) {
	platform := content.Platform(chi.URLParam(r, "platform"))
	if !platform.Valid() {
		writeError(w, http.StatusBadRequest, content.CodeValidationFailed, "unsupported platform")
		return
	}
	integ, key, err := s.deps.Keys.IssueKey(r.Context(), chi.URLParam(r, "project_id"), platform)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keyResponse{
		IntegrationID:  integ.ID,
		Platform:       integ.Platform,
		IntegrationKey: key,
		IsActive:       integ.IsActive,
	})
}
