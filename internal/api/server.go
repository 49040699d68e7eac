package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/config"
	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/metrics"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
)

// ContentService is the part of content.Service the handlers drive.
type ContentService interface {
	CreateProject(ctx context.Context, in content.NewProject) (content.Project, error)
	CompleteOnboarding(ctx context.Context, projectID string) (content.Project, error)
	CreateKeyword(ctx context.Context, projectID string, in content.NewKeyword) (content.Keyword, error)
	PlanKeyword(ctx context.Context, projectID, keywordID string, date time.Time) (content.Keyword, error)
	ListKeywords(ctx context.Context, projectID string) ([]content.Keyword, error)
	GetArticle(ctx context.Context, projectID, articleID string) (content.Article, error)
	ListArticles(ctx context.Context, projectID string, status content.ArticleStatus) ([]content.Article, error)
	UpdateArticle(
		ctx context.Context,
		projectID, articleID string,
		patch content.ArticlePatch,
		origin content.Origin,
	) (content.UpdateResult, error)
}

// KeyIssuer mints integration keys.
type KeyIssuer interface {
	IssueKey(ctx context.Context, projectID string, platform content.Platform) (content.Integration, string, error)
}

// Sweeper runs a scheduler sweep on demand.
type Sweeper interface {
	RunSweep(ctx context.Context, name string) (int, error)
}

// Check reports whether a downstream dependency is usable.
type Check func(ctx context.Context) error

// Deps are the collaborators behind the routes.
type Deps struct {
	Content ContentService
	Keys    KeyIssuer
	Queue   queue.Queue
	Sweeper Sweeper
	Ready   map[string]Check
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the pipeline services.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	timeout := config.Seconds(cfg.Server.RequestTimeoutSeconds)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.createProject)
			r.Route("/{project_id}", func(r chi.Router) {
				r.Post("/onboarding/complete", s.completeOnboarding)
				r.Post("/generate", s.enqueueGeneration)
				r.Route("/keywords", func(r chi.Router) {
					r.Get("/", s.listKeywords)
					r.Post("/", s.createKeyword)
					r.Post("/{keyword_id}/plan", s.planKeyword)
				})
				r.Route("/articles", func(r chi.Router) {
					r.Get("/", s.listArticles)
					r.Get("/{article_id}", s.getArticle)
					r.Patch("/{article_id}", s.updateArticle)
					r.Post("/{article_id}/publish", s.enqueuePublish)
				})
				r.Post("/integrations/{platform}/key", s.issueKey)
			})
		})
		r.Route("/queues/{queue}", func(r chi.Router) {
			r.Get("/dead", s.listDead)
			r.Post("/jobs/{job_id}/retry", s.retryJob)
		})
		r.Post("/sweeps/{sweep}/run", s.runSweep)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("error", rec),
				)
				writeError(w, http.StatusInternalServerError, content.CodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "Forbidden", "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorBody struct {
	Error string       `json:"error"`
	Code  content.Code `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code content.Code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	code := content.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case content.CodeNotFound:
		status = http.StatusNotFound
	case content.CodeValidationFailed:
		status = http.StatusBadRequest
	case content.CodeAlreadyUsed, content.CodeConflict, content.CodeInvalidTransition:
		status = http.StatusConflict
	case content.CodeNoIntegrationConfigured, content.CodeIntegrationInactive, content.CodeAuthExpired:
		status = http.StatusUnprocessableEntity
	case content.CodePlatformRejected, content.CodePlatformUnreachable:
		status = http.StatusBadGateway
	}
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		status, code = http.StatusNotFound, content.CodeNotFound
	case errors.Is(err, queue.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, code, err.Error())
}
