package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
)

var knownQueues = map[string]bool{
	queue.Generation: true,
	queue.Publishing: true,
	queue.Analytics:  true,
	queue.Sweeps:     true,
}

func queueParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "queue")
	if !knownQueues[name] {
		writeError(w, http.StatusNotFound, content.CodeNotFound, "unknown queue")
		return "", false
	}
	return name, true
}

// listDead handles GET /v1/queues/{queue}/dead.
func (s *Server) listDead(w http.ResponseWriter, r *http.Request) {
	name, ok := queueParam(w, r)
	if !ok {
		return
	}
	dead, err := s.deps.Queue.Dead(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": dead})
}

// retryJob handles POST /v1/queues/{queue}/jobs/{job_id}/retry.
func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	name, ok := queueParam(w, r)
	if !ok {
		return
	}
	job, err := s.deps.Queue.Retry(r.Context(), name, chi.URLParam(r, "job_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("dead job re-driven", zap.String("queue", name), zap.String("job_id", job.ID))
	writeJSON(w, http.StatusOK, job)
}

// runSweep handles POST /v1/sweeps/{sweep}/run.
func (s *Server) runSweep(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "sweep")
	n, err := s.deps.Sweeper.RunSweep(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sweep": name, "enqueued": n})
}
