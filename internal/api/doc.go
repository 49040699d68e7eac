// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/projects/... for projects, keywords, articles and integration keys.
//   - POST /v1/projects/{id}/generate and .../articles/{id}/publish enqueue work.
//   - GET /v1/queues/{queue}/dead and POST .../jobs/{id}/retry for dead jobs.
package api
