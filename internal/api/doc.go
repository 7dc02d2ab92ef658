// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/discovery/search to start a search, in the background or inline.
//   - GET /v1/discovery/status/{task_id} for polling.
//   - POST /v1/discovery/{task_id}/cancel for cooperative cancellation.
//   - GET /v1/quota for today's ledger counters.
package api
