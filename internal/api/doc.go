// Package api hosts the HTTP server, middleware, and REST handlers for the
// capture service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/webhooks/dealroom for document-management webhook intake.
//   - GET /v1/jobs/{id}/status and /result, POST /v1/jobs/{id}/cancel.
package api
