// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl to run one crawl pass synchronously.
//   - /v1/rules for rule administration.
//   - GET /v1/posts and /v1/posts/{post_id}/evidence for matched posts.
//   - GET /v1/stats for the reporting snapshot.
//   - GET /v1/runs and /v1/runs/{run_id} for run history via store.RunRepository.
package api
