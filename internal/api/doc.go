// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /api/results/{source} for the latest ranked snapshot.
//   - POST /api/crawl to run a crawl and stream progress as server-sent events.
//   - POST /api/jobs to queue a crawl for the background workers.
//   - GET /api/runs and /api/runs/{run_id} for run history via the
//     RunRepository interface.
//   - GET /healthz / readyz for Kubernetes probes and GET /metrics for
//     Prometheus scraping.
package api
