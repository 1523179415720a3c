// Package api hosts the HTTP server that triggers source runs. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sources/{source_id}/run runs a source and returns its RunResult.
//   - POST /v1/sources/{source_id}/enqueue queues a source for the worker pool.
//   - POST /v1/runs/all queues every eligible source.
package api
