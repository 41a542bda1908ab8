// Package api hosts the HTTP server, middleware, and driver-facing handlers.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/scans/{scan_id} for scan progress (unauthenticated).
//   - POST /v1/... for scan, job and maintenance actions, guarded by the
//     X-API-Key or X-Cron-Secret header.
package api
