// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /stream/{channel_id} redirects to the cached working URL.
//   - GET /playlist.m3u lists every cached channel behind /stream.
//   - /v1/... for operators: channel listing, refresh, scan trigger, last report.
package api
