// Package main hosts the cwiptvm3 entrypoint.
//
// Architecture overview:
//   - Catalog: internal/catalog loads an M3U playlist over HTTP(S) or from disk, keeps the configured channel IDs,
//     and hands the scanner one Channel per tvg-id.
//   - Resolution: internal/discovery tries the cached URL, then the advertised URL, then up to 99 numbered sibling
//     origins of the advertised host. Each candidate is probed by internal/probe with a per-host token bucket.
//   - Scan cycles: internal/scanner resolves every channel through a bounded pool, swaps the in-memory go-memdb table
//     once per cycle, persists the snapshot (file, sqlite, or Postgres), publishes per-channel changes to Pub/Sub, and
//     archives the cycle report (memory, local disk, or GCS). internal/schedule drives cycles from a cron spec.
//   - HTTP: internal/api.Server redirects /stream/{channel_id} to the cached URL, serves /playlist.m3u, and exposes
//     /v1 operator routes for listing, refreshing, and triggering scans.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Only one cycle or refresh runs at a time; overlapping triggers get 409 over HTTP and are skipped by the scheduler.
//   - A cycle that times out or is canceled leaves the cache exactly as it was.
//   - The HTTP server listens on the configured port (overridable via PORT) and drains on SIGTERM.
//
// Quick checklist:
//   - Configure env vars: CWIPTV_CATALOG_URL, CWIPTV_CATALOG_CHANNELS, CWIPTV_SCHEDULE_CRON, CWIPTV_CACHE_BACKEND and
//     its path or DSN, CWIPTV_ARCHIVE_BACKEND, and CWIPTV_PUBSUB_PROJECT_ID/CWIPTV_PUBSUB_TOPIC_NAME when notifying.
//   - Run locally: go run ./cmd/cwiptvm3 serve --config config.yaml (or rely solely on env overrides).
package main
