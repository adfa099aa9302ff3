// Package main hosts the canvaspal service entrypoint.
//
// Architecture overview:
//   - Collection: internal/canvas queries the planner, missing submissions, dashboard cards and (optionally) per-course
//     assignment endpoints with bearer tokens or a session cookie. internal/dashboard scrapes the dashboard page with
//     colly and goquery, promoting to a chromedp render when the page is an empty single-page-app shell.
//   - Refresh pipeline: internal/pipeline collects every enabled source concurrently, merges by normalized URL in source
//     precedence order, looks up completed flags, scores with internal/priority and fingerprints the ordered result.
//   - Scheduling: refresh requests flow through a bounded in-memory queue (config.Schedule.QueueDepth) to a fixed
//     worker pool (config.Schedule.Workers). robfig/cron enqueues on config.Schedule.Spec; a full queue coalesces.
//   - Persistence & fanout: snapshots are written as JSON to the configured BlobStore (memory/local/GCS). Completed
//     flags live in memory, SQLite or Postgres. An assignments.updated event goes to Pub/Sub (or the in-memory
//     publisher) only when the fingerprint changes.
//   - Serving: internal/api exposes /v1/assignments, /v1/completions, /v1/refresh, /overlay (templ), /feed.rss
//     (gorilla/feeds), health probes and Prometheus metrics.
//
// Quick checklist:
//   - Configure env vars: CANVASPAL_CANVAS_BASE_URL, CANVASPAL_CANVAS_TOKENS or CANVASPAL_CANVAS_TOKEN_DIR, optionally
//     CANVASPAL_STORAGE_BACKEND, CANVASPAL_COMPLETION_BACKEND and CANVASPAL_PUBSUB_*. A .env file is read first.
//   - One-off: go run ./cmd/canvaspal scrape --format text
//   - Service: go run ./cmd/canvaspal serve --config config.yaml
package main
