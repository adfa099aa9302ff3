// Package api hosts the HTTP server, middleware and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes; ready once a snapshot exists.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/assignments for the latest ranked snapshot.
//   - POST /v1/refresh to queue a scrape.
//   - GET/PUT/DELETE /v1/completions for completed flags.
//   - GET /overlay and /feed.rss for the rendered views.
package api
