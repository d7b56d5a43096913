// Package main hosts the catalog crawler service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and job management endpoints. Requests are validated
//     by internal/control.Service and persisted as queued crawl jobs in the JobStore.
//   - Workers & leases: a fixed pool of workers (config worker.count) polls the store and claims the oldest
//     runnable job via an atomic lease grab. The lease is renewed on a heartbeat for the life of the run, so a
//     crashed worker's job becomes claimable again once the lease expires.
//   - Crawl pipeline: internal/runner drives one job at a time per worker. URLs come from the provider's sitemap
//     (or link discovery fallbacks), pages are fetched through the provider's strategy (Colly HTTP or headless
//     Chromedp rendering), and products are extracted through the layered JSON-LD / microdata / CSS-selector chain.
//   - Persistence & fanout: page records and products land in Postgres (or memory when no DSN is set), raw HTML
//     snapshots go to GCS when a bucket is configured, and a Pub/Sub completion event fires per finished job.
//   - Configuration & plumbing: Viper populates config from env/files; per-provider crawl documents live as JSON
//     files under providers.dir; zap provides structured logging; Prometheus metrics are exported via /metrics.
//
// Operational notes:
//   - Concurrency model: one job per worker, bounded per-page fan-out inside the runner sized by the provider's
//     maxConcurrency. Shutdown leaves claimed jobs running in the store; their leases expire and another worker
//     resumes from the recorded page set.
//   - Pause/resume: control transitions flip job status in the store; runners observe the change between pages
//     and stand down without touching the status further.
//   - Observability: zap logs carry job and provider IDs at key transitions; Prometheus counters/histograms track
//     API activity, pages, products, jobs, and lease renewals.
//
// Quick checklist:
//   - Configure env vars with the CRAWLER_ prefix (CRAWLER_SERVER_PORT, CRAWLER_WORKER_COUNT, CRAWLER_DB_DSN,
//     CRAWLER_STORAGE_GCS_BUCKET, CRAWLER_PUBSUB_PROJECT_ID, ...) or pass -config config.yaml.
//   - Drop one <providerID>.json document per provider into providers.dir.
//   - Run locally: go run ./cmd/catalogcrawler -config config.yaml.
package main
