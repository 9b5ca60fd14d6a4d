// Package main hosts the newscrawler entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server serves the latest ranked results per source, streams foreground crawls as
//     server-sent events, queues background crawls, and exposes run history, health probes and Prometheus metrics.
//   - Crawl service: internal/service resolves the source adapter, allocates a run ID, drives the pipeline and then
//     archives the snapshot to the configured BlobStore (memory/local/GCS) and announces it on Pub/Sub.
//   - Pipeline: sitemaps for every day in the window are resolved through the sitemap cache, entries are filtered
//     by the publish date embedded in article IDs, metadata comes from the article catalog, engagement is summed in
//     fixed batches, and the top results are persisted as the source's snapshot.
//   - Dispatcher & queue: queued crawls flow through a bounded in-memory queue sized by crawler.queue_depth to a
//     fixed worker pool sized by crawler.workers. The cron scheduler enqueues configured sources periodically.
//   - Persistence: Postgres (pgx) or in-memory repositories hold cached sitemaps, article metadata, snapshots and
//     run rows. Progress events are batched by the progress hub into the run store, Prometheus and the log.
//
// Quick checklist:
//   - Configure env vars: CRAWLER_SERVER_PORT or PORT, DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME or
//     CRAWLER_DATABASE_DSN, CRAWLER_DATABASE_DRIVER=memory for a database-free run, CRAWLER_STORAGE_BACKEND and
//     CRAWLER_PUBSUB_* for archiving and notifications.
//   - Run locally: go run ./cmd/newscrawler serve --config config.yaml
//   - One-off crawl: go run ./cmd/newscrawler crawl --source vnexpress --days 3
package main
