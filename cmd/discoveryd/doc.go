// Package main hosts the candidate discovery service.
//
// Architecture overview:
//   - HTTP API: internal/api.Server validates search requests into discovery.SearchCriteria, registers a task in
//     the in-memory registry, and either enqueues it (background mode) or runs it inline (synchronous mode).
//   - Dispatcher & queue: task ids flow through a bounded in-memory queue sized by discovery.queue_depth and are
//     fanned out to a fixed worker pool sized by discovery.concurrency. A task cancelled while queued never starts.
//   - Controller: each task opens its own browser session through the navigator, walks result pages in order,
//     extracts cards with goquery, filters them through the guardrail and charges accepted records to the shared
//     daily quota ledger. Cancellation is checked between pages.
//   - Persistence & fanout: accepted candidates go to Postgres when db.dsn is set, task snapshots are mirrored to
//     Redis and Postgres, pages with unknown structure are archived to the blob store (memory/local/GCS), and a
//     terminal event is published to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env (DISCOVERY_*) and files; zap provides structured
//     logging; Prometheus metrics are exported at /metrics; a cron job prunes finished tasks.
//
// Quick checklist:
//   - Run locally: go run ./cmd/discoveryd -config config.yaml (or rely solely on env overrides).
//   - Set DISCOVERY_QUOTA_PROFILES_PER_DAY and DISCOVERY_NAVIGATION_DELAY_MS to match the account's tolerance.
//   - Set DISCOVERY_NAVIGATION_HEADLESS=false to watch the browser when the site starts challenging sessions.
package main
