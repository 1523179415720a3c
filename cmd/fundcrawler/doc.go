// Package main hosts the fundcrawler entrypoint.
//
// Architecture overview:
//   - Registry: sources ("bots") and their targets are read from Postgres
//     (db.dsn) or, without a DSN, from an in-memory registry seeded by
//     db.seed_file.
//   - Runs: internal/orchestrator acquires one browser session per run
//     (chromedp, or colly in browser.mode=static), visits the source's active
//     targets by priority, formats each page with the AI client or the
//     heuristic fallback, and stores candidates once per content fingerprint.
//   - Fan-out: the scheduler sweeps eligible sources into the queue (memory or
//     Redis) every scheduler.interval, and a fixed pool of workers sized by
//     crawler.concurrency drains it. Each worker holds at most one session.
//   - Side outputs: screenshots go to the configured blob store
//     (memory/local/GCS) and each newly stored opportunity is published to
//     Pub/Sub when pubsub.topic is set.
//   - Plumbing: Viper loads config from .env, a file, and FUNDCRAWLER_*
//     variables; zap provides structured logs; Prometheus metrics are served
//     on /metrics.
//
// Modes:
//   - fundcrawler -config config.yaml            serve the API, workers, and scheduler
//   - fundcrawler -config config.yaml -run <id>  run one source and print the result
//   - fundcrawler -config config.yaml -once      run every active source and exit
package main
