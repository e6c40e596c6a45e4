// Package main hosts the socialmon entrypoint.
//
// Architecture overview:
//   - Adapters: one per platform (Twitter/X recent search, Reddit search, Telegram channel previews, RSS/Atom feeds),
//     sharing a per-platform token bucket and a per-platform concurrency cap.
//   - Orchestrator: a crawl run loads the active rules, fans out one dispatch per (rule, platform), matches each fetched
//     post against the rule, claims it by (platform, external id) and records keyword evidence. Failures stay isolated
//     to their platform; a transient failure is retried once.
//   - Persistence & fanout: Postgres (or the in-memory store) holds rules, posts, evidence and run history; Redis
//     optionally caches claims. New posts are published to Pub/Sub and each run result is archived to GCS or disk.
//   - Observability: zap logs, Prometheus metrics on /metrics, and progress events fanned out to log, Prometheus and
//     run-history sinks.
//
// Quick checklist:
//   - Configure env vars: SOCIALMON_DB_DSN, SOCIALMON_REDIS_ADDR, SOCIALMON_PLATFORMS_TWITTER_TOKEN,
//     SOCIALMON_PUBSUB_PROJECT_ID, SOCIALMON_STORAGE_GCS_BUCKET, or put them in a .env file.
//   - Run locally: go run ./cmd/socialmon serve --config config.yaml
//   - One-shot crawl: go run ./cmd/socialmon crawl
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/JakeFAU/social-monitor/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
