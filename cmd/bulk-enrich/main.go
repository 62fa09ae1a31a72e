// Package main provides a CLI that enqueues one enrichment job per call.
//
// Usage:
//
//	bulk-enrich --owner acme --job-type embedding --ids-file calls.txt --report out.xlsx
//
// Without --api-url the jobs are enqueued directly against DATABASE_URL (insert-only River
// client; the API's workers process them). With --api-url the batch goes through
// POST /v1/enrichments/bulk.
//
// Environment variables:
//   - DATABASE_URL: PostgreSQL connection string (in-process mode)
//   - API_KEY: bearer token for --api-url mode, and required by the shared config loader
package main

import (
	"log/slog"
	"os"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
