// Package storage holds the durable relay queue.
//
// One row per pending source post, keyed by the source message id:
//   - Insert at post time (scheduled for now + delay)
//   - SelectDue by the delivery scheduler (scheduled_at <= now, bounded batch)
//   - MarkForwarded / Remove by the relay executor
//   - PurgeOlderThan by the daily retention sweep
//
// Two drivers share the same contract: "sqlite" (durable, default) and
// "memory" (process-local min-heap, for tests and dry runs).
package storage
