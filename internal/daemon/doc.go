// Package daemon runs the long-lived storyloom process.
//
// It owns one jobqueue.Pool per job kind (the four pipeline stages plus the
// reconciliation sweep), the cron scheduler that enqueues sweeps, and the
// optional read-only HTTP API. A flock on the data directory keeps a second
// daemon from claiming jobs against the same databases.
//
// Pipeline semantics live in internal/pipeline and internal/sweep; this
// package only handles startup, shutdown and status reporting.
package daemon
