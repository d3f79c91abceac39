// Package api defines wire-format types and converters for the read-only
// HTTP API and the CLI's JSON output. It translates store records, queue
// statistics and pool status into transport-friendly DTOs so consumers never
// couple to internal types.
//
// # Key Types
//
// Book: book progress with completed_sequence_count and status.
//
// Sequence: one window's content, status and artifact URLs.
//
// DaemonStatus: running state, pool health, queue counts and sequence totals.
//
// # Design Notes
//
// Field names are snake_case. Statuses are exposed as the lowercase strings
// the store uses. Timestamps are RFC3339 with milliseconds in UTC.
package api
