// Package logging assembles structured slog loggers and formatting helpers used
// across storyloom.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so job handlers automatically
// tag log lines with book IDs, sequence IDs, job kinds and correlation IDs.
// The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
