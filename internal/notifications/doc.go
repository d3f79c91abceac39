// Package notifications publishes pipeline events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers publish unconditionally. Publishing is best effort: callers log a
// failed delivery and carry on.
package notifications
