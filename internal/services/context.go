package services

import "context"

type contextKey string

const (
	bookIDKey     contextKey = "book_id"
	sequenceIDKey contextKey = "sequence_id"
	jobKindKey    contextKey = "job_kind"
	jobIDKey      contextKey = "job_id"
	requestIDKey  contextKey = "request_id"
)

// WithBookID annotates context with the book identifier.
func WithBookID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, bookIDKey, id)
}

// BookIDFromContext extracts the book identifier if present.
func BookIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, bookIDKey)
}

// WithSequenceID annotates context with the sequence identifier.
func WithSequenceID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, sequenceIDKey, id)
}

// SequenceIDFromContext extracts the sequence identifier if present.
func SequenceIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, sequenceIDKey)
}

// WithJobKind annotates context with the job kind being handled.
func WithJobKind(ctx context.Context, kind string) context.Context {
	if kind == "" {
		return ctx
	}
	return context.WithValue(ctx, jobKindKey, kind)
}

// JobKindFromContext returns the job kind if present.
func JobKindFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, jobKindKey)
}

// WithJobID annotates context with the queue job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext returns the queue job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, jobIDKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

func int64Value(ctx context.Context, key contextKey) (int64, bool) {
	switch val := ctx.Value(key).(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
