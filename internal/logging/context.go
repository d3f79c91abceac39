package logging

import (
	"context"
	"log/slog"

	"storyloom/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldBookID identifies the book a log line belongs to.
	FieldBookID = "book_id"
	// FieldSequenceID identifies the sequence a log line belongs to.
	FieldSequenceID = "sequence_id"
	// FieldSequenceNumber is the zero-based ordinal of a sequence within its book.
	FieldSequenceNumber = "sequence_number"
	// FieldJobKind names the job kind being executed.
	FieldJobKind = "job_kind"
	// FieldJobID is the queue identifier of a job.
	FieldJobID = "job_id"
	// FieldAttempt is the 1-based delivery attempt of a job.
	FieldAttempt = "attempt"
	// FieldCorrelationID ties together every job spawned from one ingest or extension request.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies notable log lines for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries a short operator-facing next step.
	FieldErrorHint = "error_hint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.BookIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldBookID, id))
	}
	if id, ok := services.SequenceIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldSequenceID, id))
	}
	if kind, ok := services.JobKindFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobKind, kind))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	return logger.With(args...)
}
