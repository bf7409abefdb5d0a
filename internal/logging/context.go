package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized key for job identifiers.
	FieldJobID = "job_id"
	// FieldTaskID is the standardized key for task group identifiers.
	FieldTaskID = "task_id"
	// FieldSegmentIndex is the standardized key for 0-based segment indices.
	FieldSegmentIndex = "segment_index"
	// FieldWorkerID is the standardized key for worker slot identifiers.
	FieldWorkerID = "worker_id"
	// FieldCorrelationID is the standardized key for HTTP request identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies warnings and errors for log queries.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step for an operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey string

const (
	jobIDKey        contextKey = "job_id"
	taskIDKey       contextKey = "task_id"
	segmentIndexKey contextKey = "segment_index"
	workerIDKey     contextKey = "worker_id"
	requestIDKey    contextKey = "request_id"
)

// WithJobID returns a context carrying the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// WithTaskID returns a context carrying the task group identifier.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// WithSegmentIndex returns a context carrying the segment index.
func WithSegmentIndex(ctx context.Context, index uint) context.Context {
	return context.WithValue(ctx, segmentIndexKey, index)
}

// WithWorkerID returns a context carrying the worker slot identifier.
func WithWorkerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerIDKey, id)
}

// WithRequestID returns a context carrying the HTTP request identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := ctx.Value(jobIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if id, ok := ctx.Value(taskIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldTaskID, id))
	}
	if index, ok := ctx.Value(segmentIndexKey).(uint); ok {
		fields = append(fields, slog.Uint64(FieldSegmentIndex, uint64(index)))
	}
	if id, ok := ctx.Value(workerIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldWorkerID, id))
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldCorrelationID, id))
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
	return logger.With(Args(fields...)...)
}
