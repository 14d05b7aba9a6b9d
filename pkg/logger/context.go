package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	jobIDKey ctxKey = iota
	queueKey
	workerKey
)

// WithJobID returns a context carrying the id of the job being processed.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithQueue returns a context carrying the name of the queue being processed.
func WithQueue(ctx context.Context, queue string) context.Context {
	return context.WithValue(ctx, queueKey, queue)
}

// WithWorker returns a context carrying the worker name.
func WithWorker(ctx context.Context, worker string) context.Context {
	return context.WithValue(ctx, workerKey, worker)
}

// JobIDExtractor adds job_id to records logged with a WithJobID context.
func JobIDExtractor() ContextExtractor {
	return StringExtractor("job_id", func(ctx context.Context) string {
		v, _ := ctx.Value(jobIDKey).(string)
		return v
	})
}

// QueueExtractor adds queue to records logged with a WithQueue context.
func QueueExtractor() ContextExtractor {
	return StringExtractor("queue", func(ctx context.Context) string {
		v, _ := ctx.Value(queueKey).(string)
		return v
	})
}

// WorkerExtractor adds worker to records logged with a WithWorker context.
func WorkerExtractor() ContextExtractor {
	return StringExtractor("worker", func(ctx context.Context) string {
		v, _ := ctx.Value(workerKey).(string)
		return v
	})
}

// StringExtractor adds key with the value returned by fn, skipping empty
// values.
func StringExtractor(key string, fn func(context.Context) string) ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if v := fn(ctx); v != "" {
			return slog.String(key, v), true
		}
		return slog.Attr{}, false
	}
}
