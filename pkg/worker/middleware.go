package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/jobq/pkg/job"
)

// Handler executes a claimed job and returns its encoded result.
type Handler func(ctx context.Context) (json.RawMessage, error)

// Middleware wraps job execution. It must call next unless it decides to
// fail the job itself.
type Middleware func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error)

// Chain composes middleware; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) (json.RawMessage, error) {
				return mw(ctx, j, inner)
			}
		}
		return h(ctx)
	}
}

// Logging logs the start and outcome of every job.
func Logging(log *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		log.InfoContext(ctx, "job started",
			slog.String("task", j.Payload.Task),
			slog.String("title", j.Title),
		)

		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			log.ErrorContext(ctx, "job failed",
				slog.String("task", j.Payload.Task),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return res, err
		}

		log.InfoContext(ctx, "job finished",
			slog.String("task", j.Payload.Task),
			slog.Duration("elapsed", elapsed),
		)
		return res, nil
	}
}

// Recover turns a panic anywhere below it into a job failure.
func Recover(log *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (res json.RawMessage, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(ctx, "job panicked",
					slog.String("task", j.Payload.Task),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				res = nil
				err = fmt.Errorf("%w: %v", job.ErrTaskPanicked, r)
			}
		}()
		return next(ctx)
	}
}

// Timeout cancels the job context after the job's Timeout, if it has one.
// Tasks are expected to return once their context is done.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()
		return next(ctx)
	}
}

// InstrumentationName is the tracer and meter name used by Tracing and Metrics.
const InstrumentationName = "github.com/dmitrymomot/jobq/pkg/worker"

// Tracing wraps each job in a span from the global tracer provider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(InstrumentationName))
}

// TracingWithTracer wraps each job in a span from tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "jobq.job.execute",
			trace.WithAttributes(
				attribute.String("jobq.job.id", j.ID),
				attribute.String("jobq.job.task", j.Payload.Task),
				attribute.String("jobq.queue", j.Queue),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		res, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return res, err
	}
}

// Metrics records job duration and outcome with the global meter provider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(InstrumentationName))
}

// MetricsWithMeter records job duration and outcome with meter:
//
//	jobq.job.duration    histogram, seconds
//	jobq.job.executions  counter
//
// Both carry task, queue and status ("ok" or "error") attributes.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The API hands back no-op instruments on error.
	duration, _ := meter.Float64Histogram("jobq.job.duration",
		metric.WithDescription("Duration of job execution"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter("jobq.job.executions",
		metric.WithDescription("Number of executed jobs"),
		metric.WithUnit("{job}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		start := time.Now()
		res, err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("task", j.Payload.Task),
			attribute.String("queue", j.Queue),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)

		return res, err
	}
}
