package pipeline

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/threatmap/filter"
)

// DefaultConcurrency is the number of incidents processed in parallel.
const DefaultConcurrency = 4

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer sets the tracer used for run, stage and incident spans.
// Defaults to a no-op tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithMeter sets the meter the runner's instruments are created from.
// Defaults to a no-op meter.
func WithMeter(meter metric.Meter) Option {
	return func(r *Runner) {
		if meter != nil {
			r.meter = meter
		}
	}
}

// WithConcurrency sets how many incidents are processed in parallel.
// Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithFilter restricts batch stages and Enqueue to incidents matched by f.
func WithFilter(f *filter.Filter) Option {
	return func(r *Runner) {
		r.filter = f
	}
}
