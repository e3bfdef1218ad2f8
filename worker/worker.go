package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/threatmap/pipeline"
	"github.com/zero-day-ai/threatmap/queue"
)

const (
	// DefaultConcurrency is the number of goroutines popping work.
	DefaultConcurrency = 4

	// DefaultHeartbeatInterval is how often the health key is refreshed.
	DefaultHeartbeatInterval = 10 * time.Second

	// DefaultShutdownTimeout bounds the wait for in-flight items.
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultRetryInitialInterval is the first wait after a failed pop.
	DefaultRetryInitialInterval = 250 * time.Millisecond

	// DefaultRetryMaxInterval caps the wait between failed pops.
	DefaultRetryMaxInterval = 10 * time.Second
)

// Options configures the worker behavior.
type Options struct {
	// QueueName is the list to pop from. Defaults to queue.DefaultQueue.
	QueueName string

	// Concurrency is the number of worker goroutines to start.
	// If 0, DefaultConcurrency is used.
	Concurrency int

	// HeartbeatInterval is the period between heartbeats.
	// If 0, DefaultHeartbeatInterval is used.
	HeartbeatInterval time.Duration

	// ShutdownTimeout is the time to wait for graceful shutdown.
	// If 0, DefaultShutdownTimeout is used.
	ShutdownTimeout time.Duration

	// RetryInitialInterval is the first wait after Pop fails. Consecutive
	// failures back off exponentially up to RetryMaxInterval.
	// If 0, DefaultRetryInitialInterval is used.
	RetryInitialInterval time.Duration

	// RetryMaxInterval caps the wait between failed pops.
	// If 0, DefaultRetryMaxInterval is used.
	RetryMaxInterval time.Duration

	// Logger is the structured logger for worker operations.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.QueueName == "" {
		o.QueueName = queue.DefaultQueue
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = DefaultRetryInitialInterval
	}
	if o.RetryMaxInterval <= 0 {
		o.RetryMaxInterval = DefaultRetryMaxInterval
	}
	if o.RetryMaxInterval < o.RetryInitialInterval {
		o.RetryMaxInterval = o.RetryInitialInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// popBackOff never gives up; the loop stops on context cancellation only.
func (o Options) popBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.RetryInitialInterval
	b.MaxInterval = o.RetryMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Worker consumes work items for a Runner.
type Worker struct {
	runner *pipeline.Runner
	client queue.Client
	opts   Options
	id     string
	logger *slog.Logger
}

// New creates a worker that processes items from client with runner.
func New(runner *pipeline.Runner, client queue.Client, opts Options) *Worker {
	opts = opts.withDefaults()
	id := generateWorkerID()
	return &Worker{
		runner: runner,
		client: client,
		opts:   opts,
		id:     id,
		logger: opts.Logger.With("worker_id", id),
	}
}

// ID returns the unique identifier of this worker instance.
func (w *Worker) ID() string {
	return w.id
}

// Run starts Concurrency goroutines popping from the queue plus a heartbeat,
// and blocks until ctx is cancelled. On shutdown it waits up to
// ShutdownTimeout for items in flight.
//
// Each goroutine:
//  1. Pops a work item from the queue
//  2. Classifies or maps the incident and stores the outcome
//  3. Publishes the result on the run's channel
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting",
		"concurrency", w.opts.Concurrency,
		"queue", w.opts.QueueName,
	)

	if err := w.client.Heartbeat(ctx, w.id); err != nil {
		return fmt.Errorf("failed to send initial heartbeat: %w", err)
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeat(heartbeatCtx)

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			w.loop(ctx, workerNum)
		}(i)
	}

	w.logger.Info("worker started", "workers", w.opts.Concurrency)

	<-ctx.Done()
	w.logger.Info("initiating graceful shutdown", "reason", context.Cause(ctx))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker shutdown complete")
	case <-time.After(w.opts.ShutdownTimeout):
		w.logger.Warn("worker shutdown timeout exceeded", "timeout", w.opts.ShutdownTimeout)
	}

	return nil
}

func (w *Worker) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.Heartbeat(ctx, w.id); err != nil {
				w.logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) loop(ctx context.Context, workerNum int) {
	logger := w.logger.With("worker_num", workerNum)
	logger.Debug("worker loop started")

	retry := w.opts.popBackOff()
	for {
		if ctx.Err() != nil {
			logger.Debug("worker loop stopped", "reason", "context_cancelled")
			return
		}

		item, err := w.client.Pop(ctx, w.opts.QueueName)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("worker loop stopped", "reason", "context_error")
				return
			}
			wait := retry.NextBackOff()
			logger.Error("failed to pop work item", "error", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				logger.Debug("worker loop stopped", "reason", "context_cancelled")
				return
			}
			continue
		}
		retry.Reset()
		if item == nil {
			continue
		}

		// A popped item is finished even when shutdown starts meanwhile.
		result := w.Process(context.WithoutCancel(ctx), *item)
		if err := w.client.Publish(context.WithoutCancel(ctx), result); err != nil {
			logger.Error("failed to publish result", "run_id", item.RunID, "error", err)
		}
	}
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Process runs one work item against the runner's store and returns its
// result. Failures are reported in Result.Error, never returned.
func (w *Worker) Process(ctx context.Context, item queue.WorkItem) queue.Result {
	result := queue.Result{
		RunID:      item.RunID,
		Index:      item.Index,
		IncidentID: item.IncidentID,
		Stage:      item.Stage,
		WorkerID:   w.id,
		StartedAt:  time.Now().UnixMilli(),
	}
	logger := w.logger.With(
		"run_id", item.RunID,
		"index", item.Index,
		"incident_id", item.IncidentID,
		"stage", item.Stage,
	)

	fail := func(msg string, err error) queue.Result {
		result.Error = err.Error()
		result.CompletedAt = time.Now().UnixMilli()
		logger.Error(msg, "error", err)
		return result
	}

	if err := item.IsValid(); err != nil {
		return fail("invalid work item", err)
	}

	ctx = withRemoteParent(ctx, item)

	inc, err := w.runner.Store().Incident(ctx, item.IncidentID)
	if err != nil {
		return fail("failed to load incident", err)
	}

	switch item.Stage {
	case queue.StageClassify:
		result.Saved, err = w.runner.ClassifyIncident(ctx, inc)
	case queue.StageMap:
		result.Saved, result.Mappings, err = w.runner.MapIncident(ctx, inc)
	}
	if err != nil {
		return fail("work item failed", err)
	}

	result.CompletedAt = time.Now().UnixMilli()
	logger.Info("work item completed",
		"saved", result.Saved,
		"mappings", result.Mappings,
		"queued_ms", item.Age().Milliseconds(),
		"duration_ms", result.CompletedAt-result.StartedAt,
	)
	return result
}

// withRemoteParent makes the span that enqueued item the parent of the spans
// started while processing it.
func withRemoteParent(ctx context.Context, item queue.WorkItem) context.Context {
	traceID, err := trace.TraceIDFromHex(item.TraceID)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(item.SpanID)
	if err != nil {
		return ctx
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// generateWorkerID creates a unique identifier for this worker instance.
// Uses hostname + PID + UUID for uniqueness.
func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
}
