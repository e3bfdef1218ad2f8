// Package pipeline orchestrates batch classification and technique mapping
// over a store, locally or through the distributed work queue.
//
// A run has three stages: Classify every incident without a classification,
// Map every incident not yet mapped, then Summarize all stored mappings into
// the technique heat summary. Each stage only touches pending incidents, so a
// run is safe to repeat and picks up where an interrupted run stopped.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/threatmap/classifier"
	"github.com/zero-day-ai/threatmap/filter"
	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/mitre"
	"github.com/zero-day-ai/threatmap/queue"
	"github.com/zero-day-ai/threatmap/store"
	"github.com/zero-day-ai/threatmap/taxonomy"
	"github.com/zero-day-ai/threatmap/threaterr"
)

// Stats counts what one stage did.
type Stats struct {
	// Pending is the number of incidents the store reported as pending.
	Pending int `json:"pending"`

	// Filtered is the number skipped by the filter.
	Filtered int `json:"filtered"`

	// Saved is the number whose result was stored by this stage.
	Saved int `json:"saved"`

	// Duplicate is the number already stored by someone else meanwhile.
	Duplicate int `json:"duplicate"`

	// Invalid is the number rejected by validation (e.g. empty title).
	Invalid int `json:"invalid"`

	// Failed is the number that hit a storage or filter error.
	Failed int `json:"failed"`

	// Mappings is the number of technique mappings emitted (map stage only).
	Mappings int `json:"mappings,omitempty"`
}

// Report is the outcome of Run.
type Report struct {
	RunID           string         `json:"run_id"`
	TaxonomyVersion string         `json:"taxonomy_version"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
	Classified      Stats          `json:"classified"`
	Mapped          Stats          `json:"mapped"`
	Summary         *mitre.Summary `json:"summary"`
}

// Runner runs pipeline stages against a store.
type Runner struct {
	model      *taxonomy.Model
	store      store.Store
	classifier *classifier.Classifier
	mapper     *mitre.Mapper

	logger      *slog.Logger
	tracer      trace.Tracer
	meter       metric.Meter
	inst        *instruments
	concurrency int
	filter      *filter.Filter
}

// New creates a Runner for model over st.
func New(model *taxonomy.Model, st store.Store, opts ...Option) (*Runner, error) {
	const op = "pipeline.New"
	if st == nil {
		return nil, threaterr.Configuration(op, "store", "store is required")
	}

	c, err := classifier.New(model)
	if err != nil {
		return nil, err
	}
	m, err := mitre.NewMapper(model)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		model:       model,
		store:       st,
		classifier:  c,
		mapper:      m,
		logger:      slog.Default(),
		tracer:      tracenoop.NewTracerProvider().Tracer("threatmap"),
		meter:       metricnoop.NewMeterProvider().Meter("threatmap"),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.inst, err = newInstruments(r.meter)
	if err != nil {
		return nil, threaterr.Configuration(op, "meter", "failed to create instruments").WithCause(err)
	}
	r.logger = r.logger.With("taxonomy_version", model.Version())

	return r, nil
}

// Store returns the runner's store.
func (r *Runner) Store() store.Store {
	return r.store
}

// Model returns the runner's taxonomy.
func (r *Runner) Model() *taxonomy.Model {
	return r.model
}

// Run classifies and maps every pending incident, then summarizes all stored
// mappings.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:           uuid.New().String(),
		TaxonomyVersion: r.model.Version(),
		StartedAt:       time.Now(),
	}

	ctx, span := r.tracer.Start(ctx, SpanRun, trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.String("taxonomy.version", report.TaxonomyVersion),
	))
	var err error
	defer func() { endSpan(span, err) }()

	logger := r.logger.With("run_id", report.RunID)
	logger.Info("run starting")

	if report.Classified, err = r.Classify(ctx); err != nil {
		return report, err
	}
	if report.Mapped, err = r.Map(ctx); err != nil {
		return report, err
	}
	if report.Summary, err = r.Summarize(ctx); err != nil {
		return report, err
	}

	report.CompletedAt = time.Now()
	logger.Info("run complete",
		"classified", report.Classified.Saved,
		"mapped", report.Mapped.Saved,
		"mappings", report.Mapped.Mappings,
		"techniques", len(report.Summary.Techniques),
		"duration_ms", report.CompletedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

// Classify classifies every pending incident that passes the filter.
// Invalid incidents are counted and logged; storage errors are collected and
// returned after the remaining incidents were processed. Cancelling ctx stops
// dispatching new incidents.
func (r *Runner) Classify(ctx context.Context) (Stats, error) {
	return r.stage(ctx, queue.StageClassify, r.store.PendingClassification, func(ctx context.Context, inc incident.Incident, st *stageStats) error {
		saved, err := r.ClassifyIncident(ctx, inc)
		if err != nil {
			return err
		}
		st.record(saved, 0)
		return nil
	})
}

// Map maps every pending incident that passes the filter to techniques.
// Error handling follows Classify.
func (r *Runner) Map(ctx context.Context) (Stats, error) {
	return r.stage(ctx, queue.StageMap, r.store.PendingMapping, func(ctx context.Context, inc incident.Incident, st *stageStats) error {
		saved, n, err := r.MapIncident(ctx, inc)
		if err != nil {
			return err
		}
		st.record(saved, n)
		return nil
	})
}

// Summarize builds the technique heat summary from every stored mapping.
func (r *Runner) Summarize(ctx context.Context) (*mitre.Summary, error) {
	mappings, err := r.store.Mappings(ctx)
	if err != nil {
		return nil, err
	}
	return r.mapper.Summarize(mappings), nil
}

// ClassifyIncident classifies one incident and stores the result. It
// returns false when the incident was already classified.
func (r *Runner) ClassifyIncident(ctx context.Context, inc incident.Incident) (bool, error) {
	ctx, span := r.tracer.Start(ctx, SpanClassify, trace.WithAttributes(
		attribute.String("incident.id", inc.ID),
	))
	var err error
	defer func() { endSpan(span, err) }()

	res, err := r.classifier.Classify(inc)
	if err != nil {
		r.inst.invalid.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(queue.StageClassify))))
		return false, err
	}
	span.SetAttributes(classificationAttributes(res)...)

	saved, err := r.store.SaveClassification(ctx, res)
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Bool("classification.saved", saved))

	if saved {
		r.inst.classified.Add(ctx, 1)
		r.inst.confidence.Record(ctx, res.Confidence)
	}

	r.logger.Debug("incident classified",
		"incident_id", inc.ID,
		"confidence", res.Confidence,
		"technology", res.Technology.Category,
		"human", res.Human.Category,
		"procedural", res.Procedural.Category,
		"saved", saved,
	)
	return saved, nil
}

// MapIncident maps one incident to techniques and stores the mappings. It
// returns false when the incident was already mapped, along with the number
// of mappings produced.
func (r *Runner) MapIncident(ctx context.Context, inc incident.Incident) (bool, int, error) {
	ctx, span := r.tracer.Start(ctx, SpanMap, trace.WithAttributes(
		attribute.String("incident.id", inc.ID),
	))
	var err error
	defer func() { endSpan(span, err) }()

	mappings, err := r.mapper.Map(inc)
	if err != nil {
		r.inst.invalid.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(queue.StageMap))))
		return false, 0, err
	}

	techniques := make([]string, len(mappings))
	for i, m := range mappings {
		techniques[i] = m.TechniqueID
	}
	span.SetAttributes(
		attribute.Int("mapping.count", len(mappings)),
		attribute.StringSlice("mapping.techniques", techniques),
	)

	saved, err := r.store.SaveMappings(ctx, inc.ID, mappings)
	if err != nil {
		return false, 0, err
	}
	span.SetAttributes(attribute.Bool("mapping.saved", saved))

	if saved {
		for _, m := range mappings {
			r.inst.mappings.Add(ctx, 1, metric.WithAttributes(
				attribute.String("technique.id", m.TechniqueID),
				attribute.String("tactic.id", m.TacticID),
			))
		}
	}

	r.logger.Debug("incident mapped",
		"incident_id", inc.ID,
		"techniques", techniques,
		"saved", saved,
	)
	return saved, len(mappings), nil
}

// Enqueue pushes one work item per pending incident and stage onto the named
// queue for distributed workers, and returns the run ID the items carry.
func (r *Runner) Enqueue(ctx context.Context, client queue.Client, queueName string) (string, int, error) {
	runID := uuid.New().String()
	n, err := r.EnqueueRun(ctx, client, queueName, runID)
	return runID, n, err
}

// EnqueueRun is Enqueue with a caller-chosen run ID, so that the caller can
// subscribe to the run's results before any worker publishes one. Classify
// items are pushed before map items.
func (r *Runner) EnqueueRun(ctx context.Context, client queue.Client, queueName, runID string) (int, error) {
	if runID == "" {
		return 0, threaterr.Configuration("pipeline.EnqueueRun", "run_id", "run ID is required")
	}

	ctx, span := r.tracer.Start(ctx, SpanRun, trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Bool("run.distributed", true),
	))
	var err error
	defer func() { endSpan(span, err) }()

	type job struct {
		id    string
		stage queue.Stage
	}
	var jobs []job

	stages := []struct {
		stage   queue.Stage
		pending func(context.Context) ([]incident.Incident, error)
	}{
		{queue.StageClassify, r.store.PendingClassification},
		{queue.StageMap, r.store.PendingMapping},
	}
	for _, s := range stages {
		var incs []incident.Incident
		incs, err = s.pending(ctx)
		if err != nil {
			return 0, err
		}
		for _, inc := range incs {
			if ok, _ := r.selected(inc); ok {
				jobs = append(jobs, job{id: inc.ID, stage: s.stage})
			}
		}
	}

	traceID, spanID := traceIDs(ctx)
	now := time.Now().UnixMilli()
	for i, j := range jobs {
		item := queue.WorkItem{
			RunID:       runID,
			Index:       i,
			Total:       len(jobs),
			IncidentID:  j.id,
			Stage:       j.stage,
			TraceID:     traceID,
			SpanID:      spanID,
			SubmittedAt: now,
		}
		if err = client.Push(ctx, queueName, item); err != nil {
			return i, err
		}
	}

	span.SetAttributes(attribute.Int("run.items", len(jobs)))
	r.logger.Info("work enqueued", "run_id", runID, "queue", queueName, "items", len(jobs))
	return len(jobs), nil
}

// selected applies the filter. Filter errors are logged and treated as a
// mismatch.
func (r *Runner) selected(inc incident.Incident) (bool, error) {
	ok, err := r.filter.Matches(inc)
	if err != nil {
		r.logger.Warn("filter evaluation failed", "incident_id", inc.ID, "error", err)
		return false, err
	}
	return ok, nil
}

type stageStats struct {
	mu sync.Mutex
	Stats
	errs []error
}

func (s *stageStats) record(saved bool, mappings int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if saved {
		s.Saved++
		s.Mappings += mappings
	} else {
		s.Duplicate++
	}
}

func (s *stageStats) fail(err error, invalid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if invalid {
		s.Invalid++
		return
	}
	s.Failed++
	s.errs = append(s.errs, err)
}

func (r *Runner) stage(
	ctx context.Context,
	name queue.Stage,
	pending func(context.Context) ([]incident.Incident, error),
	process func(context.Context, incident.Incident, *stageStats) error,
) (Stats, error) {
	ctx, span := r.tracer.Start(ctx, SpanStage, trace.WithAttributes(
		attribute.String("stage", string(name)),
	))
	var err error
	defer func() { endSpan(span, err) }()

	logger := r.logger.With("stage", name)

	incs, err := pending(ctx)
	if err != nil {
		return Stats{}, err
	}

	st := &stageStats{}
	st.Pending = len(incs)

	work := make(chan incident.Incident)
	var wg sync.WaitGroup
	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inc := range work {
				if perr := process(ctx, inc, st); perr != nil {
					invalid := threaterr.IsInvalidInput(perr)
					if invalid {
						logger.Warn("incident rejected", "incident_id", inc.ID, "error", perr)
					} else {
						logger.Error("incident failed", "incident_id", inc.ID, "error", perr)
					}
					st.fail(perr, invalid)
				}
			}
		}()
	}

dispatch:
	for _, inc := range incs {
		ok, ferr := r.selected(inc)
		if ferr != nil {
			st.fail(ferr, false)
			continue
		}
		if !ok {
			st.Filtered++
			continue
		}
		select {
		case work <- inc:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(work)
	wg.Wait()

	span.SetAttributes(
		attribute.Int("stage.pending", st.Pending),
		attribute.Int("stage.saved", st.Saved),
		attribute.Int("stage.invalid", st.Invalid),
		attribute.Int("stage.failed", st.Failed),
	)
	logger.Info("stage complete",
		"pending", st.Pending,
		"filtered", st.Filtered,
		"saved", st.Saved,
		"duplicate", st.Duplicate,
		"invalid", st.Invalid,
		"failed", st.Failed,
	)

	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
		return st.Stats, err
	}
	err = errors.Join(st.errs...)
	return st.Stats, err
}
