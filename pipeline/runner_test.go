package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zero-day-ai/threatmap/classifier"
	"github.com/zero-day-ai/threatmap/filter"
	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/internal/redisconn"
	"github.com/zero-day-ai/threatmap/mitre"
	"github.com/zero-day-ai/threatmap/queue"
	"github.com/zero-day-ai/threatmap/store"
	"github.com/zero-day-ai/threatmap/store/memstore"
	"github.com/zero-day-ai/threatmap/taxonomy"
	"github.com/zero-day-ai/threatmap/threaterr"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore(t *testing.T, incs ...incident.Incident) *memstore.Store {
	t.Helper()
	s := memstore.New()
	for _, inc := range incs {
		require.NoError(t, s.PutIncident(context.Background(), inc))
	}
	return s
}

func corpus() []incident.Incident {
	return []incident.Incident{
		incident.New("inc-1", "Phishing campaign hits neobank", "Spear phishing emails harvested credentials"),
		incident.New("inc-2", "Phishing kit sold", "Targets payment processors"),
		incident.New("inc-3", "LockBit ransomware", "Lender encrypted, ransom demanded"),
		incident.New("inc-4", "Quarterly newsletter published", ""),
		incident.New("inc-5", "   ", "no title"),
	}
}

func TestNew_RequiresStoreAndModel(t *testing.T) {
	_, err := New(taxonomy.Default(), nil)
	assert.True(t, threaterr.IsConfiguration(err))

	_, err = New(nil, memstore.New())
	assert.True(t, threaterr.IsConfiguration(err))
}

func TestRunner_Run(t *testing.T) {
	s := seededStore(t, corpus()...)
	r, err := New(taxonomy.Default(), s, WithLogger(quietLogger()), WithConcurrency(2))
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, taxonomy.DefaultVersion, report.TaxonomyVersion)
	assert.False(t, report.CompletedAt.Before(report.StartedAt))

	assert.Equal(t, Stats{Pending: 5, Saved: 4, Invalid: 1}, report.Classified)
	assert.Equal(t, 5, report.Mapped.Pending)
	assert.Equal(t, 4, report.Mapped.Saved)
	assert.Equal(t, 1, report.Mapped.Invalid)

	phishing, ok := report.Summary.Technique("T1566")
	require.True(t, ok)
	assert.Equal(t, 2, phishing.Count)

	ransomware, ok := report.Summary.Technique("T1486")
	require.True(t, ok)
	assert.Equal(t, 1, ransomware.Count)

	// The newsletter is mapped with zero techniques and no longer pending.
	pending, err := s.PendingMapping(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "inc-5", pending[0].ID)
}

func TestRunner_RunIsIdempotent(t *testing.T) {
	s := seededStore(t, corpus()...)
	r, err := New(taxonomy.Default(), s, WithLogger(quietLogger()))
	require.NoError(t, err)

	first, err := r.Run(context.Background())
	require.NoError(t, err)

	second, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, Stats{Pending: 1, Invalid: 1}, second.Classified)
	assert.Equal(t, first.Summary, second.Summary)

	classifications, err := s.Classifications(context.Background())
	require.NoError(t, err)
	assert.Len(t, classifications, 4)
}

func TestRunner_Filter(t *testing.T) {
	s := seededStore(t,
		incident.New("eu-1", "Ransomware", "").WithAttribute("region", "eu"),
		incident.New("us-1", "Ransomware", "").WithAttribute("region", "us"),
		incident.New("none", "Ransomware", ""),
	)
	r, err := New(taxonomy.Default(), s,
		WithLogger(quietLogger()),
		WithFilter(filter.MustCompile(`attributes["region"] == "eu"`)),
	)
	require.NoError(t, err)

	stats, err := r.Classify(context.Background())
	require.Error(t, err, "missing attribute is a filter error")
	assert.Equal(t, 1, stats.Saved)
	assert.Equal(t, 1, stats.Filtered)
	assert.Equal(t, 1, stats.Failed)

	r, err = New(taxonomy.Default(), s,
		WithLogger(quietLogger()),
		WithFilter(filter.MustCompile(`"region" in attributes && attributes["region"] == "us"`)),
	)
	require.NoError(t, err)

	stats, err = r.Classify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 2, Saved: 1, Filtered: 1}, stats)
}

func TestRunner_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	s := seededStore(t, incident.New("inc-1", "Ransomware attack encrypts data, ransom demanded", ""))
	r, err := New(taxonomy.Default(), s, WithLogger(quietLogger()), WithTracer(tp.Tracer("test")))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	counts := map[string]int{}
	for _, span := range recorder.Ended() {
		counts[span.Name()]++

		if span.Name() == SpanClassify {
			attrs := map[string]any{}
			for _, kv := range span.Attributes() {
				attrs[string(kv.Key)] = kv.Value.AsInterface()
			}
			assert.Equal(t, "inc-1", attrs["incident.id"])
			assert.Equal(t, "malware/ransomware", attrs["classification.technology"])
			assert.Equal(t, "critical", attrs["classification.severity"])
			assert.Equal(t, true, attrs["classification.saved"])
		}
	}
	assert.Equal(t, 1, counts[SpanRun])
	assert.Equal(t, 2, counts[SpanStage])
	assert.Equal(t, 1, counts[SpanClassify])
	assert.Equal(t, 1, counts[SpanMap])
}

func TestRunner_ClassifyIncidentInvalid(t *testing.T) {
	r, err := New(taxonomy.Default(), memstore.New(), WithLogger(quietLogger()))
	require.NoError(t, err)

	saved, err := r.ClassifyIncident(context.Background(), incident.New("x", "", ""))
	assert.False(t, saved)
	assert.True(t, threaterr.IsInvalidInput(err))

	saved, n, err := r.MapIncident(context.Background(), incident.New("x", "\t", "phishing"))
	assert.False(t, saved)
	assert.Zero(t, n)
	assert.True(t, threaterr.IsInvalidInput(err))
}

// failingStore fails every save.
type failingStore struct {
	*memstore.Store
}

func (failingStore) SaveClassification(context.Context, *classifier.Result) (bool, error) {
	return false, threaterr.Storage("failingStore.SaveClassification", errors.New("disk full"))
}

func (failingStore) SaveMappings(context.Context, string, []mitre.Mapping) (bool, error) {
	return false, threaterr.Storage("failingStore.SaveMappings", errors.New("disk full"))
}

var _ store.Store = failingStore{}

func TestRunner_StorageErrorsCollected(t *testing.T) {
	s := failingStore{seededStore(t, corpus()[:3]...)}
	r, err := New(taxonomy.Default(), s, WithLogger(quietLogger()))
	require.NoError(t, err)

	stats, err := r.Classify(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, threaterr.ErrStorage)
	assert.Equal(t, 3, stats.Failed)
	assert.Zero(t, stats.Saved)
}

func TestRunner_Cancelled(t *testing.T) {
	var incs []incident.Incident
	for i := 0; i < 50; i++ {
		incs = append(incs, incident.New(fmt.Sprintf("inc-%02d", i), "Phishing", ""))
	}
	r, err := New(taxonomy.Default(), seededStore(t, incs...), WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := r.Classify(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, stats.Saved, 50)
}

func TestRunner_Enqueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := queue.NewRedisClient(queue.RedisOptions{
		Options: redisconn.Options{URL: fmt.Sprintf("redis://%s", mr.Addr())},
	})
	require.NoError(t, err)
	defer client.Close()

	s := seededStore(t, corpus()[:3]...)
	_, err = s.SaveClassification(context.Background(), &classifier.Result{IncidentID: "inc-1"})
	require.NoError(t, err)

	r, err := New(taxonomy.Default(), s, WithLogger(quietLogger()))
	require.NoError(t, err)

	runID, n, err := r.Enqueue(context.Background(), client, queue.DefaultQueue)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	assert.Equal(t, 5, n) // 2 classify + 3 map

	depth, err := client.Depth(context.Background(), queue.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(5), depth)

	var stages []queue.Stage
	for i := 0; i < n; i++ {
		item, err := client.Pop(context.Background(), queue.DefaultQueue)
		require.NoError(t, err)
		require.NotNil(t, item)
		require.NoError(t, item.IsValid())
		assert.Equal(t, runID, item.RunID)
		assert.Equal(t, i, item.Index)
		stages = append(stages, item.Stage)
	}
	assert.Equal(t, []queue.Stage{
		queue.StageClassify, queue.StageClassify,
		queue.StageMap, queue.StageMap, queue.StageMap,
	}, stages)
}

func TestRunner_Summarize(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := s.SaveMappings(ctx, fmt.Sprintf("inc-%d", i), []mitre.Mapping{{
			TechniqueID: "T1566", TechniqueName: "Phishing", TacticID: "TA0001", TacticName: "Initial Access",
			Confidence: 0.5, Matches: 1,
		}})
		require.NoError(t, err)
	}

	r, err := New(taxonomy.Default(), s, WithLogger(quietLogger()))
	require.NoError(t, err)

	summary, err := r.Summarize(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Techniques, 1)
	assert.InDelta(t, 55.0, summary.Techniques[0].Score, 1e-9)
	assert.Equal(t, taxonomy.LevelHigh, summary.Techniques[0].Bucket)
}

func TestOptions(t *testing.T) {
	r, err := New(taxonomy.Default(), memstore.New(), WithConcurrency(0), WithLogger(nil), WithTracer(nil), WithMeter(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency, r.concurrency)
	assert.NotNil(t, r.logger)
	assert.NotNil(t, r.tracer)

	r, err = New(taxonomy.Default(), memstore.New(), WithConcurrency(16))
	require.NoError(t, err)
	assert.Equal(t, 16, r.concurrency)
}

func TestRunner_EnqueueRun(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := queue.NewRedisClient(queue.RedisOptions{
		Options: redisconn.Options{URL: fmt.Sprintf("redis://%s", mr.Addr())},
	})
	require.NoError(t, err)
	defer client.Close()

	r, err := New(taxonomy.Default(), seededStore(t, corpus()[:1]...), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = r.EnqueueRun(context.Background(), client, queue.DefaultQueue, "")
	assert.True(t, threaterr.IsConfiguration(err))

	n, err := r.EnqueueRun(context.Background(), client, queue.DefaultQueue, "run-fixed")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	item, err := client.Pop(context.Background(), queue.DefaultQueue)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "run-fixed", item.RunID)
	assert.Equal(t, "inc-1", item.IncidentID)
}
