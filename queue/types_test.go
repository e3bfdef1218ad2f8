package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validItem() WorkItem {
	return WorkItem{
		RunID:       "run-123",
		Index:       0,
		Total:       1,
		IncidentID:  "inc-1",
		Stage:       StageClassify,
		TraceID:     "trace-456",
		SpanID:      "span-789",
		SubmittedAt: time.Now().UnixMilli(),
	}
}

func TestStage_IsValid(t *testing.T) {
	assert.True(t, StageClassify.IsValid())
	assert.True(t, StageMap.IsValid())
	assert.False(t, Stage("summarize").IsValid())
	assert.False(t, Stage("").IsValid())
	assert.Equal(t, "map", StageMap.String())
}

func TestWorkItem_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorkItem)
		errMsg string
	}{
		{"valid work item", func(*WorkItem) {}, ""},
		{"missing run_id", func(w *WorkItem) { w.RunID = "" }, "run_id is required"},
		{"negative index", func(w *WorkItem) { w.Index = -1 }, "index must be non-negative, got -1"},
		{"zero total", func(w *WorkItem) { w.Total = 0 }, "total must be positive, got 0"},
		{"index out of bounds", func(w *WorkItem) { w.Index = 1 }, "index 1 is out of bounds for total 1"},
		{"missing incident", func(w *WorkItem) { w.IncidentID = "" }, "incident_id is required"},
		{"unknown stage", func(w *WorkItem) { w.Stage = "summarize" }, `invalid stage "summarize"`},
		{"zero submitted_at", func(w *WorkItem) { w.SubmittedAt = 0 }, "submitted_at must be positive, got 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := validItem()
			tt.mutate(&item)

			err := item.IsValid()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.errMsg, err.Error())
		})
	}
}

func TestWorkItem_Age(t *testing.T) {
	item := validItem()
	item.SubmittedAt = time.Now().Add(-5 * time.Second).UnixMilli()

	age := item.Age()
	assert.GreaterOrEqual(t, age, 5*time.Second)
	assert.Less(t, age, 10*time.Second)

	item.SubmittedAt = 0
	assert.Equal(t, time.Duration(0), item.Age())
}

func TestResult_IsValid(t *testing.T) {
	now := time.Now().UnixMilli()
	valid := Result{
		RunID:       "run-1",
		IncidentID:  "inc-1",
		Stage:       StageMap,
		WorkerID:    "host-1-abcd",
		StartedAt:   now,
		CompletedAt: now + 10,
	}
	assert.NoError(t, valid.IsValid())

	noWorker := valid
	noWorker.WorkerID = ""
	assert.EqualError(t, noWorker.IsValid(), "worker_id is required")

	backwards := valid
	backwards.CompletedAt = now - 1
	assert.ErrorContains(t, backwards.IsValid(), "cannot be before started_at")
}

func TestResult_HasErrorAndDuration(t *testing.T) {
	r := Result{StartedAt: 1000, CompletedAt: 1250}
	assert.False(t, r.HasError())
	assert.Equal(t, 250*time.Millisecond, r.Duration())

	r.Error = "incident not found"
	assert.True(t, r.HasError())

	assert.Equal(t, time.Duration(0), (&Result{}).Duration())
}
