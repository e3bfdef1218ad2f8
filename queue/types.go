package queue

import (
	"fmt"
	"time"
)

// Stage names the pipeline step a work item asks for.
type Stage string

const (
	// StageClassify places the incident in the threat taxonomy.
	StageClassify Stage = "classify"

	// StageMap maps the incident to ATT&CK techniques.
	StageMap Stage = "map"
)

// IsValid returns true if the stage is known.
func (s Stage) IsValid() bool {
	switch s {
	case StageClassify, StageMap:
		return true
	default:
		return false
	}
}

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// WorkItem asks a worker to run one stage for one stored incident.
type WorkItem struct {
	// RunID correlates all work items enqueued by one pipeline run
	RunID string `json:"run_id"`

	// Index is the position of this item in the run (0-based)
	Index int `json:"index"`

	// Total is the total number of items in the run
	Total int `json:"total"`

	// IncidentID identifies the incident in the shared store
	IncidentID string `json:"incident_id"`

	// Stage is the step to run
	Stage Stage `json:"stage"`

	// TraceID is the distributed tracing trace ID for observability
	TraceID string `json:"trace_id,omitempty"`

	// SpanID is the distributed tracing span ID for observability
	SpanID string `json:"span_id,omitempty"`

	// SubmittedAt is the Unix timestamp in milliseconds when work was submitted
	SubmittedAt int64 `json:"submitted_at"`
}

// Result is the outcome of processing a WorkItem. It is published to the
// run's result channel so the submitter can follow progress.
type Result struct {
	// RunID correlates this result with the original work item
	RunID string `json:"run_id"`

	// Index is the position of the work item in the run
	Index int `json:"index"`

	IncidentID string `json:"incident_id"`
	Stage      Stage  `json:"stage"`

	// Saved is false when another worker or run already stored this stage
	Saved bool `json:"saved"`

	// Mappings is the number of techniques mapped (map stage only)
	Mappings int `json:"mappings,omitempty"`

	// Error is the error message if processing failed
	Error string `json:"error,omitempty"`

	// WorkerID is the unique identifier of the worker that processed this item
	WorkerID string `json:"worker_id"`

	// StartedAt is the Unix timestamp in milliseconds when processing started
	StartedAt int64 `json:"started_at"`

	// CompletedAt is the Unix timestamp in milliseconds when processing completed
	CompletedAt int64 `json:"completed_at"`
}

// IsValid checks if the WorkItem has all required fields populated correctly.
func (w *WorkItem) IsValid() error {
	if w.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if w.Index < 0 {
		return fmt.Errorf("index must be non-negative, got %d", w.Index)
	}
	if w.Total <= 0 {
		return fmt.Errorf("total must be positive, got %d", w.Total)
	}
	if w.Index >= w.Total {
		return fmt.Errorf("index %d is out of bounds for total %d", w.Index, w.Total)
	}
	if w.IncidentID == "" {
		return fmt.Errorf("incident_id is required")
	}
	if !w.Stage.IsValid() {
		return fmt.Errorf("invalid stage %q", w.Stage)
	}
	if w.SubmittedAt <= 0 {
		return fmt.Errorf("submitted_at must be positive, got %d", w.SubmittedAt)
	}
	return nil
}

// Age returns the duration since this work item was submitted.
func (w *WorkItem) Age() time.Duration {
	if w.SubmittedAt <= 0 {
		return 0
	}
	now := time.Now().UnixMilli()
	return time.Duration(now-w.SubmittedAt) * time.Millisecond
}

// HasError returns true if the result represents a failed item.
func (r *Result) HasError() bool {
	return r.Error != ""
}

// Duration returns the wall-clock time the worker spent processing this item.
func (r *Result) Duration() time.Duration {
	if r.StartedAt <= 0 || r.CompletedAt <= 0 {
		return 0
	}
	return time.Duration(r.CompletedAt-r.StartedAt) * time.Millisecond
}

// IsValid checks if the Result has all required fields populated correctly.
func (r *Result) IsValid() error {
	if r.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if r.IncidentID == "" {
		return fmt.Errorf("incident_id is required")
	}
	if r.WorkerID == "" {
		return fmt.Errorf("worker_id is required")
	}
	if r.StartedAt <= 0 {
		return fmt.Errorf("started_at must be positive, got %d", r.StartedAt)
	}
	if r.CompletedAt < r.StartedAt {
		return fmt.Errorf("completed_at (%d) cannot be before started_at (%d)", r.CompletedAt, r.StartedAt)
	}
	return nil
}
