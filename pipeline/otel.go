package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/threatmap/classifier"
)

// Span names.
const (
	SpanRun      = "threatmap.run"
	SpanStage    = "threatmap.stage"
	SpanClassify = "threatmap.classify"
	SpanMap      = "threatmap.map"
)

// instruments holds the metric instruments of a Runner. They are created once
// in New and reused for every incident.
type instruments struct {
	// classified counts incidents whose classification was stored
	classified metric.Int64Counter

	// invalid counts incidents rejected by validation
	invalid metric.Int64Counter

	// mappings counts technique mappings emitted
	mappings metric.Int64Counter

	// confidence records overall classification confidence (0.0 to 1.0)
	confidence metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	inst := &instruments{}
	var err error

	inst.classified, err = meter.Int64Counter(
		"threatmap.incidents.classified",
		metric.WithDescription("Number of incidents classified"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create classified counter: %w", err)
	}

	inst.invalid, err = meter.Int64Counter(
		"threatmap.incidents.invalid",
		metric.WithDescription("Number of incidents rejected by validation"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create invalid counter: %w", err)
	}

	inst.mappings, err = meter.Int64Counter(
		"threatmap.mappings.emitted",
		metric.WithDescription("Number of ATT&CK technique mappings emitted"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create mappings counter: %w", err)
	}

	inst.confidence, err = meter.Float64Histogram(
		"threatmap.classification.confidence",
		metric.WithDescription("Overall classification confidence from 0.0 to 1.0"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create confidence histogram: %w", err)
	}

	return inst, nil
}

func classificationAttributes(res *classifier.Result) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("taxonomy.version", res.TaxonomyVersion),
		attribute.Float64("classification.confidence", res.Confidence),
	}
	if res.Technology.Matched() {
		attrs = append(attrs, attribute.String("classification.technology", res.Technology.Category+"/"+res.Technology.Subcategory))
	}
	if res.Human.Matched() {
		attrs = append(attrs, attribute.String("classification.human", res.Human.Category+"/"+res.Human.Subcategory))
	}
	if res.Procedural.Matched() {
		attrs = append(attrs, attribute.String("classification.procedural", res.Procedural.Category+"/"+res.Procedural.Subcategory))
	}
	if res.Severity != "" {
		attrs = append(attrs, attribute.String("classification.severity", res.Severity.String()))
	}
	return attrs
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// traceIDs returns the trace and span IDs of the span in ctx, empty when
// there is none.
func traceIDs(ctx context.Context) (string, string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
