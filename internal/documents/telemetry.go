package documents

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/kapitalwerk/contract-api/internal/documents"

var tracer = otel.Tracer(instrumentationName)

// Logger records a structured event. Fields never carry signature data.
type Logger func(ctx context.Context, event string, fields map[string]any)

func nopLogger(context.Context, string, map[string]any) {}

type generationMetrics struct {
	generated metric.Int64Counter
	duration  metric.Float64Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *generationMetrics
)

func loadMetrics() *generationMetrics {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		m := &generationMetrics{}
		m.generated, _ = meter.Int64Counter(
			"documents.generated",
			metric.WithDescription("Document generations by template and outcome."),
		)
		m.duration, _ = meter.Float64Histogram(
			"documents.generation.duration",
			metric.WithDescription("Wall time of a document generation."),
			metric.WithUnit("s"),
		)
		metricsInst = m
	})
	return metricsInst
}

func (m *generationMetrics) record(ctx context.Context, templateKey, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("template", templateKey),
		attribute.String("outcome", outcome),
	)
	if m.generated != nil {
		m.generated.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, seconds, attrs)
	}
}
