package session

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type sessionMetrics struct {
	ticks           metric.Int64Counter
	classifyErrors  metric.Int64Counter
	recognitions    metric.Int64Counter
	classifySeconds metric.Float64Histogram
}

func newSessionMetrics() (*sessionMetrics, error) {
	meter := otel.Meter("virsa/session")

	ticks, err := meter.Int64Counter("scan.ticks",
		metric.WithDescription("Scan poll ticks executed"))
	if err != nil {
		return nil, err
	}
	classifyErrors, err := meter.Int64Counter("scan.classify_errors",
		metric.WithDescription("Transient classification failures"))
	if err != nil {
		return nil, err
	}
	recognitions, err := meter.Int64Counter("scan.recognitions",
		metric.WithDescription("Sessions that reached the recognized state"))
	if err != nil {
		return nil, err
	}
	classifySeconds, err := meter.Float64Histogram("scan.classify_duration_seconds",
		metric.WithDescription("Per-tick classification latency"))
	if err != nil {
		return nil, err
	}

	return &sessionMetrics{
		ticks:           ticks,
		classifyErrors:  classifyErrors,
		recognitions:    recognitions,
		classifySeconds: classifySeconds,
	}, nil
}

func (m *sessionMetrics) addTick(ctx context.Context) {
	if m == nil {
		return
	}
	m.ticks.Add(ctx, 1)
}

func (m *sessionMetrics) addClassifyError(ctx context.Context) {
	if m == nil {
		return
	}
	m.classifyErrors.Add(ctx, 1)
}

func (m *sessionMetrics) addRecognition(ctx context.Context) {
	if m == nil {
		return
	}
	m.recognitions.Add(ctx, 1)
}

func (m *sessionMetrics) recordClassifyDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.classifySeconds.Record(ctx, d.Seconds())
}
