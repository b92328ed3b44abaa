package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds refresh loop metrics using OTEL semantic conventions
type Metrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	pending  metric.Int64Gauge
	settled  metric.Int64Counter
}

// NewMetrics creates daemon metrics following OTEL semantic conventions
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("stackforge.daemon")

	runs, err := meter.Int64Counter(
		"stackforge.daemon.refreshes",
		metric.WithDescription("Number of refresh passes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"stackforge.daemon.refresh.duration",
		metric.WithDescription("Duration of refresh passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	pending, err := meter.Int64Gauge(
		"stackforge.resources.creating",
		metric.WithDescription("Resources still being created after the last pass"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	settled, err := meter.Int64Counter(
		"stackforge.resources.settled",
		metric.WithDescription("Resources that left the creating state during a pass"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{runs: runs, duration: duration, pending: pending, settled: settled}, nil
}

// RecordRun records a refresh pass with status
func (m *Metrics) RecordRun(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, seconds, attrs)
}

// RecordPending records resources still creating
func (m *Metrics) RecordPending(ctx context.Context, n int64) {
	m.pending.Record(ctx, n)
}

// RecordSettled records resources that finished creating
func (m *Metrics) RecordSettled(ctx context.Context, n int64) {
	if n > 0 {
		m.settled.Add(ctx, n)
	}
}
