package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine instruments.
type Metrics struct {
	requests  metric.Int64Counter
	accounts  metric.Int64Counter
	resources metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetrics creates the instruments on mp, or on the global provider when nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("stackforge.engine")

	requests, err := meter.Int64Counter(
		"stackforge.provision.requests",
		metric.WithDescription("Number of provisioning requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	accounts, err := meter.Int64Counter(
		"stackforge.accounts.created",
		metric.WithDescription("Number of sub-account creation attempts"),
		metric.WithUnit("{account}"),
	)
	if err != nil {
		return nil, err
	}

	resources, err := meter.Int64Counter(
		"stackforge.resources.provisioned",
		metric.WithDescription("Number of per-service provisioning outcomes"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"stackforge.provision.duration",
		metric.WithDescription("Duration of provisioning requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		requests:  requests,
		accounts:  accounts,
		resources: resources,
		duration:  duration,
	}, nil
}

// RecordRequest records a finished request and its duration.
func (m *Metrics) RecordRequest(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, seconds, attrs)
}

// RecordAccount records one CreateAccount attempt.
func (m *Metrics) RecordAccount(ctx context.Context, provider, status string) {
	m.accounts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cloud.provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordResource records one per-service outcome.
func (m *Metrics) RecordResource(ctx context.Context, service, provider string, status OutcomeStatus) {
	m.resources.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("cloud.provider", provider),
			attribute.String("status", string(status)),
		),
	)
}
