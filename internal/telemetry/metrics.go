// Package telemetry holds process metrics and helpers for detached background work.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are the automation counters. A nil *Metrics records nothing.
type Metrics struct {
	events   metric.Int64Counter
	jobs     metric.Int64Counter
	webhooks metric.Int64Counter
	steps    metric.Int64Counter
	cache    metric.Int64Counter
}

// NewMetrics registers the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error
	if m.events, err = meter.Int64Counter("flowcrm.events.emitted",
		metric.WithDescription("Domain events accepted by the emitter")); err != nil {
		return nil, err
	}
	if m.jobs, err = meter.Int64Counter("flowcrm.jobs.processed",
		metric.WithDescription("Background jobs processed, by queue and outcome")); err != nil {
		return nil, err
	}
	if m.webhooks, err = meter.Int64Counter("flowcrm.webhook.deliveries",
		metric.WithDescription("Webhook delivery attempts, by status")); err != nil {
		return nil, err
	}
	if m.steps, err = meter.Int64Counter("flowcrm.sequence.steps",
		metric.WithDescription("Drip sequence steps executed, by action and outcome")); err != nil {
		return nil, err
	}
	if m.cache, err = meter.Int64Counter("flowcrm.cache.lookups",
		metric.WithDescription("Dashboard cache lookups, by result")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) EventEmitted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) JobProcessed(ctx context.Context, queue, outcome string) {
	if m == nil {
		return
	}
	m.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue), attribute.String("outcome", outcome)))
}

func (m *Metrics) WebhookDelivered(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.webhooks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) SequenceStep(ctx context.Context, action, outcome string) {
	if m == nil {
		return
	}
	m.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action), attribute.String("outcome", outcome)))
}

func (m *Metrics) CacheLookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.cache.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
