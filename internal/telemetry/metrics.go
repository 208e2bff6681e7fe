// Package telemetry holds the engine's OpenTelemetry instruments.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the meter name every instrument is registered under.
const InstrumentationName = "workgraph"

// Metrics groups the counters the engine and dispatcher record. A nil
// *Metrics records nothing.
type Metrics struct {
	instantiations   metric.Int64Counter
	transitions      metric.Int64Counter
	staleConflicts   metric.Int64Counter
	events           metric.Int64Counter
	deliveryFailures metric.Int64Counter
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.instantiations, err = meter.Int64Counter("workgraph.workflow.instantiations",
		metric.WithDescription("Workflow instances created from templates")); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("workgraph.task.transitions",
		metric.WithDescription("Task instance status transitions")); err != nil {
		return nil, err
	}
	if m.staleConflicts, err = meter.Int64Counter("workgraph.task.stale_conflicts",
		metric.WithDescription("Compare-and-set writes rejected because the stored status changed")); err != nil {
		return nil, err
	}
	if m.events, err = meter.Int64Counter("workgraph.notify.events",
		metric.WithDescription("Notification events emitted")); err != nil {
		return nil, err
	}
	if m.deliveryFailures, err = meter.Int64Counter("workgraph.notify.delivery_failures",
		metric.WithDescription("Notification deliveries that failed or timed out")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Global creates the instruments on the globally registered meter provider.
func Global() (*Metrics, error) {
	return New(otel.Meter(InstrumentationName))
}

func (m *Metrics) WorkflowInstantiated(ctx context.Context, tenantID, templateID string) {
	if m == nil {
		return
	}
	m.instantiations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("template_id", templateID),
	))
}

func (m *Metrics) TaskTransitioned(ctx context.Context, tenantID, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) StaleConflict(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.staleConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

func (m *Metrics) EventEmitted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) DeliveryFailed(ctx context.Context, sink string) {
	if m == nil {
		return
	}
	m.deliveryFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
