// Package telemetry wires OpenTelemetry metrics for the lifecycle engine.
//
// Metrics are disabled by default: a no-op meter provider is installed and every
// counter call is free. When enabled, readings are exported to stdout on an interval.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const instrumentationScope = "caseflow"

type Config struct {
	Enabled     bool
	ServiceName string
	Interval    time.Duration
}

// Init installs the global meter provider and returns its shutdown func.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}
	name := cfg.ServiceName
	if name == "" {
		name = instrumentationScope
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Meter returns the caseflow meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationScope)
}

// Metrics holds the counters recorded by the engine. A nil *Metrics records nothing.
type Metrics struct {
	transitions   metric.Int64Counter
	invoices      metric.Int64Counter
	notifications metric.Int64Counter
	pushFailures  metric.Int64Counter
	assignments   metric.Int64Counter
}

func NewMetrics(m metric.Meter) (*Metrics, error) {
	var (
		out Metrics
		err error
	)
	if out.transitions, err = m.Int64Counter("caseflow.transitions", metric.WithDescription("Applied status transitions")); err != nil {
		return nil, err
	}
	if out.invoices, err = m.Int64Counter("caseflow.invoices", metric.WithDescription("Invoices issued or settled")); err != nil {
		return nil, err
	}
	if out.notifications, err = m.Int64Counter("caseflow.notifications", metric.WithDescription("Notification records created")); err != nil {
		return nil, err
	}
	if out.pushFailures, err = m.Int64Counter("caseflow.push.failures", metric.WithDescription("Push relay attempts that gave up")); err != nil {
		return nil, err
	}
	if out.assignments, err = m.Int64Counter("caseflow.assignments", metric.WithDescription("Cases assigned by the scheduler, claims and reassigns")); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Metrics) Transition(ctx context.Context, topic, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic), attribute.String("to_status", to)))
}

// Invoice counts billing effects; op is "issued" or "paid".
func (m *Metrics) Invoice(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.invoices.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) Notifications(ctx context.Context, event string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.notifications.Add(ctx, int64(n), metric.WithAttributes(attribute.String("event_type", event)))
}

func (m *Metrics) PushFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.pushFailures.Add(ctx, 1)
}

// Assignment counts assignee changes; source is the audit action.
func (m *Metrics) Assignment(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.assignments.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
