package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the federation instruments. They are created against the
// global meter provider, so they stay no-ops until Init installs one.
type Metrics struct {
	InboxActivities metric.Int64Counter
	Deliveries      metric.Int64Counter
	Fetches         metric.Int64Counter
	MirrorChanges   metric.Int64Counter
	Tasks           metric.Int64Counter
	DeliverySeconds metric.Float64Histogram
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

func newMetrics(meter metric.Meter) *Metrics {
	m := &Metrics{}
	m.InboxActivities, _ = meter.Int64Counter("vidfed_inbox_activities_total",
		metric.WithDescription("Inbound activities by type and outcome"))
	m.Deliveries, _ = meter.Int64Counter("vidfed_deliveries_total",
		metric.WithDescription("Outbound POSTs by outcome"))
	m.Fetches, _ = meter.Int64Counter("vidfed_fetches_total",
		metric.WithDescription("Remote object fetches by outcome"))
	m.MirrorChanges, _ = meter.Int64Counter("vidfed_mirror_changes_total",
		metric.WithDescription("External video rows upserted, deleted or pruned"))
	m.Tasks, _ = meter.Int64Counter("vidfed_tasks_total",
		metric.WithDescription("Background tasks by kind and outcome"))
	m.DeliverySeconds, _ = meter.Float64Histogram("vidfed_delivery_duration_seconds",
		metric.WithDescription("Outbound POST latency"),
		metric.WithUnit("s"))
	return m
}

// Default returns the process-wide instruments.
func Default() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(otel.Meter(instrumentationName))
	})
	return metrics
}

func Count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func Outcome(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("outcome", "error")
	}
	return attribute.String("outcome", "ok")
}
