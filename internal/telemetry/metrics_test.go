package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.EventEmitted(ctx, "LEAD_CREATED")
	m.JobProcessed(ctx, "outbound-email", "completed")
	m.WebhookDelivered(ctx, "success")
	m.SequenceStep(ctx, "email", "ok")
	m.CacheLookup(ctx, "hit")
}

func TestMetrics_RecordsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.EventEmitted(ctx, "DEAL_WON")
	m.EventEmitted(ctx, "DEAL_WON")
	m.JobProcessed(ctx, "audit-log", "failed")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[md.Name] += dp.Value
			}
		}
	}
	if totals["flowcrm.events.emitted"] != 2 {
		t.Errorf("events.emitted = %d, want 2", totals["flowcrm.events.emitted"])
	}
	if totals["flowcrm.jobs.processed"] != 1 {
		t.Errorf("jobs.processed = %d, want 1", totals["flowcrm.jobs.processed"])
	}
}
