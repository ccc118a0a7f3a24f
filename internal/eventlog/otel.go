package eventlog

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// OTelSink exports each record as an OpenTelemetry log record.
type OTelSink struct {
	logger recordEmitter
}

// NewOTelSink returns nil for a nil provider.
func NewOTelSink(provider *sdklog.LoggerProvider) *OTelSink {
	if provider == nil {
		return nil
	}
	return &OTelSink{logger: provider.Logger("flowcrm.eventlog")}
}

func (o *OTelSink) Write(ctx context.Context, rec Record, raw []byte) error {
	if o == nil {
		return nil
	}
	var r otellog.Record
	ts := rec.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	r.SetTimestamp(ts)
	r.SetSeverity(otellog.SeverityInfo)
	r.SetBody(otellog.BytesValue(raw))
	r.AddAttributes(
		otellog.String("event_id", rec.ID),
		otellog.String("kind", rec.Kind),
		otellog.String("org_id", rec.TenantID),
	)
	if rec.ActorUserID != "" {
		r.AddAttributes(otellog.String("user_id", rec.ActorUserID))
	}
	if rec.EntityID != "" {
		r.AddAttributes(otellog.String("entity_id", rec.EntityID))
	}
	o.logger.Emit(ctx, r)
	return nil
}

func (o *OTelSink) Close() error { return nil }
