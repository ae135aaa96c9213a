// Package telemetry provides OpenTelemetry metrics for the follow-up passes.
// When disabled, every instrument is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/zulandar/caboose/internal/config"
)

// MeterName is the instrumentation scope name for Caboose metrics.
const MeterName = "caboose"

// Provider wraps the meter provider with cleanup.
type Provider struct {
	MeterProvider metric.MeterProvider
	Meter         metric.Meter
	shutdown      func(context.Context) error
}

// Init sets up metrics. Extra options (a reader, typically) are passed to
// the SDK meter provider. A disabled config returns a no-op provider.
func Init(ctx context.Context, cfg config.TelemetryConfig, opts ...sdkmetric.Option) (*Provider, error) {
	if !cfg.Enabled {
		mp := noop.NewMeterProvider()
		return &Provider{
			MeterProvider: mp,
			Meter:         mp.Meter(MeterName),
			shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "caboose"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(append([]sdkmetric.Option{sdkmetric.WithResource(res)}, opts...)...)
	return &Provider{
		MeterProvider: mp,
		Meter:         mp.Meter(MeterName),
		shutdown:      mp.Shutdown,
	}, nil
}

// StdoutReader exports metrics as JSON lines to w every interval.
func StdoutReader(w io.Writer, interval time.Duration) (sdkmetric.Reader, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create stdout exporter: %w", err)
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval)), nil
}

// Shutdown flushes and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Metrics holds the scheduler's instruments.
type Metrics struct {
	Sent         metric.Int64Counter
	SendFailures metric.Int64Counter
	Cancelled    metric.Int64Counter
	Scheduled    metric.Int64Counter
	Degraded     metric.Int64Counter
	PassDuration metric.Float64Histogram
}

// NewMetrics creates all instruments from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Sent, err = meter.Int64Counter("caboose.followup.sent",
		metric.WithDescription("Follow-up messages accepted by the gateway"),
	)
	if err != nil {
		return nil, err
	}

	m.SendFailures, err = meter.Int64Counter("caboose.followup.send_failures",
		metric.WithDescription("Follow-up sends rejected or timed out"),
	)
	if err != nil {
		return nil, err
	}

	m.Cancelled, err = meter.Int64Counter("caboose.schedule.cancelled",
		metric.WithDescription("Schedules deactivated, by reason"),
	)
	if err != nil {
		return nil, err
	}

	m.Scheduled, err = meter.Int64Counter("caboose.schedule.scheduled",
		metric.WithDescription("Schedules created or restarted by the intake scanner"),
	)
	if err != nil {
		return nil, err
	}

	m.Degraded, err = meter.Int64Counter("caboose.analyzer.degraded",
		metric.WithDescription("Analyzer decisions that fell back to templates"),
	)
	if err != nil {
		return nil, err
	}

	m.PassDuration, err = meter.Float64Histogram("caboose.pass.duration",
		metric.WithDescription("Duration of one dispatch or intake pass in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Noop returns instruments that record nothing.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

func tenantAttr(tenantID string) attribute.KeyValue {
	return attribute.String("tenant", tenantID)
}

// RecordSend counts one gateway outcome.
func (m *Metrics) RecordSend(ctx context.Context, tenantID string, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Sent.Add(ctx, 1, metric.WithAttributes(tenantAttr(tenantID)))
		return
	}
	m.SendFailures.Add(ctx, 1, metric.WithAttributes(tenantAttr(tenantID)))
}

// RecordCancel counts one deactivation.
func (m *Metrics) RecordCancel(ctx context.Context, tenantID, reason string) {
	if m == nil {
		return
	}
	m.Cancelled.Add(ctx, 1, metric.WithAttributes(tenantAttr(tenantID), attribute.String("reason", reason)))
}

// RecordScheduled counts one created or restarted schedule.
func (m *Metrics) RecordScheduled(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.Scheduled.Add(ctx, 1, metric.WithAttributes(tenantAttr(tenantID)))
}

// RecordDegraded counts one degraded analyzer decision.
func (m *Metrics) RecordDegraded(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.Degraded.Add(ctx, 1, metric.WithAttributes(tenantAttr(tenantID)))
}

// RecordPass records the duration of a pass.
func (m *Metrics) RecordPass(ctx context.Context, tenantID, pass string, seconds float64) {
	if m == nil {
		return
	}
	m.PassDuration.Record(ctx, seconds, metric.WithAttributes(tenantAttr(tenantID), attribute.String("pass", pass)))
}
