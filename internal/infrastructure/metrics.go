package infrastructure

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// BusinessMetrics holds all application-specific instruments
type BusinessMetrics struct {
	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	// Key lifecycle
	KeysGenerated      metric.Int64Counter
	Redemptions        metric.Int64Counter
	RedemptionDuration metric.Float64Histogram

	// Sync job
	SyncBatches     metric.Int64Counter
	SyncRowsWritten metric.Int64Counter

	TelemetryEvents   metric.Int64Counter
	RateLimitDenials  metric.Int64Counter
	WebhookDeliveries metric.Int64Counter

	UpstreamDuration metric.Float64Histogram
}

// CreateBusinessMetrics registers the application instruments on meter
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	m := &BusinessMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.HTTPRequestsTotal, "http_requests_total", "Total number of HTTP requests"},
		{&m.KeysGenerated, "keys_generated_total", "Serial keys generated, by source"},
		{&m.Redemptions, "redemptions_total", "Serial redemptions, by outcome"},
		{&m.SyncBatches, "sync_batches_total", "Sync batches processed, by status"},
		{&m.SyncRowsWritten, "sync_rows_written_total", "Subscription rows written by sync"},
		{&m.TelemetryEvents, "telemetry_events_total", "Telemetry events accepted"},
		{&m.RateLimitDenials, "rate_limit_denials_total", "Requests denied by a named limiter"},
		{&m.WebhookDeliveries, "webhook_deliveries_total", "Discord webhook deliveries, by kind and status"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.HTTPRequestDuration, "http_request_duration_seconds", "HTTP request duration in seconds"},
		{&m.RedemptionDuration, "redemption_duration_seconds", "End-to-end redemption duration in seconds"},
		{&m.UpstreamDuration, "licensing_api_duration_seconds", "Licensing API call duration in seconds"},
	}
	for _, h := range histograms {
		if *h.dst, err = meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s")); err != nil {
			return nil, err
		}
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopBusinessMetrics returns instruments that record nothing, for tools and tests
func NoopBusinessMetrics() *BusinessMetrics {
	m, _ := CreateBusinessMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

// RecordKeysGenerated counts serials issued from source (admin, payment, cli)
func RecordKeysGenerated(ctx context.Context, m *BusinessMetrics, source string, n int) {
	if m == nil {
		return
	}
	m.KeysGenerated.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}

// RecordRedemption records one redemption attempt and its latency
func RecordRedemption(ctx context.Context, m *BusinessMetrics, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Redemptions.Add(ctx, 1, attrs)
	m.RedemptionDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSyncBatch records one sync window and the rows it wrote
func RecordSyncBatch(ctx context.Context, m *BusinessMetrics, status string, rows int64) {
	if m == nil {
		return
	}
	m.SyncBatches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if rows > 0 {
		m.SyncRowsWritten.Add(ctx, rows)
	}
}

// RecordTelemetryEvent counts an accepted telemetry event
func RecordTelemetryEvent(ctx context.Context, m *BusinessMetrics, executor string) {
	if m == nil {
		return
	}
	m.TelemetryEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("executor", executor)))
}

// RecordRateLimitDenial counts a denial by the named limiter
func RecordRateLimitDenial(ctx context.Context, m *BusinessMetrics, limiter string) {
	if m == nil {
		return
	}
	m.RateLimitDenials.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter", limiter)))
}

// RecordWebhookDelivery counts a webhook delivery attempt
func RecordWebhookDelivery(ctx context.Context, m *BusinessMetrics, kind string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.WebhookDeliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordUpstreamCall records the latency of one licensing API call
func RecordUpstreamCall(ctx context.Context, m *BusinessMetrics, operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("status", status),
	))
}
