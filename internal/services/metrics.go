package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/batimat/api/internal/services"

type orderMetrics struct {
	checkouts     metric.Int64Counter
	checkoutTime  metric.Float64Histogram
	cancellations metric.Int64Counter
}

func newOrderMetrics(meter metric.Meter) *orderMetrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &orderMetrics{}
	m.checkouts, _ = meter.Int64Counter("checkout.orders",
		metric.WithDescription("Checkout attempts by outcome"),
	)
	m.checkoutTime, _ = meter.Float64Histogram("checkout.duration",
		metric.WithDescription("Checkout latency"),
		metric.WithUnit("ms"),
	)
	m.cancellations, _ = meter.Int64Counter("orders.cancellations",
		metric.WithDescription("Order cancellations by outcome"),
	)
	return m
}

func (m *orderMetrics) recordCheckout(ctx context.Context, stage CheckoutStage, kind string, elapsed time.Duration) {
	if m == nil || m.checkouts == nil {
		return
	}
	outcome := "committed"
	if kind != "" {
		outcome = "aborted"
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("stage", string(stage)),
		attribute.String("kind", kind),
	)
	m.checkouts.Add(ctx, 1, attrs)
	if m.checkoutTime != nil {
		m.checkoutTime.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}

func (m *orderMetrics) recordCancellation(ctx context.Context, kind string) {
	if m == nil || m.cancellations == nil {
		return
	}
	outcome := "cancelled"
	if kind != "" {
		outcome = "rejected"
	}
	m.cancellations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("kind", kind),
	))
}
