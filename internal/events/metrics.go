package events

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

var _ checkout.Observer = (*Metrics)(nil)

// Metrics records checkout events as OpenTelemetry instruments.
type Metrics struct {
	events      metric.Int64Counter
	orderTotals metric.Float64Histogram
}

// NewMetrics creates the checkout instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("github.com/xenking/kart-checkout/checkout")

	events, err := meter.Int64Counter("kart.checkout.events",
		metric.WithDescription("Checkout lifecycle events by type"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "events counter")
	}
	totals, err := meter.Float64Histogram("kart.checkout.order_total",
		metric.WithDescription("Total of confirmed orders"),
		metric.WithUnit("{USD}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "order total histogram")
	}
	return &Metrics{events: events, orderTotals: totals}, nil
}

// Observe implements checkout.Observer.
func (m *Metrics) Observe(ctx context.Context, e checkout.Event) {
	attrs := []attribute.KeyValue{attribute.String("type", string(e.Type))}
	if e.PaymentMethod != "" {
		attrs = append(attrs, attribute.String("payment_method", string(e.PaymentMethod)))
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attrs...))

	if e.Type == checkout.EventOrderConfirmed {
		total, _ := e.Total.Float64()
		m.orderTotals.Record(ctx, total, metric.WithAttributes(attrs...))
	}
}
