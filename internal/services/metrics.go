package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/pharmly/api/internal/services"

// Reservation outcomes recorded on orders.reservation.
const (
	reservationReserved = "reserved"
	reservationReplayed = "replayed"
	reservationRejected = "rejected"
)

type orderMetrics struct {
	checkout     metric.Int64Counter
	reservation  metric.Int64Counter
	statusChange metric.Int64Counter
}

func newOrderMetrics(provider metric.MeterProvider) (*orderMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	checkout, err := meter.Int64Counter("orders.checkout", metric.WithDescription("Checkout attempts by result"))
	if err != nil {
		return nil, fmt.Errorf("order metrics: checkout counter: %w", err)
	}
	reservation, err := meter.Int64Counter("orders.reservation", metric.WithDescription("Stock reservations by result"))
	if err != nil {
		return nil, fmt.Errorf("order metrics: reservation counter: %w", err)
	}
	statusChange, err := meter.Int64Counter("orders.status_change", metric.WithDescription("Committed status changes by target status"))
	if err != nil {
		return nil, fmt.Errorf("order metrics: status counter: %w", err)
	}
	return &orderMetrics{checkout: checkout, reservation: reservation, statusChange: statusChange}, nil
}

func (m *orderMetrics) recordCheckout(ctx context.Context, policy string, err error) {
	m.checkout.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", resultLabel(err)),
		attribute.String("policy", policy),
	))
}

func (m *orderMetrics) recordReservation(ctx context.Context, result string) {
	m.reservation.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *orderMetrics) recordStatusChange(ctx context.Context, status OrderStatus) {
	m.statusChange.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorCode(err)
}
