package services

import (
	"context"
	"time"
)

// Order lifecycle event types.
const (
	OrderEventPlaced        = "order.placed"
	OrderEventStockReserved = "order.stock_reserved"
	OrderEventStatusChanged = "order.status_changed"
	OrderEventPaid          = "order.paid"
)

// OrderEvent is published after an order mutation commits.
type OrderEvent struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	CustomerID     string         `json:"customerId"`
	PharmacyID     string         `json:"pharmacyId"`
	Status         string         `json:"status"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	Total          int64          `json:"total,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Data           map[string]any `json:"data,omitempty"`
}

// OrderEventPublisher delivers order events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}
