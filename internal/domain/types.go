package domain

import (
	"math"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps paginated results with an optional next page token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is a catalog entry owned by a pharmacy. Stock and Sold are only changed by the
// order lifecycle once the product exists.
type Product struct {
	ID         string
	Name       string
	Price      int64
	Stock      int64
	Sold       int64
	SKU        string
	Category   string
	PharmacyID string
	Image      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Cart is the per-customer collection of pending line items.
type Cart struct {
	CustomerID string
	Items      []CartItem
}

// CartItem is keyed by product id inside a customer's cart.
type CartItem struct {
	ProductID string
	Qty       int64
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPlaced is the initial status assigned at checkout.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusProcessing means stock has been reserved and the pharmacy is preparing the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped means the order left the pharmacy.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCompleted means the order reached the customer.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled means the order will not be fulfilled.
	OrderStatusCancelled OrderStatus = "cancelled"

	// legacyStatusFulfilled appears in older records and reads as completed.
	legacyStatusFulfilled = "fulfilled"
)

// OrderStatuses lists the statuses accepted as transition targets.
var OrderStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// ParseOrderStatus validates a requested target status. Matching is case-sensitive and the
// legacy fulfilled value is rejected.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	candidate := OrderStatus(strings.TrimSpace(raw))
	for _, status := range OrderStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// StoredOrderStatus maps a persisted status value to its canonical form.
func StoredOrderStatus(raw string) OrderStatus {
	raw = strings.TrimSpace(raw)
	if raw == legacyStatusFulfilled {
		return OrderStatusCompleted
	}
	return OrderStatus(raw)
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// PaymentMethod describes how the customer settles the order.
type PaymentMethod string

const (
	// PaymentMethodDelivery is cash or card on delivery.
	PaymentMethodDelivery PaymentMethod = "delivery"
	// PaymentMethodTransfer is a bank transfer confirmed manually by the pharmacy.
	PaymentMethodTransfer PaymentMethod = "transfer"
)

// Order is the durable record created by checkout. Items is a snapshot and never changes.
type Order struct {
	ID             string
	CustomerID     string
	PharmacyID     string
	Items          []OrderItem
	Total          int64
	Address        string
	Phone          string
	PaymentMethod  PaymentMethod
	PaymentRef     string
	Paid           bool
	Status         OrderStatus
	StockProcessed bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderItem captures the product display fields at order time.
type OrderItem struct {
	ProductID    string
	Name         string
	PriceAtOrder int64
	Quantity     int64
	ImageURL     string
}

// Subtotal returns the line amount. ok is false when the amount does not fit in an int64.
func (i OrderItem) Subtotal() (int64, bool) {
	return MulAmount(i.PriceAtOrder, i.Quantity)
}

// AddAmount returns a+b, or false when the sum overflows.
func AddAmount(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// MulAmount returns a*b, or false when the product overflows.
func MulAmount(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	product := a * b
	if product/b != a {
		return 0, false
	}
	return product, true
}

// BestSeller ranks a product by quantity ordered.
type BestSeller struct {
	ProductID    string
	Name         string
	QuantitySold int64
	CreatedAt    time.Time
}
