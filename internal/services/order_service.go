package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/pharmly/api/internal/domain"
	"github.com/pharmly/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	// ReservationPolicyDeferred creates orders without touching stock; stock is reserved
	// when the pharmacy moves the order to processing.
	ReservationPolicyDeferred = "deferred"
	// ReservationPolicyEager validates and decrements stock inside the checkout transaction.
	ReservationPolicyEager = "eager"

	defaultCartClearTimeout = 5 * time.Second
	defaultBestSellerLimit  = 5
	maxBestSellerLimit      = 50

	unknownProductName = "(unknown)"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Products          repositories.ProductRepository
	Carts             repositories.CartRepository
	Orders            repositories.OrderRepository
	Ledger            repositories.OrderLedger
	Pharmacies        repositories.PharmacyRepository
	ReservationPolicy string
	CartClearTimeout  time.Duration
	BestSellerLimit   int
	Clock             func() time.Time
	IDGenerator       func() string
	EventIDGenerator  func() string
	Events            OrderEventPublisher
	MeterProvider     metric.MeterProvider
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	products         repositories.ProductRepository
	carts            repositories.CartRepository
	orders           repositories.OrderRepository
	ledger           repositories.OrderLedger
	pharmacies       repositories.PharmacyRepository
	policy           string
	cartClearTimeout time.Duration
	bestSellerLimit  int
	clock            func() time.Time
	newID            func() string
	newEventID       func() string
	events           OrderEventPublisher
	metrics          *orderMetrics
	logger           func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order service: order ledger is required")
	}

	policy := strings.ToLower(strings.TrimSpace(deps.ReservationPolicy))
	switch policy {
	case "":
		policy = ReservationPolicyDeferred
	case ReservationPolicyDeferred, ReservationPolicyEager:
	default:
		return nil, fmt.Errorf("order service: unknown reservation policy %q", deps.ReservationPolicy)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}

	eventIDGen := deps.EventIDGenerator
	if eventIDGen == nil {
		eventIDGen = uuid.NewString
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	clearTimeout := deps.CartClearTimeout
	if clearTimeout <= 0 {
		clearTimeout = defaultCartClearTimeout
	}

	limit := deps.BestSellerLimit
	if limit <= 0 {
		limit = defaultBestSellerLimit
	}

	metrics, err := newOrderMetrics(deps.MeterProvider)
	if err != nil {
		return nil, err
	}

	return &orderService{
		products:         deps.Products,
		carts:            deps.Carts,
		orders:           deps.Orders,
		ledger:           deps.Ledger,
		pharmacies:       deps.Pharmacies,
		policy:           policy,
		cartClearTimeout: clearTimeout,
		bestSellerLimit:  limit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		newEventID: eventIDGen,
		events:     deps.Events,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, query OrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, orderErrors.translate(err)
	}
	if !visibleTo(order, query.CustomerID, query.PharmacyID) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}

	enriched := s.enrich(ctx, []Order{order})
	return enriched[0], nil
}

func (s *orderService) ListCustomerOrders(ctx context.Context, customerID string, pager Pagination) (domain.CursorPage[Order], error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.ListByCustomer(ctx, customerID, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, orderErrors.translate(err)
	}
	page.Items = s.enrich(ctx, page.Items)
	return page, nil
}

func (s *orderService) ListPharmacyOrders(ctx context.Context, filter PharmacyOrderFilter) (domain.CursorPage[Order], error) {
	pharmacyID := strings.TrimSpace(filter.PharmacyID)
	if pharmacyID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: pharmacy id is required", ErrOrderInvalidInput)
	}

	statuses := make([]OrderStatus, 0, len(filter.Statuses))
	for _, raw := range filter.Statuses {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
		}
		statuses = append(statuses, status)
	}

	page, err := s.orders.ListByPharmacy(ctx, repositories.OrderListFilter{
		PharmacyID: pharmacyID,
		Status:     statuses,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, orderErrors.translate(err)
	}
	page.Items = s.enrich(ctx, page.Items)
	return page, nil
}

// enrich fills display names for order lines that predate the item snapshot. The stored
// order is never modified.
func (s *orderService) enrich(ctx context.Context, orders []Order) []Order {
	missing := make(map[string]struct{})
	for _, order := range orders {
		for _, item := range order.Items {
			if strings.TrimSpace(item.Name) == "" {
				missing[item.ProductID] = struct{}{}
			}
		}
	}
	if len(missing) == 0 {
		return orders
	}

	ids := make([]string, 0, len(missing))
	for id := range missing {
		ids = append(ids, id)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		s.logger(ctx, "order.enrich.failed", map[string]any{"error": err.Error()})
		products = nil
	}

	result := make([]Order, len(orders))
	for i, order := range orders {
		items := make([]OrderItem, len(order.Items))
		for j, item := range order.Items {
			if strings.TrimSpace(item.Name) == "" {
				if product, ok := products[item.ProductID]; ok {
					item.Name = product.Name
					if item.PriceAtOrder == 0 {
						item.PriceAtOrder = product.Price
					}
					if item.ImageURL == "" {
						item.ImageURL = product.Image
					}
				} else {
					item.Name = unknownProductName
				}
			}
			items[j] = item
		}
		order.Items = items
		result[i] = order
	}
	return result
}

func visibleTo(order Order, customerID, pharmacyID string) bool {
	if customerID = strings.TrimSpace(customerID); customerID != "" && order.CustomerID != customerID {
		return false
	}
	if pharmacyID = strings.TrimSpace(pharmacyID); pharmacyID != "" && order.PharmacyID != pharmacyID {
		return false
	}
	return true
}

func (s *orderService) publishEvent(ctx context.Context, eventType string, order Order, previous OrderStatus, actorID string, data map[string]any) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		ID:             s.newEventID(),
		Type:           eventType,
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		PharmacyID:     order.PharmacyID,
		Status:         string(order.Status),
		PreviousStatus: string(previous),
		ActorID:        actorID,
		OccurredAt:     s.clock(),
	}
	if eventType == OrderEventPlaced {
		event.Total = order.Total
	}
	if data != nil {
		event.Data = maps.Clone(data)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status,
		})
	}
}
