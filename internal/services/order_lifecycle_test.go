package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	domain "github.com/pharmly/api/internal/domain"
)

func TestReservationScenarioSecondOrderFails(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	f.seedProduct(t, "p1", 100, 5)
	big := f.place(t, CheckoutItem{ProductID: "p1", Quantity: 5})
	small := f.place(t, CheckoutItem{ProductID: "p1", Quantity: 1})

	if _, err := f.svc.ReserveStockAndAdvance(context.Background(), OrderCommand{OrderID: big.ID}); err != nil {
		t.Fatalf("reserve first order: %v", err)
	}
	_, err := f.svc.ReserveStockAndAdvance(context.Background(), OrderCommand{OrderID: small.ID})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !strings.Contains(err.Error(), "p1") || !strings.Contains(err.Error(), "requested 1, available 0") {
		t.Fatalf("expected message naming product and quantities, got %q", err.Error())
	}

	if got := f.product(t, "p1"); got.Stock != 0 || got.Sold != 5 {
		t.Fatalf("expected stock 0 sold 5, got %d/%d", got.Stock, got.Sold)
	}
	stored, err := f.store.Orders().FindByID(context.Background(), small.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusPlaced || stored.StockProcessed {
		t.Fatalf("expected rejected order to stay placed, got %+v", stored)
	}
}

func TestReservationIsIdempotent(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	f.seedProduct(t, "p1", 100, 5)
	order := f.place(t, CheckoutItem{ProductID: "p1", Quantity: 3})

	for i := 0; i < 2; i++ {
		got, err := f.svc.SetStatus(context.Background(), SetStatusCommand{OrderID: order.ID, Status: "processing"})
		if err != nil {
			t.Fatalf("SetStatus #%d: %v", i+1, err)
		}
		if got.Status != domain.OrderStatusProcessing || !got.StockProcessed {
			t.Fatalf("expected processing with stock processed, got %+v", got)
		}
	}

	if got := f.product(t, "p1"); got.Stock != 2 || got.Sold != 3 {
		t.Fatalf("expected a single decrement, got stock=%d sold=%d", got.Stock, got.Sold)
	}
	types := f.events.types()
	want := []string{OrderEventPlaced, OrderEventStockReserved, OrderEventStatusChanged}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, types)
	}
}

func TestPlacedToShippedHasNoStockEffect(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	f.seedProduct(t, "p1", 100, 5)
	order := f.place(t, CheckoutItem{ProductID: "p1", Quantity: 2})

	got, err := f.svc.SetStatus(context.Background(), SetStatusCommand{OrderID: order.ID, Status: "shipped", ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if got.Status != domain.OrderStatusShipped || got.StockProcessed {
		t.Fatalf("expected shipped without stock processing, got %+v", got)
	}
	if p := f.product(t, "p1"); p.Stock != 5 || p.Sold != 0 {
		t.Fatalf("expected untouched stock, got %d/%d", p.Stock, p.Sold)
	}

	last := f.events.events[len(f.events.events)-1]
	if last.Type != OrderEventStatusChanged || last.PreviousStatus != "placed" || last.Status != "shipped" || last.ActorID != "staff-1" {
		t.Fatalf("unexpected status event %+v", last)
	}
}

func TestCancelDoesNotRestock(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	f.seedProduct(t, "p1", 100, 5)
	order := f.place(t, CheckoutItem{ProductID: "p1", Quantity: 2})
	if _, err := f.svc.ReserveStockAndAdvance(context.Background(), OrderCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := f.svc.SetStatus(context.Background(), SetStatusCommand{OrderID: order.ID, Status: "cancelled"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if p := f.product(t, "p1"); p.Stock != 3 || p.Sold != 2 {
		t.Fatalf("expected counters unchanged by cancel, got %d/%d", p.Stock, p.Sold)
	}
}

func TestSetStatusWritesAnyTarget(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
	}{
		{domain.OrderStatusPlaced, domain.OrderStatusShipped},
		{domain.OrderStatusPlaced, domain.OrderStatusCompleted},
		{domain.OrderStatusPlaced, domain.OrderStatusPlaced},
		{domain.OrderStatusProcessing, domain.OrderStatusPlaced},
		{domain.OrderStatusShipped, domain.OrderStatusPlaced},
		{domain.OrderStatusCompleted, domain.OrderStatusCancelled},
		{domain.OrderStatusCompleted, domain.OrderStatusPlaced},
		{domain.OrderStatusCancelled, domain.OrderStatusPlaced},
		{domain.OrderStatusCancelled, domain.OrderStatusShipped},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			f := newOrderFixture(t, ReservationPolicyDeferred)
			f.seedProduct(t, "p1", 100, 5)
			f.seedOrder(t, Order{
				ID:         "o-1",
				PharmacyID: testPharmacy,
				Items:      []OrderItem{{ProductID: "p1", Name: "x", PriceAtOrder: 100, Quantity: 2}},
				Status:     tc.from,
				CreatedAt:  testNow,
			})

			got, err := f.svc.SetStatus(context.Background(), SetStatusCommand{OrderID: "o-1", Status: string(tc.to)})
			if err != nil {
				t.Fatalf("SetStatus: %v", err)
			}
			if got.Status != tc.to || !got.UpdatedAt.Equal(testNow) {
				t.Fatalf("expected %s at %s, got %s at %s", tc.to, testNow, got.Status, got.UpdatedAt)
			}
			if got.StockProcessed {
				t.Fatalf("plain status write must not mark stock processed")
			}
			if p := f.product(t, "p1"); p.Stock != 5 || p.Sold != 0 {
				t.Fatalf("expected no stock side effects, got %d/%d", p.Stock, p.Sold)
			}
		})
	}
}

func TestProcessingRequiresPlacedOrder(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	f.seedProduct(t, "p1", 100, 5)
	order := f.place(t, CheckoutItem{ProductID: "p1", Quantity: 1})
	ctx := context.Background()

	if _, err := f.svc.SetStatus(ctx, SetStatusCommand{OrderID: order.ID, Status: "completed"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, SetStatusCommand{OrderID: order.ID, Status: "processing"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected processing on an unreserved completed order to fail, got %v", err)
	}
	if p := f.product(t, "p1"); p.Stock != 5 {
		t.Fatalf("expected stock untouched, got %d", p.Stock)
	}

	// Moving it back to placed makes it reservable again.
	if _, err := f.svc.SetStatus(ctx, SetStatusCommand{OrderID: order.ID, Status: "placed"}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := f.svc.SetStatus(ctx, SetStatusCommand{OrderID: order.ID, Status: "processing"})
	if err != nil {
		t.Fatalf("processing: %v", err)
	}
	if !got.StockProcessed || got.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected reserved processing order, got %+v", got)
	}
	if p := f.product(t, "p1"); p.Stock != 4 || p.Sold != 1 {
		t.Fatalf("expected one unit reserved, got %d/%d", p.Stock, p.Sold)
	}
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	for _, status := range []string{"fulfilled", "Shipped", "", "lost"} {
		if _, err := f.svc.SetStatus(context.Background(), SetStatusCommand{OrderID: "o", Status: status}); !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("expected invalid status for %q, got %v", status, err)
		}
	}
}

func TestSetStatusOrderNotFound(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	if _, err := f.svc.SetStatus(context.Background(), SetStatusCommand{OrderID: "missing", Status: "shipped"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
	if _, err := f.svc.ReserveStockAndAdvance(context.Background(), OrderCommand{OrderID: "missing"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
}

func TestReservationScopedToPharmacy(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	f.seedProduct(t, "p1", 100, 5)
	order := f.place(t, CheckoutItem{ProductID: "p1", Quantity: 1})

	_, err := f.svc.ReserveStockAndAdvance(context.Background(), OrderCommand{OrderID: order.ID, PharmacyID: "ph-other"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected other pharmacy to be refused, got %v", err)
	}
	if p := f.product(t, "p1"); p.Stock != 5 {
		t.Fatalf("expected stock untouched, got %d", p.Stock)
	}
}

func TestReservationGuardOnAdvancedOrders(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	f.seedProduct(t, "p1", 100, 5)
	f.seedOrder(t, Order{
		ID:             "shipped-1",
		PharmacyID:     testPharmacy,
		Items:          []OrderItem{{ProductID: "p1", Name: "x", Quantity: 1}},
		Status:         domain.OrderStatusShipped,
		StockProcessed: true,
		CreatedAt:      testNow,
	})
	f.seedOrder(t, Order{
		ID:             "placed-processed",
		PharmacyID:     testPharmacy,
		Items:          []OrderItem{{ProductID: "p1", Name: "x", Quantity: 1}},
		Status:         domain.OrderStatusPlaced,
		StockProcessed: true,
		CreatedAt:      testNow,
	})

	shipped, err := f.svc.ReserveStockAndAdvance(context.Background(), OrderCommand{OrderID: "shipped-1"})
	if err != nil {
		t.Fatalf("reserve shipped: %v", err)
	}
	if shipped.Status != domain.OrderStatusProcessing || !shipped.StockProcessed {
		t.Fatalf("expected shipped order forced to processing, got %+v", shipped)
	}
	got, err := f.svc.ReserveStockAndAdvance(context.Background(), OrderCommand{OrderID: "placed-processed"})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected forced processing, got %s", got.Status)
	}
	if p := f.product(t, "p1"); p.Stock != 5 || p.Sold != 0 {
		t.Fatalf("expected no stock writes, got %d/%d", p.Stock, p.Sold)
	}
}

func TestReservationValidatesStoredOrder(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	f.seedProduct(t, "p1", 100, 5)
	f.seedProduct(t, "p2", 100, 5)
	if err := f.store.SetRawStock("p2", 2.5); err != nil {
		t.Fatalf("SetRawStock: %v", err)
	}

	seed := func(id string, items ...OrderItem) {
		f.seedOrder(t, Order{ID: id, PharmacyID: testPharmacy, Items: items, Status: domain.OrderStatusPlaced, CreatedAt: testNow})
	}
	seed("empty")
	seed("zero-qty", OrderItem{ProductID: "p1", Quantity: 0})
	seed("deleted", OrderItem{ProductID: "p1", Quantity: 1}, OrderItem{ProductID: "ghost", Quantity: 1})
	seed("bad-stock", OrderItem{ProductID: "p1", Quantity: 1}, OrderItem{ProductID: "p2", Quantity: 1})
	seed("wrapping", OrderItem{ProductID: "p1", Quantity: 1 << 62}, OrderItem{ProductID: "p1", Quantity: 1 << 62})

	cases := map[string]error{
		"empty":     ErrOrderInvalidInput,
		"zero-qty":  ErrInvalidQuantity,
		"deleted":   ErrProductNotFound,
		"bad-stock": ErrInvalidStockValue,
		"wrapping":  ErrInvalidQuantity,
	}
	for id, want := range cases {
		if _, err := f.svc.ReserveStockAndAdvance(context.Background(), OrderCommand{OrderID: id}); !errors.Is(err, want) {
			t.Fatalf("order %s: expected %v, got %v", id, want, err)
		}
	}
	if p := f.product(t, "p1"); p.Stock != 5 || p.Sold != 0 {
		t.Fatalf("expected failed reservations to write nothing, got %d/%d", p.Stock, p.Sold)
	}
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	f.seedProduct(t, "p1", 100, 5)

	orders := make([]Order, 8)
	for i := range orders {
		orders[i] = f.place(t, CheckoutItem{ProductID: "p1", Quantity: 1})
	}

	var (
		group     errgroup.Group
		succeeded = make([]bool, len(orders))
	)
	for i, order := range orders {
		group.Go(func() error {
			_, err := f.svc.ReserveStockAndAdvance(context.Background(), OrderCommand{OrderID: order.ID})
			switch {
			case err == nil:
				succeeded[i] = true
				return nil
			case errors.Is(err, ErrInsufficientStock):
				return nil
			default:
				return err
			}
		})
	}
	require.NoError(t, group.Wait())

	count := 0
	for _, ok := range succeeded {
		if ok {
			count++
		}
	}
	product := f.product(t, "p1")
	assert.Equal(t, 5, count)
	assert.Equal(t, int64(0), product.Stock)
	assert.Equal(t, int64(5), product.Sold)
}

func TestConcurrentEagerCheckoutsNeverOversell(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyEager)
	f.seedProduct(t, "p1", 100, 3)

	var group errgroup.Group
	results := make([]error, 6)
	for i := range results {
		group.Go(func() error {
			_, results[i] = f.svc.Checkout(context.Background(), CheckoutCommand{
				CustomerID: "cust-1",
				Items:      []CheckoutItem{{ProductID: "p1", Quantity: 1}},
				Address:    "addr",
				Phone:      "0312345678",
			})
			return nil
		})
	}
	require.NoError(t, group.Wait())

	placed := 0
	for _, err := range results {
		if err == nil {
			placed++
			continue
		}
		require.ErrorIs(t, err, ErrInsufficientStock)
	}
	product := f.product(t, "p1")
	assert.Equal(t, 3, placed)
	assert.Equal(t, int64(0), product.Stock)
	assert.Equal(t, int64(3), product.Sold)
}

func TestMarkPaid(t *testing.T) {
	f := newOrderFixture(t, ReservationPolicyDeferred)
	f.seedProduct(t, "p1", 100, 5)
	order := f.place(t, CheckoutItem{ProductID: "p1", Quantity: 1})

	for i := 0; i < 2; i++ {
		got, err := f.svc.MarkPaid(context.Background(), OrderCommand{OrderID: order.ID})
		if err != nil {
			t.Fatalf("MarkPaid: %v", err)
		}
		if !got.Paid || got.Status != domain.OrderStatusPlaced {
			t.Fatalf("expected paid placed order, got %+v", got)
		}
	}

	paidEvents := 0
	for _, typ := range f.events.types() {
		if typ == OrderEventPaid {
			paidEvents++
		}
	}
	if paidEvents != 1 {
		t.Fatalf("expected one paid event, got %d", paidEvents)
	}
	if p := f.product(t, "p1"); p.Stock != 5 {
		t.Fatalf("expected stock untouched by payment, got %d", p.Stock)
	}
}
