package services

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/pharmly/api/internal/repositories/memory"
)

func newCartFixture(t *testing.T) (*memory.Store, CartService) {
	t.Helper()
	store := memory.NewStore()
	for _, product := range []Product{
		{ID: "p1", Name: "Vitamin C", Price: 500, Stock: 10, PharmacyID: testPharmacy},
		{ID: "p2", Name: "Bandage", Price: 120, Stock: 3, PharmacyID: testPharmacy},
	} {
		if err := store.Products().Insert(context.Background(), product); err != nil {
			t.Fatalf("insert %s: %v", product.ID, err)
		}
	}
	svc, err := NewCartService(CartServiceDeps{Carts: store.Carts(), Products: store.Products()})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return store, svc
}

func TestCartAddMergesByIncrement(t *testing.T) {
	_, svc := newCartFixture(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "p1", Qty: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	view, err := svc.AddItem(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "p1", Qty: 2})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	if len(view.Lines) != 1 || view.Lines[0].Qty != 3 {
		t.Fatalf("expected merged line with qty 3, got %+v", view.Lines)
	}
	if view.Total != 1500 || view.Lines[0].Name != "Vitamin C" || !view.Lines[0].Available {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestCartSetQuantityAndRemove(t *testing.T) {
	_, svc := newCartFixture(t)
	ctx := context.Background()
	if _, err := svc.AddItem(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "p1", Qty: 4}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := svc.AddItem(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "p2", Qty: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	view, err := svc.SetItemQuantity(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "p1", Qty: 2})
	if err != nil {
		t.Fatalf("SetItemQuantity: %v", err)
	}
	if view.Total != 2*500+120 {
		t.Fatalf("expected total 1120, got %d", view.Total)
	}

	view, err = svc.SetItemQuantity(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "p1", Qty: 0})
	if err != nil {
		t.Fatalf("SetItemQuantity zero: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].ProductID != "p2" {
		t.Fatalf("expected zero quantity to remove the line, got %+v", view.Lines)
	}

	view, err = svc.RemoveItem(ctx, "cust-1", "p2")
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(view.Lines) != 0 || view.Total != 0 {
		t.Fatalf("expected empty cart, got %+v", view)
	}
}

func TestCartValidation(t *testing.T) {
	_, svc := newCartFixture(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "p1", Qty: 0}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for zero qty, got %v", err)
	}
	if _, err := svc.AddItem(ctx, CartItemCommand{ProductID: "p1", Qty: 1}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input without customer, got %v", err)
	}
	if _, err := svc.SetItemQuantity(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "p1", Qty: -1}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for negative qty, got %v", err)
	}
	if _, err := svc.AddItem(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "ghost", Qty: 1}); !errors.Is(err, ErrCartProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestCartAddClampsStoredQuantities(t *testing.T) {
	store, svc := newCartFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		stored int64
		add    int64
		want   int64
	}{
		{"near int64 max", math.MaxInt64 - 1, 5, maxCartLineQty},
		{"above cap", 5000, 1, maxCartLineQty},
		{"negative", -40, 2, 2},
		{"in range", 10, 3, 13},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.Carts().SetItem(ctx, "cust-1", CartItem{ProductID: "p1", Qty: tc.stored}); err != nil {
				t.Fatalf("SetItem: %v", err)
			}
			view, err := svc.AddItem(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "p1", Qty: tc.add})
			if err != nil {
				t.Fatalf("AddItem: %v", err)
			}
			if len(view.Lines) != 1 || view.Lines[0].Qty != tc.want {
				t.Fatalf("expected qty %d, got %+v", tc.want, view.Lines)
			}
			if view.Total != 500*tc.want {
				t.Fatalf("expected total %d, got %d", 500*tc.want, view.Total)
			}
		})
	}
}

func TestCartTotalOverflowIsRejected(t *testing.T) {
	store, svc := newCartFixture(t)
	ctx := context.Background()
	if err := store.Carts().SetItem(ctx, "cust-1", CartItem{ProductID: "p1", Qty: math.MaxInt64 / 100}); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if _, err := svc.GetCart(ctx, "cust-1"); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for an overflowing total, got %v", err)
	}
}

func TestCartMarksDeletedProductsUnavailable(t *testing.T) {
	store, svc := newCartFixture(t)
	ctx := context.Background()
	if _, err := svc.AddItem(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "p2", Qty: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := store.Products().Delete(ctx, "p2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	view, err := svc.GetCart(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].Available || view.Total != 0 {
		t.Fatalf("expected unavailable line excluded from total, got %+v", view)
	}
}

func TestCartClear(t *testing.T) {
	_, svc := newCartFixture(t)
	ctx := context.Background()
	if _, err := svc.AddItem(ctx, CartItemCommand{CustomerID: "cust-1", ProductID: "p1", Qty: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := svc.Clear(ctx, "cust-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	view, err := svc.GetCart(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("expected empty cart, got %+v", view.Lines)
	}
}

func TestNewCartServiceRequiresRepositories(t *testing.T) {
	if _, err := NewCartService(CartServiceDeps{}); err == nil {
		t.Fatalf("expected error without repositories")
	}
}
