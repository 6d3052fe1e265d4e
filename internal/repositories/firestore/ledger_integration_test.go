//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	domain "github.com/pharmly/api/internal/domain"
	pconfig "github.com/pharmly/api/internal/platform/config"
	pfirestore "github.com/pharmly/api/internal/platform/firestore"
	"github.com/pharmly/api/internal/repositories"
	firestorerepo "github.com/pharmly/api/internal/repositories/firestore"
	"github.com/pharmly/api/internal/services"
)

type ledgerEnv struct {
	provider   *pfirestore.Provider
	registry   *firestorerepo.Registry
	svc        services.OrderService
	pharmacyID string
}

func newLedgerEnv(t *testing.T) ledgerEnv {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "pharmly-test", EmulatorHost: host},
		pfirestore.WithDefaultTxOptions(pfirestore.WithTxAttempts(10)))
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	registry, err := firestorerepo.NewRegistry(provider)
	require.NoError(t, err)
	svc, err := services.NewOrderService(services.OrderServiceDeps{
		Products:          registry.Products(),
		Carts:             registry.Carts(),
		Orders:            registry.Orders(),
		Ledger:            registry.Ledger(),
		Pharmacies:        registry.Pharmacies(),
		ReservationPolicy: services.ReservationPolicyDeferred,
	})
	require.NoError(t, err)
	return ledgerEnv{
		provider:   provider,
		registry:   registry,
		svc:        svc,
		pharmacyID: "ph-" + ulid.Make().String(),
	}
}

func (e ledgerEnv) seedProduct(t *testing.T, price, stock int64) string {
	t.Helper()
	id := "p-" + ulid.Make().String()
	require.NoError(t, e.registry.Products().Insert(context.Background(), domain.Product{
		ID:         id,
		Name:       "Ibuprofen 400",
		Price:      price,
		Stock:      stock,
		PharmacyID: e.pharmacyID,
		CreatedAt:  time.Now().UTC(),
	}))
	return id
}

func (e ledgerEnv) place(t *testing.T, productID string, qty int64) services.Order {
	t.Helper()
	order, err := e.svc.Checkout(context.Background(), services.CheckoutCommand{
		CustomerID: "cust-" + ulid.Make().String(),
		PharmacyID: e.pharmacyID,
		Items:      []services.CheckoutItem{{ProductID: productID, Quantity: qty}},
		Address:    "Calle 1",
		Phone:      "555-0100",
	})
	require.NoError(t, err)
	return order
}

func TestLedgerReservationIntegration(t *testing.T) {
	env := newLedgerEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	productID := env.seedProduct(t, 1250, 5)
	order := env.place(t, productID, 3)
	assert.Equal(t, int64(3750), order.Total)

	reserved, err := env.svc.ReserveStockAndAdvance(ctx, services.OrderCommand{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, reserved.Status)
	assert.True(t, reserved.StockProcessed)

	replayed, err := env.svc.ReserveStockAndAdvance(ctx, services.OrderCommand{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, replayed.Status)

	product, err := env.registry.Products().FindByID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), product.Stock)
	assert.Equal(t, int64(3), product.Sold)
}

func TestLedgerConcurrentReservationsOfLastUnit(t *testing.T) {
	env := newLedgerEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	productID := env.seedProduct(t, 500, 1)
	first := env.place(t, productID, 1)
	second := env.place(t, productID, 1)

	var succeeded, rejected atomic.Int32
	group, groupCtx := errgroup.WithContext(ctx)
	for _, id := range []string{first.ID, second.ID} {
		group.Go(func() error {
			_, err := env.svc.ReserveStockAndAdvance(groupCtx, services.OrderCommand{OrderID: id})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, services.ErrInsufficientStock), errors.Is(err, services.ErrTransactionConflict):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(1), rejected.Load())

	product, err := env.registry.Products().FindByID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), product.Stock)
	assert.Equal(t, int64(1), product.Sold)
}

func TestLedgerProductStateMapping(t *testing.T) {
	env := newLedgerEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := env.provider.Client(ctx)
	require.NoError(t, err)
	goodID := env.seedProduct(t, 100, 4)
	badID := "p-" + ulid.Make().String()
	_, err = client.Collection("products").Doc(badID).Set(ctx, map[string]any{
		"name":       "Legacy syrup",
		"price":      "12,50",
		"stock":      "many",
		"sold":       int64(0),
		"pharmacyId": env.pharmacyID,
	})
	require.NoError(t, err)

	var states []repositories.ProductState
	err = env.registry.Ledger().RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		var err error
		states, err = tx.GetProducts(ctx, []string{goodID, badID, "p-missing-" + ulid.Make().String()})
		return err
	})
	require.NoError(t, err)
	require.Len(t, states, 3)

	assert.True(t, states[0].Exists)
	assert.True(t, states[0].StockValid)
	assert.True(t, states[0].PriceValid)
	assert.Equal(t, int64(4), states[0].Product.Stock)

	assert.True(t, states[1].Exists)
	assert.False(t, states[1].StockValid)
	assert.Equal(t, "many", states[1].StockRaw)
	assert.False(t, states[1].PriceValid)
	assert.Equal(t, "12,50", states[1].PriceRaw)

	assert.False(t, states[2].Exists)
}

func TestLedgerRejectsReadAfterWrite(t *testing.T) {
	env := newLedgerEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	productID := env.seedProduct(t, 100, 2)
	order := env.place(t, productID, 1)

	err := env.registry.Ledger().RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		if _, err := tx.GetOrder(ctx, order.ID); err != nil {
			return err
		}
		if err := tx.SetProductCounters(productID, 1, 1); err != nil {
			return err
		}
		_, err := tx.GetProducts(ctx, []string{productID})
		return err
	})
	require.ErrorIs(t, err, repositories.ErrReadAfterWrite)

	product, err := env.registry.Products().FindByID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), product.Stock, "aborted transaction must not commit buffered writes")
}

func TestLedgerUnreadableOrderQuantity(t *testing.T) {
	env := newLedgerEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := env.provider.Client(ctx)
	require.NoError(t, err)
	productID := env.seedProduct(t, 100, 5)
	orderID := "ord-" + ulid.Make().String()
	now := time.Now().UTC()
	_, err = client.Collection("orders").Doc(orderID).Set(ctx, map[string]any{
		"customerId":     "cust-legacy",
		"pharmacyId":     env.pharmacyID,
		"items":          []map[string]any{{"productId": productID, "name": "Legacy", "priceAtOrder": int64(100), "quantity": "two"}},
		"total":          int64(200),
		"address":        "Calle 1",
		"phone":          "555-0100",
		"paymentMethod":  "delivery",
		"status":         "placed",
		"stockProcessed": false,
		"createdAt":      now,
		"updatedAt":      now,
	})
	require.NoError(t, err)

	_, err = env.svc.ReserveStockAndAdvance(ctx, services.OrderCommand{OrderID: orderID})
	require.ErrorIs(t, err, services.ErrInvalidQuantity)

	product, err := env.registry.Products().FindByID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), product.Stock)
}

func TestProductInsertManyConflictIntegration(t *testing.T) {
	env := newLedgerEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	existing := env.seedProduct(t, 100, 1)
	fresh := "p-" + ulid.Make().String()
	err := env.registry.Products().InsertMany(ctx, []domain.Product{
		{ID: fresh, Name: "Paracetamol", Price: 300, PharmacyID: env.pharmacyID},
		{ID: existing, Name: "Duplicate", Price: 300, PharmacyID: env.pharmacyID},
	})
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())

	_, err = env.registry.Products().FindByID(ctx, fresh)
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsNotFound(), "batch must not be partially written")
}
