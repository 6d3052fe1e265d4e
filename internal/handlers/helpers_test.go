package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/pharmly/api/internal/domain"
	"github.com/pharmly/api/internal/platform/auth"
	"github.com/pharmly/api/internal/platform/idempotency"
	"github.com/pharmly/api/internal/repositories/memory"
	"github.com/pharmly/api/internal/services"
)

var fixtureNow = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

const fixturePharmacy = "ph-1"

// testIdentity stands in for Firebase authentication. Requests carry the caller in
// X-Test-UID, X-Test-Roles and X-Test-Pharmacy headers.
func testIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get("X-Test-UID")
		if uid == "" {
			next.ServeHTTP(w, r)
			return
		}
		identity := &auth.Identity{UID: uid, PharmacyID: r.Header.Get("X-Test-Pharmacy")}
		for _, role := range strings.Split(r.Header.Get("X-Test-Roles"), ",") {
			if role = strings.TrimSpace(role); role != "" {
				identity.Roles = append(identity.Roles, role)
			}
		}
		if len(identity.Roles) == 0 {
			identity.Roles = []string{auth.RoleCustomer}
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

type apiFixture struct {
	t      *testing.T
	store  *memory.Store
	orders services.OrderService
	router chi.Router
}

type apiOption func(*services.OrderServiceDeps)

func withPolicy(policy string) apiOption {
	return func(deps *services.OrderServiceDeps) {
		deps.ReservationPolicy = policy
	}
}

func newAPIFixture(t *testing.T, opts ...apiOption) *apiFixture {
	t.Helper()
	store := memory.NewStore(memory.WithDefaultPharmacy(fixturePharmacy))
	var seq atomic.Int64
	clock := func() time.Time { return fixtureNow }

	deps := services.OrderServiceDeps{
		Products:    store.Products(),
		Carts:       store.Carts(),
		Orders:      store.Orders(),
		Ledger:      store.Ledger(),
		Pharmacies:  store.Pharmacies(),
		Clock:       clock,
		IDGenerator: func() string { return fmt.Sprintf("ord-%d", seq.Add(1)) },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	orders, err := services.NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	carts, err := services.NewCartService(services.CartServiceDeps{Carts: store.Carts(), Products: store.Products()})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{Products: store.Products(), Clock: clock})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}

	checkout := NewCheckoutHandlers(nil, orders,
		WithCheckoutIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())),
	)
	router := NewRouter(
		WithMiddlewares(testIdentity),
		WithCartRoutes(NewCartHandlers(nil, carts).Routes),
		WithCheckoutRoutes(checkout.Routes),
		WithOrderRoutes(NewOrderHandlers(nil, orders).Routes),
		WithProductRoutes(NewProductHandlers(catalog).Routes),
		WithPharmacyRoutes(NewPharmacyHandlers(nil, orders, catalog).Routes),
		WithInternalRoutes(NewInternalHandlers(orders, nil).Routes),
	)
	return &apiFixture{t: t, store: store, orders: orders, router: router}
}

func (f *apiFixture) seedProduct(id string, price, stock int64) {
	f.t.Helper()
	err := f.store.Products().Insert(context.Background(), domain.Product{
		ID:         id,
		Name:       "Product " + id,
		Price:      price,
		Stock:      stock,
		PharmacyID: fixturePharmacy,
		CreatedAt:  fixtureNow,
	})
	if err != nil {
		f.t.Fatalf("seed product %s: %v", id, err)
	}
}

func (f *apiFixture) product(id string) domain.Product {
	f.t.Helper()
	product, err := f.store.Products().FindByID(context.Background(), id)
	if err != nil {
		f.t.Fatalf("find product %s: %v", id, err)
	}
	return product
}

type caller struct {
	uid      string
	roles    string
	pharmacy string
}

var (
	customer = caller{uid: "cust-1"}
	staff    = caller{uid: "staff-1", roles: auth.RoleStaff, pharmacy: fixturePharmacy}
	admin    = caller{uid: "admin-1", roles: auth.RoleAdmin}
)

type requestOption func(*http.Request)

func withHeader(name, value string) requestOption {
	return func(r *http.Request) {
		r.Header.Set(name, value)
	}
}

func (f *apiFixture) do(who caller, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			f.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if who.uid != "" {
		req.Header.Set("X-Test-UID", who.uid)
		req.Header.Set("X-Test-Roles", who.roles)
		req.Header.Set("X-Test-Pharmacy", who.pharmacy)
	}
	for _, opt := range opts {
		opt(req)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

// placeOrder checks out the given lines and returns the new order id.
func (f *apiFixture) placeOrder(key string, items ...map[string]any) string {
	f.t.Helper()
	rr := f.do(customer, http.MethodPost, "/api/v1/checkout", map[string]any{
		"items":         items,
		"address":       "1 Main St",
		"phone":         "+1 555 0100",
		"paymentMethod": "delivery",
	}, withHeader("Idempotency-Key", key))
	if rr.Code != http.StatusCreated {
		f.t.Fatalf("checkout: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp checkoutResponse
	decodeJSON(f.t, rr, &resp)
	return resp.OrderID
}

func line(productID string, qty int64) map[string]any {
	return map[string]any{"productId": productID, "quantity": qty}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeJSON(t, rr, &body)
	return body.Error
}
