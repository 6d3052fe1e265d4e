package repositories

import (
	"context"
	"time"

	domain "github.com/pharmly/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Ledger() OrderLedger
	Pharmacies() PharmacyRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists catalog entries. Update never writes stock or sold.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	// InsertMany stores every product or none. An existing id fails the batch with a conflict.
	InsertMany(ctx context.Context, products []domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	ListByPharmacy(ctx context.Context, pharmacyID string) ([]domain.Product, error)
}

// ProductListFilter scopes catalog listings. Results are ordered newest first.
type ProductListFilter struct {
	PharmacyID string
	Pagination domain.Pagination
}

// CartRepository stores cart lines under users/{uid}/cart keyed by product id.
type CartRepository interface {
	GetCart(ctx context.Context, customerID string) (domain.Cart, error)
	AddItem(ctx context.Context, customerID, productID string, delta int64) (domain.CartItem, error)
	SetItem(ctx context.Context, customerID string, item domain.CartItem) error
	RemoveItem(ctx context.Context, customerID, productID string) error
	Clear(ctx context.Context, customerID string) error
}

// OrderRepository serves order reads. Mutations go through OrderLedger.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	ListByPharmacy(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	AllByPharmacy(ctx context.Context, pharmacyID string) ([]domain.Order, error)
}

// OrderListFilter scopes pharmacy order listings. Results are ordered newest first.
type OrderListFilter struct {
	PharmacyID string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// PharmacyRepository resolves store-wide settings for the single pharmacy deployment.
type PharmacyRepository interface {
	DefaultPharmacyID(ctx context.Context) (string, error)
}

// OrderLedger runs read-then-write transactions over orders and product counters. The
// function may be invoked more than once when the store retries a conflicting attempt, so it
// must not have side effects outside tx.
type OrderLedger interface {
	RunLedgerTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// LedgerTx is the transactional view of the ledger. Every read must precede every write;
// implementations return ErrReadAfterWrite otherwise.
type LedgerTx interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetProducts(ctx context.Context, productIDs []string) ([]ProductState, error)

	CreateOrder(order domain.Order) error
	UpdateOrder(orderID string, update OrderUpdate) error
	SetProductCounters(productID string, stock, sold int64) error
}

// ProductState is a product read inside a ledger transaction. StockValid and PriceValid are
// false when the stored value is not a finite whole number; the Raw fields keep the stored
// value for messages.
type ProductState struct {
	ID         string
	Exists     bool
	Product    domain.Product
	StockValid bool
	StockRaw   string
	PriceValid bool
	PriceRaw   string
}

// OrderUpdate lists the mutable order fields. Nil pointers are left untouched.
type OrderUpdate struct {
	Status         *domain.OrderStatus
	StockProcessed *bool
	Paid           *bool
	UpdatedAt      time.Time
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
