package services

import (
	"context"
	"time"

	domain "github.com/pharmly/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentMethod      = domain.PaymentMethod
	BestSeller         = domain.BestSeller
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService owns the order lifecycle: checkout, stock reservation, status transitions
// and the read models served to customers and pharmacy staff.
type OrderService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
	GetOrder(ctx context.Context, query OrderQuery) (Order, error)
	ListCustomerOrders(ctx context.Context, customerID string, pager Pagination) (domain.CursorPage[Order], error)
	ListPharmacyOrders(ctx context.Context, filter PharmacyOrderFilter) (domain.CursorPage[Order], error)
	ReserveStockAndAdvance(ctx context.Context, cmd OrderCommand) (Order, error)
	SetStatus(ctx context.Context, cmd SetStatusCommand) (Order, error)
	MarkPaid(ctx context.Context, cmd OrderCommand) (Order, error)
	BestSellers(ctx context.Context, pharmacyID string, limit int) ([]BestSeller, error)
}

// CartService manages the customer's pending line items.
type CartService interface {
	GetCart(ctx context.Context, customerID string) (CartView, error)
	AddItem(ctx context.Context, cmd CartItemCommand) (CartView, error)
	SetItemQuantity(ctx context.Context, cmd CartItemCommand) (CartView, error)
	RemoveItem(ctx context.Context, customerID, productID string) (CartView, error)
	Clear(ctx context.Context, customerID string) error
}

// CatalogService serves product reads and pharmacy-side product maintenance.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	CreateProducts(ctx context.Context, cmd CreateProductsCommand) ([]Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error
	CreateImageUpload(ctx context.Context, cmd ImageUploadCommand) (ImageUpload, error)
}

// SystemService exposes health reporting and maintenance tasks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	CleanupIdempotencyKeys(ctx context.Context) (int, error)
}

// CheckoutCommand creates an order. A nil Items slice checks out the customer's cart.
type CheckoutCommand struct {
	CustomerID    string
	PharmacyID    string
	Items         []CheckoutItem
	Address       string
	Phone         string
	PaymentMethod string
	PaymentRef    string
}

// CheckoutItem is a requested product quantity.
type CheckoutItem struct {
	ProductID string
	Quantity  int64
}

// OrderQuery reads one order. CustomerID or PharmacyID, when set, restrict visibility.
type OrderQuery struct {
	OrderID    string
	CustomerID string
	PharmacyID string
}

// PharmacyOrderFilter lists a pharmacy's orders, optionally restricted to statuses.
type PharmacyOrderFilter struct {
	PharmacyID string
	Statuses   []string
	Pagination Pagination
}

// OrderCommand targets one order. A non-empty PharmacyID scopes the command to orders of
// that pharmacy.
type OrderCommand struct {
	OrderID    string
	PharmacyID string
	ActorID    string
}

// SetStatusCommand requests a status transition.
type SetStatusCommand struct {
	OrderID    string
	PharmacyID string
	ActorID    string
	Status     string
}

// CartView is the cart joined with current product data.
type CartView struct {
	CustomerID string
	Lines      []CartLine
	Total      int64
}

// CartLine is one cart entry. Available is false when the product no longer exists.
type CartLine struct {
	ProductID string
	Qty       int64
	Name      string
	Price     int64
	Image     string
	Stock     int64
	Available bool
}

// CartItemCommand adds or sets a cart line.
type CartItemCommand struct {
	CustomerID string
	ProductID  string
	Qty        int64
}

// ProductFilter scopes catalog listings.
type ProductFilter struct {
	PharmacyID string
	Pagination Pagination
}

// CreateProductCommand registers a product with its initial stock.
type CreateProductCommand struct {
	PharmacyID string
	ActorID    string
	Name       string
	Price      int64
	Stock      int64
	SKU        string
	Category   string
	Image      string
}

// CreateProductsCommand registers several products of one pharmacy at once. The pharmacy of
// each item is taken from the command.
type CreateProductsCommand struct {
	PharmacyID string
	ActorID    string
	Items      []CreateProductCommand
}

// UpdateProductCommand edits display fields. Nil fields are left unchanged; stock and sold
// are never editable here.
type UpdateProductCommand struct {
	ProductID  string
	PharmacyID string
	ActorID    string
	Name       *string
	Price      *int64
	SKU        *string
	Category   *string
	Image      *string
}

// DeleteProductCommand removes a product and its uploaded images.
type DeleteProductCommand struct {
	ProductID  string
	PharmacyID string
	ActorID    string
}

// ImageUploadCommand requests a signed upload URL for a product image.
type ImageUploadCommand struct {
	ProductID   string
	PharmacyID  string
	FileName    string
	ContentType string
}

// ImageUpload describes where and how the client uploads the image.
type ImageUpload struct {
	UploadURL string
	Method    string
	Headers   map[string]string
	ObjectURL string
	Object    string
	ExpiresAt time.Time
}
