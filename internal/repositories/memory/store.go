// Package memory provides an in-process implementation of the repository registry. Product
// and order records carry a version number; ledger transactions record the versions they read
// and commit only if none of them changed, retrying otherwise.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/pharmly/api/internal/domain"
	"github.com/pharmly/api/internal/platform/pagination"
	"github.com/pharmly/api/internal/repositories"
)

const defaultMaxAttempts = 5

type productRecord struct {
	product domain.Product
	stock   any
	price   any
	version uint64
}

type orderRecord struct {
	order   domain.Order
	version uint64
}

// Store keeps every collection in memory behind one lock.
type Store struct {
	mu          sync.RWMutex
	products    map[string]productRecord
	orders      map[string]orderRecord
	carts       map[string]map[string]int64
	pharmacyID  string
	maxAttempts int

	// beforeCommit runs between the read phase and the commit check of every attempt.
	beforeCommit func()
}

// Option customises the store.
type Option func(*Store)

// WithMaxAttempts bounds how many times a conflicting ledger transaction is retried.
func WithMaxAttempts(attempts int) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithDefaultPharmacy sets the pharmacy id returned by DefaultPharmacyID.
func WithDefaultPharmacy(pharmacyID string) Option {
	return func(s *Store) {
		s.pharmacyID = strings.TrimSpace(pharmacyID)
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		products:    make(map[string]productRecord),
		orders:      make(map[string]orderRecord),
		carts:       make(map[string]map[string]int64),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SetRawStock overwrites the stored stock with an arbitrary value, the way a misbehaving
// import tool might.
func (s *Store) SetRawStock(productID string, value any) error {
	return s.setRaw("products.setRawStock", productID, func(rec *productRecord) { rec.stock = value })
}

// SetRawPrice overwrites the stored price with an arbitrary value.
func (s *Store) SetRawPrice(productID string, value any) error {
	return s.setRaw("products.setRawPrice", productID, func(rec *productRecord) { rec.price = value })
}

func (s *Store) setRaw(op, productID string, apply func(*productRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.products[productID]
	if !ok {
		return notFound(op, "product", productID)
	}
	apply(&rec)
	rec.version++
	s.products[productID] = rec
	return nil
}

func (s *Store) Close(context.Context) error                 { return nil }
func (s *Store) Products() repositories.ProductRepository    { return productRepo{s} }
func (s *Store) Carts() repositories.CartRepository          { return cartRepo{s} }
func (s *Store) Orders() repositories.OrderRepository        { return orderRepo{s} }
func (s *Store) Ledger() repositories.OrderLedger            { return s }
func (s *Store) Pharmacies() repositories.PharmacyRepository { return pharmacyRepo{s} }

var _ repositories.Registry = (*Store)(nil)

func notFound(op, kind, id string) error {
	return repositories.NewStoreError(op, repositories.StoreErrorNotFound, fmt.Sprintf("%s %s not found", kind, id), nil)
}

func conflict(op, message string) error {
	return repositories.NewStoreError(op, repositories.StoreErrorConflict, message, nil)
}

func (r productRecord) state() repositories.ProductState {
	product := r.product
	stock, stockValid := counterValue(r.stock)
	price, priceValid := counterValue(r.price)
	product.Stock = stock
	product.Price = price
	return repositories.ProductState{
		ID:         product.ID,
		Exists:     true,
		Product:    product,
		StockValid: stockValid,
		StockRaw:   fmt.Sprint(r.stock),
		PriceValid: priceValid,
		PriceRaw:   fmt.Sprint(r.price),
	}
}

func counterValue(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

type productRepo struct{ s *Store }

func (r productRepo) Insert(_ context.Context, product domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.products[product.ID]; exists {
		return conflict("products.insert", fmt.Sprintf("product %s already exists", product.ID))
	}
	r.s.products[product.ID] = productRecord{product: product, stock: product.Stock, price: product.Price, version: 1}
	return nil
}

func (r productRepo) InsertMany(_ context.Context, products []domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[string]struct{}, len(products))
	for _, product := range products {
		if _, exists := r.s.products[product.ID]; exists {
			return conflict("products.insertMany", fmt.Sprintf("product %s already exists", product.ID))
		}
		if _, dup := seen[product.ID]; dup {
			return conflict("products.insertMany", fmt.Sprintf("product %s appears twice", product.ID))
		}
		seen[product.ID] = struct{}{}
	}
	for _, product := range products {
		r.s.products[product.ID] = productRecord{product: product, stock: product.Stock, price: product.Price, version: 1}
	}
	return nil
}

func (r productRepo) Update(_ context.Context, product domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.products[product.ID]
	if !ok {
		return notFound("products.update", "product", product.ID)
	}
	current := rec.product
	current.Name = product.Name
	current.SKU = product.SKU
	current.Category = product.Category
	current.Image = product.Image
	current.UpdatedAt = product.UpdatedAt
	rec.product = current
	rec.price = product.Price
	rec.version++
	r.s.products[product.ID] = rec
	return nil
}

func (r productRepo) Delete(_ context.Context, productID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.products, productID)
	return nil
}

func (r productRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, notFound("products.get", "product", productID)
	}
	return rec.state().Product, nil
}

func (r productRepo) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if rec, ok := r.s.products[id]; ok {
			out[id] = rec.state().Product
		}
	}
	return out, nil
}

func (r productRepo) List(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	products := r.collect(strings.TrimSpace(filter.PharmacyID))
	return pageNewestFirst(products, filter.Pagination, func(p domain.Product) (time.Time, string) { return p.CreatedAt, p.ID })
}

func (r productRepo) ListByPharmacy(_ context.Context, pharmacyID string) ([]domain.Product, error) {
	return r.collect(strings.TrimSpace(pharmacyID)), nil
}

func (r productRepo) collect(pharmacyID string) []domain.Product {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Product, 0, len(r.s.products))
	for _, rec := range r.s.products {
		if pharmacyID != "" && rec.product.PharmacyID != pharmacyID {
			continue
		}
		out = append(out, rec.state().Product)
	}
	return out
}

type cartRepo struct{ s *Store }

func (r cartRepo) GetCart(_ context.Context, customerID string) (domain.Cart, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	cart := domain.Cart{CustomerID: customerID, Items: []domain.CartItem{}}
	for productID, qty := range r.s.carts[customerID] {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: productID, Qty: qty})
	}
	sort.Slice(cart.Items, func(i, j int) bool { return cart.Items[i].ProductID < cart.Items[j].ProductID })
	return cart, nil
}

func (r cartRepo) AddItem(_ context.Context, customerID, productID string, delta int64) (domain.CartItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lines := r.s.cartLines(customerID)
	sum, ok := domain.AddAmount(lines[productID], delta)
	if !ok {
		sum = math.MaxInt64
		if delta < 0 {
			sum = math.MinInt64
		}
	}
	lines[productID] = sum
	return domain.CartItem{ProductID: productID, Qty: lines[productID]}, nil
}

func (r cartRepo) SetItem(_ context.Context, customerID string, item domain.CartItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.cartLines(customerID)[item.ProductID] = item.Qty
	return nil
}

func (r cartRepo) RemoveItem(_ context.Context, customerID, productID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.carts[customerID], productID)
	return nil
}

func (r cartRepo) Clear(_ context.Context, customerID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.carts, customerID)
	return nil
}

func (s *Store) cartLines(customerID string) map[string]int64 {
	lines, ok := s.carts[customerID]
	if !ok {
		lines = make(map[string]int64)
		s.carts[customerID] = lines
	}
	return lines
}

type orderRepo struct{ s *Store }

func (r orderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get", "order", orderID)
	}
	return cloneOrder(rec.order), nil
}

func (r orderRepo) ListByCustomer(_ context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	orders := r.collect(func(o domain.Order) bool { return o.CustomerID == customerID })
	return pageNewestFirst(orders, pager, orderKey)
}

func (r orderRepo) ListByPharmacy(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	statuses := make(map[domain.OrderStatus]struct{}, len(filter.Status))
	for _, status := range filter.Status {
		statuses[status] = struct{}{}
	}
	orders := r.collect(func(o domain.Order) bool {
		if o.PharmacyID != filter.PharmacyID {
			return false
		}
		if len(statuses) == 0 {
			return true
		}
		_, ok := statuses[o.Status]
		return ok
	})
	return pageNewestFirst(orders, filter.Pagination, orderKey)
}

func (r orderRepo) AllByPharmacy(_ context.Context, pharmacyID string) ([]domain.Order, error) {
	return r.collect(func(o domain.Order) bool { return o.PharmacyID == pharmacyID }), nil
}

func (r orderRepo) collect(keep func(domain.Order) bool) []domain.Order {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Order
	for _, rec := range r.s.orders {
		if keep(rec.order) {
			out = append(out, cloneOrder(rec.order))
		}
	}
	return out
}

func orderKey(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID }

type pharmacyRepo struct{ s *Store }

func (r pharmacyRepo) DefaultPharmacyID(context.Context) (string, error) {
	return r.s.pharmacyID, nil
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

// pageNewestFirst sorts by createdAt then id descending, matching the Firestore query order.
func pageNewestFirst[T any](items []T, pager domain.Pagination, key func(T) (time.Time, string)) (domain.CursorPage[T], error) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return idi > idj
	})

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		start := len(items)
		for i, item := range items {
			t, id := key(item)
			if t.Before(cursor.CreatedAt) || (t.Equal(cursor.CreatedAt) && id < cursor.ID) {
				start = i
				break
			}
		}
		items = items[start:]
	}

	size := pagination.Normalize(pager.PageSize)
	page := domain.CursorPage[T]{Items: items}
	if len(items) > size {
		page.Items = items[:size]
		t, id := key(page.Items[size-1])
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: t, ID: id})
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page, nil
}
