package firestore

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pharmly/api/internal/domain"
	"github.com/pharmly/api/internal/repositories"
)

const (
	productsCollection = "products"
	ordersCollection   = "orders"
	cartPattern        = "users/%s/cart"
	configCollection   = "config"
	appConfigDocument  = "app"
)

// productDocument mirrors products/{id}. Counters are decoded loosely so that values written
// by other tools (strings, doubles) can be detected instead of failing the whole read.
type productDocument struct {
	Name       string    `firestore:"name"`
	Price      any       `firestore:"price"`
	Stock      any       `firestore:"stock"`
	Sold       any       `firestore:"sold"`
	SKU        string    `firestore:"sku,omitempty"`
	Category   string    `firestore:"category,omitempty"`
	PharmacyID string    `firestore:"pharmacyId"`
	Image      string    `firestore:"image,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt,omitempty"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		Name:       p.Name,
		Price:      p.Price,
		Stock:      p.Stock,
		Sold:       p.Sold,
		SKU:        p.SKU,
		Category:   p.Category,
		PharmacyID: p.PharmacyID,
		Image:      p.Image,
		CreatedAt:  p.CreatedAt.UTC(),
		UpdatedAt:  p.UpdatedAt.UTC(),
	}
}

func (d productDocument) state(id string) repositories.ProductState {
	stock, valid := wholeNumber(d.Stock)
	sold, _ := wholeNumber(d.Sold)
	price, priceValid := wholeNumber(d.Price)
	return repositories.ProductState{
		ID:     id,
		Exists: true,
		Product: domain.Product{
			ID:         id,
			Name:       strings.TrimSpace(d.Name),
			Price:      price,
			Stock:      stock,
			Sold:       sold,
			SKU:        d.SKU,
			Category:   d.Category,
			PharmacyID: strings.TrimSpace(d.PharmacyID),
			Image:      d.Image,
			CreatedAt:  d.CreatedAt,
			UpdatedAt:  d.UpdatedAt,
		},
		StockValid: valid,
		StockRaw:   fmt.Sprint(d.Stock),
		PriceValid: priceValid,
		PriceRaw:   fmt.Sprint(d.Price),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return d.state(id).Product
}

// wholeNumber converts a stored counter into an int64. Missing values read as zero; anything
// that is not a finite whole number is reported as invalid.
func wholeNumber(value any) (int64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) || math.Abs(v) > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// saturatingAdd adds b to a, clamping at the int64 bounds instead of wrapping.
func saturatingAdd(a, b int64) int64 {
	if sum, ok := domain.AddAmount(a, b); ok {
		return sum
	}
	if b > 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

type cartItemDocument struct {
	ProductID string    `firestore:"productId"`
	Qty       int64     `firestore:"qty"`
	UpdatedAt time.Time `firestore:"updatedAt,omitempty"`
}

// orderItemDocument decodes its numbers loosely for the same reason as productDocument. A
// line whose quantity is not a whole number reads as zero, which reservation rejects.
type orderItemDocument struct {
	ProductID    string `firestore:"productId"`
	Name         string `firestore:"name"`
	PriceAtOrder any    `firestore:"priceAtOrder"`
	Quantity     any    `firestore:"quantity"`
	ImageURL     string `firestore:"imageUrl,omitempty"`
}

type orderDocument struct {
	CustomerID     string              `firestore:"customerId"`
	PharmacyID     string              `firestore:"pharmacyId"`
	Items          []orderItemDocument `firestore:"items"`
	Total          any                 `firestore:"total"`
	Address        string              `firestore:"address"`
	Phone          string              `firestore:"phone"`
	PaymentMethod  string              `firestore:"paymentMethod"`
	PaymentRef     string              `firestore:"paymentRef,omitempty"`
	Paid           bool                `firestore:"paid"`
	Status         string              `firestore:"status"`
	StockProcessed bool                `firestore:"stockProcessed"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemDocument{
			ProductID:    item.ProductID,
			Name:         item.Name,
			PriceAtOrder: item.PriceAtOrder,
			Quantity:     item.Quantity,
			ImageURL:     item.ImageURL,
		}
	}
	return orderDocument{
		CustomerID:     o.CustomerID,
		PharmacyID:     o.PharmacyID,
		Items:          items,
		Total:          o.Total,
		Address:        o.Address,
		Phone:          o.Phone,
		PaymentMethod:  string(o.PaymentMethod),
		PaymentRef:     o.PaymentRef,
		Paid:           o.Paid,
		Status:         string(o.Status),
		StockProcessed: o.StockProcessed,
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt.UTC(),
	}
}

// decodeOrder reads orders/{id}.
func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, err
	}
	legacyItems, _ := snap.Data()["items"].([]any)
	return doc.toDomain(snap.Ref.ID, legacyItems), nil
}

// toDomain maps the stored shape onto domain.Order. Older records stored line quantities
// under qty and used the fulfilled status; both are mapped here and nowhere else. raw holds
// the undecoded items array so the legacy qty field can be read.
func (d orderDocument) toDomain(id string, raw []any) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	var (
		sum      int64
		sumValid = true
	)
	for i, item := range d.Items {
		qty, ok := wholeNumber(item.Quantity)
		if !ok || qty < 0 {
			qty = 0
		}
		if qty == 0 && i < len(raw) {
			if fields, isMap := raw[i].(map[string]any); isMap {
				if legacy, ok := wholeNumber(fields["qty"]); ok && legacy > 0 {
					qty = legacy
				}
			}
		}
		price, ok := wholeNumber(item.PriceAtOrder)
		if !ok {
			price = 0
		}
		line := domain.OrderItem{
			ProductID:    item.ProductID,
			Name:         item.Name,
			PriceAtOrder: price,
			Quantity:     qty,
			ImageURL:     item.ImageURL,
		}
		if subtotal, ok := line.Subtotal(); ok && sumValid {
			sum, sumValid = domain.AddAmount(sum, subtotal)
		} else {
			sumValid = false
		}
		items[i] = line
	}

	total, ok := wholeNumber(d.Total)
	if !ok && sumValid {
		total = sum
	}

	return domain.Order{
		ID:             id,
		CustomerID:     d.CustomerID,
		PharmacyID:     d.PharmacyID,
		Items:          items,
		Total:          total,
		Address:        d.Address,
		Phone:          d.Phone,
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		PaymentRef:     d.PaymentRef,
		Paid:           d.Paid,
		Status:         domain.StoredOrderStatus(d.Status),
		StockProcessed: d.StockProcessed,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func orderUpdates(update repositories.OrderUpdate) []firestore.Update {
	var updates []firestore.Update
	if update.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*update.Status)})
	}
	if update.StockProcessed != nil {
		updates = append(updates, firestore.Update{Path: "stockProcessed", Value: *update.StockProcessed})
	}
	if update.Paid != nil {
		updates = append(updates, firestore.Update{Path: "paid", Value: *update.Paid})
	}
	updatedAt := update.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return append(updates, firestore.Update{Path: "updatedAt", Value: updatedAt})
}
