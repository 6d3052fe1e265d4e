package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pharmly/api/internal/domain"
	pfirestore "github.com/pharmly/api/internal/platform/firestore"
	"github.com/pharmly/api/internal/repositories"
)

// OrderRepository serves order queries over orders/{id}.
type OrderRepository struct {
	orders *pfirestore.Collection[domain.Order]
}

// NewOrderRepository constructs a Firestore-backed order reader.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		orders: pfirestore.NewCollection[domain.Order](provider, ordersCollection, decodeOrder),
	}, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data, nil
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: customer id is required")
	}
	return r.list(ctx, pager, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", customerID)
	})
}

func (r *OrderRepository) ListByPharmacy(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pharmacyID := strings.TrimSpace(filter.PharmacyID)
	if pharmacyID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: pharmacy id is required")
	}
	statuses := storedStatuses(filter.Status)
	return r.list(ctx, filter.Pagination, func(q firestore.Query) firestore.Query {
		q = q.Where("pharmacyId", "==", pharmacyID)
		switch len(statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", statuses[0])
		default:
			q = q.Where("status", "in", statuses)
		}
		return q
	})
}

// AllByPharmacy returns every order of a pharmacy regardless of status.
func (r *OrderRepository) AllByPharmacy(ctx context.Context, pharmacyID string) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("pharmacyId", "==", strings.TrimSpace(pharmacyID))
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data)
	}
	return orders, nil
}

func (r *OrderRepository) list(ctx context.Context, pager domain.Pagination, where pfirestore.QueryBuilder) (domain.CursorPage[domain.Order], error) {
	order, size, err := newestFirst(pager)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return order(where(q))
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return page(docs, size, orderFromDoc, orderCreatedAt, orderID), nil
}

// storedStatuses expands status filters to the persisted values, so completed also matches
// records still carrying the legacy fulfilled value.
func storedStatuses(statuses []domain.OrderStatus) []string {
	seen := make(map[string]struct{}, len(statuses)+1)
	var out []string
	add := func(value string) {
		if _, ok := seen[value]; ok || value == "" {
			return
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	for _, status := range statuses {
		add(string(status))
		if status == domain.OrderStatusCompleted {
			add("fulfilled")
		}
	}
	return out
}

func orderFromDoc(doc pfirestore.Document[domain.Order]) domain.Order {
	order := doc.Data
	if order.CreatedAt.IsZero() {
		order.CreatedAt = doc.CreateTime
	}
	return order
}

func orderCreatedAt(o domain.Order) time.Time { return o.CreatedAt }
func orderID(o domain.Order) string          { return o.ID }

var _ repositories.OrderRepository = (*OrderRepository)(nil)
