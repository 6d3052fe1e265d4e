package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pharmly/api/internal/domain"
	pfirestore "github.com/pharmly/api/internal/platform/firestore"
	"github.com/pharmly/api/internal/repositories"
)

// CartRepository persists cart lines in users/{uid}/cart/{productId}.
type CartRepository struct {
	provider *pfirestore.Provider
	lines    *pfirestore.Collection[cartItemDocument]
	now      func() time.Time
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		provider: provider,
		lines:    pfirestore.NewCollection[cartItemDocument](provider, cartPattern, nil),
		now:      time.Now,
	}, nil
}

func (r *CartRepository) cart(customerID string) (*pfirestore.Collection[cartItemDocument], error) {
	return r.lines.In(strings.TrimSpace(customerID))
}

func (r *CartRepository) GetCart(ctx context.Context, customerID string) (domain.Cart, error) {
	lines, err := r.cart(customerID)
	if err != nil {
		return domain.Cart{}, err
	}
	docs, err := lines.Query(ctx, nil)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := domain.Cart{CustomerID: customerID, Items: make([]domain.CartItem, 0, len(docs))}
	for _, doc := range docs {
		productID := strings.TrimSpace(doc.Data.ProductID)
		if productID == "" {
			productID = doc.ID
		}
		cart.Items = append(cart.Items, domain.CartItem{ProductID: productID, Qty: doc.Data.Qty})
	}
	sort.Slice(cart.Items, func(i, j int) bool { return cart.Items[i].ProductID < cart.Items[j].ProductID })
	return cart, nil
}

// AddItem increments the line quantity, creating the line when absent.
func (r *CartRepository) AddItem(ctx context.Context, customerID, productID string, delta int64) (domain.CartItem, error) {
	lines, err := r.cart(customerID)
	if err != nil {
		return domain.CartItem{}, err
	}
	ref, err := lines.Doc(ctx, productID)
	if err != nil {
		return domain.CartItem{}, err
	}

	var item domain.CartItem
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		qty := delta
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			doc, err := lines.Decode(snap)
			if err != nil {
				return err
			}
			qty = saturatingAdd(doc.Data.Qty, delta)
		case !pfirestore.IsNotFound(err):
			return err
		}
		item = domain.CartItem{ProductID: productID, Qty: qty}
		return tx.Set(ref, cartItemDocument{ProductID: productID, Qty: qty, UpdatedAt: r.now().UTC()})
	})
	if err != nil {
		return domain.CartItem{}, pfirestore.WrapError("cart.add", err)
	}
	return item, nil
}

func (r *CartRepository) SetItem(ctx context.Context, customerID string, item domain.CartItem) error {
	lines, err := r.cart(customerID)
	if err != nil {
		return err
	}
	return lines.Set(ctx, item.ProductID, cartItemDocument{ProductID: item.ProductID, Qty: item.Qty, UpdatedAt: r.now().UTC()})
}

func (r *CartRepository) RemoveItem(ctx context.Context, customerID, productID string) error {
	lines, err := r.cart(customerID)
	if err != nil {
		return err
	}
	return lines.Delete(ctx, productID)
}

// Clear deletes every line of the cart in one BulkWriter pass.
func (r *CartRepository) Clear(ctx context.Context, customerID string) error {
	lines, err := r.cart(customerID)
	if err != nil {
		return err
	}
	coll, err := lines.Ref(ctx)
	if err != nil {
		return err
	}
	refs, err := coll.DocumentRefs(ctx).GetAll()
	if err != nil {
		return pfirestore.WrapError("cart.clear", err)
	}
	if len(refs) == 0 {
		return nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := writer.Delete(ref)
		if err != nil {
			writer.End()
			return pfirestore.WrapError("cart.clear", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
		}
	}
	return pfirestore.WrapError("cart.clear", errors.Join(errs...))
}

var _ repositories.CartRepository = (*CartRepository)(nil)
