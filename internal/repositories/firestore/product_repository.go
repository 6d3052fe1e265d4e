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

// ProductRepository persists the catalog in products/{id}.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, productsCollection, nil),
	}, nil
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product repository: product id is required")
	}
	return r.products.Create(ctx, product.ID, newProductDocument(product))
}

// InsertMany creates every product in a single transaction, the replacement for the web
// client's batched import.
func (r *ProductRepository) InsertMany(ctx context.Context, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	refs := make([]*firestore.DocumentRef, len(products))
	for i, product := range products {
		if strings.TrimSpace(product.ID) == "" {
			return errors.New("product repository: product id is required")
		}
		ref, err := r.products.Doc(ctx, product.ID)
		if err != nil {
			return err
		}
		refs[i] = ref
	}
	err := r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		for i, product := range products {
			if err := tx.Create(refs[i], newProductDocument(product)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("products.insertMany", err)
	}
	return nil
}

// Update rewrites the descriptive fields. Stock and sold are owned by the order ledger.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	updatedAt := product.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return r.products.Update(ctx, product.ID, []firestore.Update{
		{Path: "name", Value: product.Name},
		{Path: "price", Value: product.Price},
		{Path: "sku", Value: product.SKU},
		{Path: "category", Value: product.Category},
		{Path: "image", Value: product.Image},
		{Path: "updatedAt", Value: updatedAt},
	})
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	return r.products.Delete(ctx, productID)
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs returns the products that exist among productIDs, keyed by id.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		ref, err := r.products.Doc(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.getAll", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		doc, err := r.products.Decode(snap)
		if err != nil {
			return nil, err
		}
		result[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return result, nil
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	order, size, err := newestFirst(filter.Pagination)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	pharmacyID := strings.TrimSpace(filter.PharmacyID)
	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		if pharmacyID != "" {
			q = q.Where("pharmacyId", "==", pharmacyID)
		}
		return order(q)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	return page(docs, size, productFromDoc, productCreatedAt, productID), nil
}

// ListByPharmacy returns every product of a pharmacy without paging.
func (r *ProductRepository) ListByPharmacy(ctx context.Context, pharmacyID string) ([]domain.Product, error) {
	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("pharmacyId", "==", strings.TrimSpace(pharmacyID))
	})
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, productFromDoc(doc))
	}
	return products, nil
}

func productFromDoc(doc pfirestore.Document[productDocument]) domain.Product {
	product := doc.Data.toDomain(doc.ID)
	if product.CreatedAt.IsZero() {
		product.CreatedAt = doc.CreateTime
	}
	return product
}

func productCreatedAt(p domain.Product) time.Time { return p.CreatedAt }
func productID(p domain.Product) string          { return p.ID }

var _ repositories.ProductRepository = (*ProductRepository)(nil)
