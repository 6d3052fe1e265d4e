package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/pharmly/api/internal/domain"
	pstorage "github.com/pharmly/api/internal/platform/storage"
	"github.com/pharmly/api/internal/platform/textutil"
	"github.com/pharmly/api/internal/repositories"
)

const (
	productIDPrefix = "prd_"

	maxProductNameLength     = 200
	maxProductSKULength      = 64
	maxProductCategoryLength = 80
	maxProductImageLength    = 2048

	// maxProductBatchSize keeps a batch inside one Firestore transaction.
	maxProductBatchSize = 100
)

// ImageUploadSigner issues signed upload URLs for product images.
type ImageUploadSigner interface {
	SignedUploadURL(ctx context.Context, object, contentType string) (pstorage.UploadURL, error)
	PublicURL(object string) string
}

// ImagePrefixRemover deletes every object under a prefix.
type ImagePrefixRemover interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Uploads     ImageUploadSigner
	Images      ImagePrefixRemover
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	uploads  ImageUploadSigner
	images   ImagePrefixRemover
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		products: deps.Products,
		uploads:  deps.Uploads,
		images:   deps.Images,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		PharmacyID: strings.TrimSpace(filter.PharmacyID),
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, catalogErrors.translate(err)
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, catalogErrors.translate(err)
	}
	return product, nil
}

// CreateProduct registers a product with its opening stock and zero sold.
func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	product, err := s.newProduct(cmd)
	if err != nil {
		return Product{}, err
	}
	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, catalogErrors.translate(err)
	}
	s.logger(ctx, "catalog.product.created", map[string]any{
		"product":  product.ID,
		"pharmacy": product.PharmacyID,
		"actor":    cmd.ActorID,
	})
	return product, nil
}

// CreateProducts registers a batch of products in one write. Every item is validated first;
// a single invalid item rejects the whole batch and nothing is stored.
func (s *catalogService) CreateProducts(ctx context.Context, cmd CreateProductsCommand) ([]Product, error) {
	if len(cmd.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one product is required", ErrCatalogInvalidInput)
	}
	if len(cmd.Items) > maxProductBatchSize {
		return nil, fmt.Errorf("%w: at most %d products per batch", ErrCatalogInvalidInput, maxProductBatchSize)
	}

	products := make([]Product, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		item.PharmacyID = cmd.PharmacyID
		product, err := s.newProduct(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		products = append(products, product)
	}
	if err := s.products.InsertMany(ctx, products); err != nil {
		return nil, catalogErrors.translate(err)
	}
	s.logger(ctx, "catalog.products.imported", map[string]any{
		"count":    len(products),
		"pharmacy": strings.TrimSpace(cmd.PharmacyID),
		"actor":    cmd.ActorID,
	})
	return products, nil
}

func (s *catalogService) newProduct(cmd CreateProductCommand) (Product, error) {
	pharmacyID := strings.TrimSpace(cmd.PharmacyID)
	if pharmacyID == "" {
		return Product{}, fmt.Errorf("%w: pharmacy id is required", ErrCatalogInvalidInput)
	}
	name := textutil.CleanLimit(cmd.Name, maxProductNameLength)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if cmd.Price < 0 {
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.Stock < 0 {
		return Product{}, fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
	}
	image, err := normalizeImageURL(cmd.Image)
	if err != nil {
		return Product{}, err
	}

	now := s.clock()
	return Product{
		ID:         productIDPrefix + s.newID(),
		Name:       name,
		Price:      cmd.Price,
		Stock:      cmd.Stock,
		Sold:       0,
		SKU:        textutil.CleanLimit(cmd.SKU, maxProductSKULength),
		Category:   textutil.CleanLimit(cmd.Category, maxProductCategoryLength),
		PharmacyID: pharmacyID,
		Image:      image,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// UpdateProduct edits display fields. Stock and sold keep their stored values.
func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	product, err := s.ownedProduct(ctx, cmd.ProductID, cmd.PharmacyID)
	if err != nil {
		return Product{}, err
	}

	if cmd.Name != nil {
		name := textutil.CleanLimit(*cmd.Name, maxProductNameLength)
		if name == "" {
			return Product{}, fmt.Errorf("%w: name must not be empty", ErrCatalogInvalidInput)
		}
		product.Name = name
	}
	if cmd.Price != nil {
		if *cmd.Price < 0 {
			return Product{}, fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
		}
		product.Price = *cmd.Price
	}
	if cmd.SKU != nil {
		product.SKU = textutil.CleanLimit(*cmd.SKU, maxProductSKULength)
	}
	if cmd.Category != nil {
		product.Category = textutil.CleanLimit(*cmd.Category, maxProductCategoryLength)
	}
	if cmd.Image != nil {
		image, err := normalizeImageURL(*cmd.Image)
		if err != nil {
			return Product{}, err
		}
		product.Image = image
	}
	product.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, catalogErrors.translate(err)
	}
	return product, nil
}

// DeleteProduct removes the product. Uploaded images are removed best-effort afterwards.
func (s *catalogService) DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error {
	product, err := s.ownedProduct(ctx, cmd.ProductID, cmd.PharmacyID)
	if err != nil {
		return err
	}
	if err := s.products.Delete(ctx, product.ID); err != nil {
		return catalogErrors.translate(err)
	}
	s.logger(ctx, "catalog.product.deleted", map[string]any{
		"product":  product.ID,
		"pharmacy": product.PharmacyID,
		"actor":    cmd.ActorID,
	})

	if s.images == nil || product.PharmacyID == "" {
		return nil
	}
	prefix, err := pstorage.ProductImagePrefix(product.PharmacyID, product.ID)
	if err != nil {
		return nil
	}
	if removed, err := s.images.DeletePrefix(ctx, prefix); err != nil {
		s.logger(ctx, "catalog.product.images_cleanup_failed", map[string]any{
			"product": product.ID,
			"prefix":  prefix,
			"error":   err.Error(),
		})
	} else if removed > 0 {
		s.logger(ctx, "catalog.product.images_removed", map[string]any{"product": product.ID, "count": removed})
	}
	return nil
}

// CreateImageUpload signs an upload target under the product's image prefix. The client
// stores the returned ObjectURL on the product once the upload finishes.
func (s *catalogService) CreateImageUpload(ctx context.Context, cmd ImageUploadCommand) (ImageUpload, error) {
	if s.uploads == nil {
		return ImageUpload{}, fmt.Errorf("%w: image uploads are not configured", ErrCatalogUnavailable)
	}
	if strings.TrimSpace(cmd.ContentType) == "" {
		return ImageUpload{}, fmt.Errorf("%w: content type is required", ErrCatalogInvalidInput)
	}
	product, err := s.ownedProduct(ctx, cmd.ProductID, cmd.PharmacyID)
	if err != nil {
		return ImageUpload{}, err
	}

	fileName := strings.TrimSpace(cmd.FileName)
	if fileName == "" {
		fileName = "image"
	}
	object, err := pstorage.ProductImagePath(product.PharmacyID, product.ID, strings.ToLower(s.newID()), fileName)
	if err != nil {
		return ImageUpload{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	signed, err := s.uploads.SignedUploadURL(ctx, object, cmd.ContentType)
	if err != nil {
		if errors.Is(err, pstorage.ErrContentTypeDenied) {
			return ImageUpload{}, fmt.Errorf("%w: content type %q is not accepted", ErrCatalogInvalidInput, cmd.ContentType)
		}
		return ImageUpload{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return ImageUpload{
		UploadURL: signed.URL,
		Method:    signed.Method,
		Headers:   signed.Headers,
		ObjectURL: s.uploads.PublicURL(signed.Object),
		Object:    signed.Object,
		ExpiresAt: signed.ExpiresAt,
	}, nil
}

// ownedProduct loads the product; a non-empty scope hides products of other pharmacies.
func (s *catalogService) ownedProduct(ctx context.Context, productID, scope string) (Product, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if scope = strings.TrimSpace(scope); scope != "" && product.PharmacyID != scope {
		return Product{}, fmt.Errorf("%w: product %s", ErrCatalogNotFound, product.ID)
	}
	return product, nil
}

func normalizeImageURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if len(raw) > maxProductImageLength {
		return "", fmt.Errorf("%w: image url is too long", ErrCatalogInvalidInput)
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return "", fmt.Errorf("%w: image must be an http(s) url", ErrCatalogInvalidInput)
	}
	return parsed.String(), nil
}
