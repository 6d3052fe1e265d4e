package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	pstorage "github.com/pharmly/api/internal/platform/storage"
	"github.com/pharmly/api/internal/repositories/memory"
)

type stubUploadSigner struct {
	object      string
	contentType string
	err         error
}

func (s *stubUploadSigner) SignedUploadURL(_ context.Context, object, contentType string) (pstorage.UploadURL, error) {
	s.object = object
	s.contentType = contentType
	if s.err != nil {
		return pstorage.UploadURL{}, s.err
	}
	return pstorage.UploadURL{
		URL:       "https://signed.example/" + object,
		Method:    "PUT",
		Object:    object,
		ExpiresAt: testNow.Add(15 * time.Minute),
		Headers:   map[string]string{"Content-Type": contentType},
	}, nil
}

func (s *stubUploadSigner) PublicURL(object string) string {
	return "https://storage.googleapis.com/bucket/" + object
}

type stubPrefixRemover struct {
	prefixes []string
	err      error
}

func (s *stubPrefixRemover) DeletePrefix(_ context.Context, prefix string) (int, error) {
	s.prefixes = append(s.prefixes, prefix)
	return 2, s.err
}

type catalogFixture struct {
	store   *memory.Store
	svc     CatalogService
	signer  *stubUploadSigner
	remover *stubPrefixRemover
	logs    *recordingLogger
}

func newCatalogFixture(t *testing.T) *catalogFixture {
	t.Helper()
	f := &catalogFixture{
		store:   memory.NewStore(),
		signer:  &stubUploadSigner{},
		remover: &stubPrefixRemover{},
		logs:    &recordingLogger{},
	}
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:    f.store.Products(),
		Uploads:     f.signer,
		Images:      f.remover,
		Clock:       func() time.Time { return testNow },
		IDGenerator: func() string { return "01HZX" },
		Logger:      f.logs.log,
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *catalogFixture) create(t *testing.T) Product {
	t.Helper()
	product, err := f.svc.CreateProduct(context.Background(), CreateProductCommand{
		PharmacyID: testPharmacy,
		Name:       "  Ibuprofen <script>alert(1)</script> 200mg ",
		Price:      680,
		Stock:      12,
		SKU:        "IBU-200",
		Category:   "pain",
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	return product
}

func TestCreateProductSanitizesAndStartsUnsold(t *testing.T) {
	f := newCatalogFixture(t)
	product := f.create(t)

	if product.ID != "prd_01HZX" {
		t.Fatalf("unexpected id %q", product.ID)
	}
	if product.Name != "Ibuprofen 200mg" {
		t.Fatalf("expected sanitized name, got %q", product.Name)
	}
	if product.Stock != 12 || product.Sold != 0 || !product.CreatedAt.Equal(testNow) {
		t.Fatalf("unexpected counters or timestamps %+v", product)
	}
	stored, err := f.store.Products().FindByID(context.Background(), product.ID)
	if err != nil || stored.Stock != 12 {
		t.Fatalf("expected stored product with stock 12, got %+v %v", stored, err)
	}
}

func TestCreateProductValidation(t *testing.T) {
	f := newCatalogFixture(t)
	cases := []CreateProductCommand{
		{Name: "x"},
		{PharmacyID: testPharmacy, Name: " "},
		{PharmacyID: testPharmacy, Name: "x", Price: -1},
		{PharmacyID: testPharmacy, Name: "x", Stock: -1},
		{PharmacyID: testPharmacy, Name: "x", Image: "javascript:alert(1)"},
	}
	for i, cmd := range cases {
		if _, err := f.svc.CreateProduct(context.Background(), cmd); !errors.Is(err, ErrCatalogInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestUpdateProductNeverTouchesStock(t *testing.T) {
	f := newCatalogFixture(t)
	product := f.create(t)
	name := "Ibuprofen 400mg"
	price := int64(900)

	updated, err := f.svc.UpdateProduct(context.Background(), UpdateProductCommand{
		ProductID:  product.ID,
		PharmacyID: testPharmacy,
		Name:       &name,
		Price:      &price,
	})
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if updated.Name != name || updated.Price != 900 || updated.SKU != "IBU-200" {
		t.Fatalf("unexpected update result %+v", updated)
	}
	stored, err := f.store.Products().FindByID(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Stock != 12 || stored.Sold != 0 || stored.Price != 900 {
		t.Fatalf("expected stock preserved and price updated, got %+v", stored)
	}
}

func TestProductMutationsAreScopedToPharmacy(t *testing.T) {
	f := newCatalogFixture(t)
	product := f.create(t)
	name := "hijack"

	if _, err := f.svc.UpdateProduct(context.Background(), UpdateProductCommand{ProductID: product.ID, PharmacyID: "ph-other", Name: &name}); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found for other pharmacy, got %v", err)
	}
	if err := f.svc.DeleteProduct(context.Background(), DeleteProductCommand{ProductID: product.ID, PharmacyID: "ph-other"}); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found for other pharmacy, got %v", err)
	}
}

func TestDeleteProductRemovesImages(t *testing.T) {
	f := newCatalogFixture(t)
	product := f.create(t)

	if err := f.svc.DeleteProduct(context.Background(), DeleteProductCommand{ProductID: product.ID, PharmacyID: testPharmacy}); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if _, err := f.svc.GetProduct(context.Background(), product.ID); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected product gone, got %v", err)
	}
	if len(f.remover.prefixes) != 1 || f.remover.prefixes[0] != "products/ph-1/prd_01HZX/" {
		t.Fatalf("unexpected image cleanup %v", f.remover.prefixes)
	}
}

func TestDeleteProductIgnoresImageCleanupFailure(t *testing.T) {
	f := newCatalogFixture(t)
	f.remover.err = errors.New("gcs down")
	product := f.create(t)

	if err := f.svc.DeleteProduct(context.Background(), DeleteProductCommand{ProductID: product.ID}); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if !f.logs.has("catalog.product.images_cleanup_failed") {
		t.Fatalf("expected cleanup failure to be logged")
	}
}

func TestCreateImageUpload(t *testing.T) {
	f := newCatalogFixture(t)
	product := f.create(t)

	upload, err := f.svc.CreateImageUpload(context.Background(), ImageUploadCommand{
		ProductID:   product.ID,
		PharmacyID:  testPharmacy,
		FileName:    "Front.PNG",
		ContentType: "image/png",
	})
	if err != nil {
		t.Fatalf("CreateImageUpload: %v", err)
	}
	if upload.Object != "products/ph-1/prd_01HZX/01hzx.png" {
		t.Fatalf("unexpected object %q", upload.Object)
	}
	if upload.Method != "PUT" || !strings.HasPrefix(upload.UploadURL, "https://signed.example/") {
		t.Fatalf("unexpected upload %+v", upload)
	}
	if upload.ObjectURL != "https://storage.googleapis.com/bucket/"+upload.Object {
		t.Fatalf("unexpected object url %q", upload.ObjectURL)
	}
}

func TestCreateImageUploadRejectsContentType(t *testing.T) {
	f := newCatalogFixture(t)
	product := f.create(t)
	f.signer.err = pstorage.ErrContentTypeDenied

	_, err := f.svc.CreateImageUpload(context.Background(), ImageUploadCommand{ProductID: product.ID, FileName: "a.gif", ContentType: "image/gif"})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	_, err = f.svc.CreateImageUpload(context.Background(), ImageUploadCommand{ProductID: product.ID, FileName: "a.png"})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected missing content type to be invalid, got %v", err)
	}
}

func TestListProductsByPharmacy(t *testing.T) {
	f := newCatalogFixture(t)
	f.create(t)
	if err := f.store.Products().Insert(context.Background(), Product{ID: "other", Name: "Other", PharmacyID: "ph-2", CreatedAt: testNow}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	page, err := f.svc.ListProducts(context.Background(), ProductFilter{PharmacyID: testPharmacy})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].PharmacyID != testPharmacy {
		t.Fatalf("expected only pharmacy products, got %+v", page.Items)
	}
}

func TestCreateProductsIsAllOrNothing(t *testing.T) {
	store := memory.NewStore()
	logs := &recordingLogger{}
	var seq int
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products: store.Products(),
		Clock:    func() time.Time { return testNow },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("B%02d", seq)
		},
		Logger: logs.log,
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	ctx := context.Background()

	_, err = svc.CreateProducts(ctx, CreateProductsCommand{
		PharmacyID: testPharmacy,
		Items: []CreateProductCommand{
			{Name: "Saline", Price: 300, Stock: 4},
			{Name: "Gauze", Price: -1},
		},
	})
	if !errors.Is(err, ErrCatalogInvalidInput) || !strings.Contains(err.Error(), "item 1") {
		t.Fatalf("expected invalid input naming item 1, got %v", err)
	}
	if products, _ := store.Products().ListByPharmacy(ctx, testPharmacy); len(products) != 0 {
		t.Fatalf("expected nothing stored, got %d products", len(products))
	}

	created, err := svc.CreateProducts(ctx, CreateProductsCommand{
		PharmacyID: testPharmacy,
		ActorID:    "staff-1",
		Items: []CreateProductCommand{
			{PharmacyID: "ph-ignored", Name: "Saline", Price: 300, Stock: 4},
			{Name: " Gauze ", Price: 120},
		},
	})
	if err != nil {
		t.Fatalf("CreateProducts: %v", err)
	}
	if len(created) != 2 || created[1].Name != "Gauze" || created[1].Stock != 0 {
		t.Fatalf("unexpected batch %+v", created)
	}
	for _, product := range created {
		if product.PharmacyID != testPharmacy || product.Sold != 0 || !strings.HasPrefix(product.ID, productIDPrefix) {
			t.Fatalf("unexpected product %+v", product)
		}
	}
	if products, _ := store.Products().ListByPharmacy(ctx, testPharmacy); len(products) != 2 {
		t.Fatalf("expected two stored products, got %d", len(products))
	}
	if !logs.has("catalog.products.imported") {
		t.Fatalf("expected import to be logged, got %v", logs.entries)
	}
}

func TestCreateProductsBatchBounds(t *testing.T) {
	f := newCatalogFixture(t)
	if _, err := f.svc.CreateProducts(context.Background(), CreateProductsCommand{PharmacyID: testPharmacy}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected empty batch to be rejected, got %v", err)
	}
	items := make([]CreateProductCommand, maxProductBatchSize+1)
	for i := range items {
		items[i] = CreateProductCommand{Name: "x"}
	}
	if _, err := f.svc.CreateProducts(context.Background(), CreateProductsCommand{PharmacyID: testPharmacy, Items: items}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected oversized batch to be rejected, got %v", err)
	}

	// The fixture hands out a fixed id, so a second product collides inside the batch.
	_, err := f.svc.CreateProducts(context.Background(), CreateProductsCommand{
		PharmacyID: testPharmacy,
		Items:      []CreateProductCommand{{Name: "a"}, {Name: "b"}},
	})
	if !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected conflict for duplicate ids, got %v", err)
	}
}
