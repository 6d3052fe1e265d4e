package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pharmly/api/internal/platform/auth"
	"github.com/pharmly/api/internal/platform/httpx"
	pstorage "github.com/pharmly/api/internal/platform/storage"
	"github.com/pharmly/api/internal/services"
)

const (
	maxProductBodySize      = 32 * 1024
	maxProductBatchBodySize = 512 * 1024
)

// PharmacyHandlers exposes operator endpoints for staff and admins: catalog maintenance,
// order fulfilment and reporting.
type PharmacyHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	catalog services.CatalogService
}

// NewPharmacyHandlers constructs pharmacy handlers restricted to the staff and admin roles.
func NewPharmacyHandlers(authn *auth.Authenticator, orders services.OrderService, catalog services.CatalogService) *PharmacyHandlers {
	return &PharmacyHandlers{authn: authn, orders: orders, catalog: catalog}
}

// Routes registers /pharmacy endpoints.
func (h *PharmacyHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.PharmacyRoles...))
	}

	r.Post("/products", h.createProduct)
	r.Post("/products:batch", h.createProducts)
	r.Patch("/products/{productId}", h.updateProduct)
	r.Delete("/products/{productId}", h.deleteProduct)
	r.Post("/products/{productId}/image-upload", h.createImageUpload)

	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderId}", h.getOrder)
	r.Post("/orders/{orderId}/status", h.setStatus)
	r.Post("/orders/{orderId}/reserve", h.reserve)
	r.Post("/orders/{orderId}/paid", h.markPaid)

	r.Get("/best-sellers", h.bestSellers)
}

// operator returns the caller and the pharmacy its request is scoped to. Staff bound to a
// pharmacy are pinned to it; admins and unbound staff use the requested pharmacy, which may
// be empty.
func (h *PharmacyHandlers) operator(ctx context.Context, w http.ResponseWriter, requested string) (*auth.Identity, string, bool) {
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, "", false
	}
	if !identity.HasAnyRole(auth.PharmacyRoles...) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "pharmacy role required", http.StatusForbidden))
		return nil, "", false
	}
	requested = strings.TrimSpace(requested)
	bound := strings.TrimSpace(identity.PharmacyID)
	if identity.HasRole(auth.RoleAdmin) || bound == "" {
		return identity, requested, true
	}
	if requested != "" && requested != bound {
		httpx.WriteError(ctx, w, httpx.NewError("pharmacy_forbidden", "caller is not a member of the requested pharmacy", http.StatusForbidden))
		return nil, "", false
	}
	return identity, bound, true
}

type createProductRequest struct {
	PharmacyID string `json:"pharmacyId"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
	Stock      int64  `json:"stock"`
	SKU        string `json:"sku"`
	Category   string `json:"category"`
	Image      string `json:"image"`
}

type createProductsRequest struct {
	PharmacyID string                 `json:"pharmacyId"`
	Items      []createProductRequest `json:"items"`
}

type createProductsResponse struct {
	Items []productPayload `json:"items"`
}

type updateProductRequest struct {
	Name     *string `json:"name"`
	Price    *int64  `json:"price"`
	SKU      *string `json:"sku"`
	Category *string `json:"category"`
	Image    *string `json:"image"`
}

type imageUploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type imageUploadResponse struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ObjectURL string            `json:"objectUrl"`
	Object    string            `json:"object"`
	ExpiresAt string            `json:"expiresAt,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type bestSellerPayload struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	QuantitySold int64  `json:"quantitySold"`
}

type bestSellersResponse struct {
	Items []bestSellerPayload `json:"items"`
}

func (h *PharmacyHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	var req createProductRequest
	if !decodeBody(ctx, w, r, maxProductBodySize, false, &req) {
		return
	}
	identity, scope, ok := h.operator(ctx, w, req.PharmacyID)
	if !ok {
		return
	}
	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		PharmacyID: scope,
		ActorID:    identity.UID,
		Name:       req.Name,
		Price:      req.Price,
		Stock:      req.Stock,
		SKU:        req.SKU,
		Category:   req.Category,
		Image:      req.Image,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/products/"+product.ID)
	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *PharmacyHandlers) createProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	var req createProductsRequest
	if !decodeBody(ctx, w, r, maxProductBatchBodySize, false, &req) {
		return
	}
	identity, scope, ok := h.operator(ctx, w, req.PharmacyID)
	if !ok {
		return
	}
	cmd := services.CreateProductsCommand{
		PharmacyID: scope,
		ActorID:    identity.UID,
		Items:      make([]services.CreateProductCommand, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateProductCommand{
			Name:     item.Name,
			Price:    item.Price,
			Stock:    item.Stock,
			SKU:      item.SKU,
			Category: item.Category,
			Image:    item.Image,
		})
	}
	products, err := h.catalog.CreateProducts(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := createProductsResponse{Items: make([]productPayload, 0, len(products))}
	for _, product := range products {
		resp.Items = append(resp.Items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

func (h *PharmacyHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	identity, scope, ok := h.operator(ctx, w, "")
	if !ok {
		return
	}
	var req updateProductRequest
	if !decodeBody(ctx, w, r, maxProductBodySize, false, &req) {
		return
	}
	product, err := h.catalog.UpdateProduct(ctx, services.UpdateProductCommand{
		ProductID:  strings.TrimSpace(chi.URLParam(r, "productId")),
		PharmacyID: scope,
		ActorID:    identity.UID,
		Name:       req.Name,
		Price:      req.Price,
		SKU:        req.SKU,
		Category:   req.Category,
		Image:      req.Image,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *PharmacyHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	identity, scope, ok := h.operator(ctx, w, "")
	if !ok {
		return
	}
	err := h.catalog.DeleteProduct(ctx, services.DeleteProductCommand{
		ProductID:  strings.TrimSpace(chi.URLParam(r, "productId")),
		PharmacyID: scope,
		ActorID:    identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PharmacyHandlers) createImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	identity, scope, ok := h.operator(ctx, w, "")
	if !ok {
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	var req imageUploadRequest
	if !decodeBody(ctx, w, r, maxProductBodySize, false, &req) {
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if err := pstorage.AuthorizeProductImage(identity, product.PharmacyID); err != nil {
		if errors.Is(err, pstorage.ErrPermissionDenied) {
			httpx.WriteError(ctx, w, httpx.NewError("pharmacy_forbidden", "caller may not upload images for this product", http.StatusForbidden))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}

	upload, err := h.catalog.CreateImageUpload(ctx, services.ImageUploadCommand{
		ProductID:   productID,
		PharmacyID:  scope,
		FileName:    req.FileName,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, imageUploadResponse{
		UploadURL: upload.UploadURL,
		Method:    upload.Method,
		Headers:   upload.Headers,
		ObjectURL: upload.ObjectURL,
		Object:    upload.Object,
		ExpiresAt: formatTime(upload.ExpiresAt),
	})
}

func (h *PharmacyHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	query := r.URL.Query()
	_, scope, ok := h.operator(ctx, w, query.Get("pharmacyId"))
	if !ok {
		return
	}
	params, ok := pageParams(w, r)
	if !ok {
		return
	}
	var statuses []string
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, part)
			}
		}
	}
	page, err := h.orders.ListPharmacyOrders(ctx, services.PharmacyOrderFilter{
		PharmacyID: scope,
		Statuses:   statuses,
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page.Items, page.NextPageToken))
}

func (h *PharmacyHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	_, scope, ok := h.operator(ctx, w, "")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, services.OrderQuery{
		OrderID:    strings.TrimSpace(chi.URLParam(r, "orderId")),
		PharmacyID: scope,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *PharmacyHandlers) setStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, scope, ok := h.operator(ctx, w, "")
	if !ok {
		return
	}
	var req statusRequest
	if !decodeBody(ctx, w, r, maxProductBodySize, false, &req) {
		return
	}
	order, err := h.orders.SetStatus(ctx, services.SetStatusCommand{
		OrderID:    strings.TrimSpace(chi.URLParam(r, "orderId")),
		PharmacyID: scope,
		ActorID:    identity.UID,
		Status:     req.Status,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *PharmacyHandlers) reserve(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeUnavailable(r.Context(), w, "order")
		return
	}
	h.orderCommand(w, r, h.orders.ReserveStockAndAdvance)
}

func (h *PharmacyHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeUnavailable(r.Context(), w, "order")
		return
	}
	h.orderCommand(w, r, h.orders.MarkPaid)
}

func (h *PharmacyHandlers) orderCommand(w http.ResponseWriter, r *http.Request, run func(context.Context, services.OrderCommand) (services.Order, error)) {
	ctx := r.Context()
	identity, scope, ok := h.operator(ctx, w, "")
	if !ok {
		return
	}
	order, err := run(ctx, services.OrderCommand{
		OrderID:    strings.TrimSpace(chi.URLParam(r, "orderId")),
		PharmacyID: scope,
		ActorID:    identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *PharmacyHandlers) bestSellers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	query := r.URL.Query()
	_, scope, ok := h.operator(ctx, w, query.Get("pharmacyId"))
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = value
	}
	sellers, err := h.orders.BestSellers(ctx, scope, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := bestSellersResponse{Items: make([]bestSellerPayload, 0, len(sellers))}
	for _, seller := range sellers {
		resp.Items = append(resp.Items, bestSellerPayload{
			ProductID:    seller.ProductID,
			Name:         seller.Name,
			QuantitySold: seller.QuantitySold,
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
