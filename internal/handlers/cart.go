package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/pharmly/api/internal/domain"
	"github.com/pharmly/api/internal/platform/auth"
	"github.com/pharmly/api/internal/platform/httpx"
	"github.com/pharmly/api/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes authenticated cart endpoints for the current customer.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{productId}", h.setItem)
	r.Delete("/items/{productId}", h.removeItem)
}

type cartLinePayload struct {
	ProductID string `json:"productId"`
	Qty       int64  `json:"qty"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Subtotal  int64  `json:"subtotal"`
	Image     string `json:"image,omitempty"`
	Stock     int64  `json:"stock"`
	Available bool   `json:"available"`
}

type cartPayload struct {
	Items      []cartLinePayload `json:"items"`
	ItemsCount int               `json:"itemsCount"`
	Total      int64             `json:"total"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Qty       *int64 `json:"qty"`
}

func buildCartPayload(view services.CartView) cartPayload {
	payload := cartPayload{Items: make([]cartLinePayload, 0, len(view.Lines)), Total: view.Total}
	for _, line := range view.Lines {
		subtotal := int64(0)
		if line.Available {
			subtotal, _ = domain.MulAmount(line.Price, line.Qty)
		}
		payload.Items = append(payload.Items, cartLinePayload{
			ProductID: line.ProductID,
			Qty:       line.Qty,
			Name:      line.Name,
			Price:     line.Price,
			Subtotal:  subtotal,
			Image:     line.Image,
			Stock:     line.Stock,
			Available: line.Available,
		})
	}
	payload.ItemsCount = len(payload.Items)
	return payload
}

func (h *CartHandlers) writeCart(w http.ResponseWriter, status int, view services.CartView) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, status, cartResponse{Cart: buildCartPayload(view)})
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req cartItemRequest
	if !decodeBody(ctx, w, r, maxCartBodySize, false, &req) {
		return
	}
	qty := int64(1)
	if req.Qty != nil {
		qty = *req.Qty
	}
	view, err := h.carts.AddItem(ctx, services.CartItemCommand{
		CustomerID: identity.UID,
		ProductID:  strings.TrimSpace(req.ProductID),
		Qty:        qty,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) setItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req cartItemRequest
	if !decodeBody(ctx, w, r, maxCartBodySize, false, &req) {
		return
	}
	if req.Qty == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "qty is required", http.StatusBadRequest))
		return
	}
	view, err := h.carts.SetItemQuantity(ctx, services.CartItemCommand{
		CustomerID: identity.UID,
		ProductID:  strings.TrimSpace(chi.URLParam(r, "productId")),
		Qty:        *req.Qty,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.RemoveItem(ctx, identity.UID, strings.TrimSpace(chi.URLParam(r, "productId")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if err := h.carts.Clear(ctx, identity.UID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
