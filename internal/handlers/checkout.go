package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pharmly/api/internal/platform/auth"
	"github.com/pharmly/api/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// CheckoutHandlers exposes order placement for authenticated customers.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency wraps POST /checkout with the idempotency middleware. It runs after
// authentication so keys are scoped to the customer.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// WithCheckoutRateLimit caps checkouts per customer within window.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newWindowLimiter(limit, window, clock)
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group = group.With(limitPerCaller(h.limiter))
	if h.idempotency != nil {
		group = group.With(h.idempotency)
	}
	group.Post("/", h.checkout)
}

type checkoutItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Qty       int64  `json:"qty"`
}

type checkoutRequest struct {
	PharmacyID    string                `json:"pharmacyId"`
	Items         []checkoutItemRequest `json:"items"`
	Address       string                `json:"address"`
	Phone         string                `json:"phone"`
	PaymentMethod string                `json:"paymentMethod"`
	PaymentRef    string                `json:"paymentRef"`
}

type checkoutResponse struct {
	OrderID string       `json:"orderId"`
	Order   orderPayload `json:"order"`
}

func (h *CheckoutHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "checkout")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeBody(ctx, w, r, maxCheckoutRequestBody, false, &req) {
		return
	}

	cmd := services.CheckoutCommand{
		CustomerID:    identity.UID,
		PharmacyID:    strings.TrimSpace(req.PharmacyID),
		Address:       req.Address,
		Phone:         req.Phone,
		PaymentMethod: req.PaymentMethod,
		PaymentRef:    req.PaymentRef,
	}
	// An absent items field checks out the cart; an explicit empty list is rejected downstream.
	if req.Items != nil {
		cmd.Items = make([]services.CheckoutItem, 0, len(req.Items))
		for _, item := range req.Items {
			qty := item.Quantity
			if qty == 0 {
				qty = item.Qty
			}
			cmd.Items = append(cmd.Items, services.CheckoutItem{ProductID: item.ProductID, Quantity: qty})
		}
	}

	order, err := h.orders.Checkout(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, checkoutResponse{OrderID: order.ID, Order: buildOrderPayload(order)})
}
