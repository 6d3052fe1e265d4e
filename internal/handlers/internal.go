package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pharmly/api/internal/platform/auth"
	"github.com/pharmly/api/internal/services"
)

const internalActorFallback = "system"

// InternalHandlers serves server-to-server endpoints. Authentication is applied by the
// router's internal middleware chain.
type InternalHandlers struct {
	orders services.OrderService
	system services.SystemService
}

// NewInternalHandlers constructs the internal endpoint handlers.
func NewInternalHandlers(orders services.OrderService, system services.SystemService) *InternalHandlers {
	return &InternalHandlers{orders: orders, system: system}
}

// Routes registers /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderId}/reserve", h.reserve)
	r.Post("/maintenance/idempotency-cleanup", h.cleanupIdempotency)
}

// reserve lets schedulers and queue consumers retry reservation. Replays of an already
// reserved order answer 200 without touching stock.
func (h *InternalHandlers) reserve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	order, err := h.orders.ReserveStockAndAdvance(ctx, services.OrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderId")),
		ActorID: internalActor(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		writeUnavailable(ctx, w, "system")
		return
	}
	removed, err := h.system.CleanupIdempotencyKeys(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"removed": removed})
}

func internalActor(r *http.Request) string {
	if svc, ok := auth.ServiceIdentityFromContext(r.Context()); ok {
		if svc.Email != "" {
			return svc.Email
		}
		if svc.Subject != "" {
			return svc.Subject
		}
	}
	return internalActorFallback
}
