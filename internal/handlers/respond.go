package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pharmly/api/internal/platform/auth"
	"github.com/pharmly/api/internal/platform/httpx"
	"github.com/pharmly/api/internal/platform/requestctx"
	"github.com/pharmly/api/internal/services"
)

const defaultBodyLimit = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// serviceErrorStatus maps service error codes onto HTTP statuses. Unlisted codes are 500.
var serviceErrorStatus = map[string]int{
	"invalid_input":        http.StatusBadRequest,
	"invalid_status":       http.StatusBadRequest,
	"invalid_quantity":     http.StatusBadRequest,
	"invalid_stock_value":  http.StatusBadRequest,
	"invalid_price_value":  http.StatusBadRequest,
	"product_not_found":    http.StatusNotFound,
	"order_not_found":      http.StatusNotFound,
	"insufficient_stock":   http.StatusConflict,
	"invalid_transition":   http.StatusConflict,
	"transaction_conflict": http.StatusConflict,
	"conflict":             http.StatusConflict,
	"unavailable":          http.StatusServiceUnavailable,
	"timeout":              http.StatusGatewayTimeout,
}

// writeServiceError renders a service error using its code. Internal failures are logged and
// reported without the underlying message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	code := services.ErrorCode(err)
	status, ok := serviceErrorStatus[code]
	if !ok {
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal", "internal server error", http.StatusInternalServerError))
		return
	}
	if status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Warn("service unavailable", zap.String("code", code), zap.Error(err))
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), status))
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

// requireIdentity returns the authenticated caller or writes a 401.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads and strictly decodes a JSON object. It writes the error response and
// returns false on failure. Empty bodies are accepted when allowEmpty is set.
func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, allowEmpty bool, dst any) bool {
	body, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errEmptyBody) && allowEmpty:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	if decoder.More() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must contain a single JSON object", http.StatusBadRequest))
		return false
	}
	return true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
