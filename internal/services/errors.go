package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/pharmly/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the request failed validation.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrProductNotFound indicates an ordered product does not exist.
	ErrProductNotFound = errors.New("order: product not found")
	// ErrInvalidQuantity indicates a stored order line carries a non-positive quantity.
	ErrInvalidQuantity = errors.New("order: invalid quantity")
	// ErrInvalidStockValue indicates a product's stored stock is not a whole number.
	ErrInvalidStockValue = errors.New("order: invalid stock value")
	// ErrInvalidPriceValue indicates a product's stored price is not a non-negative whole number.
	ErrInvalidPriceValue = errors.New("order: invalid price value")
	// ErrInsufficientStock indicates a product cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrInvalidTransition indicates the requested status change is not allowed.
	ErrInvalidTransition = errors.New("order: invalid transition")
	// ErrInvalidStatus indicates the requested status is not recognised.
	ErrInvalidStatus = errors.New("order: invalid status")
	// ErrTransactionConflict indicates the store gave up retrying a contended transaction.
	ErrTransactionConflict = errors.New("order: transaction conflict")
	// ErrOrderUnavailable indicates the order store cannot be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")

	// ErrCartInvalidInput indicates the cart request failed validation.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartProductNotFound indicates the product added to the cart does not exist.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartUnavailable indicates the cart store cannot be reached.
	ErrCartUnavailable = errors.New("cart: unavailable")

	// ErrCatalogInvalidInput indicates the product payload failed validation.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product does not exist or belongs to another pharmacy.
	ErrCatalogNotFound = errors.New("catalog: product not found")
	// ErrCatalogConflict indicates the product already exists.
	ErrCatalogConflict = errors.New("catalog: conflict")
	// ErrCatalogUnavailable indicates the catalog store or image storage is unavailable.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
)

// repositoryErrorMapping lists the sentinels a service uses for each repository category.
type repositoryErrorMapping struct {
	notFound    error
	conflict    error
	unavailable error
}

var (
	orderErrors   = repositoryErrorMapping{notFound: ErrOrderNotFound, conflict: ErrTransactionConflict, unavailable: ErrOrderUnavailable}
	cartErrors    = repositoryErrorMapping{notFound: ErrCartProductNotFound, conflict: ErrCartUnavailable, unavailable: ErrCartUnavailable}
	catalogErrors = repositoryErrorMapping{notFound: ErrCatalogNotFound, conflict: ErrCatalogConflict, unavailable: ErrCatalogUnavailable}
)

// translate maps repository failures onto service sentinels. Errors that already carry a
// service sentinel, context errors and unclassified errors pass through unchanged.
func (m repositoryErrorMapping) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) {
		return err
	}
	switch {
	case repoErr.IsNotFound():
		return fmt.Errorf("%w: %s", m.notFound, repoErr.Error())
	case repoErr.IsConflict():
		return fmt.Errorf("%w: %s", m.conflict, repoErr.Error())
	case repoErr.IsUnavailable():
		return fmt.Errorf("%w: %s", m.unavailable, repoErr.Error())
	default:
		return err
	}
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrOrderInvalidInput, "invalid_input"},
	{ErrCartInvalidInput, "invalid_input"},
	{ErrCatalogInvalidInput, "invalid_input"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrProductNotFound, "product_not_found"},
	{ErrCartProductNotFound, "product_not_found"},
	{ErrCatalogNotFound, "product_not_found"},
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrInvalidStockValue, "invalid_stock_value"},
	{ErrInvalidPriceValue, "invalid_price_value"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrInvalidStatus, "invalid_status"},
	{ErrTransactionConflict, "transaction_conflict"},
	{ErrCatalogConflict, "conflict"},
	{ErrOrderUnavailable, "unavailable"},
	{ErrCartUnavailable, "unavailable"},
	{ErrCatalogUnavailable, "unavailable"},
}

// ErrorCode returns the machine readable code for a service error, or "internal".
func ErrorCode(err error) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "internal"
}
