package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/pharmly/api/internal/domain"
	"github.com/pharmly/api/internal/repositories"
)

var errCartRepositoryRequired = errors.New("cart service: repository is required")

const maxCartLineQty = 999

// CartServiceDeps wires the repositories used for cart operations.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil || deps.Products == nil {
		return nil, errCartRepositoryRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{carts: deps.Carts, products: deps.Products, logger: logger}, nil
}

func (s *cartService) GetCart(ctx context.Context, customerID string) (CartView, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return CartView{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, customerID)
	if err != nil {
		return CartView{}, cartErrors.translate(err)
	}
	view := CartView{CustomerID: customerID, Lines: make([]CartLine, 0, len(cart.Items))}
	if len(cart.Items) == 0 {
		return view, nil
	}

	ids := make([]string, len(cart.Items))
	for i, item := range cart.Items {
		ids[i] = item.ProductID
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return CartView{}, cartErrors.translate(err)
	}

	for _, item := range cart.Items {
		line := CartLine{ProductID: item.ProductID, Qty: item.Qty}
		if product, ok := products[item.ProductID]; ok {
			line.Name = product.Name
			line.Price = product.Price
			line.Image = product.Image
			line.Stock = product.Stock
			line.Available = true
			subtotal, ok := domain.MulAmount(product.Price, item.Qty)
			if ok {
				view.Total, ok = domain.AddAmount(view.Total, subtotal)
			}
			if !ok {
				return CartView{}, fmt.Errorf("%w: cart total overflows at product %s", ErrCartInvalidInput, item.ProductID)
			}
		} else {
			line.Name = unknownProductName
		}
		view.Lines = append(view.Lines, line)
	}
	return view, nil
}

// AddItem increments the product's line, creating it when absent.
func (s *cartService) AddItem(ctx context.Context, cmd CartItemCommand) (CartView, error) {
	customerID, productID, err := cartKeys(cmd.CustomerID, cmd.ProductID)
	if err != nil {
		return CartView{}, err
	}
	if cmd.Qty <= 0 || cmd.Qty > maxCartLineQty {
		return CartView{}, fmt.Errorf("%w: qty must be between 1 and %d", ErrCartInvalidInput, maxCartLineQty)
	}
	if err := s.ensureProduct(ctx, productID); err != nil {
		return CartView{}, err
	}

	item, err := s.carts.AddItem(ctx, customerID, productID, cmd.Qty)
	if err != nil {
		return CartView{}, cartErrors.translate(err)
	}
	// Stored lines written by other clients may be out of range; the merged line is
	// clamped to [cmd.Qty, maxCartLineQty].
	if item.Qty > maxCartLineQty || item.Qty < cmd.Qty {
		item.Qty = min(max(item.Qty, cmd.Qty), maxCartLineQty)
		if err := s.carts.SetItem(ctx, customerID, item); err != nil {
			return CartView{}, cartErrors.translate(err)
		}
	}
	return s.GetCart(ctx, customerID)
}

// SetItemQuantity replaces the line quantity. Zero removes the line.
func (s *cartService) SetItemQuantity(ctx context.Context, cmd CartItemCommand) (CartView, error) {
	customerID, productID, err := cartKeys(cmd.CustomerID, cmd.ProductID)
	if err != nil {
		return CartView{}, err
	}
	if cmd.Qty < 0 || cmd.Qty > maxCartLineQty {
		return CartView{}, fmt.Errorf("%w: qty must be between 0 and %d", ErrCartInvalidInput, maxCartLineQty)
	}
	if cmd.Qty == 0 {
		return s.RemoveItem(ctx, customerID, productID)
	}
	if err := s.ensureProduct(ctx, productID); err != nil {
		return CartView{}, err
	}
	if err := s.carts.SetItem(ctx, customerID, CartItem{ProductID: productID, Qty: cmd.Qty}); err != nil {
		return CartView{}, cartErrors.translate(err)
	}
	return s.GetCart(ctx, customerID)
}

func (s *cartService) RemoveItem(ctx context.Context, customerID, productID string) (CartView, error) {
	customerID, productID, err := cartKeys(customerID, productID)
	if err != nil {
		return CartView{}, err
	}
	if err := s.carts.RemoveItem(ctx, customerID, productID); err != nil && !isRepoNotFound(err) {
		return CartView{}, cartErrors.translate(err)
	}
	return s.GetCart(ctx, customerID)
}

func (s *cartService) Clear(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}
	if err := s.carts.Clear(ctx, customerID); err != nil {
		s.logger(ctx, "cart.clear.failed", map[string]any{"customer": customerID, "error": err.Error()})
		return cartErrors.translate(err)
	}
	return nil
}

func (s *cartService) ensureProduct(ctx context.Context, productID string) error {
	if _, err := s.products.FindByID(ctx, productID); err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: product %s", ErrCartProductNotFound, productID)
		}
		return cartErrors.translate(err)
	}
	return nil
}

func cartKeys(customerID, productID string) (string, string, error) {
	customerID = strings.TrimSpace(customerID)
	productID = strings.TrimSpace(productID)
	if customerID == "" {
		return "", "", fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}
	if productID == "" {
		return "", "", fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	return customerID, productID, nil
}
