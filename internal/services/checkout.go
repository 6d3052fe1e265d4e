package services

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/pharmly/api/internal/domain"
	"github.com/pharmly/api/internal/platform/textutil"
	"github.com/pharmly/api/internal/repositories"
)

const (
	maxAddressLength    = 500
	maxPaymentRefLength = 120

	// maxLineQuantity bounds one order line after duplicate lines are merged.
	maxLineQuantity = 10000
)

// Checkout turns the requested items, or the customer's cart when none are given, into a
// placed order. Product reads, the order write and, under the eager policy, the stock
// decrement commit together or not at all.
func (s *orderService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	order, err := s.placeOrder(ctx, cmd)
	s.metrics.recordCheckout(ctx, s.policy, err)
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEventPlaced, order, "", order.CustomerID, map[string]any{
		"policy": s.policy,
		"lines":  len(order.Items),
	})
	if order.StockProcessed {
		s.metrics.recordReservation(ctx, reservationReserved)
		s.publishEvent(ctx, OrderEventStockReserved, order, "", order.CustomerID, nil)
	}
	s.clearCart(ctx, order.CustomerID)
	return order, nil
}

func (s *orderService) placeOrder(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}

	requested := cmd.Items
	if requested == nil {
		fromCart, err := s.cartItems(ctx, customerID)
		if err != nil {
			return Order{}, err
		}
		requested = fromCart
	}
	items, err := normalizeCheckoutItems(requested)
	if err != nil {
		return Order{}, err
	}
	if len(items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}

	address := textutil.CleanLimit(cmd.Address, maxAddressLength)
	if address == "" {
		return Order{}, fmt.Errorf("%w: delivery address is required", ErrOrderInvalidInput)
	}
	phone := textutil.Phone(cmd.Phone)
	if phone == "" {
		return Order{}, fmt.Errorf("%w: phone is required", ErrOrderInvalidInput)
	}
	method, paymentRef, err := parsePayment(cmd.PaymentMethod, cmd.PaymentRef)
	if err != nil {
		return Order{}, err
	}
	pharmacyID, err := s.resolvePharmacy(ctx, cmd.PharmacyID)
	if err != nil {
		return Order{}, err
	}

	eager := s.policy == ReservationPolicyEager
	now := s.clock()
	orderID := s.newID()
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	var created Order
	err = s.ledger.RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		states, err := tx.GetProducts(ctx, ids)
		if err != nil {
			return err
		}
		byID := indexStates(states)

		lines := make([]OrderItem, 0, len(items))
		var total int64
		for _, item := range items {
			state, ok := byID[item.ProductID]
			if !ok || !state.Exists {
				return fmt.Errorf("%w: product %s", ErrProductNotFound, item.ProductID)
			}
			product := state.Product
			if product.PharmacyID != "" && product.PharmacyID != pharmacyID {
				return fmt.Errorf("%w: product %s is not sold by pharmacy %s", ErrOrderInvalidInput, item.ProductID, pharmacyID)
			}
			if !state.PriceValid || product.Price < 0 {
				return fmt.Errorf("%w: product %s has price value %q", ErrInvalidPriceValue, state.ID, state.PriceRaw)
			}
			if eager {
				if err := checkAvailable(state, item.Quantity); err != nil {
					return err
				}
			}
			line := OrderItem{
				ProductID:    product.ID,
				Name:         product.Name,
				PriceAtOrder: product.Price,
				Quantity:     item.Quantity,
				ImageURL:     product.Image,
			}
			subtotal, ok := line.Subtotal()
			if ok {
				total, ok = domain.AddAmount(total, subtotal)
			}
			if !ok {
				return fmt.Errorf("%w: order total overflows at product %s", ErrOrderInvalidInput, item.ProductID)
			}
			lines = append(lines, line)
		}

		order := Order{
			ID:             orderID,
			CustomerID:     customerID,
			PharmacyID:     pharmacyID,
			Items:          lines,
			Total:          total,
			Address:        address,
			Phone:          phone,
			PaymentMethod:  method,
			PaymentRef:     paymentRef,
			Paid:           false,
			Status:         domain.OrderStatusPlaced,
			StockProcessed: eager,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateOrder(order); err != nil {
			return err
		}
		if eager {
			for _, item := range items {
				stock, sold, err := reservedCounters(byID[item.ProductID], item.Quantity)
				if err != nil {
					return err
				}
				if err := tx.SetProductCounters(item.ProductID, stock, sold); err != nil {
					return err
				}
			}
		}
		created = order
		return nil
	})
	if err != nil {
		return Order{}, orderErrors.translate(err)
	}
	return created, nil
}

func (s *orderService) cartItems(ctx context.Context, customerID string) ([]CheckoutItem, error) {
	if s.carts == nil {
		return nil, fmt.Errorf("%w: items are required", ErrOrderInvalidInput)
	}
	cart, err := s.carts.GetCart(ctx, customerID)
	if err != nil {
		if isRepoNotFound(err) {
			return []CheckoutItem{}, nil
		}
		return nil, orderErrors.translate(err)
	}
	items := make([]CheckoutItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, CheckoutItem{ProductID: item.ProductID, Quantity: item.Qty})
	}
	return items, nil
}

// clearCart runs after the order has committed. It is detached from request cancellation
// and its failure never fails the checkout.
func (s *orderService) clearCart(ctx context.Context, customerID string) {
	if s.carts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cartClearTimeout)
	defer cancel()
	if err := s.carts.Clear(ctx, customerID); err != nil {
		s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
			"customer": customerID,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) resolvePharmacy(ctx context.Context, requested string) (string, error) {
	if id := strings.TrimSpace(requested); id != "" {
		return id, nil
	}
	if s.pharmacies == nil {
		return "", fmt.Errorf("%w: pharmacy id is required", ErrOrderInvalidInput)
	}
	id, err := s.pharmacies.DefaultPharmacyID(ctx)
	if err != nil {
		return "", orderErrors.translate(err)
	}
	if id = strings.TrimSpace(id); id == "" {
		return "", fmt.Errorf("%w: pharmacy id is required and no default pharmacy is configured", ErrOrderInvalidInput)
	}
	return id, nil
}

// normalizeCheckoutItems drops lines without a product or with a non-positive quantity and
// merges repeated products, keeping first-seen order. A line above maxLineQuantity, before or
// after merging, rejects the whole request.
func normalizeCheckoutItems(items []CheckoutItem) ([]CheckoutItem, error) {
	merged := make([]CheckoutItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || item.Quantity <= 0 {
			continue
		}
		if item.Quantity > maxLineQuantity {
			return nil, fmt.Errorf("%w: quantity for product %s exceeds %d", ErrOrderInvalidInput, productID, maxLineQuantity)
		}
		if i, ok := index[productID]; ok {
			// Both operands are at most maxLineQuantity, so the sum cannot wrap.
			merged[i].Quantity += item.Quantity
			if merged[i].Quantity > maxLineQuantity {
				return nil, fmt.Errorf("%w: combined quantity for product %s exceeds %d", ErrOrderInvalidInput, productID, maxLineQuantity)
			}
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, CheckoutItem{ProductID: productID, Quantity: item.Quantity})
	}
	return merged, nil
}

func parsePayment(method, ref string) (PaymentMethod, string, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(method))) {
	case "", domain.PaymentMethodDelivery:
		return domain.PaymentMethodDelivery, "", nil
	case domain.PaymentMethodTransfer:
		return domain.PaymentMethodTransfer, textutil.CleanLimit(ref, maxPaymentRefLength), nil
	default:
		return "", "", fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, method)
	}
}

func indexStates(states []repositories.ProductState) map[string]repositories.ProductState {
	byID := make(map[string]repositories.ProductState, len(states))
	for _, state := range states {
		byID[state.ID] = state
	}
	return byID
}

// reservedCounters returns the stock and sold values after taking qty from state.
func reservedCounters(state repositories.ProductState, qty int64) (int64, int64, error) {
	if err := checkAvailable(state, qty); err != nil {
		return 0, 0, err
	}
	sold, ok := domain.AddAmount(state.Product.Sold, qty)
	if !ok {
		return 0, 0, fmt.Errorf("%w: product %s sold counter %d cannot take %d more", ErrInvalidStockValue, state.ID, state.Product.Sold, qty)
	}
	return state.Product.Stock - qty, sold, nil
}

// checkAvailable validates that state holds a usable stock value covering qty.
func checkAvailable(state repositories.ProductState, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: product %s requested %d", ErrInvalidQuantity, state.ID, qty)
	}
	if !state.StockValid {
		return fmt.Errorf("%w: product %s has stock value %q", ErrInvalidStockValue, state.ID, state.StockRaw)
	}
	if state.Product.Stock < qty {
		return fmt.Errorf("%w: product %s (%s) requested %d, available %d",
			ErrInsufficientStock, state.ID, state.Product.Name, qty, state.Product.Stock)
	}
	return nil
}
