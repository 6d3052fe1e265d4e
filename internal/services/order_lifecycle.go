package services

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/pharmly/api/internal/domain"
	"github.com/pharmly/api/internal/repositories"
)

type transitionResult struct {
	order    Order
	previous OrderStatus
	changed  bool
	reserved bool
}

// ReserveStockAndAdvance decrements stock for every line and moves the order to processing
// in one commit. Orders whose stock was already processed are only moved to processing,
// whatever their current status, so repeated calls never decrement twice.
func (s *orderService) ReserveStockAndAdvance(ctx context.Context, cmd OrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var result transitionResult
	err := s.ledger.RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		r, err := s.reserveInTx(ctx, tx, orderID, cmd.PharmacyID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		s.metrics.recordReservation(ctx, reservationRejected)
		return Order{}, orderErrors.translate(err)
	}

	if result.reserved {
		s.metrics.recordReservation(ctx, reservationReserved)
		s.publishEvent(ctx, OrderEventStockReserved, result.order, result.previous, cmd.ActorID, nil)
	} else {
		s.metrics.recordReservation(ctx, reservationReplayed)
	}
	s.afterTransition(ctx, result, cmd.ActorID)
	return result.order, nil
}

func (s *orderService) reserveInTx(ctx context.Context, tx repositories.LedgerTx, orderID, scope string) (transitionResult, error) {
	order, err := loadOrder(ctx, tx, orderID, scope)
	if err != nil {
		return transitionResult{}, err
	}
	now := s.clock()
	previous := order.Status
	processing := domain.OrderStatusProcessing

	if order.StockProcessed {
		if err := tx.UpdateOrder(order.ID, repositories.OrderUpdate{Status: &processing, UpdatedAt: now}); err != nil {
			return transitionResult{}, err
		}
		order.Status = processing
		order.UpdatedAt = now
		return transitionResult{order: order, previous: previous, changed: previous != processing}, nil
	}

	if previous != domain.OrderStatusPlaced {
		return transitionResult{}, fmt.Errorf("%w: order %s is %s; stock can only be reserved for placed orders", ErrInvalidTransition, orderID, previous)
	}
	if len(order.Items) == 0 {
		return transitionResult{}, fmt.Errorf("%w: order %s has no items", ErrOrderInvalidInput, orderID)
	}

	ids := make([]string, 0, len(order.Items))
	quantities := make(map[string]int64, len(order.Items))
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			return transitionResult{}, fmt.Errorf("%w: order %s line for product %s has quantity %d", ErrInvalidQuantity, orderID, item.ProductID, item.Quantity)
		}
		current, seen := quantities[item.ProductID]
		if !seen {
			ids = append(ids, item.ProductID)
		}
		sum, ok := domain.AddAmount(current, item.Quantity)
		if !ok {
			return transitionResult{}, fmt.Errorf("%w: order %s quantities for product %s overflow", ErrInvalidQuantity, orderID, item.ProductID)
		}
		quantities[item.ProductID] = sum
	}

	states, err := tx.GetProducts(ctx, ids)
	if err != nil {
		return transitionResult{}, err
	}
	byID := indexStates(states)
	counters := make(map[string][2]int64, len(ids))
	for _, id := range ids {
		state, ok := byID[id]
		if !ok || !state.Exists {
			return transitionResult{}, fmt.Errorf("%w: product %s in order %s", ErrProductNotFound, id, orderID)
		}
		stock, sold, err := reservedCounters(state, quantities[id])
		if err != nil {
			return transitionResult{}, err
		}
		counters[id] = [2]int64{stock, sold}
	}

	for _, id := range ids {
		if err := tx.SetProductCounters(id, counters[id][0], counters[id][1]); err != nil {
			return transitionResult{}, err
		}
	}
	stockProcessed := true
	if err := tx.UpdateOrder(order.ID, repositories.OrderUpdate{Status: &processing, StockProcessed: &stockProcessed, UpdatedAt: now}); err != nil {
		return transitionResult{}, err
	}
	order.Status = processing
	order.StockProcessed = true
	order.UpdatedAt = now
	return transitionResult{order: order, previous: previous, changed: true, reserved: true}, nil
}

// SetStatus applies a status change. Processing goes through stock reservation; every other
// target, placed included, is a plain status write from any current status without stock
// side effects. Cancelling does not restock.
func (s *orderService) SetStatus(ctx context.Context, cmd SetStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(cmd.Status)
	if !ok {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, cmd.Status)
	}
	if target == domain.OrderStatusProcessing {
		return s.ReserveStockAndAdvance(ctx, OrderCommand{OrderID: orderID, PharmacyID: cmd.PharmacyID, ActorID: cmd.ActorID})
	}

	var result transitionResult
	err := s.ledger.RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		order, err := loadOrder(ctx, tx, orderID, cmd.PharmacyID)
		if err != nil {
			return err
		}
		now := s.clock()
		if err := tx.UpdateOrder(order.ID, repositories.OrderUpdate{Status: &target, UpdatedAt: now}); err != nil {
			return err
		}
		previous := order.Status
		order.Status = target
		order.UpdatedAt = now
		result = transitionResult{order: order, previous: previous, changed: previous != target}
		return nil
	})
	if err != nil {
		return Order{}, orderErrors.translate(err)
	}
	s.afterTransition(ctx, result, cmd.ActorID)
	return result.order, nil
}

// MarkPaid records payment. It changes nothing but the paid flag and updatedAt.
func (s *orderService) MarkPaid(ctx context.Context, cmd OrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		paidOrder Order
		changed   bool
	)
	err := s.ledger.RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		order, err := loadOrder(ctx, tx, orderID, cmd.PharmacyID)
		if err != nil {
			return err
		}
		changed = false
		if !order.Paid {
			now := s.clock()
			paid := true
			if err := tx.UpdateOrder(order.ID, repositories.OrderUpdate{Paid: &paid, UpdatedAt: now}); err != nil {
				return err
			}
			order.Paid = true
			order.UpdatedAt = now
			changed = true
		}
		paidOrder = order
		return nil
	})
	if err != nil {
		return Order{}, orderErrors.translate(err)
	}
	if changed {
		s.publishEvent(ctx, OrderEventPaid, paidOrder, "", cmd.ActorID, map[string]any{
			"paymentMethod": string(paidOrder.PaymentMethod),
		})
	}
	return paidOrder, nil
}

func (s *orderService) afterTransition(ctx context.Context, result transitionResult, actorID string) {
	if !result.changed {
		return
	}
	s.metrics.recordStatusChange(ctx, result.order.Status)
	s.publishEvent(ctx, OrderEventStatusChanged, result.order, result.previous, actorID, nil)
	s.logger(ctx, "order.status_changed", map[string]any{
		"order":    result.order.ID,
		"from":     string(result.previous),
		"to":       string(result.order.Status),
		"actor":    actorID,
		"reserved": result.reserved,
	})
}

// loadOrder reads the order inside tx. A non-empty scope hides orders of other pharmacies.
func loadOrder(ctx context.Context, tx repositories.LedgerTx, orderID, scope string) (Order, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
		}
		return Order{}, err
	}
	if !visibleTo(order, "", scope) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}
