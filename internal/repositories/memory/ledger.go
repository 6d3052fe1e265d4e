package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/pharmly/api/internal/domain"
	"github.com/pharmly/api/internal/repositories"
)

// errStale marks an attempt whose read set changed before commit.
var errStale = errors.New("memory ledger: read set changed")

// RunLedgerTx runs fn against a snapshot and commits only if every record it read is still at
// the version it saw. Stale attempts are retried up to the configured attempt budget.
func (s *Store) RunLedgerTx(ctx context.Context, fn func(ctx context.Context, tx repositories.LedgerTx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &ledgerTx{
			store:         s,
			orderReads:    make(map[string]uint64),
			productReads:  make(map[string]uint64),
			productWrites: make(map[string][2]int64),
			orderUpdates:  make(map[string][]repositories.OrderUpdate),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if s.beforeCommit != nil {
			s.beforeCommit()
		}
		err := tx.commit()
		if errors.Is(err, errStale) {
			continue
		}
		return err
	}
	return conflict("ledger.commit", fmt.Sprintf("transaction aborted after %d attempts", s.maxAttempts))
}

type ledgerTx struct {
	store *Store
	wrote bool

	// version 0 records that the document was absent when read.
	orderReads   map[string]uint64
	productReads map[string]uint64

	creates       []domain.Order
	orderUpdates  map[string][]repositories.OrderUpdate
	orderSeq      []string
	productWrites map[string][2]int64
	productSeq    []string
}

func (t *ledgerTx) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	if t.wrote {
		return domain.Order{}, repositories.ErrReadAfterWrite
	}
	t.store.mu.RLock()
	rec, ok := t.store.orders[orderID]
	t.store.mu.RUnlock()
	if !ok {
		t.orderReads[orderID] = 0
		return domain.Order{}, notFound("orders.get", "order", orderID)
	}
	t.orderReads[orderID] = rec.version
	return cloneOrder(rec.order), nil
}

func (t *ledgerTx) GetProducts(_ context.Context, productIDs []string) ([]repositories.ProductState, error) {
	if t.wrote {
		return nil, repositories.ErrReadAfterWrite
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	states := make([]repositories.ProductState, len(productIDs))
	for i, id := range productIDs {
		id = strings.TrimSpace(id)
		rec, ok := t.store.products[id]
		if !ok {
			t.productReads[id] = 0
			states[i] = repositories.ProductState{ID: id}
			continue
		}
		t.productReads[id] = rec.version
		states[i] = rec.state()
	}
	return states, nil
}

func (t *ledgerTx) CreateOrder(order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("memory ledger: order id is required")
	}
	t.wrote = true
	t.creates = append(t.creates, cloneOrder(order))
	return nil
}

func (t *ledgerTx) UpdateOrder(orderID string, update repositories.OrderUpdate) error {
	t.wrote = true
	if _, seen := t.orderUpdates[orderID]; !seen {
		t.orderSeq = append(t.orderSeq, orderID)
	}
	t.orderUpdates[orderID] = append(t.orderUpdates[orderID], update)
	return nil
}

func (t *ledgerTx) SetProductCounters(productID string, stock, sold int64) error {
	t.wrote = true
	if _, seen := t.productWrites[productID]; !seen {
		t.productSeq = append(t.productSeq, productID)
	}
	t.productWrites[productID] = [2]int64{stock, sold}
	return nil
}

func (t *ledgerTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, version := range t.orderReads {
		if s.orders[id].version != version {
			return errStale
		}
	}
	for id, version := range t.productReads {
		if s.products[id].version != version {
			return errStale
		}
	}

	// Validate every write before applying any of them so a failed commit changes nothing.
	for _, order := range t.creates {
		if _, exists := s.orders[order.ID]; exists {
			return conflict("orders.create", fmt.Sprintf("order %s already exists", order.ID))
		}
	}
	for _, id := range t.orderSeq {
		if _, exists := s.orders[id]; !exists {
			return notFound("orders.update", "order", id)
		}
	}
	for _, id := range t.productSeq {
		if _, exists := s.products[id]; !exists {
			return notFound("products.update", "product", id)
		}
	}

	for _, order := range t.creates {
		s.orders[order.ID] = orderRecord{order: order, version: 1}
	}
	for _, id := range t.orderSeq {
		rec := s.orders[id]
		for _, update := range t.orderUpdates[id] {
			applyOrderUpdate(&rec.order, update)
		}
		rec.version++
		s.orders[id] = rec
	}
	for _, id := range t.productSeq {
		rec := s.products[id]
		counters := t.productWrites[id]
		rec.stock = counters[0]
		rec.product.Sold = counters[1]
		rec.version++
		s.products[id] = rec
	}
	return nil
}

func applyOrderUpdate(order *domain.Order, update repositories.OrderUpdate) {
	if update.Status != nil {
		order.Status = *update.Status
	}
	if update.StockProcessed != nil {
		order.StockProcessed = *update.StockProcessed
	}
	if update.Paid != nil {
		order.Paid = *update.Paid
	}
	if !update.UpdatedAt.IsZero() {
		order.UpdatedAt = update.UpdatedAt
	}
}
