package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/pharmly/api/internal/domain"
	pfirestore "github.com/pharmly/api/internal/platform/firestore"
	"github.com/pharmly/api/internal/repositories"
)

// Ledger runs order lifecycle transactions on Firestore. Contention is retried by the client
// up to the provider's configured attempt budget.
type Ledger struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[domain.Order]
	products *pfirestore.Collection[productDocument]
	txOpts   []pfirestore.TxOption
}

// NewLedger constructs the Firestore order ledger.
func NewLedger(provider *pfirestore.Provider, opts ...pfirestore.TxOption) (*Ledger, error) {
	if provider == nil {
		return nil, errors.New("order ledger requires firestore provider")
	}
	return &Ledger{
		provider: provider,
		orders:   pfirestore.NewCollection[domain.Order](provider, ordersCollection, decodeOrder),
		products: pfirestore.NewCollection[productDocument](provider, productsCollection, nil),
		txOpts:   opts,
	}, nil
}

func (l *Ledger) RunLedgerTx(ctx context.Context, fn func(ctx context.Context, tx repositories.LedgerTx) error) error {
	return l.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &ledgerTx{ledger: l, ctx: ctx, tx: tx})
	}, l.txOpts...)
}

type ledgerTx struct {
	ledger *Ledger
	ctx    context.Context
	tx     *firestore.Transaction
	wrote  bool
}

func (t *ledgerTx) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if t.wrote {
		return domain.Order{}, repositories.ErrReadAfterWrite
	}
	ref, err := t.ledger.orders.Doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := t.tx.Get(ref)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		return domain.Order{}, err
	}
	doc, err := t.ledger.orders.Decode(snap)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data, nil
}

// GetProducts reads all products in a single batched transactional read. The result follows
// the order of productIDs; missing products are returned with Exists=false.
func (t *ledgerTx) GetProducts(ctx context.Context, productIDs []string) ([]repositories.ProductState, error) {
	if t.wrote {
		return nil, repositories.ErrReadAfterWrite
	}
	if len(productIDs) == 0 {
		return nil, nil
	}
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		ref, err := t.ledger.products.Doc(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	snaps, err := t.tx.GetAll(refs)
	if err != nil {
		return nil, err
	}
	states := make([]repositories.ProductState, len(snaps))
	for i, snap := range snaps {
		id := strings.TrimSpace(productIDs[i])
		if !snap.Exists() {
			states[i] = repositories.ProductState{ID: id}
			continue
		}
		doc, err := t.ledger.products.Decode(snap)
		if err != nil {
			return nil, err
		}
		states[i] = doc.Data.state(doc.ID)
	}
	return states, nil
}

func (t *ledgerTx) CreateOrder(order domain.Order) error {
	ref, err := t.ledger.orders.Doc(t.ctx, order.ID)
	if err != nil {
		return err
	}
	t.wrote = true
	return t.tx.Create(ref, newOrderDocument(order))
}

func (t *ledgerTx) UpdateOrder(orderID string, update repositories.OrderUpdate) error {
	ref, err := t.ledger.orders.Doc(t.ctx, orderID)
	if err != nil {
		return err
	}
	t.wrote = true
	return t.tx.Update(ref, orderUpdates(update))
}

func (t *ledgerTx) SetProductCounters(productID string, stock, sold int64) error {
	ref, err := t.ledger.products.Doc(t.ctx, productID)
	if err != nil {
		return err
	}
	t.wrote = true
	return t.tx.Update(ref, []firestore.Update{
		{Path: "stock", Value: stock},
		{Path: "sold", Value: sold},
	})
}

var _ repositories.OrderLedger = (*Ledger)(nil)
