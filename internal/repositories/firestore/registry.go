package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/pharmly/api/internal/platform/firestore"
	"github.com/pharmly/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider   *pfirestore.Provider
	products   *ProductRepository
	carts      *CartRepository
	orders     *OrderRepository
	ledger     *Ledger
	pharmacies *PharmacyRepository
}

// NewRegistry wires every Firestore repository onto one provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedger(provider)
	if err != nil {
		return nil, err
	}
	pharmacies, err := NewPharmacyRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:   provider,
		products:   products,
		carts:      carts,
		orders:     orders,
		ledger:     ledger,
		pharmacies: pharmacies,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error          { return r.provider.Close(ctx) }
func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Carts() repositories.CartRepository         { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Ledger() repositories.OrderLedger           { return r.ledger }
func (r *Registry) Pharmacies() repositories.PharmacyRepository { return r.pharmacies }

var _ repositories.Registry = (*Registry)(nil)
