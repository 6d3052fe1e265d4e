package services

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// BestSellers ranks the pharmacy's products by quantity across all of its orders. Ties go to
// the most recently created product. Results are computed on every call.
func (s *orderService) BestSellers(ctx context.Context, pharmacyID string, limit int) ([]BestSeller, error) {
	pharmacyID = strings.TrimSpace(pharmacyID)
	if pharmacyID == "" {
		return []BestSeller{}, nil
	}
	if limit <= 0 {
		limit = s.bestSellerLimit
	}
	limit = min(limit, maxBestSellerLimit)

	var (
		products []Product
		orders   []Order
	)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		products, err = s.products.ListByPharmacy(gctx, pharmacyID)
		return err
	})
	group.Go(func() error {
		var err error
		orders, err = s.orders.AllByPharmacy(gctx, pharmacyID)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, orderErrors.translate(err)
	}
	return rankBestSellers(products, orders, limit), nil
}

func rankBestSellers(products []Product, orders []Order, limit int) []BestSeller {
	if len(products) == 0 {
		return []BestSeller{}
	}

	totals := make(map[string]int64)
	for _, order := range orders {
		for _, item := range order.Items {
			qty := item.Quantity
			if qty <= 0 {
				qty = 1
			}
			totals[item.ProductID] += qty
		}
	}

	ranked := make([]BestSeller, 0, len(products))
	for _, product := range products {
		ranked = append(ranked, BestSeller{
			ProductID:    product.ID,
			Name:         product.Name,
			QuantitySold: totals[product.ID],
			CreatedAt:    product.CreatedAt,
		})
	}
	slices.SortStableFunc(ranked, func(a, b BestSeller) int {
		if c := cmp.Compare(b.QuantitySold, a.QuantitySold); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
