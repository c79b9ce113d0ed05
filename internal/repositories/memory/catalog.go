package memory

import (
	"context"
	"time"

	domain "github.com/batimat/api/internal/domain"
)

type catalogRepo struct{ s *Store }

func (r catalogRepo) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	defer r.s.acquire(ctx)()
	product, ok := r.s.state.products[productID]
	if !ok {
		return domain.Product{}, notFound("catalog.product", productID)
	}
	return product, nil
}

func (r catalogRepo) GetVariant(ctx context.Context, productID, variantID string) (domain.ProductVariant, error) {
	defer r.s.acquire(ctx)()
	variant, ok := r.s.state.variants[variantKey(productID, variantID)]
	if !ok {
		return domain.ProductVariant{}, notFound("catalog.variant", variantID)
	}
	return variant, nil
}

func (r catalogRepo) GetUnit(ctx context.Context, productID, unitID string) (domain.ProductUnit, error) {
	defer r.s.acquire(ctx)()
	unit, ok := r.s.state.units[variantKey(productID, unitID)]
	if !ok {
		return domain.ProductUnit{}, notFound("catalog.unit", unitID)
	}
	return unit, nil
}

type cartRepo struct{ s *Store }

func (r cartRepo) GetCartItems(ctx context.Context, customerID string) ([]domain.CartItem, error) {
	defer r.s.acquire(ctx)()
	items, ok := r.s.state.carts[customerID]
	if !ok {
		return nil, notFound("carts.get", customerID)
	}
	return append([]domain.CartItem(nil), items...), nil
}

func (r cartRepo) ClearCart(ctx context.Context, customerID string) error {
	defer r.s.acquire(ctx)()
	delete(r.s.state.carts, customerID)
	return nil
}

type pickupRepo struct{ s *Store }

func (r pickupRepo) FindByID(ctx context.Context, locationID string) (domain.PickupLocation, error) {
	defer r.s.acquire(ctx)()
	location, ok := r.s.state.pickups[locationID]
	if !ok {
		return domain.PickupLocation{}, notFound("pickup_locations.get", locationID)
	}
	return location, nil
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(ctx context.Context, scope string, _ time.Time) (int64, error) {
	defer r.s.acquire(ctx)()
	r.s.state.counters[scope]++
	return r.s.state.counters[scope], nil
}
