package domain

import "time"

// Product is the catalog view consumed by checkout.
type Product struct {
	ID              string
	Name            string
	Published       bool
	DeletedAt       *time.Time
	BasePrice       int64
	PromoPercent    float64
	RequiresVariant bool
	WeightKg        float64
	CostBasis       int64
}

// Sellable reports whether the product may be ordered.
func (p Product) Sellable() bool {
	return p.Published && p.DeletedAt == nil
}

// ProductVariant is an optional selectable variation of a product.
type ProductVariant struct {
	ID        string
	ProductID string
	Name      string
	Price     *int64
	WeightKg  *float64
	CostBasis *int64
}

// ProductUnit is a selling unit of measure with a conversion factor to the stock unit.
type ProductUnit struct {
	ID               string
	ProductID        string
	Name             string
	ConversionFactor float64
}

// CartItem is one line of a persisted customer cart.
type CartItem struct {
	ProductID string
	VariantID string
	UnitID    string
	Quantity  int
}
