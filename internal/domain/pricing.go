package domain

import "math"

// RoundCents rounds a fractional cent amount half away from zero.
func RoundCents(v float64) int64 {
	return int64(math.Round(v))
}

// FloorCents truncates a fractional cent amount towards negative infinity.
func FloorCents(v float64) int64 {
	return int64(math.Floor(v))
}

// PricedLine is the outcome of resolving one requested catalog item.
type PricedLine struct {
	ProductID   string
	VariantID   string
	UnitID      string
	ProductName string
	VariantName string
	UnitName    string
	// ListPrice is the per-unit price after variant override and unit conversion, before promo.
	ListPrice int64
	// UnitPrice is ListPrice after the product promotional percentage.
	UnitPrice       int64
	Quantity        int
	StockQuantity   int
	Subtotal        int64
	DiscountPercent float64
	DiscountAmount  int64
	WeightKg        float64
	CostBasis       int64
	CostSource      CostSource
	PriceLotID      string
}

// CostSource records where a line's cost basis came from for margin accounting.
type CostSource string

const (
	// CostSourceLot means the cost basis and price were taken from an inventory lot.
	CostSourceLot CostSource = "lot"
	// CostSourceCatalog means the product carried no lots and the catalog cost basis was used.
	CostSourceCatalog CostSource = "catalog"
)

// LineWeight returns the total weight contributed by the line.
func (l PricedLine) LineWeight() float64 {
	if l.WeightKg <= 0 || l.Quantity <= 0 {
		return 0
	}
	return l.WeightKg * float64(l.Quantity)
}

// LineMargin returns (unit price - cost) x quantity.
func (l PricedLine) LineMargin() int64 {
	return (l.UnitPrice - l.CostBasis) * int64(l.Quantity)
}
