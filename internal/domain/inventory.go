package domain

import (
	"cmp"
	"slices"
	"time"
)

// StockKey identifies the (product, variant) pair stock is tracked against. An empty
// VariantID addresses product-level stock.
type StockKey struct {
	ProductID string
	VariantID string
}

// InventoryLot is one arrival batch of stock.
type InventoryLot struct {
	ID          string
	Key         StockKey
	SalePrice   int64
	CostPrice   int64
	Remaining   int
	PurchaseRef string
	ArrivedAt   time.Time
	// Placeholder marks a lot materialized from the legacy single stock counter.
	Placeholder bool
}

// Allocation links an order line to the quantity it consumed from a lot.
type Allocation struct {
	ID          string
	OrderID     string
	OrderLineID string
	LotID       string
	Key         StockKey
	Quantity    int
	CreatedAt   time.Time
}

// CompareLotsFIFO orders lots by arrival time, then identity.
func CompareLotsFIFO(a, b InventoryLot) int {
	if c := a.ArrivedAt.Compare(b.ArrivedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortLotsFIFO sorts lots in place, oldest first.
func SortLotsFIFO(lots []InventoryLot) {
	slices.SortStableFunc(lots, CompareLotsFIFO)
}
