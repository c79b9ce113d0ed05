package memory

import (
	"context"
	"slices"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories"
)

type lotRepo struct{ s *Store }

func (r lotRepo) ListLots(ctx context.Context, key domain.StockKey) ([]domain.InventoryLot, error) {
	defer r.s.acquire(ctx)()
	return r.lotsFor(key), nil
}

func (r lotRepo) LockLots(ctx context.Context, key domain.StockKey) ([]domain.InventoryLot, error) {
	if !r.s.inTx(ctx) {
		return nil, repositories.NewLedgerError("lots.lock", repositories.LedgerErrorNotInTransaction, "", nil)
	}
	return r.lotsFor(key), nil
}

func (r lotRepo) lotsFor(key domain.StockKey) []domain.InventoryLot {
	var lots []domain.InventoryLot
	for _, lot := range r.s.state.lots {
		if lot.Key == key {
			lots = append(lots, lot)
		}
	}
	domain.SortLotsFIFO(lots)
	return lots
}

func (r lotRepo) LegacyStock(ctx context.Context, key domain.StockKey) (int, error) {
	defer r.s.acquire(ctx)()
	return r.s.state.legacy[key], nil
}

func (r lotRepo) LockLegacyStock(ctx context.Context, key domain.StockKey) (int, error) {
	if !r.s.inTx(ctx) {
		return 0, repositories.NewLedgerError("lots.lock_legacy", repositories.LedgerErrorNotInTransaction, "", nil)
	}
	return r.s.state.legacy[key], nil
}

func (r lotRepo) MaterializeLegacyLot(ctx context.Context, lot domain.InventoryLot) (domain.InventoryLot, error) {
	if !r.s.inTx(ctx) {
		return domain.InventoryLot{}, repositories.NewLedgerError("lots.materialize", repositories.LedgerErrorNotInTransaction, "", nil)
	}
	if _, exists := r.s.state.lots[lot.ID]; exists {
		return domain.InventoryLot{}, conflict("lots.materialize", "lot "+lot.ID+" exists")
	}
	lot.Remaining = r.s.state.legacy[lot.Key]
	lot.Placeholder = true
	r.s.state.legacy[lot.Key] = 0
	r.s.state.lots[lot.ID] = lot
	return lot, nil
}

func (r lotRepo) DecrementLot(ctx context.Context, lotID string, quantity int) error {
	defer r.s.acquire(ctx)()
	lot, ok := r.s.state.lots[lotID]
	if !ok {
		return repositories.NewLedgerError("lots.decrement", repositories.LedgerErrorLotNotFound, "lot "+lotID+" not found", nil)
	}
	if lot.Remaining < quantity {
		return repositories.NewLedgerError("lots.decrement", repositories.LedgerErrorInsufficientStock, "", nil)
	}
	lot.Remaining -= quantity
	r.s.state.lots[lotID] = lot
	return nil
}

func (r lotRepo) IncrementLot(ctx context.Context, lotID string, quantity int) error {
	defer r.s.acquire(ctx)()
	lot, ok := r.s.state.lots[lotID]
	if !ok {
		return repositories.NewLedgerError("lots.increment", repositories.LedgerErrorLotNotFound, "lot "+lotID+" not found", nil)
	}
	lot.Remaining += quantity
	r.s.state.lots[lotID] = lot
	return nil
}

func (r lotRepo) InsertAllocations(ctx context.Context, allocations []domain.Allocation) error {
	defer r.s.acquire(ctx)()
	for _, allocation := range allocations {
		r.s.state.allocations[allocation.OrderID] = append(r.s.state.allocations[allocation.OrderID], allocation)
	}
	return nil
}

func (r lotRepo) ListAllocations(ctx context.Context, orderID string) ([]domain.Allocation, error) {
	defer r.s.acquire(ctx)()
	return slices.Clone(r.s.state.allocations[orderID]), nil
}

func (r lotRepo) DeleteAllocations(ctx context.Context, orderID string) error {
	defer r.s.acquire(ctx)()
	delete(r.s.state.allocations, orderID)
	return nil
}
