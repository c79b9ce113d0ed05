package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories"
)

const legacyPurchaseRef = "legacy"

// InventoryServiceDeps wires the FIFO lot store.
type InventoryServiceDeps struct {
	Lots        repositories.InventoryLotRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	lots   repositories.InventoryLotRepository
	now    func() time.Time
	newID  func() string
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewInventoryService constructs an InventoryService.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Lots == nil {
		return nil, errors.New("inventory service: lot repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		lots: deps.Lots,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *inventoryService) Snapshot(ctx context.Context, key StockKey) (StockSnapshot, error) {
	lots, err := s.lots.ListLots(ctx, key)
	if err != nil {
		return StockSnapshot{}, translateRepoError("inventory.list_lots", err, nil)
	}
	snapshot := StockSnapshot{Key: key}
	if len(lots) == 0 {
		legacy, err := s.lots.LegacyStock(ctx, key)
		if err != nil {
			return StockSnapshot{}, translateRepoError("inventory.legacy_stock", err, nil)
		}
		snapshot.Available = max(legacy, 0)
		return snapshot, nil
	}

	domain.SortLotsFIFO(lots)
	for _, lot := range lots {
		snapshot.Available += max(lot.Remaining, 0)
	}
	latest := lots[len(lots)-1]
	snapshot.Latest = &latest
	return snapshot, nil
}

func (s *inventoryService) Available(ctx context.Context, key StockKey) (int, error) {
	snapshot, err := s.Snapshot(ctx, key)
	if err != nil {
		return 0, err
	}
	return snapshot.Available, nil
}

func (s *inventoryService) LatestPrice(ctx context.Context, key StockKey) (int64, bool, error) {
	snapshot, err := s.Snapshot(ctx, key)
	if err != nil || snapshot.Latest == nil {
		return 0, false, err
	}
	return snapshot.Latest.SalePrice, true, nil
}

func (s *inventoryService) Allocate(ctx context.Context, cmd AllocateCommand) ([]Allocation, error) {
	if cmd.Quantity <= 0 || cmd.Key.ProductID == "" || cmd.OrderID == "" {
		return nil, fmt.Errorf("%w: allocation requires key, order and positive quantity", ErrCheckoutInvalidInput)
	}

	lots, err := s.lockLots(ctx, cmd.Key)
	if err != nil {
		return nil, err
	}

	takes, err := planFIFOAllocation(lots, cmd.Quantity)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", err, cmd.Key.ProductID, cmd.Key.VariantID)
	}

	now := s.now()
	allocations := make([]Allocation, 0, len(takes))
	for _, take := range takes {
		if err := s.lots.DecrementLot(ctx, take.LotID, take.Quantity); err != nil {
			if repositories.LedgerErrorCodeOf(err) == repositories.LedgerErrorInsufficientStock {
				return nil, fmt.Errorf("%w: lot %s", ErrInsufficientStock, take.LotID)
			}
			return nil, translateRepoError("inventory.decrement_lot", err, nil)
		}
		allocations = append(allocations, Allocation{
			ID:          s.newID(),
			OrderID:     cmd.OrderID,
			OrderLineID: cmd.OrderLineID,
			LotID:       take.LotID,
			Key:         cmd.Key,
			Quantity:    take.Quantity,
			CreatedAt:   now,
		})
	}
	return allocations, nil
}

// lockLots locks the lots of key. With no lots there is no row to lock, so the legacy counter
// row is locked and the lots are read again before a placeholder is created.
func (s *inventoryService) lockLots(ctx context.Context, key StockKey) ([]InventoryLot, error) {
	lots, err := s.lots.LockLots(ctx, key)
	if err != nil {
		return nil, translateRepoError("inventory.lock_lots", err, nil)
	}
	if len(lots) > 0 {
		return lots, nil
	}

	legacy, err := s.lots.LockLegacyStock(ctx, key)
	if err != nil {
		return nil, translateRepoError("inventory.lock_legacy", err, nil)
	}
	lots, err = s.lots.LockLots(ctx, key)
	if err != nil {
		return nil, translateRepoError("inventory.lock_lots", err, nil)
	}
	if len(lots) > 0 {
		return lots, nil
	}
	if legacy <= 0 {
		return nil, fmt.Errorf("%w: %s/%s has no stock", ErrInsufficientStock, key.ProductID, key.VariantID)
	}
	lot, err := s.materializeLegacyLot(ctx, key)
	if err != nil {
		return nil, err
	}
	return []InventoryLot{lot}, nil
}

// materializeLegacyLot turns the single stock counter of a key into a placeholder lot so that
// allocation and restoration share one path. The counter row must already be locked.
func (s *inventoryService) materializeLegacyLot(ctx context.Context, key StockKey) (InventoryLot, error) {
	lot, err := s.lots.MaterializeLegacyLot(ctx, InventoryLot{
		ID:          s.newID(),
		Key:         key,
		PurchaseRef: legacyPurchaseRef,
		ArrivedAt:   s.now(),
		Placeholder: true,
	})
	if err != nil {
		return InventoryLot{}, translateRepoError("inventory.materialize_legacy", err, nil)
	}
	s.logger(ctx, "inventory.legacy_lot.materialized", map[string]any{
		"productID": key.ProductID,
		"variantID": key.VariantID,
		"lotID":     lot.ID,
		"quantity":  lot.Remaining,
	})
	return lot, nil
}

func (s *inventoryService) Record(ctx context.Context, allocations []Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	if err := s.lots.InsertAllocations(ctx, allocations); err != nil {
		return translateRepoError("inventory.insert_allocations", err, nil)
	}
	return nil
}

func (s *inventoryService) Restore(ctx context.Context, orderID string) (int, error) {
	allocations, err := s.lots.ListAllocations(ctx, orderID)
	if err != nil {
		return 0, translateRepoError("inventory.list_allocations", err, nil)
	}
	if len(allocations) == 0 {
		return 0, nil
	}

	perKey := make(map[StockKey]map[string]int)
	for _, allocation := range allocations {
		if perKey[allocation.Key] == nil {
			perKey[allocation.Key] = make(map[string]int)
		}
		perKey[allocation.Key][allocation.LotID] += allocation.Quantity
	}
	keys := make([]StockKey, 0, len(perKey))
	for key := range perKey {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, compareStockKeys)

	// Same lock sequence as Allocate: keys in order, then each key's lots oldest first.
	restored := 0
	for _, key := range keys {
		lots, err := s.lots.LockLots(ctx, key)
		if err != nil {
			return 0, translateRepoError("inventory.lock_lots", err, nil)
		}
		quantities := perKey[key]
		for _, lot := range lots {
			quantity, ok := quantities[lot.ID]
			if !ok {
				continue
			}
			if err := s.lots.IncrementLot(ctx, lot.ID, quantity); err != nil {
				return 0, translateRepoError("inventory.increment_lot", err, nil)
			}
			restored += quantity
			delete(quantities, lot.ID)
		}
		if len(quantities) > 0 {
			return 0, fmt.Errorf("inventory.restore: %d allocated lot(s) of %s/%s no longer exist", len(quantities), key.ProductID, key.VariantID)
		}
	}
	if err := s.lots.DeleteAllocations(ctx, orderID); err != nil {
		return 0, translateRepoError("inventory.delete_allocations", err, nil)
	}
	return restored, nil
}

type lotTake struct {
	LotID    string
	Quantity int
}

// planFIFOAllocation draws quantity from lots with remaining stock, oldest first. Coverage is
// checked before anything is taken so a failed plan never yields partial takes.
func planFIFOAllocation(lots []InventoryLot, quantity int) ([]lotTake, error) {
	if quantity <= 0 {
		return nil, nil
	}
	candidates := make([]InventoryLot, 0, len(lots))
	total := 0
	for _, lot := range lots {
		if lot.Remaining > 0 {
			candidates = append(candidates, lot)
			total += lot.Remaining
		}
	}
	if total < quantity {
		return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, quantity, total)
	}
	slices.SortStableFunc(candidates, domain.CompareLotsFIFO)

	takes := make([]lotTake, 0, len(candidates))
	needed := quantity
	for _, lot := range candidates {
		if needed == 0 {
			break
		}
		take := min(lot.Remaining, needed)
		takes = append(takes, lotTake{LotID: lot.ID, Quantity: take})
		needed -= take
	}
	return takes, nil
}

// compareStockKeys orders keys so lots are always locked in the same sequence.
func compareStockKeys(a, b StockKey) int {
	if c := cmp.Compare(a.ProductID, b.ProductID); c != 0 {
		return c
	}
	return cmp.Compare(a.VariantID, b.VariantID)
}
