package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/platform/postgres"
	"github.com/batimat/api/internal/repositories"
)

type lotRepo struct{ db *postgres.DB }

type lotRow struct {
	ID          string    `db:"id"`
	ProductID   string    `db:"product_id"`
	VariantID   string    `db:"variant_id"`
	SalePrice   int64     `db:"sale_price"`
	CostPrice   int64     `db:"cost_price"`
	Remaining   int       `db:"remaining"`
	PurchaseRef string    `db:"purchase_ref"`
	ArrivedAt   time.Time `db:"arrived_at"`
	Placeholder bool      `db:"placeholder"`
}

func (row lotRow) toDomain() domain.InventoryLot {
	return domain.InventoryLot{
		ID:          row.ID,
		Key:         domain.StockKey{ProductID: row.ProductID, VariantID: row.VariantID},
		SalePrice:   row.SalePrice,
		CostPrice:   row.CostPrice,
		Remaining:   row.Remaining,
		PurchaseRef: row.PurchaseRef,
		ArrivedAt:   row.ArrivedAt,
		Placeholder: row.Placeholder,
	}
}

const selectLots = `SELECT id, product_id, variant_id, sale_price, cost_price, remaining, purchase_ref, arrived_at, placeholder
FROM inventory_lots WHERE product_id = $1 AND variant_id = $2
ORDER BY arrived_at, id`

func (r lotRepo) ListLots(ctx context.Context, key domain.StockKey) ([]domain.InventoryLot, error) {
	return r.selectLots(ctx, "lots.list", selectLots, key)
}

func (r lotRepo) LockLots(ctx context.Context, key domain.StockKey) ([]domain.InventoryLot, error) {
	if err := requireTx(ctx, r.db, "lots.lock"); err != nil {
		return nil, err
	}
	return r.selectLots(ctx, "lots.lock", selectLots+"\nFOR UPDATE", key)
}

func (r lotRepo) selectLots(ctx context.Context, op, query string, key domain.StockKey) ([]domain.InventoryLot, error) {
	var rows []lotRow
	if err := sqlx.SelectContext(ctx, r.db.Conn(ctx), &rows, query, key.ProductID, key.VariantID); err != nil {
		return nil, postgres.Classify(op, err)
	}
	lots := make([]domain.InventoryLot, len(rows))
	for i, row := range rows {
		lots[i] = row.toDomain()
	}
	return lots, nil
}

const selectLegacyStock = `SELECT quantity FROM legacy_stock WHERE product_id = $1 AND variant_id = $2`

func (r lotRepo) LegacyStock(ctx context.Context, key domain.StockKey) (int, error) {
	return r.legacyStock(ctx, "lots.legacy", selectLegacyStock, key)
}

func (r lotRepo) LockLegacyStock(ctx context.Context, key domain.StockKey) (int, error) {
	if err := requireTx(ctx, r.db, "lots.lock_legacy"); err != nil {
		return 0, err
	}
	return r.legacyStock(ctx, "lots.lock_legacy", selectLegacyStock+" FOR UPDATE", key)
}

func (r lotRepo) legacyStock(ctx context.Context, op, query string, key domain.StockKey) (int, error) {
	var quantity []int
	if err := sqlx.SelectContext(ctx, r.db.Conn(ctx), &quantity, query, key.ProductID, key.VariantID); err != nil {
		return 0, postgres.Classify(op, err)
	}
	if len(quantity) == 0 {
		return 0, nil
	}
	return quantity[0], nil
}

const (
	takeLegacyStock = `UPDATE legacy_stock AS l SET quantity = 0
FROM (SELECT product_id, variant_id, quantity FROM legacy_stock WHERE product_id = $1 AND variant_id = $2 FOR UPDATE) AS prev
WHERE l.product_id = prev.product_id AND l.variant_id = prev.variant_id
RETURNING prev.quantity`

	insertLot = `INSERT INTO inventory_lots (id, product_id, variant_id, sale_price, cost_price, remaining, purchase_ref, arrived_at, placeholder)
VALUES (:id, :product_id, :variant_id, :sale_price, :cost_price, :remaining, :purchase_ref, :arrived_at, :placeholder)`
)

func (r lotRepo) MaterializeLegacyLot(ctx context.Context, lot domain.InventoryLot) (domain.InventoryLot, error) {
	if err := requireTx(ctx, r.db, "lots.materialize"); err != nil {
		return domain.InventoryLot{}, err
	}
	conn := r.db.Conn(ctx)

	var taken []int
	if err := sqlx.SelectContext(ctx, conn, &taken, takeLegacyStock, lot.Key.ProductID, lot.Key.VariantID); err != nil {
		return domain.InventoryLot{}, postgres.Classify("lots.materialize", err)
	}
	lot.Remaining = 0
	if len(taken) > 0 {
		lot.Remaining = taken[0]
	}
	lot.Placeholder = true

	row := lotRow{
		ID:          lot.ID,
		ProductID:   lot.Key.ProductID,
		VariantID:   lot.Key.VariantID,
		SalePrice:   lot.SalePrice,
		CostPrice:   lot.CostPrice,
		Remaining:   lot.Remaining,
		PurchaseRef: lot.PurchaseRef,
		ArrivedAt:   lot.ArrivedAt.UTC(),
		Placeholder: true,
	}
	if _, err := sqlx.NamedExecContext(ctx, conn, insertLot, row); err != nil {
		return domain.InventoryLot{}, postgres.Classify("lots.materialize", err)
	}
	return lot, nil
}

func (r lotRepo) DecrementLot(ctx context.Context, lotID string, quantity int) error {
	const op = "lots.decrement"
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE inventory_lots SET remaining = remaining - $1 WHERE id = $2 AND remaining >= $1`, quantity, lotID)
	if err != nil {
		return postgres.Classify(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return postgres.Classify(op, err)
	}
	if affected == 1 {
		return nil
	}

	var exists []bool
	if err := sqlx.SelectContext(ctx, r.db.Conn(ctx), &exists, `SELECT TRUE FROM inventory_lots WHERE id = $1`, lotID); err != nil {
		return postgres.Classify(op, err)
	}
	if len(exists) == 0 {
		return repositories.NewLedgerError(op, repositories.LedgerErrorLotNotFound, "lot "+lotID+" not found", nil)
	}
	return repositories.NewLedgerError(op, repositories.LedgerErrorInsufficientStock, "", nil)
}

func (r lotRepo) IncrementLot(ctx context.Context, lotID string, quantity int) error {
	const op = "lots.increment"
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE inventory_lots SET remaining = remaining + $1 WHERE id = $2`, quantity, lotID)
	if err != nil {
		return postgres.Classify(op, err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return postgres.Classify(op, err)
	} else if affected == 0 {
		return repositories.NewLedgerError(op, repositories.LedgerErrorLotNotFound, "lot "+lotID+" not found", nil)
	}
	return nil
}

type allocationRow struct {
	ID          string    `db:"id"`
	OrderID     string    `db:"order_id"`
	OrderLineID string    `db:"order_line_id"`
	LotID       string    `db:"lot_id"`
	ProductID   string    `db:"product_id"`
	VariantID   string    `db:"variant_id"`
	Quantity    int       `db:"quantity"`
	CreatedAt   time.Time `db:"created_at"`
}

const insertAllocation = `INSERT INTO allocations (id, order_id, order_line_id, lot_id, product_id, variant_id, quantity, created_at)
VALUES (:id, :order_id, :order_line_id, :lot_id, :product_id, :variant_id, :quantity, :created_at)`

func (r lotRepo) InsertAllocations(ctx context.Context, allocations []domain.Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	rows := make([]allocationRow, len(allocations))
	for i, a := range allocations {
		rows[i] = allocationRow{
			ID:          a.ID,
			OrderID:     a.OrderID,
			OrderLineID: a.OrderLineID,
			LotID:       a.LotID,
			ProductID:   a.Key.ProductID,
			VariantID:   a.Key.VariantID,
			Quantity:    a.Quantity,
			CreatedAt:   a.CreatedAt.UTC(),
		}
	}
	_, err := sqlx.NamedExecContext(ctx, r.db.Conn(ctx), insertAllocation, rows)
	return postgres.Classify("allocations.insert", err)
}

const selectAllocations = `SELECT id, order_id, order_line_id, lot_id, product_id, variant_id, quantity, created_at
FROM allocations WHERE order_id = $1 ORDER BY created_at, id`

func (r lotRepo) ListAllocations(ctx context.Context, orderID string) ([]domain.Allocation, error) {
	var rows []allocationRow
	if err := sqlx.SelectContext(ctx, r.db.Conn(ctx), &rows, selectAllocations, orderID); err != nil {
		return nil, postgres.Classify("allocations.list", err)
	}
	allocations := make([]domain.Allocation, len(rows))
	for i, row := range rows {
		allocations[i] = domain.Allocation{
			ID:          row.ID,
			OrderID:     row.OrderID,
			OrderLineID: row.OrderLineID,
			LotID:       row.LotID,
			Key:         domain.StockKey{ProductID: row.ProductID, VariantID: row.VariantID},
			Quantity:    row.Quantity,
			CreatedAt:   row.CreatedAt,
		}
	}
	return allocations, nil
}

func (r lotRepo) DeleteAllocations(ctx context.Context, orderID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM allocations WHERE order_id = $1`, orderID)
	return postgres.Classify("allocations.delete", err)
}
