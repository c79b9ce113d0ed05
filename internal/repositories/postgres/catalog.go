package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/platform/postgres"
)

type catalogRepo struct{ db *postgres.DB }

type productRow struct {
	ID              string       `db:"id"`
	Name            string       `db:"name"`
	Published       bool         `db:"published"`
	DeletedAt       sql.NullTime `db:"deleted_at"`
	BasePrice       int64        `db:"base_price"`
	PromoPercent    float64      `db:"promo_percent"`
	RequiresVariant bool         `db:"requires_variant"`
	WeightKg        float64      `db:"weight_kg"`
	CostBasis       int64        `db:"cost_basis"`
}

const selectProduct = `SELECT id, name, published, deleted_at, base_price, promo_percent, requires_variant, weight_kg, cost_basis
FROM products WHERE id = $1`

func (r catalogRepo) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	var row productRow
	if err := sqlx.GetContext(ctx, r.db.Conn(ctx), &row, selectProduct, productID); err != nil {
		return domain.Product{}, postgres.Classify("catalog.product", err)
	}
	return domain.Product{
		ID:              row.ID,
		Name:            row.Name,
		Published:       row.Published,
		DeletedAt:       timePtr(row.DeletedAt),
		BasePrice:       row.BasePrice,
		PromoPercent:    row.PromoPercent,
		RequiresVariant: row.RequiresVariant,
		WeightKg:        row.WeightKg,
		CostBasis:       row.CostBasis,
	}, nil
}

type variantRow struct {
	ID        string          `db:"id"`
	ProductID string          `db:"product_id"`
	Name      string          `db:"name"`
	Price     sql.NullInt64   `db:"price"`
	WeightKg  sql.NullFloat64 `db:"weight_kg"`
	CostBasis sql.NullInt64   `db:"cost_basis"`
}

const selectVariant = `SELECT id, product_id, name, price, weight_kg, cost_basis
FROM product_variants WHERE product_id = $1 AND id = $2`

func (r catalogRepo) GetVariant(ctx context.Context, productID, variantID string) (domain.ProductVariant, error) {
	var row variantRow
	if err := sqlx.GetContext(ctx, r.db.Conn(ctx), &row, selectVariant, productID, variantID); err != nil {
		return domain.ProductVariant{}, postgres.Classify("catalog.variant", err)
	}
	variant := domain.ProductVariant{ID: row.ID, ProductID: row.ProductID, Name: row.Name}
	if row.Price.Valid {
		variant.Price = &row.Price.Int64
	}
	if row.WeightKg.Valid {
		variant.WeightKg = &row.WeightKg.Float64
	}
	if row.CostBasis.Valid {
		variant.CostBasis = &row.CostBasis.Int64
	}
	return variant, nil
}

const selectUnit = `SELECT id, product_id, name, conversion_factor
FROM product_units WHERE product_id = $1 AND id = $2`

func (r catalogRepo) GetUnit(ctx context.Context, productID, unitID string) (domain.ProductUnit, error) {
	var row struct {
		ID               string  `db:"id"`
		ProductID        string  `db:"product_id"`
		Name             string  `db:"name"`
		ConversionFactor float64 `db:"conversion_factor"`
	}
	if err := sqlx.GetContext(ctx, r.db.Conn(ctx), &row, selectUnit, productID, unitID); err != nil {
		return domain.ProductUnit{}, postgres.Classify("catalog.unit", err)
	}
	return domain.ProductUnit(row), nil
}

type cartRepo struct{ db *postgres.DB }

const selectCartItems = `SELECT product_id, variant_id, unit_id, quantity
FROM cart_items WHERE customer_id = $1 ORDER BY position`

func (r cartRepo) GetCartItems(ctx context.Context, customerID string) ([]domain.CartItem, error) {
	var rows []struct {
		ProductID string `db:"product_id"`
		VariantID string `db:"variant_id"`
		UnitID    string `db:"unit_id"`
		Quantity  int    `db:"quantity"`
	}
	if err := sqlx.SelectContext(ctx, r.db.Conn(ctx), &rows, selectCartItems, customerID); err != nil {
		return nil, postgres.Classify("carts.get", err)
	}
	if len(rows) == 0 {
		return nil, postgres.NotFound("carts.get", "cart "+customerID)
	}
	items := make([]domain.CartItem, len(rows))
	for i, row := range rows {
		items[i] = domain.CartItem(row)
	}
	return items, nil
}

func (r cartRepo) ClearCart(ctx context.Context, customerID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM cart_items WHERE customer_id = $1`, customerID)
	return postgres.Classify("carts.clear", err)
}

type pickupRepo struct{ db *postgres.DB }

const selectPickupLocation = `SELECT id, name, address, active FROM pickup_locations WHERE id = $1`

func (r pickupRepo) FindByID(ctx context.Context, locationID string) (domain.PickupLocation, error) {
	var row struct {
		ID      string `db:"id"`
		Name    string `db:"name"`
		Address string `db:"address"`
		Active  bool   `db:"active"`
	}
	if err := sqlx.GetContext(ctx, r.db.Conn(ctx), &row, selectPickupLocation, locationID); err != nil {
		return domain.PickupLocation{}, postgres.Classify("pickup_locations.get", err)
	}
	var address addressDoc
	if err := json.Unmarshal([]byte(row.Address), &address); err != nil {
		return domain.PickupLocation{}, postgres.Classify("pickup_locations.decode", err)
	}
	return domain.PickupLocation{ID: row.ID, Name: row.Name, Address: address.toDomain(), Active: row.Active}, nil
}

type counterRepo struct{ db *postgres.DB }

const upsertCounter = `INSERT INTO counters (scope, value, updated_at) VALUES ($1, 1, $2)
ON CONFLICT (scope) DO UPDATE SET value = counters.value + 1, updated_at = EXCLUDED.updated_at
RETURNING value`

// Next increments the scope counter atomically. Inside a transaction the row stays locked
// until commit, so numbers are gap free per committed order.
func (r counterRepo) Next(ctx context.Context, scope string, at time.Time) (int64, error) {
	var value int64
	if err := sqlx.GetContext(ctx, r.db.Conn(ctx), &value, upsertCounter, scope, at.UTC()); err != nil {
		return 0, postgres.Classify("counters.next", err)
	}
	return value, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
