package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/platform/postgres"
)

type promoRepo struct{ db *postgres.DB }

type promoRow struct {
	ID             string        `db:"id"`
	Code           string        `db:"code"`
	DiscountType   string        `db:"discount_type"`
	Value          float64       `db:"value"`
	MaxDiscount    sql.NullInt64 `db:"max_discount"`
	MinOrderAmount sql.NullInt64 `db:"min_order_amount"`
	MaxRedemptions sql.NullInt32 `db:"max_redemptions"`
	Redemptions    int           `db:"redemptions"`
	Active         bool          `db:"active"`
	StartsAt       sql.NullTime  `db:"starts_at"`
	EndsAt         sql.NullTime  `db:"ends_at"`
}

func (row promoRow) toDomain() domain.PromoCode {
	promo := domain.PromoCode{
		ID:           row.ID,
		Code:         row.Code,
		DiscountType: domain.PromoDiscountType(row.DiscountType),
		Value:        row.Value,
		Redemptions:  row.Redemptions,
		Active:       row.Active,
		StartsAt:     timePtr(row.StartsAt),
		EndsAt:       timePtr(row.EndsAt),
	}
	if row.MaxDiscount.Valid {
		promo.MaxDiscount = &row.MaxDiscount.Int64
	}
	if row.MinOrderAmount.Valid {
		promo.MinOrderAmount = &row.MinOrderAmount.Int64
	}
	if row.MaxRedemptions.Valid {
		limit := int(row.MaxRedemptions.Int32)
		promo.MaxRedemptions = &limit
	}
	return promo
}

const selectPromo = `SELECT id, code, discount_type, value, max_discount, min_order_amount, max_redemptions, redemptions, active, starts_at, ends_at
FROM promo_codes`

func (r promoRepo) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	return r.get(ctx, "promos.find", selectPromo+` WHERE lower(code) = lower($1)`, code)
}

func (r promoRepo) LockByID(ctx context.Context, promoID string) (domain.PromoCode, error) {
	if err := requireTx(ctx, r.db, "promos.lock"); err != nil {
		return domain.PromoCode{}, err
	}
	return r.get(ctx, "promos.lock", selectPromo+` WHERE id = $1 FOR UPDATE`, promoID)
}

func (r promoRepo) get(ctx context.Context, op, query, arg string) (domain.PromoCode, error) {
	var row promoRow
	if err := sqlx.GetContext(ctx, r.db.Conn(ctx), &row, query, arg); err != nil {
		return domain.PromoCode{}, postgres.Classify(op, err)
	}
	return row.toDomain(), nil
}

func (r promoRepo) IncrementRedemptions(ctx context.Context, promoID string) error {
	return r.update(ctx, "promos.increment", `UPDATE promo_codes SET redemptions = redemptions + 1 WHERE id = $1`, promoID)
}

func (r promoRepo) DecrementRedemptions(ctx context.Context, promoID string) error {
	return r.update(ctx, "promos.decrement", `UPDATE promo_codes SET redemptions = GREATEST(redemptions - 1, 0) WHERE id = $1`, promoID)
}

func (r promoRepo) update(ctx context.Context, op, query, promoID string) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx, query, promoID)
	if err != nil {
		return postgres.Classify(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return postgres.Classify(op, err)
	}
	if affected == 0 {
		return postgres.NotFound(op, "promo "+promoID)
	}
	return nil
}
