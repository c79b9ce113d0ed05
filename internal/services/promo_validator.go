package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories"
)

// PromoValidatorDeps wires the promo validator.
type PromoValidatorDeps struct {
	Promos repositories.PromoCodeRepository
	Clock  func() time.Time
}

type promoValidator struct {
	promos repositories.PromoCodeRepository
	now    func() time.Time
}

// NewPromoValidator constructs a PromoValidator.
func NewPromoValidator(deps PromoValidatorDeps) (PromoValidator, error) {
	if deps.Promos == nil {
		return nil, errors.New("promo validator: promo repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &promoValidator{
		promos: deps.Promos,
		now: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (v *promoValidator) Validate(ctx context.Context, code string, subtotal int64) (PromoApplication, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return PromoApplication{}, fmt.Errorf("%w: empty code", ErrPromoInvalid)
	}
	promo, err := v.promos.FindByCode(ctx, code)
	if err != nil {
		return PromoApplication{}, translateRepoError("promo.find", err, ErrPromoInvalid)
	}
	discount, err := evaluatePromo(promo, subtotal, v.now())
	if err != nil {
		return PromoApplication{}, err
	}
	return PromoApplication{PromoID: promo.ID, Code: promo.Code, Discount: discount}, nil
}

func (v *promoValidator) Redeem(ctx context.Context, promoID string) error {
	promo, err := v.promos.LockByID(ctx, promoID)
	if err != nil {
		return translateRepoError("promo.lock", err, ErrPromoInvalid)
	}
	if reachedCap(promo) {
		return fmt.Errorf("%w: %s", ErrPromoRedemptionLimit, promo.Code)
	}
	if err := v.promos.IncrementRedemptions(ctx, promoID); err != nil {
		return translateRepoError("promo.increment", err, ErrPromoInvalid)
	}
	return nil
}

func (v *promoValidator) Release(ctx context.Context, promoID string) error {
	if _, err := v.promos.LockByID(ctx, promoID); err != nil {
		return translateRepoError("promo.lock", err, ErrPromoInvalid)
	}
	if err := v.promos.DecrementRedemptions(ctx, promoID); err != nil {
		return translateRepoError("promo.decrement", err, ErrPromoInvalid)
	}
	return nil
}

// evaluatePromo runs the checks in order and returns the clamped discount.
func evaluatePromo(promo PromoCode, subtotal int64, now time.Time) (int64, error) {
	if !promo.Active {
		return 0, fmt.Errorf("%w: %s inactive", ErrPromoInvalid, promo.Code)
	}
	if promo.StartsAt != nil && now.Before(*promo.StartsAt) {
		return 0, fmt.Errorf("%w: %s", ErrPromoNotYetActive, promo.Code)
	}
	if promo.EndsAt != nil && now.After(*promo.EndsAt) {
		return 0, fmt.Errorf("%w: %s", ErrPromoExpired, promo.Code)
	}
	if reachedCap(promo) {
		return 0, fmt.Errorf("%w: %s", ErrPromoRedemptionLimit, promo.Code)
	}
	if promo.MinOrderAmount != nil && subtotal < *promo.MinOrderAmount {
		return 0, fmt.Errorf("%w: %s", ErrPromoMinimumNotMet, promo.Code)
	}

	var discount int64
	switch promo.DiscountType {
	case domain.PromoDiscountFixed:
		discount = domain.RoundCents(promo.Value)
	case domain.PromoDiscountPercentage:
		discount = domain.RoundCents(float64(subtotal) * promo.Value / 100)
	default:
		return 0, fmt.Errorf("%w: %s has unknown discount type %q", ErrPromoInvalid, promo.Code, promo.DiscountType)
	}
	if promo.MaxDiscount != nil {
		discount = min(discount, max(*promo.MaxDiscount, 0))
	}
	return min(max(discount, 0), max(subtotal, 0)), nil
}

func reachedCap(promo PromoCode) bool {
	return promo.MaxRedemptions != nil && promo.Redemptions >= *promo.MaxRedemptions
}
