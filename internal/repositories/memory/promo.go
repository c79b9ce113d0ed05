package memory

import (
	"context"
	"strings"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories"
)

type promoRepo struct{ s *Store }

func (r promoRepo) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	defer r.s.acquire(ctx)()
	for _, promo := range r.s.state.promos {
		if strings.EqualFold(promo.Code, code) {
			return promo, nil
		}
	}
	return domain.PromoCode{}, notFound("promos.find", code)
}

func (r promoRepo) LockByID(ctx context.Context, promoID string) (domain.PromoCode, error) {
	if !r.s.inTx(ctx) {
		return domain.PromoCode{}, repositories.NewLedgerError("promos.lock", repositories.LedgerErrorNotInTransaction, "", nil)
	}
	promo, ok := r.s.state.promos[promoID]
	if !ok {
		return domain.PromoCode{}, notFound("promos.lock", promoID)
	}
	return promo, nil
}

func (r promoRepo) IncrementRedemptions(ctx context.Context, promoID string) error {
	defer r.s.acquire(ctx)()
	promo, ok := r.s.state.promos[promoID]
	if !ok {
		return notFound("promos.increment", promoID)
	}
	promo.Redemptions++
	r.s.state.promos[promoID] = promo
	return nil
}

func (r promoRepo) DecrementRedemptions(ctx context.Context, promoID string) error {
	defer r.s.acquire(ctx)()
	promo, ok := r.s.state.promos[promoID]
	if !ok {
		return notFound("promos.decrement", promoID)
	}
	promo.Redemptions = max(0, promo.Redemptions-1)
	r.s.state.promos[promoID] = promo
	return nil
}
