package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/batimat/api/internal/domain"
)

func TestEvaluatePromo(t *testing.T) {
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)
	base := PromoCode{ID: "promo-1", Code: "CHANTIER10", DiscountType: domain.PromoDiscountPercentage, Value: 10, Active: true}

	tests := []struct {
		name     string
		mutate   func(*PromoCode)
		subtotal int64
		want     int64
		wantErr  error
	}{
		{name: "percentage", subtotal: 50000, want: 5000},
		{name: "percentage capped by max discount", mutate: func(p *PromoCode) { p.MaxDiscount = valuePtr(int64(2000)) }, subtotal: 50000, want: 2000},
		{name: "fixed", mutate: func(p *PromoCode) { p.DiscountType = domain.PromoDiscountFixed; p.Value = 1500 }, subtotal: 50000, want: 1500},
		{name: "fixed clamped to subtotal", mutate: func(p *PromoCode) { p.DiscountType = domain.PromoDiscountFixed; p.Value = 9000 }, subtotal: 4000, want: 4000},
		{name: "inactive", mutate: func(p *PromoCode) { p.Active = false }, subtotal: 50000, wantErr: ErrPromoInvalid},
		{name: "not yet active", mutate: func(p *PromoCode) { p.StartsAt = &future }, subtotal: 50000, wantErr: ErrPromoNotYetActive},
		{name: "expired", mutate: func(p *PromoCode) { p.EndsAt = &past }, subtotal: 50000, wantErr: ErrPromoExpired},
		{name: "redemption limit", mutate: func(p *PromoCode) { p.MaxRedemptions = valuePtr(3); p.Redemptions = 3 }, subtotal: 50000, wantErr: ErrPromoRedemptionLimit},
		{name: "minimum not met", mutate: func(p *PromoCode) { p.MinOrderAmount = valuePtr(int64(60000)) }, subtotal: 50000, wantErr: ErrPromoMinimumNotMet},
		{name: "unknown type", mutate: func(p *PromoCode) { p.DiscountType = "bogof" }, subtotal: 50000, wantErr: ErrPromoInvalid},
		{
			name: "expiry checked before minimum",
			mutate: func(p *PromoCode) {
				p.EndsAt = &past
				p.MinOrderAmount = valuePtr(int64(60000))
			},
			subtotal: 50000,
			wantErr:  ErrPromoExpired,
		},
		{
			name: "cap checked before minimum",
			mutate: func(p *PromoCode) {
				p.MaxRedemptions = valuePtr(1)
				p.Redemptions = 1
				p.MinOrderAmount = valuePtr(int64(60000))
			},
			subtotal: 50000,
			wantErr:  ErrPromoRedemptionLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			promo := base
			if tt.mutate != nil {
				tt.mutate(&promo)
			}
			got, err := evaluatePromo(promo, tt.subtotal, fixedNow)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected discount %d, got %d", tt.want, got)
			}
		})
	}
}

func TestPromoValidatorRedeemAndRelease(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutPromo(PromoCode{
		ID: "promo-1", Code: "CHANTIER10", DiscountType: domain.PromoDiscountPercentage, Value: 10,
		Active: true, MaxRedemptions: valuePtr(1),
	})
	ctx := context.Background()

	app, err := env.promos.Validate(ctx, "chantier10", 10000)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if app.PromoID != "promo-1" || app.Discount != 1000 {
		t.Fatalf("unexpected application %+v", app)
	}

	if err := env.store.RunInTx(ctx, func(txCtx context.Context) error {
		return env.promos.Redeem(txCtx, "promo-1")
	}); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	err = env.store.RunInTx(ctx, func(txCtx context.Context) error {
		return env.promos.Redeem(txCtx, "promo-1")
	})
	if !errors.Is(err, ErrPromoRedemptionLimit) {
		t.Fatalf("expected redemption limit on second redeem, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := env.store.RunInTx(ctx, func(txCtx context.Context) error {
			return env.promos.Release(txCtx, "promo-1")
		}); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}
	promo, _ := env.store.Promo("promo-1")
	if promo.Redemptions != 0 {
		t.Fatalf("expected redemptions floored at 0, got %d", promo.Redemptions)
	}
}

func TestPromoValidatorUnknownCode(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.promos.Validate(context.Background(), "NOPE", 10000); !errors.Is(err, ErrPromoInvalid) {
		t.Fatalf("expected ErrPromoInvalid, got %v", err)
	}
	if _, err := env.promos.Validate(context.Background(), "  ", 10000); !errors.Is(err, ErrPromoInvalid) {
		t.Fatalf("expected ErrPromoInvalid for blank code, got %v", err)
	}
}
