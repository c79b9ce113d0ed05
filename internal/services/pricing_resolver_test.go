package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	domain "github.com/batimat/api/internal/domain"
)

func TestPricingResolverUsesLatestLotPrice(t *testing.T) {
	env := newTestEnv(t)
	env.seedCement()

	line, err := env.pricing.Resolve(context.Background(), PriceRequest{ProductID: "cement", Quantity: 2})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if line.UnitPrice != 8500 || line.ListPrice != 8500 {
		t.Fatalf("expected latest lot price 8500, got list=%d unit=%d", line.ListPrice, line.UnitPrice)
	}
	if line.Subtotal != 17000 {
		t.Fatalf("expected subtotal 17000, got %d", line.Subtotal)
	}
	if line.CostSource != domain.CostSourceLot || line.CostBasis != 7000 || line.PriceLotID != "lot-b" {
		t.Fatalf("expected lot cost basis from lot-b, got %+v", line)
	}
	if line.WeightKg != 35 || line.StockQuantity != 2 {
		t.Fatalf("unexpected weight or stock quantity %+v", line)
	}
}

func TestPricingResolverFallsBackToCatalog(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaint(10)

	line, err := env.pricing.Resolve(context.Background(), PriceRequest{ProductID: "paint", Quantity: 1})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if line.UnitPrice != 45000 || line.CostSource != domain.CostSourceCatalog || line.PriceLotID != "" {
		t.Fatalf("expected catalog price, got %+v", line)
	}
}

func TestPricingResolverVariantOverride(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaint(0)
	price, weight := int64(52000), 12.5
	env.store.PutVariant(domain.ProductVariant{ID: "blue", ProductID: "paint", Name: "Bleu", Price: &price, WeightKg: &weight})
	env.store.SetLegacyStock(domain.StockKey{ProductID: "paint", VariantID: "blue"}, 3)

	line, err := env.pricing.Resolve(context.Background(), PriceRequest{ProductID: "paint", VariantID: "blue", Quantity: 2})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if line.UnitPrice != 52000 || line.VariantName != "Bleu" || line.WeightKg != 12.5 {
		t.Fatalf("expected variant override, got %+v", line)
	}
}

func TestPricingResolverAppliesUnitFactorAndPromo(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutProduct(domain.Product{
		ID: "tile", Name: "Carrelage 60x60", Published: true,
		BasePrice: 10000, PromoPercent: 10, WeightKg: 20, CostBasis: 6000,
	})
	env.store.PutUnit(domain.ProductUnit{ID: "box", ProductID: "tile", Name: "Carton", ConversionFactor: 1.44})
	env.store.SetLegacyStock(domain.StockKey{ProductID: "tile"}, 5)

	line, err := env.pricing.Resolve(context.Background(), PriceRequest{ProductID: "tile", UnitID: "box", Quantity: 3})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if line.ListPrice != 14400 {
		t.Fatalf("expected list price 14400, got %d", line.ListPrice)
	}
	if line.UnitPrice != 12960 || line.DiscountPercent != 10 {
		t.Fatalf("expected promo unit price 12960, got %d (%v%%)", line.UnitPrice, line.DiscountPercent)
	}
	if line.StockQuantity != 5 {
		t.Fatalf("expected ceil(3*1.44)=5 stock units, got %d", line.StockQuantity)
	}
	if line.DiscountAmount != (14400-12960)*3 {
		t.Fatalf("unexpected discount amount %d", line.DiscountAmount)
	}
	if line.CostBasis != 8640 || math.Abs(line.WeightKg-28.8) > 1e-9 {
		t.Fatalf("expected scaled cost and weight, got cost=%d weight=%v", line.CostBasis, line.WeightKg)
	}
}

func TestPricingResolverPromoClampedAtHundred(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutProduct(domain.Product{ID: "sample", Name: "Echantillon", Published: true, BasePrice: 500, PromoPercent: 150})
	env.store.SetLegacyStock(domain.StockKey{ProductID: "sample"}, 1)

	line, err := env.pricing.Resolve(context.Background(), PriceRequest{ProductID: "sample", Quantity: 1})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if line.UnitPrice != 0 || line.DiscountPercent != 100 {
		t.Fatalf("expected free line, got %+v", line)
	}
}

func TestPricingResolverErrors(t *testing.T) {
	deleted := fixedNow.Add(-time.Hour)
	env := newTestEnv(t)
	env.seedCement()
	env.store.PutProduct(domain.Product{ID: "draft", Name: "Brouillon", BasePrice: 100})
	env.store.PutProduct(domain.Product{ID: "gone", Name: "Retire", Published: true, DeletedAt: &deleted, BasePrice: 100})
	env.store.PutProduct(domain.Product{ID: "door", Name: "Porte", Published: true, BasePrice: 90000, RequiresVariant: true})
	env.store.PutVariant(domain.ProductVariant{ID: "nameless", ProductID: "door"})

	tests := []struct {
		name string
		req  PriceRequest
		want error
	}{
		{name: "zero quantity", req: PriceRequest{ProductID: "cement"}, want: ErrCheckoutInvalidInput},
		{name: "unknown product", req: PriceRequest{ProductID: "missing", Quantity: 1}, want: ErrProductNotAvailable},
		{name: "unpublished", req: PriceRequest{ProductID: "draft", Quantity: 1}, want: ErrProductNotAvailable},
		{name: "deleted", req: PriceRequest{ProductID: "gone", Quantity: 1}, want: ErrProductNotAvailable},
		{name: "variant required", req: PriceRequest{ProductID: "door", Quantity: 1}, want: ErrVariantRequired},
		{name: "unknown variant", req: PriceRequest{ProductID: "door", VariantID: "oak", Quantity: 1}, want: ErrVariantInvalid},
		{name: "variant without name", req: PriceRequest{ProductID: "door", VariantID: "nameless", Quantity: 1}, want: ErrVariantInvalid},
		{name: "over stock", req: PriceRequest{ProductID: "cement", Quantity: 4}, want: ErrInsufficientStock},
		{name: "unknown unit", req: PriceRequest{ProductID: "cement", UnitID: "pallet", Quantity: 1}, want: ErrCheckoutInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.pricing.Resolve(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestStockQuantityRoundsUp(t *testing.T) {
	cases := []struct {
		qty    int
		factor float64
		want   int
	}{
		{qty: 3, factor: 1, want: 3},
		{qty: 2, factor: 0.5, want: 1},
		{qty: 3, factor: 0.5, want: 2},
		{qty: 10, factor: 0.1, want: 1},
		{qty: 4, factor: 2.5, want: 10},
	}
	for _, tc := range cases {
		if got := stockQuantity(tc.qty, tc.factor); got != tc.want {
			t.Fatalf("stockQuantity(%d, %v) = %d, want %d", tc.qty, tc.factor, got, tc.want)
		}
	}
}
