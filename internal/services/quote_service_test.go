package services

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	domain "github.com/batimat/api/internal/domain"
)

func TestQuoteServiceQuote(t *testing.T) {
	env := newTestEnv(t)
	env.seedCement()
	env.seedPaint(5)

	result, err := env.quotes.Quote(context.Background(), QuoteCommand{
		Items: []PriceRequest{
			{ProductID: "cement", Quantity: 2},
			{ProductID: "paint", Quantity: 1},
		},
		DeliveryMethod: domain.DeliveryMethodDelivery,
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if result.Subtotal != 2*8500+45000 {
		t.Fatalf("unexpected subtotal %d", result.Subtotal)
	}
	if result.ItemCount != 3 {
		t.Fatalf("expected 3 items, got %d", result.ItemCount)
	}
	// 70 kg with margin 3000 + 15000, no destination
	if result.ShippingCost != 3000 {
		t.Fatalf("expected flat fee, got %d", result.ShippingCost)
	}
	if result.Total != result.Subtotal+result.ShippingCost {
		t.Fatalf("unexpected total %d", result.Total)
	}
	if result.ShippingLabel == "" {
		t.Fatal("expected shipping label")
	}
	if got := env.store.Available(domain.StockKey{ProductID: "cement"}); got != 3 {
		t.Fatalf("quote must not touch stock, got %d", got)
	}
}

func TestQuoteResultExposesOnlyPublicFields(t *testing.T) {
	env := newTestEnv(t)
	env.seedCement()

	result, err := env.quotes.Quote(context.Background(), QuoteCommand{
		Items:          []PriceRequest{{ProductID: "cement", Quantity: 1}},
		DeliveryMethod: domain.DeliveryMethodPickup,
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	want := []string{"itemCount", "shippingCost", "shippingLabel", "subtotal", "total"}
	if !slices.Equal(keys, want) {
		t.Fatalf("expected keys %v, got %v", want, keys)
	}
}

func TestQuoteServiceRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	env.seedCement()
	ctx := context.Background()

	if _, err := env.quotes.Quote(ctx, QuoteCommand{DeliveryMethod: domain.DeliveryMethodDelivery}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input for empty items, got %v", err)
	}
	if _, err := env.quotes.Quote(ctx, QuoteCommand{Items: []PriceRequest{{ProductID: "cement", Quantity: 1}}, DeliveryMethod: "drone"}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input for unknown method, got %v", err)
	}
	if _, err := env.quotes.Quote(ctx, QuoteCommand{Items: []PriceRequest{{ProductID: "cement", Quantity: 9}}, DeliveryMethod: domain.DeliveryMethodPickup}); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}
