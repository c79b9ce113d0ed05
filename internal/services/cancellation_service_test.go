package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	domain "github.com/batimat/api/internal/domain"
)

func TestCancellationServiceReversesCheckout(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedCement()
	env.seedCustomer("cust-1", 5000, false, nil)
	env.store.PutPromo(PromoCode{ID: "promo-1", Code: "CHANTIER10", DiscountType: domain.PromoDiscountPercentage, Value: 10, Active: true, Redemptions: 4})
	ctx := context.Background()

	cmd := customerCheckout("cust-1", PriceRequest{ProductID: "cement", Quantity: 2})
	cmd.PromoCode = "CHANTIER10"
	cmd.Remise = &RemiseRequest{Amount: 3000}
	order, err := env.checkout.Checkout(ctx, cmd)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	cancelled, err := env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "cust-1", Reason: "  erreur de quantite  "})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled order %+v", cancelled)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "erreur de quantite" {
		t.Fatalf("unexpected reason %v", cancelled.CancelReason)
	}

	if got := env.store.Available(key); got != 3 {
		t.Fatalf("expected stock restored to 3, got %d", got)
	}
	lotA, _ := env.store.Lot("lot-a")
	lotB, _ := env.store.Lot("lot-b")
	if lotA.Remaining != 1 || lotB.Remaining != 2 {
		t.Fatalf("expected lots restored to their own counts, got lot-a=%d lot-b=%d", lotA.Remaining, lotB.Remaining)
	}
	if env.store.AllocationCount(order.ID) != 0 {
		t.Fatal("expected allocation records deleted")
	}
	promo, _ := env.store.Promo("promo-1")
	if promo.Redemptions != 4 {
		t.Fatalf("expected promo counter back to 4, got %d", promo.Redemptions)
	}
	credit, _ := env.store.Credit("cust-1")
	if credit.RemiseBalance != 5000 {
		t.Fatalf("expected remise refunded, got %d", credit.RemiseBalance)
	}

	detail, err := env.orders.GetOrder(ctx, OrderQuery{OrderID: order.ID, ActorID: "cust-1"})
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(detail.History) != 2 {
		t.Fatalf("expected two history entries, got %+v", detail.History)
	}
	last := detail.History[1]
	if last.From != domain.OrderStatusPending || last.To != domain.OrderStatusCancelled || last.ActorID != "cust-1" {
		t.Fatalf("unexpected cancel history entry %+v", last)
	}
	if types := env.events.types(); len(types) != 2 || types[1] != OrderEventCancelled {
		t.Fatalf("expected created then cancelled events, got %v", types)
	}
}

func TestCancellationServiceRestoresLegacyStock(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedPaint(4)
	ctx := context.Background()

	order, err := env.checkout.Checkout(ctx, customerCheckout("cust-1", PriceRequest{ProductID: "paint", Quantity: 3}))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if got := env.store.Available(key); got != 1 {
		t.Fatalf("expected 1 left, got %d", got)
	}
	if _, err := env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "cust-1"}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := env.store.Available(key); got != 4 {
		t.Fatalf("expected 4 after cancel, got %d", got)
	}
}

func TestCancellationServiceCreditSaleLeavesBalance(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaint(2)
	env.seedCustomer("cust-1", 0, true, nil)
	ctx := context.Background()

	cmd := customerCheckout("cust-1", PriceRequest{ProductID: "paint", Quantity: 1})
	cmd.PaymentMethod = domain.PaymentMethodSolde
	order, err := env.checkout.Checkout(ctx, cmd)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "cust-1"}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	breakdown, err := env.credit.CumulativeBalance(ctx, "cust-1")
	if err != nil {
		t.Fatalf("CumulativeBalance: %v", err)
	}
	if breakdown.Balance() != 0 {
		t.Fatalf("expected cancelled credit sale to drop out of the balance, got %d", breakdown.Balance())
	}
}

func TestCancellationServiceAuthorization(t *testing.T) {
	env := newTestEnv(t)
	env.seedCement()
	ctx := context.Background()

	owned, err := env.checkout.Checkout(ctx, customerCheckout("cust-1", PriceRequest{ProductID: "cement", Quantity: 1}))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	guestCmd := customerCheckout("", PriceRequest{ProductID: "cement", Quantity: 1})
	guestCmd.Guest = &domain.GuestContact{Name: "Invite", Phone: "0600000000"}
	guestOrder, err := env.checkout.Checkout(ctx, guestCmd)
	if err != nil {
		t.Fatalf("Checkout guest: %v", err)
	}

	if _, err := env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: owned.ID, ActorID: "cust-2"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden for another customer, got %v", err)
	}
	if _, err := env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: guestOrder.ID, ActorID: "cust-1"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden for guest order, got %v", err)
	}
	if _, err := env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: owned.ID}); !errors.Is(err, ErrCreditAuthRequired) {
		t.Fatalf("expected auth required without actor, got %v", err)
	}
	if _, err := env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: "missing", ActorID: "cust-1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: guestOrder.ID, ActorID: "staff-1", ActorIsStaff: true}); err != nil {
		t.Fatalf("expected staff to cancel guest order, got %v", err)
	}
}

func TestCancellationServiceRejectsTerminalStatuses(t *testing.T) {
	env := newTestEnv(t)
	env.seedCement()
	ctx := context.Background()

	order, err := env.checkout.Checkout(ctx, customerCheckout("cust-1", PriceRequest{ProductID: "cement", Quantity: 1}))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "cust-1"}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, err = env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "cust-1"})
	if !errors.Is(err, ErrOrderNotCancellable) {
		t.Fatalf("expected not cancellable on second cancel, got %v", err)
	}
	if got := env.store.Available(domain.StockKey{ProductID: "cement"}); got != 3 {
		t.Fatalf("expected no double restore, got %d", got)
	}

	shipped := order
	shipped.ID = "order-shipped"
	shipped.OrderNumber = "CMD-2025-999999"
	shipped.Status = domain.OrderStatusShipped
	if err := env.store.Orders().Insert(ctx, shipped); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: shipped.ID, ActorID: "staff-1", ActorIsStaff: true}); !errors.Is(err, ErrOrderNotCancellable) {
		t.Fatalf("expected shipped order not cancellable, got %v", err)
	}
}

func TestCancellationServiceSanitizesAndTruncatesReason(t *testing.T) {
	env := newTestEnv(t)
	env.seedCement()
	svc, err := NewCancellationService(CancellationServiceDeps{
		UnitOfWork: env.store,
		Orders:     env.store.Orders(),
		Inventory:  env.inventory,
		Promos:     env.promos,
		Credit:     env.credit,
		Sanitizer:  func(s string) string { return strings.ReplaceAll(s, "<b>", "") },
		Clock:      fixedClock,
	})
	if err != nil {
		t.Fatalf("NewCancellationService: %v", err)
	}
	ctx := context.Background()
	order, err := env.checkout.Checkout(ctx, customerCheckout("cust-1", PriceRequest{ProductID: "cement", Quantity: 1}))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "cust-1", Reason: "<b>" + strings.Repeat("é", 600)})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.CancelReason == nil {
		t.Fatal("expected reason")
	}
	if reason := *cancelled.CancelReason; strings.Contains(reason, "<b>") || len([]rune(reason)) != maxCancelReasonLength {
		t.Fatalf("unexpected reason of %d runes", len([]rune(reason)))
	}
}

func TestCheckoutThenCancelConservesStock(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("cancelling a checkout restores every lot", prop.ForAll(
		func(remaining []int, quantity int) bool {
			env := newTestEnv(t)
			env.store.PutProduct(domain.Product{ID: "sand", Name: "Sable", Published: true, BasePrice: 2000, WeightKg: 50, CostBasis: 1200})
			key := domain.StockKey{ProductID: "sand"}
			lots := lotsWithRemaining(key, remaining)
			for _, lot := range lots {
				env.store.PutLot(lot)
			}
			before := make(map[string]int, len(lots))
			for _, lot := range lots {
				before[lot.ID] = lot.Remaining
			}
			ctx := context.Background()

			order, err := env.checkout.Checkout(ctx, customerCheckout("cust-1", PriceRequest{ProductID: "sand", Quantity: quantity}))
			if err != nil {
				return errors.Is(err, ErrInsufficientStock) && env.store.OrderCount() == 0
			}
			if _, err := env.cancel.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "cust-1"}); err != nil {
				return false
			}
			for id, want := range before {
				lot, ok := env.store.Lot(id)
				if !ok || lot.Remaining != want {
					return false
				}
			}
			return env.store.AllocationCount(order.ID) == 0
		},
		gen.SliceOfN(4, gen.IntRange(0, 5)),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
