package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories/memory"
)

var fixedNow = time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%04d", prefix, n.Add(1))
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

// testEnv is the full service graph over an in-memory store.
type testEnv struct {
	store     *memory.Store
	inventory InventoryService
	pricing   PricingResolver
	shipping  *ShippingQuoter
	promos    PromoValidator
	credit    CreditLedger
	checkout  CheckoutService
	cancel    CancellationService
	orders    OrderService
	quotes    QuoteService
	events    *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	env := &testEnv{store: store, events: &recordingPublisher{}}

	var err error
	env.inventory, err = NewInventoryService(InventoryServiceDeps{
		Lots:        store.InventoryLots(),
		Clock:       fixedClock,
		IDGenerator: sequentialIDs("alloc"),
	})
	mustNot(t, err)
	env.pricing, err = NewPricingResolver(PricingResolverDeps{Catalog: store.Catalog(), Inventory: env.inventory})
	mustNot(t, err)
	env.shipping, err = NewShippingQuoter(DefaultShippingRules())
	mustNot(t, err)
	env.promos, err = NewPromoValidator(PromoValidatorDeps{Promos: store.Promos(), Clock: fixedClock})
	mustNot(t, err)
	env.credit, err = NewCreditLedger(CreditLedgerDeps{Ledger: store.CreditLedger()})
	mustNot(t, err)
	env.checkout, err = NewCheckoutService(CheckoutServiceDeps{
		UnitOfWork:      store,
		Pricing:         env.pricing,
		Inventory:       env.inventory,
		Shipping:        env.shipping,
		Promos:          env.promos,
		Credit:          env.credit,
		Orders:          store.Orders(),
		Counters:        store.Counters(),
		Carts:           store.Carts(),
		PickupLocations: store.PickupLocations(),
		Events:          env.events,
		Clock:           fixedClock,
		IDGenerator:     sequentialIDs("id"),
	})
	mustNot(t, err)
	env.cancel, err = NewCancellationService(CancellationServiceDeps{
		UnitOfWork: store,
		Orders:     store.Orders(),
		Inventory:  env.inventory,
		Promos:     env.promos,
		Credit:     env.credit,
		Events:     env.events,
		Clock:      fixedClock,
	})
	mustNot(t, err)
	env.orders, err = NewOrderService(OrderServiceDeps{Orders: store.Orders()})
	mustNot(t, err)
	env.quotes, err = NewQuoteService(QuoteServiceDeps{Pricing: env.pricing, Shipping: env.shipping})
	mustNot(t, err)
	return env
}

func mustNot(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// seedCement adds a 35 kg cement bag with two lots: [1 @ 80.00, 2 @ 85.00].
func (e *testEnv) seedCement() domain.StockKey {
	e.store.PutProduct(domain.Product{
		ID: "cement", Name: "Ciment CPJ 45", Published: true,
		BasePrice: 7500, WeightKg: 35, CostBasis: 6000,
	})
	key := domain.StockKey{ProductID: "cement"}
	e.store.PutLot(domain.InventoryLot{ID: "lot-a", Key: key, SalePrice: 8000, CostPrice: 6500, Remaining: 1, ArrivedAt: fixedNow.Add(-48 * time.Hour)})
	e.store.PutLot(domain.InventoryLot{ID: "lot-b", Key: key, SalePrice: 8500, CostPrice: 7000, Remaining: 2, ArrivedAt: fixedNow.Add(-24 * time.Hour)})
	return key
}

// seedPaint adds an unweighted product tracked only by the legacy counter.
func (e *testEnv) seedPaint(stock int) domain.StockKey {
	e.store.PutProduct(domain.Product{
		ID: "paint", Name: "Peinture blanche 10L", Published: true,
		BasePrice: 45000, CostBasis: 30000,
	})
	key := domain.StockKey{ProductID: "paint"}
	e.store.SetLegacyStock(key, stock)
	return key
}

func (e *testEnv) seedCustomer(id string, remise int64, eligible bool, plafond *int64) {
	e.store.PutCustomerCredit(domain.CustomerCredit{
		CustomerID: id, RemiseBalance: remise, CreditEligible: eligible, Plafond: plafond,
	})
}

// deliveryAddress is 3.5 km from the store.
func deliveryAddress() *domain.Address {
	return &domain.Address{
		Recipient: "Chantier Anfa", Line1: "12 Bd d'Anfa", City: "Casablanca", Country: "MA",
		Coordinates: pointNorthOfStore(3.5),
	}
}
