package repositories

import (
	"context"
	"time"

	domain "github.com/batimat/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	InventoryLots() InventoryLotRepository
	Promos() PromoCodeRepository
	CreditLedger() CreditLedgerRepository
	Orders() OrderRepository
	Counters() CounterRepository
	Carts() CartRepository
	PickupLocations() PickupLocationRepository
	Ping(ctx context.Context) error
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transaction. Repository calls made with the
// context passed to fn participate in that transaction; nested calls reuse it.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository resolves catalog items consumed by pricing.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetVariant(ctx context.Context, productID, variantID string) (domain.ProductVariant, error)
	GetUnit(ctx context.Context, productID, unitID string) (domain.ProductUnit, error)
}

// InventoryLotRepository persists lots, the legacy stock counters and allocation records.
type InventoryLotRepository interface {
	// ListLots returns every lot for the key without locking, oldest first.
	ListLots(ctx context.Context, key domain.StockKey) ([]domain.InventoryLot, error)
	// LockLots returns every lot for the key locked for update, oldest first. Must run inside RunInTx.
	LockLots(ctx context.Context, key domain.StockKey) ([]domain.InventoryLot, error)
	// LegacyStock returns the single-counter stock of the key. Missing rows read as zero.
	LegacyStock(ctx context.Context, key domain.StockKey) (int, error)
	// LockLegacyStock is LegacyStock with the counter row locked for update. Must run inside RunInTx.
	LockLegacyStock(ctx context.Context, key domain.StockKey) (int, error)
	// MaterializeLegacyLot converts the legacy counter into a placeholder lot and zeroes the counter.
	MaterializeLegacyLot(ctx context.Context, lot domain.InventoryLot) (domain.InventoryLot, error)
	// DecrementLot subtracts quantity if the lot still holds at least that much; otherwise it
	// returns a LedgerError with code LedgerErrorInsufficientStock.
	DecrementLot(ctx context.Context, lotID string, quantity int) error
	IncrementLot(ctx context.Context, lotID string, quantity int) error
	InsertAllocations(ctx context.Context, allocations []domain.Allocation) error
	ListAllocations(ctx context.Context, orderID string) ([]domain.Allocation, error)
	DeleteAllocations(ctx context.Context, orderID string) error
}

// PromoCodeRepository persists promo codes and their redemption counters.
type PromoCodeRepository interface {
	FindByCode(ctx context.Context, code string) (domain.PromoCode, error)
	LockByID(ctx context.Context, promoID string) (domain.PromoCode, error)
	IncrementRedemptions(ctx context.Context, promoID string) error
	// DecrementRedemptions lowers the counter by one, never below zero.
	DecrementRedemptions(ctx context.Context, promoID string) error
}

// CreditLedgerRepository persists customer ledger rows and derives cumulative balances.
type CreditLedgerRepository interface {
	GetCustomerCredit(ctx context.Context, customerID string) (domain.CustomerCredit, error)
	LockCustomerCredit(ctx context.Context, customerID string) (domain.CustomerCredit, error)
	// SpendRemise decrements the remise balance only while it is still >= amount. The boolean
	// is false when no row matched.
	SpendRemise(ctx context.Context, customerID string, amount int64) (bool, error)
	RefundRemise(ctx context.Context, customerID string, amount int64) error
	// BalanceBreakdown aggregates every credit document of the customer across this service and
	// the legacy backoffice, skipping documents whose status is listed in excluded.
	BalanceBreakdown(ctx context.Context, customerID string, excluded []string) (domain.BalanceBreakdown, error)
}

// OrderRepository persists orders, their lines and status history.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	LockByID(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, order domain.Order) error
	AppendStatusHistory(ctx context.Context, change domain.OrderStatusChange) error
	ListStatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusChange, error)
}

// CounterRepository issues monotonically increasing sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, scope string, at time.Time) (int64, error)
}

// CartRepository reads and clears persisted customer carts.
type CartRepository interface {
	GetCartItems(ctx context.Context, customerID string) ([]domain.CartItem, error)
	ClearCart(ctx context.Context, customerID string) error
}

// PickupLocationRepository resolves pickup counters.
type PickupLocationRepository interface {
	FindByID(ctx context.Context, locationID string) (domain.PickupLocation, error)
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
