package services

import (
	"context"
	"time"

	domain "github.com/batimat/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderStatus        = domain.OrderStatus
	OrderStatusChange  = domain.OrderStatusChange
	PricedLine         = domain.PricedLine
	Allocation         = domain.Allocation
	StockKey           = domain.StockKey
	SystemHealthReport = domain.SystemHealthReport
	BalanceBreakdown   = domain.BalanceBreakdown
	CustomerCredit     = domain.CustomerCredit
	PromoCode          = domain.PromoCode
	InventoryLot       = domain.InventoryLot
	Coordinates        = domain.Coordinates
)

// PricingResolver computes line prices from catalog and lot data.
type PricingResolver interface {
	Resolve(ctx context.Context, req PriceRequest) (PricedLine, error)
}

// InventoryService exposes the FIFO lot store.
type InventoryService interface {
	Snapshot(ctx context.Context, key StockKey) (StockSnapshot, error)
	Available(ctx context.Context, key StockKey) (int, error)
	LatestPrice(ctx context.Context, key StockKey) (int64, bool, error)
	// Allocate must run inside a unit of work; it locks the key's lots.
	Allocate(ctx context.Context, cmd AllocateCommand) ([]Allocation, error)
	Record(ctx context.Context, allocations []Allocation) error
	// Restore reverses every allocation of the order and deletes the records.
	Restore(ctx context.Context, orderID string) (int, error)
}

// PromoValidator validates and counts promo code redemptions.
type PromoValidator interface {
	Validate(ctx context.Context, code string, subtotal int64) (PromoApplication, error)
	// Redeem locks the promo row, rechecks the cap and increments the counter.
	Redeem(ctx context.Context, promoID string) error
	// Release decrements the counter, floored at zero.
	Release(ctx context.Context, promoID string) error
}

// CreditLedger manages remise and solde for a customer.
type CreditLedger interface {
	Lock(ctx context.Context, customerID string) (CustomerCredit, error)
	SpendRemise(ctx context.Context, credit CustomerCredit, req RemiseRequest, payable int64) (int64, error)
	AuthorizeSolde(ctx context.Context, credit CustomerCredit, creditAmount int64) error
	RefundRemise(ctx context.Context, customerID string, amount int64) error
	CumulativeBalance(ctx context.Context, customerID string) (BalanceBreakdown, error)
	Card(ctx context.Context, customerID string) (CreditCard, error)
	Summary(ctx context.Context, customerID string) (CreditSummary, error)
}

// CheckoutService turns requested items into a committed order.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
}

// CancellationService reverses a cancellable order.
type CancellationService interface {
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// OrderService reads orders for their owner or staff.
type OrderService interface {
	GetOrder(ctx context.Context, query OrderQuery) (OrderDetail, error)
}

// QuoteService prices a prospective cart without side effects.
type QuoteService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (QuoteResult, error)
}

// SystemService exposes operational metadata for health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher forwards order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// PriceRequest references one catalog item and its quantity in the selling unit.
type PriceRequest struct {
	ProductID string
	VariantID string
	UnitID    string
	Quantity  int
}

// StockSnapshot is the unlocked view of a stock key.
type StockSnapshot struct {
	Key       StockKey
	Available int
	// Latest is the most recently arrived lot regardless of remaining quantity; nil when the
	// key has no lots.
	Latest *InventoryLot
}

// AllocateCommand requests stock for one order line.
type AllocateCommand struct {
	OrderID     string
	OrderLineID string
	Key         StockKey
	Quantity    int
}

// PromoApplication is the outcome of a successful promo validation.
type PromoApplication struct {
	PromoID  string
	Code     string
	Discount int64
}

// RemiseRequest asks to spend an amount of remise, or all of it.
type RemiseRequest struct {
	Amount int64
	All    bool
}

// Requested reports whether the request asks for any spend.
func (r *RemiseRequest) Requested() bool {
	return r != nil && (r.All || r.Amount > 0)
}

// CreditCard is the customer-facing credit overview.
type CreditCard struct {
	CustomerID     string
	RemiseBalance  int64
	CreditEligible bool
	Plafond        *int64
	Outstanding    int64
	// Available is plafond minus outstanding; nil when the ceiling is unbounded.
	Available *int64
}

// CreditSummary is the per-source detail of the outstanding balance.
type CreditSummary struct {
	CustomerID  string
	Outstanding int64
	Breakdown   BalanceBreakdown
}

// CheckoutCommand is a validated checkout request from the HTTP layer.
type CheckoutCommand struct {
	CustomerID       string
	Guest            *domain.GuestContact
	Items            []PriceRequest
	UseCart          bool
	DeliveryMethod   domain.DeliveryMethod
	PaymentMethod    domain.PaymentMethod
	PickupLocationID string
	ShippingAddress  *domain.Address
	PromoCode        string
	Remise           *RemiseRequest
	PaymentDetails   map[string]string
	Notes            string
}

// CancelOrderCommand requests cancellation on behalf of an actor.
type CancelOrderCommand struct {
	OrderID      string
	ActorID      string
	ActorIsStaff bool
	Reason       string
}

// OrderQuery reads one order on behalf of an actor.
type OrderQuery struct {
	OrderID      string
	ActorID      string
	ActorIsStaff bool
}

// OrderDetail is an order with its status history.
type OrderDetail struct {
	Order   Order
	History []OrderStatusChange
}

// QuoteCommand prices items for a delivery method and destination.
type QuoteCommand struct {
	Items          []PriceRequest
	DeliveryMethod domain.DeliveryMethod
	Destination    *Coordinates
}

// QuoteResult is the only shape a quote exposes: cost, weight, margin and distance stay internal.
type QuoteResult struct {
	Subtotal      int64  `json:"subtotal"`
	ShippingCost  int64  `json:"shippingCost"`
	Total         int64  `json:"total"`
	ItemCount     int    `json:"itemCount"`
	ShippingLabel string `json:"shippingLabel"`
}

// OrderEvent is published after an order commit or cancellation.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	CustomerID     string
	PreviousStatus string
	CurrentStatus  string
	TotalAmount    int64
	Currency       string
	OccurredAt     time.Time
}

const (
	OrderEventCreated   = "order.created"
	OrderEventCancelled = "order.cancelled"
)
