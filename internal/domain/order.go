package domain

import (
	"slices"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the state every order is created in.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates staff accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer or was collected.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled and its effects reversed.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded is set by the payments collaborator.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentStatus tracks collection of the order amount.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// DeliveryMethod enumerates how goods reach the customer.
type DeliveryMethod string

const (
	DeliveryMethodDelivery DeliveryMethod = "delivery"
	DeliveryMethodPickup   DeliveryMethod = "pickup"
)

// Valid reports whether the method is a known value.
func (m DeliveryMethod) Valid() bool {
	return m == DeliveryMethodDelivery || m == DeliveryMethodPickup
}

// PaymentMethod enumerates accepted payment instruments.
type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodSolde          PaymentMethod = "solde"
	PaymentMethodPayInStore     PaymentMethod = "pay_in_store"
)

// Valid reports whether the method is a known value.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCashOnDelivery, PaymentMethodCard, PaymentMethodSolde, PaymentMethodPayInStore:
		return true
	}
	return false
}

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered:  {OrderStatusRefunded},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to OrderStatus) bool {
	return slices.Contains(orderStatusTransitions[from], to)
}

// Cancellable reports whether an order in the given status may still be cancelled.
func (s OrderStatus) Cancellable() bool {
	return CanTransition(s, OrderStatusCancelled)
}

// Order is the persisted result of a committed checkout.
type Order struct {
	ID               string
	OrderNumber      string
	CustomerID       string
	Guest            *GuestContact
	DeliveryMethod   DeliveryMethod
	PaymentMethod    PaymentMethod
	Status           OrderStatus
	PaymentStatus    PaymentStatus
	Currency         string
	Subtotal         int64
	Tax              int64
	ShippingCost     int64
	DiscountAmount   int64
	PromoCode        string
	PromoCodeID      string
	PromoDiscount    int64
	TotalAmount      int64
	RemiseUsedAmount int64
	IsCreditSale     bool
	CreditAmount     int64
	ShippingAddress  *Address
	PickupLocationID string
	Notes            string
	Lines            []OrderLine
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ConfirmedAt      *time.Time
	ShippedAt        *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
	CancelReason     *string
}

// ItemCount sums line quantities.
func (o Order) ItemCount() int {
	total := 0
	for _, line := range o.Lines {
		total += line.Quantity
	}
	return total
}

// OrderLine snapshots a priced item at creation time.
type OrderLine struct {
	ID              string
	OrderID         string
	ProductID       string
	VariantID       string
	UnitID          string
	ProductName     string
	VariantName     string
	UnitName        string
	ListPrice       int64
	UnitPrice       int64
	Quantity        int
	StockQuantity   int
	Subtotal        int64
	DiscountPercent float64
	DiscountAmount  int64
	LoyaltyPercent  float64
	LoyaltyAmount   int64
	CostBasis       int64
	CostSource      CostSource
	PriceLotID      string
}

// OrderStatusChange is one entry of the order status history.
type OrderStatusChange struct {
	ID        string
	OrderID   string
	From      OrderStatus
	To        OrderStatus
	ActorID   string
	Reason    string
	CreatedAt time.Time
}
