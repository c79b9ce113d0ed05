package handlers

import (
	"time"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/services"
)

type itemPayload struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	UnitID    string `json:"unitId,omitempty"`
	Quantity  int    `json:"quantity"`
}

type coordinatesPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type addressPayload struct {
	Recipient   string              `json:"recipient"`
	Line1       string              `json:"line1"`
	Line2       *string             `json:"line2,omitempty"`
	City        string              `json:"city"`
	PostalCode  string              `json:"postalCode"`
	Country     string              `json:"country"`
	Phone       *string             `json:"phone,omitempty"`
	Coordinates *coordinatesPayload `json:"coordinates,omitempty"`
}

type orderLinePayload struct {
	ID              string  `json:"id"`
	ProductID       string  `json:"productId"`
	VariantID       string  `json:"variantId,omitempty"`
	UnitID          string  `json:"unitId,omitempty"`
	ProductName     string  `json:"productName"`
	VariantName     string  `json:"variantName,omitempty"`
	UnitName        string  `json:"unitName,omitempty"`
	ListPrice       int64   `json:"listPrice"`
	UnitPrice       int64   `json:"unitPrice"`
	Quantity        int     `json:"quantity"`
	Subtotal        int64   `json:"subtotal"`
	DiscountPercent float64 `json:"discountPercent"`
	DiscountAmount  int64   `json:"discountAmount"`
	LoyaltyAmount   int64   `json:"loyaltyAmount"`
}

type statusChangePayload struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type orderPayload struct {
	ID               string                `json:"id"`
	OrderNumber      string                `json:"orderNumber"`
	CustomerID       string                `json:"customerId,omitempty"`
	Status           string                `json:"status"`
	PaymentStatus    string                `json:"paymentStatus"`
	DeliveryMethod   string                `json:"deliveryMethod"`
	PaymentMethod    string                `json:"paymentMethod"`
	Currency         string                `json:"currency"`
	Subtotal         int64                 `json:"subtotal"`
	Tax              int64                 `json:"tax"`
	ShippingCost     int64                 `json:"shippingCost"`
	DiscountAmount   int64                 `json:"discountAmount"`
	PromoCode        string                `json:"promoCode,omitempty"`
	PromoDiscount    int64                 `json:"promoDiscount"`
	TotalAmount      int64                 `json:"totalAmount"`
	RemiseUsedAmount int64                 `json:"remiseUsedAmount"`
	IsCreditSale     bool                  `json:"isCreditSale"`
	CreditAmount     int64                 `json:"creditAmount"`
	ShippingAddress  *addressPayload       `json:"shippingAddress,omitempty"`
	PickupLocationID string                `json:"pickupLocationId,omitempty"`
	Notes            string                `json:"notes,omitempty"`
	Lines            []orderLinePayload    `json:"lines"`
	CreatedAt        string                `json:"createdAt"`
	UpdatedAt        string                `json:"updatedAt"`
	CancelledAt      string                `json:"cancelledAt,omitempty"`
	CancelReason     string                `json:"cancelReason,omitempty"`
	History          []statusChangePayload `json:"history,omitempty"`
}

func toPriceRequests(items []itemPayload) []services.PriceRequest {
	if len(items) == 0 {
		return nil
	}
	out := make([]services.PriceRequest, 0, len(items))
	for _, item := range items {
		out = append(out, services.PriceRequest{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			UnitID:    item.UnitID,
			Quantity:  item.Quantity,
		})
	}
	return out
}

func (c *coordinatesPayload) toDomain() *domain.Coordinates {
	if c == nil {
		return nil
	}
	return &domain.Coordinates{Latitude: c.Latitude, Longitude: c.Longitude}
}

func (a *addressPayload) toDomain() *domain.Address {
	if a == nil {
		return nil
	}
	return &domain.Address{
		Recipient:   a.Recipient,
		Line1:       a.Line1,
		Line2:       a.Line2,
		City:        a.City,
		PostalCode:  a.PostalCode,
		Country:     a.Country,
		Phone:       a.Phone,
		Coordinates: a.Coordinates.toDomain(),
	}
}

func addressFromDomain(addr *domain.Address) *addressPayload {
	if addr == nil {
		return nil
	}
	payload := &addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
	if addr.Coordinates != nil {
		payload.Coordinates = &coordinatesPayload{Latitude: addr.Coordinates.Latitude, Longitude: addr.Coordinates.Longitude}
	}
	return payload
}

// buildOrderPayload renders an order for its owner. Cost basis and lot references stay internal.
func buildOrderPayload(order services.Order, history []services.OrderStatusChange) orderPayload {
	payload := orderPayload{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		CustomerID:       order.CustomerID,
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		DeliveryMethod:   string(order.DeliveryMethod),
		PaymentMethod:    string(order.PaymentMethod),
		Currency:         order.Currency,
		Subtotal:         order.Subtotal,
		Tax:              order.Tax,
		ShippingCost:     order.ShippingCost,
		DiscountAmount:   order.DiscountAmount,
		PromoCode:        order.PromoCode,
		PromoDiscount:    order.PromoDiscount,
		TotalAmount:      order.TotalAmount,
		RemiseUsedAmount: order.RemiseUsedAmount,
		IsCreditSale:     order.IsCreditSale,
		CreditAmount:     order.CreditAmount,
		ShippingAddress:  addressFromDomain(order.ShippingAddress),
		PickupLocationID: order.PickupLocationID,
		Notes:            order.Notes,
		Lines:            make([]orderLinePayload, 0, len(order.Lines)),
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
	if order.CancelledAt != nil {
		payload.CancelledAt = formatTime(*order.CancelledAt)
	}
	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ID:              line.ID,
			ProductID:       line.ProductID,
			VariantID:       line.VariantID,
			UnitID:          line.UnitID,
			ProductName:     line.ProductName,
			VariantName:     line.VariantName,
			UnitName:        line.UnitName,
			ListPrice:       line.ListPrice,
			UnitPrice:       line.UnitPrice,
			Quantity:        line.Quantity,
			Subtotal:        line.Subtotal,
			DiscountPercent: line.DiscountPercent,
			DiscountAmount:  line.DiscountAmount,
			LoyaltyAmount:   line.LoyaltyAmount,
		})
	}
	for _, change := range history {
		payload.History = append(payload.History, statusChangePayload{
			From:      string(change.From),
			To:        string(change.To),
			Reason:    change.Reason,
			CreatedAt: formatTime(change.CreatedAt),
		})
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
