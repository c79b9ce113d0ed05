package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/batimat/api/internal/services"
)

const (
	attrEventType   = "eventType"
	attrOrderID     = "orderId"
	attrOrderNumber = "orderNumber"
	schemaVersion   = "1"
)

var propagator = propagation.TraceContext{}

// orderEventMessage is the wire payload shared by every publisher.
type orderEventMessage struct {
	SchemaVersion  string    `json:"schemaVersion"`
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	CustomerID     string    `json:"customerId,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	CurrentStatus  string    `json:"currentStatus"`
	TotalAmount    int64     `json:"totalAmount"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func encode(event services.OrderEvent) ([]byte, error) {
	data, err := json.Marshal(orderEventMessage{
		SchemaVersion:  schemaVersion,
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		CustomerID:     event.CustomerID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		TotalAmount:    event.TotalAmount,
		Currency:       event.Currency,
		OccurredAt:     event.OccurredAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}
	return data, nil
}

// attributes returns the routing metadata plus the W3C trace context of ctx.
func attributes(ctx context.Context, event services.OrderEvent) map[string]string {
	attrs := propagation.MapCarrier{
		attrEventType:   event.Type,
		attrOrderID:     event.OrderID,
		attrOrderNumber: event.OrderNumber,
	}
	propagator.Inject(ctx, attrs)
	return attrs
}

// Discard drops every event. Used when no backend is configured.
type Discard struct{}

// PublishOrderEvent implements services.OrderEventPublisher.
func (Discard) PublishOrderEvent(context.Context, services.OrderEvent) error { return nil }
