package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/batimat/api/internal/repositories"
)

// OrderServiceDeps wires order reads.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
}

type orderService struct {
	orders repositories.OrderRepository
}

// NewOrderService constructs an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	return &orderService{orders: deps.Orders}, nil
}

func (s *orderService) GetOrder(ctx context.Context, query OrderQuery) (OrderDetail, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return OrderDetail{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderDetail{}, translateRepoError("orders.get", err, ErrOrderNotFound)
	}
	// owners only see their own orders; others get not-found rather than forbidden
	if !query.ActorIsStaff && (order.CustomerID == "" || order.CustomerID != strings.TrimSpace(query.ActorID)) {
		return OrderDetail{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	history, err := s.orders.ListStatusHistory(ctx, orderID)
	if err != nil {
		return OrderDetail{}, translateRepoError("orders.history", err, nil)
	}
	return OrderDetail{Order: order, History: history}, nil
}
