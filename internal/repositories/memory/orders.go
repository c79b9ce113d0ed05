package memory

import (
	"context"
	"slices"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories"
)

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	defer r.s.acquire(ctx)()
	if _, exists := r.s.state.orders[order.ID]; exists {
		return conflict("orders.insert", "order "+order.ID+" exists")
	}
	for _, existing := range r.s.state.orders {
		if existing.OrderNumber == order.OrderNumber {
			return conflict("orders.insert", "order number "+order.OrderNumber+" exists")
		}
	}
	order.Lines = slices.Clone(order.Lines)
	r.s.state.orders[order.ID] = order
	return nil
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	defer r.s.acquire(ctx)()
	return r.get("orders.find", orderID)
}

func (r orderRepo) LockByID(ctx context.Context, orderID string) (domain.Order, error) {
	if !r.s.inTx(ctx) {
		return domain.Order{}, repositories.NewLedgerError("orders.lock", repositories.LedgerErrorNotInTransaction, "", nil)
	}
	return r.get("orders.lock", orderID)
}

func (r orderRepo) get(op, orderID string) (domain.Order, error) {
	order, ok := r.s.state.orders[orderID]
	if !ok {
		return domain.Order{}, notFound(op, orderID)
	}
	order.Lines = slices.Clone(order.Lines)
	return order, nil
}

func (r orderRepo) UpdateStatus(ctx context.Context, order domain.Order) error {
	defer r.s.acquire(ctx)()
	current, ok := r.s.state.orders[order.ID]
	if !ok {
		return notFound("orders.update_status", order.ID)
	}
	current.Status = order.Status
	current.PaymentStatus = order.PaymentStatus
	current.UpdatedAt = order.UpdatedAt
	current.ConfirmedAt = order.ConfirmedAt
	current.ShippedAt = order.ShippedAt
	current.DeliveredAt = order.DeliveredAt
	current.CancelledAt = order.CancelledAt
	current.CancelReason = order.CancelReason
	r.s.state.orders[order.ID] = current
	return nil
}

func (r orderRepo) AppendStatusHistory(ctx context.Context, change domain.OrderStatusChange) error {
	defer r.s.acquire(ctx)()
	r.s.state.history[change.OrderID] = append(r.s.state.history[change.OrderID], change)
	return nil
}

func (r orderRepo) ListStatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusChange, error) {
	defer r.s.acquire(ctx)()
	return slices.Clone(r.s.state.history[orderID]), nil
}
