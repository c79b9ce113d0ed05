package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories"
)

const maxCancelReasonLength = 500

// CancellationServiceDeps wires the cancellation orchestrator.
type CancellationServiceDeps struct {
	UnitOfWork  repositories.UnitOfWork
	Orders      repositories.OrderRepository
	Inventory   InventoryService
	Promos      PromoValidator
	Credit      CreditLedger
	Events      OrderEventPublisher
	Sanitizer   func(string) string
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cancellationService struct {
	uow       repositories.UnitOfWork
	orders    repositories.OrderRepository
	inventory InventoryService
	promos    PromoValidator
	credit    CreditLedger
	events    OrderEventPublisher
	sanitize  func(string) string
	metrics   *orderMetrics
	now       func() time.Time
	newID     func() string
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewCancellationService constructs a CancellationService.
func NewCancellationService(deps CancellationServiceDeps) (CancellationService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("cancellation service: order repository is required")
	case deps.Inventory == nil:
		return nil, errors.New("cancellation service: inventory service is required")
	case deps.Promos == nil:
		return nil, errors.New("cancellation service: promo validator is required")
	case deps.Credit == nil:
		return nil, errors.New("cancellation service: credit ledger is required")
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}
	return &cancellationService{
		uow:       uow,
		orders:    deps.Orders,
		inventory: deps.Inventory,
		promos:    deps.Promos,
		credit:    deps.Credit,
		events:    deps.Events,
		sanitize:  sanitize,
		metrics:   newOrderMetrics(deps.Meter),
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Cancel restores stock, the promo counter and spent remise, then marks the order cancelled,
// all in one transaction.
func (s *cancellationService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	actorID := strings.TrimSpace(cmd.ActorID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}
	if actorID == "" && !cmd.ActorIsStaff {
		return Order{}, ErrCreditAuthRequired
	}
	reason := truncate(s.sanitize(cmd.Reason), maxCancelReasonLength)

	var (
		order    Order
		previous OrderStatus
		restored int
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.LockByID(txCtx, orderID)
		if err != nil {
			return translateRepoError("cancel.lock_order", err, ErrOrderNotFound)
		}
		if !cmd.ActorIsStaff && (order.CustomerID == "" || order.CustomerID != actorID) {
			return fmt.Errorf("%w: %s", ErrOrderForbidden, orderID)
		}
		if !order.Status.Cancellable() {
			return fmt.Errorf("%w: status %s", ErrOrderNotCancellable, order.Status)
		}
		previous = order.Status

		// same lock order as checkout: ledger, lots, promo
		if order.RemiseUsedAmount > 0 && order.CustomerID != "" {
			if _, err := s.credit.Lock(txCtx, order.CustomerID); err != nil {
				return err
			}
			if err := s.credit.RefundRemise(txCtx, order.CustomerID, order.RemiseUsedAmount); err != nil {
				return err
			}
		}
		if restored, err = s.inventory.Restore(txCtx, order.ID); err != nil {
			return err
		}
		if order.PromoCodeID != "" {
			if err := s.promos.Release(txCtx, order.PromoCodeID); err != nil {
				return err
			}
		}

		now := s.now()
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		order.UpdatedAt = now
		if reason != "" {
			order.CancelReason = &reason
		}
		if err := s.orders.UpdateStatus(txCtx, order); err != nil {
			return translateRepoError("cancel.update_status", err, ErrOrderNotFound)
		}
		if err := s.orders.AppendStatusHistory(txCtx, OrderStatusChange{
			ID:        s.newID(),
			OrderID:   order.ID,
			From:      previous,
			To:        domain.OrderStatusCancelled,
			ActorID:   actorID,
			Reason:    reason,
			CreatedAt: now,
		}); err != nil {
			return translateRepoError("cancel.status_history", err, nil)
		}
		return nil
	})
	if err != nil {
		s.metrics.recordCancellation(ctx, ErrorKind(err))
		return Order{}, err
	}

	s.metrics.recordCancellation(ctx, "")
	s.logger(ctx, "order.cancelled", map[string]any{
		"orderID":       order.ID,
		"actorID":       actorID,
		"staff":         cmd.ActorIsStaff,
		"restoredUnits": restored,
		"remiseRefund":  order.RemiseUsedAmount,
	})
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           OrderEventCancelled,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		CustomerID:     order.CustomerID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		OccurredAt:     order.UpdatedAt,
	})
	return order, nil
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
