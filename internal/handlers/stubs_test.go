package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/platform/auth"
	"github.com/batimat/api/internal/services"
)

var errNotImplemented = errors.New("not implemented")

type stubQuoteService struct {
	quoteFn func(context.Context, services.QuoteCommand) (services.QuoteResult, error)
}

func (s *stubQuoteService) Quote(ctx context.Context, cmd services.QuoteCommand) (services.QuoteResult, error) {
	if s.quoteFn != nil {
		return s.quoteFn(ctx, cmd)
	}
	return services.QuoteResult{}, errNotImplemented
}

type stubCheckoutService struct {
	checkoutFn func(context.Context, services.CheckoutCommand) (services.Order, error)
	calls      int
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
	s.calls++
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

type stubOrderService struct {
	getFn func(context.Context, services.OrderQuery) (services.OrderDetail, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.OrderQuery) (services.OrderDetail, error) {
	if s.getFn != nil {
		return s.getFn(ctx, query)
	}
	return services.OrderDetail{}, errNotImplemented
}

type stubCancellationService struct {
	cancelFn func(context.Context, services.CancelOrderCommand) (services.Order, error)
}

func (s *stubCancellationService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

// stubCreditLedger only serves the read side; the write operations are never reached from HTTP.
type stubCreditLedger struct {
	services.CreditLedger
	cardFn    func(context.Context, string) (services.CreditCard, error)
	summaryFn func(context.Context, string) (services.CreditSummary, error)
}

func (s *stubCreditLedger) Card(ctx context.Context, customerID string) (services.CreditCard, error) {
	if s.cardFn != nil {
		return s.cardFn(ctx, customerID)
	}
	return services.CreditCard{}, errNotImplemented
}

func (s *stubCreditLedger) Summary(ctx context.Context, customerID string) (services.CreditSummary, error) {
	if s.summaryFn != nil {
		return s.summaryFn(ctx, customerID)
	}
	return services.CreditSummary{}, errNotImplemented
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

type stubVerifier struct {
	identities map[string]*auth.Identity
}

func (v stubVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	if identity, ok := v.identities[token]; ok {
		return identity, nil
	}
	return nil, errors.New("invalid token")
}

func sampleOrder() services.Order {
	created := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	return services.Order{
		ID:             "ord_1",
		OrderNumber:    "CMD-2025-000042",
		CustomerID:     "cust-1",
		DeliveryMethod: domain.DeliveryMethodPickup,
		PaymentMethod:  domain.PaymentMethodPayInStore,
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		Currency:       "MAD",
		Subtotal:       24000,
		TotalAmount:    24000,
		CreditAmount:   24000,
		Lines: []services.OrderLine{{
			ID:          "line_1",
			ProductID:   "cement",
			ProductName: "Ciment CPJ45",
			ListPrice:   8000,
			UnitPrice:   8000,
			Quantity:    3,
			Subtotal:    24000,
			CostBasis:   6100,
			PriceLotID:  "lot_9",
		}},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func withIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func serve(register func(chi.Router), req *http.Request) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	register(router)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}
