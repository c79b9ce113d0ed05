package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/platform/auth"
	"github.com/batimat/api/internal/platform/idempotency"
	"github.com/batimat/api/internal/services"
)

const guestPickupBody = `{
	"items": [{"productId": "cement", "quantity": 3}],
	"deliveryMethod": "pickup",
	"paymentMethod": "pay_in_store",
	"pickupLocationId": "depot-1",
	"guest": {"name": "  Amina  ", "phone": "+212600000000"},
	"notes": "<b>call</b> before"
}`

func TestCheckoutHandlersGuestPickup(t *testing.T) {
	var captured services.CheckoutCommand
	svc := &stubCheckoutService{
		checkoutFn: func(_ context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	handler := NewCheckoutHandlers(nil, svc)

	rr := serve(handler.Routes, jsonRequest(http.MethodPost, "/checkout", guestPickupBody))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CustomerID != "" {
		t.Fatalf("expected guest checkout, got customer %q", captured.CustomerID)
	}
	if captured.Guest == nil || captured.Guest.Name != "Amina" {
		t.Fatalf("expected trimmed guest name, got %#v", captured.Guest)
	}
	if captured.DeliveryMethod != domain.DeliveryMethodPickup || captured.PaymentMethod != domain.PaymentMethodPayInStore {
		t.Fatalf("unexpected methods %s/%s", captured.DeliveryMethod, captured.PaymentMethod)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "cement" || captured.Items[0].Quantity != 3 {
		t.Fatalf("unexpected items %#v", captured.Items)
	}

	var resp orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.OrderNumber != "CMD-2025-000042" || resp.TotalAmount != 24000 {
		t.Fatalf("unexpected order payload %#v", resp)
	}
	if strings.Contains(rr.Body.String(), "costBasis") || strings.Contains(rr.Body.String(), "lot_9") {
		t.Fatalf("cost data leaked: %s", rr.Body.String())
	}
}

func TestCheckoutHandlersUsesAuthenticatedCustomer(t *testing.T) {
	var captured services.CheckoutCommand
	svc := &stubCheckoutService{
		checkoutFn: func(_ context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	authn := auth.NewAuthenticator(stubVerifier{identities: map[string]*auth.Identity{
		"tok-1": {UID: "cust-1", Roles: []string{auth.RoleCustomer}},
	}})
	handler := NewCheckoutHandlers(authn, svc)

	body := `{"items":[{"productId":"cement","quantity":1}],"deliveryMethod":"pickup","paymentMethod":"solde","pickupLocationId":"depot-1","remise":{"all":true}}`
	req := jsonRequest(http.MethodPost, "/checkout", body)
	req.Header.Set("Authorization", "Bearer tok-1")
	rr := serve(handler.Routes, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CustomerID != "cust-1" {
		t.Fatalf("expected customer cust-1, got %q", captured.CustomerID)
	}
	if captured.Remise == nil || !captured.Remise.All {
		t.Fatalf("expected remise all request, got %#v", captured.Remise)
	}
}

func TestCheckoutHandlersRejectsInvalidToken(t *testing.T) {
	svc := &stubCheckoutService{}
	authn := auth.NewAuthenticator(stubVerifier{})
	handler := NewCheckoutHandlers(authn, svc)

	req := jsonRequest(http.MethodPost, "/checkout", guestPickupBody)
	req.Header.Set("Authorization", "Bearer forged")
	rr := serve(handler.Routes, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("expected checkout not to run")
	}
}

func TestCheckoutHandlersRejectsCardFields(t *testing.T) {
	svc := &stubCheckoutService{}
	handler := NewCheckoutHandlers(nil, svc)

	body := `{"items":[{"productId":"cement","quantity":1}],"deliveryMethod":"pickup","paymentMethod":"card","card_number":"4242424242424242","cvv":"123"}`
	rr := serve(handler.Routes, jsonRequest(http.MethodPost, "/checkout", body))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var resp struct {
		Error  string   `json:"error"`
		Fields []string `json:"fields"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error != services.KindForbiddenField {
		t.Fatalf("expected forbidden_field, got %s", resp.Error)
	}
	if len(resp.Fields) != 2 || resp.Fields[0] != "card_number" || resp.Fields[1] != "cvv" {
		t.Fatalf("unexpected fields %v", resp.Fields)
	}
	if strings.Contains(rr.Body.String(), "4242") {
		t.Fatalf("card number echoed in response")
	}
	if svc.calls != 0 {
		t.Fatalf("expected checkout not to run")
	}
}

func TestCheckoutHandlersRejectsUnknownFields(t *testing.T) {
	svc := &stubCheckoutService{}
	handler := NewCheckoutHandlers(nil, svc)

	body := `{"items":[{"productId":"cement","quantity":1}],"deliveryMethod":"pickup","paymentMethod":"pay_in_store","discountOverride":50}`
	rr := serve(handler.Routes, jsonRequest(http.MethodPost, "/checkout", body))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_request") {
		t.Fatalf("expected invalid_request, got %s", rr.Body.String())
	}
	if svc.calls != 0 {
		t.Fatalf("expected checkout not to run")
	}
}

func TestCheckoutHandlersBodyTooLarge(t *testing.T) {
	handler := NewCheckoutHandlers(nil, &stubCheckoutService{})
	body := `{"notes":"` + strings.Repeat("x", maxCheckoutRequestBody) + `"}`

	rr := serve(handler.Routes, jsonRequest(http.MethodPost, "/checkout", body))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
}

func TestCheckoutHandlersMapsAbortStage(t *testing.T) {
	svc := &stubCheckoutService{
		checkoutFn: func(context.Context, services.CheckoutCommand) (services.Order, error) {
			return services.Order{}, &services.CheckoutAbortedError{
				Stage: services.StageAllocatingStock,
				Err:   fmt.Errorf("%w: cement needs 3, 1 left", services.ErrInsufficientStock),
			}
		},
	}
	handler := NewCheckoutHandlers(nil, svc)

	rr := serve(handler.Routes, jsonRequest(http.MethodPost, "/checkout", guestPickupBody))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != services.KindInsufficientStock {
		t.Fatalf("expected insufficient_stock, got %v", resp["error"])
	}
	if resp["stage"] != string(services.StageAllocatingStock) {
		t.Fatalf("expected stage allocatingStock, got %v", resp["stage"])
	}
}

func TestCheckoutHandlersIdempotentReplay(t *testing.T) {
	svc := &stubCheckoutService{
		checkoutFn: func(context.Context, services.CheckoutCommand) (services.Order, error) {
			return sampleOrder(), nil
		},
	}
	store := idempotency.NewMemoryStore()
	handler := NewCheckoutHandlers(nil, svc, idempotency.Middleware(store))

	var bodies []string
	for i := 0; i < 2; i++ {
		req := jsonRequest(http.MethodPost, "/checkout", guestPickupBody)
		req.Header.Set("Idempotency-Key", "retry-1")
		rr := serve(handler.Routes, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected status 201, got %d", i, rr.Code)
		}
		bodies = append(bodies, rr.Body.String())
	}

	if svc.calls != 1 {
		t.Fatalf("expected one checkout, got %d", svc.calls)
	}
	if bodies[0] != bodies[1] {
		t.Fatalf("expected replayed body to match")
	}
}

func TestCheckoutHandlersUnavailableIsRetryable(t *testing.T) {
	svc := &stubCheckoutService{
		checkoutFn: func(context.Context, services.CheckoutCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: lock timeout", services.ErrUnavailable)
		},
	}
	handler := NewCheckoutHandlers(nil, svc, idempotency.Middleware(idempotency.NewMemoryStore()))

	for i := 0; i < 2; i++ {
		req := jsonRequest(http.MethodPost, "/checkout", guestPickupBody)
		req.Header.Set("Idempotency-Key", "retry-2")
		rr := serve(handler.Routes, req)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("attempt %d: expected status 503, got %d", i, rr.Code)
		}
		if rr.Header().Get("Retry-After") == "" {
			t.Fatalf("expected Retry-After header")
		}
	}
	if svc.calls != 2 {
		t.Fatalf("expected both attempts to reach checkout, got %d", svc.calls)
	}
}
