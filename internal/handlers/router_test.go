package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/batimat/api/internal/services"
)

func TestRouterUnknownRouteEnvelope(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != errorNotFoundCode {
		t.Fatalf("expected route_not_found, got %v", body["error"])
	}
	if body["requestId"] == nil {
		t.Fatalf("expected request id in envelope")
	}
}

func TestRouterUnregisteredGroupsAreNotImplemented(t *testing.T) {
	router := NewRouter()

	for _, target := range []string{"/api/v1/orders/ord_1", "/api/v1/me/credit", "/api/v1/quote"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected status 501, got %d", target, rr.Code)
		}
	}
}

func TestRouterMountsRegistrarsUnderPrefix(t *testing.T) {
	quotes := &stubQuoteService{
		quoteFn: func(context.Context, services.QuoteCommand) (services.QuoteResult, error) {
			return services.QuoteResult{Total: 100}, nil
		},
	}
	var apiHits int
	countAPI := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiHits++
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(
		WithQuoteRoutes(NewQuoteHandlers(quotes).Routes),
		WithAPIMiddlewares(countAPI),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/quote", `{"items":[{"productId":"sand","quantity":1}],"deliveryMethod":"pickup"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rr.Code)
	}

	if apiHits != 1 {
		t.Fatalf("expected API middleware to run only for API routes, got %d", apiHits)
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
}
