package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/platform/auth"
	"github.com/batimat/api/internal/platform/httpx"
	"github.com/batimat/api/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// CheckoutHandlers exposes order creation for customers and guests.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	middlewares []func(http.Handler) http.Handler
}

// NewCheckoutHandlers constructs checkout handlers. Extra middleware (idempotency keys) runs
// after optional authentication so replays are scoped to the caller.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, mw ...func(http.Handler) http.Handler) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:       authn,
		checkout:    checkout,
		middlewares: mw,
	}
}

// Routes registers the checkout endpoint under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.Optional())
	}
	for _, mw := range h.middlewares {
		if mw != nil {
			group = group.With(mw)
		}
	}
	group.Post("/checkout", h.createOrder)
}

type guestPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type remisePayload struct {
	Amount int64 `json:"amount"`
	All    bool  `json:"all"`
}

type checkoutRequest struct {
	Items            []itemPayload     `json:"items"`
	UseCart          bool              `json:"useCart"`
	DeliveryMethod   string            `json:"deliveryMethod"`
	PaymentMethod    string            `json:"paymentMethod"`
	PickupLocationID string            `json:"pickupLocationId"`
	ShippingAddress  *addressPayload   `json:"shippingAddress"`
	Guest            *guestPayload     `json:"guest"`
	PromoCode        string            `json:"promoCode"`
	Remise           *remisePayload    `json:"remise"`
	PaymentDetails   map[string]string `json:"paymentDetails"`
	Notes            string            `json:"notes"`
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeUnavailable(ctx, w, "checkout_unavailable", "checkout service unavailable")
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	req, err := decodeCheckoutRequest(body)
	if err != nil {
		var forbidden *forbiddenFieldError
		if errors.As(err, &forbidden) {
			httpx.WriteError(ctx, w, httpx.NewError(services.KindForbiddenField, "card data must not be sent to this endpoint", http.StatusBadRequest).
				WithDetails(map[string]any{"fields": forbidden.fields}))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.CheckoutCommand{
		Items:            toPriceRequests(req.Items),
		UseCart:          req.UseCart,
		DeliveryMethod:   domain.DeliveryMethod(strings.TrimSpace(req.DeliveryMethod)),
		PaymentMethod:    domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		PickupLocationID: req.PickupLocationID,
		ShippingAddress:  req.ShippingAddress.toDomain(),
		PromoCode:        req.PromoCode,
		PaymentDetails:   req.PaymentDetails,
		Notes:            req.Notes,
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.CustomerID = identity.UID
	}
	if req.Guest != nil {
		cmd.Guest = &domain.GuestContact{
			Name:  strings.TrimSpace(req.Guest.Name),
			Email: strings.TrimSpace(req.Guest.Email),
			Phone: strings.TrimSpace(req.Guest.Phone),
		}
	}
	if req.Remise != nil {
		cmd.Remise = &services.RemiseRequest{Amount: req.Remise.Amount, All: req.Remise.All}
	}

	order, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order, nil))
}

type forbiddenFieldError struct {
	fields []string
}

func (e *forbiddenFieldError) Error() string {
	return "forbidden fields: " + strings.Join(e.fields, ", ")
}

// decodeCheckoutRequest rejects raw card fields at the top level before strict decoding, so a
// client posting a card number gets forbidden_field rather than an unknown-field error.
func decodeCheckoutRequest(body []byte) (checkoutRequest, error) {
	var req checkoutRequest
	if len(bytes.TrimSpace(body)) == 0 {
		return req, errors.New("request body is required")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return req, errors.New("request body must be a JSON object")
	}
	var forbidden []string
	for key := range raw {
		if services.IsForbiddenPaymentField(key) {
			forbidden = append(forbidden, key)
		}
	}
	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return req, &forbiddenFieldError{fields: forbidden}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid checkout request: %w", err)
	}
	return req, nil
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, httpx.ErrBodyTooLarge
	}
	return data, nil
}
