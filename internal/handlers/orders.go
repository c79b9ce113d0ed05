package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/batimat/api/internal/platform/auth"
	"github.com/batimat/api/internal/platform/httpx"
	"github.com/batimat/api/internal/services"
)

const maxOrderCancelBodySize = 4 * 1024

// OrderHandlers serves order reads and cancellation for owners and staff.
type OrderHandlers struct {
	authn         *auth.Authenticator
	orders        services.OrderService
	cancellations services.CancellationService
}

// NewOrderHandlers constructs order handlers guarded by authentication.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, cancellations services.CancellationService) *OrderHandlers {
	return &OrderHandlers{
		authn:         authn,
		orders:        orders,
		cancellations: cancellations,
	}
}

// Routes registers order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.Require())
	}
	group.Get("/{orderID}", h.getOrder)
	group.Post("/{orderID}/cancel", h.cancelOrder)
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	detail, err := h.orders.GetOrder(ctx, services.OrderQuery{
		OrderID:      orderID,
		ActorID:      identity.UID,
		ActorIsStaff: identity.IsStaff(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(detail.Order, detail.History))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancellations == nil {
		writeUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req cancelOrderRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.cancellations.Cancel(ctx, services.CancelOrderCommand{
		OrderID:      orderID,
		ActorID:      identity.UID,
		ActorIsStaff: identity.IsStaff(),
		Reason:       req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, nil))
}
