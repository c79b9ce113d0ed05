package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/platform/httpx"
	"github.com/batimat/api/internal/services"
)

const maxQuoteRequestBody = 16 * 1024

// QuoteHandlers prices a prospective cart for guests and customers alike.
type QuoteHandlers struct {
	quotes services.QuoteService
}

// NewQuoteHandlers constructs quote handlers.
func NewQuoteHandlers(quotes services.QuoteService) *QuoteHandlers {
	return &QuoteHandlers{quotes: quotes}
}

// Routes registers the quote endpoint under the provided router.
func (h *QuoteHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quote", h.quote)
}

type quoteRequest struct {
	Items          []itemPayload       `json:"items"`
	DeliveryMethod string              `json:"deliveryMethod"`
	Destination    *coordinatesPayload `json:"destination"`
}

func (h *QuoteHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		writeUnavailable(ctx, w, "quote_unavailable", "quote service unavailable")
		return
	}

	var req quoteRequest
	if err := httpx.DecodeJSON(r, &req, maxQuoteRequestBody, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.quotes.Quote(ctx, services.QuoteCommand{
		Items:          toPriceRequests(req.Items),
		DeliveryMethod: domain.DeliveryMethod(req.DeliveryMethod),
		Destination:    req.Destination.toDomain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}
