package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/batimat/api/internal/platform/auth"
	"github.com/batimat/api/internal/platform/httpx"
	"github.com/batimat/api/internal/services"
)

// CreditHandlers exposes the remise and solde overview to customers and staff.
type CreditHandlers struct {
	authn  *auth.Authenticator
	ledger services.CreditLedger
}

// NewCreditHandlers constructs credit handlers.
func NewCreditHandlers(authn *auth.Authenticator, ledger services.CreditLedger) *CreditHandlers {
	return &CreditHandlers{authn: authn, ledger: ledger}
}

// MeRoutes registers the caller's own credit endpoints.
func (h *CreditHandlers) MeRoutes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.Require())
	}
	group.Get("/credit", h.myCard)
	group.Get("/credit/summary", h.mySummary)
}

// CustomerRoutes registers staff lookups of any customer's credit.
func (h *CreditHandlers) CustomerRoutes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.Require(auth.RoleStaff, auth.RoleAdmin))
	}
	group.Get("/{customerID}/credit", h.customerCard)
	group.Get("/{customerID}/credit/summary", h.customerSummary)
}

type creditCardPayload struct {
	CustomerID     string `json:"customerId"`
	RemiseBalance  int64  `json:"remiseBalance"`
	CreditEligible bool   `json:"creditEligible"`
	Plafond        *int64 `json:"plafond"`
	Outstanding    int64  `json:"outstanding"`
	Available      *int64 `json:"available"`
}

type balanceBreakdownPayload struct {
	ShopSales             int64 `json:"shopSales"`
	ShopPayments          int64 `json:"shopPayments"`
	BackofficeSales       int64 `json:"backofficeSales"`
	BackofficePayments    int64 `json:"backofficePayments"`
	BackofficeCreditNotes int64 `json:"backofficeCreditNotes"`
}

type creditSummaryPayload struct {
	CustomerID  string                  `json:"customerId"`
	Outstanding int64                   `json:"outstanding"`
	Breakdown   balanceBreakdownPayload `json:"breakdown"`
}

func (h *CreditHandlers) myCard(w http.ResponseWriter, r *http.Request) {
	if customerID, ok := h.callerID(w, r); ok {
		h.writeCard(w, r, customerID)
	}
}

func (h *CreditHandlers) mySummary(w http.ResponseWriter, r *http.Request) {
	if customerID, ok := h.callerID(w, r); ok {
		h.writeSummary(w, r, customerID)
	}
}

func (h *CreditHandlers) customerCard(w http.ResponseWriter, r *http.Request) {
	if customerID, ok := customerParam(w, r); ok {
		h.writeCard(w, r, customerID)
	}
}

func (h *CreditHandlers) customerSummary(w http.ResponseWriter, r *http.Request) {
	if customerID, ok := customerParam(w, r); ok {
		h.writeSummary(w, r, customerID)
	}
}

func (h *CreditHandlers) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(r.Context(), w)
		return "", false
	}
	return identity.UID, true
}

func customerParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	customerID := strings.TrimSpace(chi.URLParam(r, "customerID"))
	if customerID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "customer id is required", http.StatusBadRequest))
		return "", false
	}
	return customerID, true
}

func (h *CreditHandlers) writeCard(w http.ResponseWriter, r *http.Request, customerID string) {
	ctx := r.Context()
	if h.ledger == nil {
		writeUnavailable(ctx, w, "credit_unavailable", "credit ledger unavailable")
		return
	}
	card, err := h.ledger.Card(ctx, customerID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, creditCardPayload{
		CustomerID:     card.CustomerID,
		RemiseBalance:  card.RemiseBalance,
		CreditEligible: card.CreditEligible,
		Plafond:        card.Plafond,
		Outstanding:    card.Outstanding,
		Available:      card.Available,
	})
}

func (h *CreditHandlers) writeSummary(w http.ResponseWriter, r *http.Request, customerID string) {
	ctx := r.Context()
	if h.ledger == nil {
		writeUnavailable(ctx, w, "credit_unavailable", "credit ledger unavailable")
		return
	}
	summary, err := h.ledger.Summary(ctx, customerID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	b := summary.Breakdown
	httpx.WriteJSON(w, http.StatusOK, creditSummaryPayload{
		CustomerID:  summary.CustomerID,
		Outstanding: summary.Outstanding,
		Breakdown: balanceBreakdownPayload{
			ShopSales:             b.ShopSales,
			ShopPayments:          b.ShopPayments,
			BackofficeSales:       b.BackofficeSales,
			BackofficePayments:    b.BackofficePayments,
			BackofficeCreditNotes: b.BackofficeCreditNotes,
		},
	})
}
