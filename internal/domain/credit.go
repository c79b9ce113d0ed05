package domain

import "slices"

// CustomerCredit is the per-customer ledger row.
type CustomerCredit struct {
	CustomerID     string
	RemiseBalance  int64
	CreditEligible bool
	// Plafond is the credit-sale ceiling; nil means unbounded.
	Plafond *int64
}

// ExcludedBalanceStatuses lists document statuses that never count towards a customer's
// cumulative credit balance. Every balance computation filters on this list.
var ExcludedBalanceStatuses = []string{
	"cancelled",
	"refunded",
	"void",
	"draft",
	"rejected",
}

// ExcludedFromBalance reports whether a document with the given status is ignored.
func ExcludedFromBalance(status string) bool {
	return slices.Contains(ExcludedBalanceStatuses, status)
}

// CreditDocumentKind classifies ledger documents.
type CreditDocumentKind string

const (
	// CreditDocumentSale increases the amount owed.
	CreditDocumentSale CreditDocumentKind = "sale"
	// CreditDocumentPayment decreases the amount owed.
	CreditDocumentPayment CreditDocumentKind = "payment"
	// CreditDocumentCreditNote (avoir) decreases the amount owed.
	CreditDocumentCreditNote CreditDocumentKind = "credit_note"
)

// CreditSource names the subsystem a document originates from.
type CreditSource string

const (
	// CreditSourceShop is this service's orders and credit payments.
	CreditSourceShop CreditSource = "shop"
	// CreditSourceBackoffice is the legacy backoffice sales, payments and credit notes.
	CreditSourceBackoffice CreditSource = "backoffice"
)

// BalanceBreakdown is the per-source aggregate behind a cumulative balance.
type BalanceBreakdown struct {
	ShopSales             int64
	ShopPayments          int64
	BackofficeSales       int64
	BackofficePayments    int64
	BackofficeCreditNotes int64
}

// Add folds one aggregated document total into the breakdown.
func (b *BalanceBreakdown) Add(source CreditSource, kind CreditDocumentKind, amount int64) {
	switch source {
	case CreditSourceShop:
		switch kind {
		case CreditDocumentSale:
			b.ShopSales += amount
		case CreditDocumentPayment, CreditDocumentCreditNote:
			b.ShopPayments += amount
		}
	case CreditSourceBackoffice:
		switch kind {
		case CreditDocumentSale:
			b.BackofficeSales += amount
		case CreditDocumentPayment:
			b.BackofficePayments += amount
		case CreditDocumentCreditNote:
			b.BackofficeCreditNotes += amount
		}
	}
}

// Balance is sales minus payments and credit notes across both subsystems.
func (b BalanceBreakdown) Balance() int64 {
	return b.ShopSales + b.BackofficeSales - b.ShopPayments - b.BackofficePayments - b.BackofficeCreditNotes
}

// CreditDocument is one sale, payment or credit note counted in the cumulative balance. Shop
// sales are derived from orders; the rest are written by collaborators.
type CreditDocument struct {
	ID         string
	CustomerID string
	Source     CreditSource
	Kind       CreditDocumentKind
	Status     string
	Amount     int64
}
