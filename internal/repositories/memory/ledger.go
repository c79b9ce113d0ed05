package memory

import (
	"context"
	"slices"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories"
)

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) GetCustomerCredit(ctx context.Context, customerID string) (domain.CustomerCredit, error) {
	defer r.s.acquire(ctx)()
	credit, ok := r.s.state.credits[customerID]
	if !ok {
		return domain.CustomerCredit{}, notFound("credit.get", customerID)
	}
	return credit, nil
}

func (r ledgerRepo) LockCustomerCredit(ctx context.Context, customerID string) (domain.CustomerCredit, error) {
	if !r.s.inTx(ctx) {
		return domain.CustomerCredit{}, repositories.NewLedgerError("credit.lock", repositories.LedgerErrorNotInTransaction, "", nil)
	}
	credit, ok := r.s.state.credits[customerID]
	if !ok {
		return domain.CustomerCredit{}, notFound("credit.lock", customerID)
	}
	return credit, nil
}

func (r ledgerRepo) SpendRemise(ctx context.Context, customerID string, amount int64) (bool, error) {
	defer r.s.acquire(ctx)()
	credit, ok := r.s.state.credits[customerID]
	if !ok || credit.RemiseBalance < amount {
		return false, nil
	}
	credit.RemiseBalance -= amount
	r.s.state.credits[customerID] = credit
	return true, nil
}

func (r ledgerRepo) RefundRemise(ctx context.Context, customerID string, amount int64) error {
	defer r.s.acquire(ctx)()
	credit, ok := r.s.state.credits[customerID]
	if !ok {
		return notFound("credit.refund", customerID)
	}
	credit.RemiseBalance += amount
	r.s.state.credits[customerID] = credit
	return nil
}

func (r ledgerRepo) BalanceBreakdown(ctx context.Context, customerID string, excluded []string) (domain.BalanceBreakdown, error) {
	defer r.s.acquire(ctx)()
	var breakdown domain.BalanceBreakdown
	for _, order := range r.s.state.orders {
		if order.CustomerID != customerID || !order.IsCreditSale || slices.Contains(excluded, string(order.Status)) {
			continue
		}
		breakdown.Add(domain.CreditSourceShop, domain.CreditDocumentSale, order.CreditAmount)
	}
	for _, doc := range r.s.state.documents {
		if doc.CustomerID != customerID || slices.Contains(excluded, doc.Status) {
			continue
		}
		breakdown.Add(doc.Source, doc.Kind, doc.Amount)
	}
	return breakdown, nil
}
