package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories"
)

// ceilingEpsilon tolerates one cent of rounding drift when projecting a credit balance.
const ceilingEpsilon int64 = 1

// CreditLedgerDeps wires the credit ledger.
type CreditLedgerDeps struct {
	Ledger repositories.CreditLedgerRepository
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type creditLedger struct {
	ledger repositories.CreditLedgerRepository
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewCreditLedger constructs a CreditLedger.
func NewCreditLedger(deps CreditLedgerDeps) (CreditLedger, error) {
	if deps.Ledger == nil {
		return nil, errors.New("credit ledger: ledger repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &creditLedger{ledger: deps.Ledger, logger: logger}, nil
}

func (l *creditLedger) Lock(ctx context.Context, customerID string) (CustomerCredit, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return CustomerCredit{}, ErrCreditAuthRequired
	}
	credit, err := l.ledger.LockCustomerCredit(ctx, customerID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return CustomerCredit{CustomerID: customerID}, nil
		}
		return CustomerCredit{}, translateRepoError("credit.lock", err, nil)
	}
	return credit, nil
}

func (l *creditLedger) SpendRemise(ctx context.Context, credit CustomerCredit, req RemiseRequest, payable int64) (int64, error) {
	if credit.CustomerID == "" {
		return 0, ErrCreditAuthRequired
	}
	amount := remiseSpend(req, credit.RemiseBalance, payable)
	if amount == 0 {
		return 0, nil
	}
	ok, err := l.ledger.SpendRemise(ctx, credit.CustomerID, amount)
	if err != nil {
		return 0, translateRepoError("credit.spend_remise", err, nil)
	}
	if !ok {
		return 0, fmt.Errorf("%w: remise for %s", ErrCreditBalanceChanged, credit.CustomerID)
	}
	l.logger(ctx, "credit.remise.spent", map[string]any{
		"customerID": credit.CustomerID,
		"amount":     amount,
	})
	return amount, nil
}

// remiseSpend is min(requested or all, balance, payable), never negative.
func remiseSpend(req RemiseRequest, balance, payable int64) int64 {
	requested := req.Amount
	if req.All {
		requested = balance
	}
	return max(0, min(requested, balance, payable))
}

func (l *creditLedger) AuthorizeSolde(ctx context.Context, credit CustomerCredit, creditAmount int64) error {
	if credit.CustomerID == "" {
		return ErrCreditAuthRequired
	}
	if creditAmount <= 0 {
		return nil
	}
	if !credit.CreditEligible {
		return fmt.Errorf("%w: %s", ErrCreditNotAllowed, credit.CustomerID)
	}
	if credit.Plafond == nil {
		return nil
	}
	breakdown, err := l.CumulativeBalance(ctx, credit.CustomerID)
	if err != nil {
		return err
	}
	projected := breakdown.Balance() + creditAmount
	if projected > *credit.Plafond+ceilingEpsilon {
		l.logger(ctx, "credit.ceiling.exceeded", map[string]any{
			"customerID": credit.CustomerID,
		})
		return fmt.Errorf("%w: %s", ErrCreditCeilingExceeded, credit.CustomerID)
	}
	return nil
}

func (l *creditLedger) RefundRemise(ctx context.Context, customerID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := l.ledger.RefundRemise(ctx, customerID, amount); err != nil {
		return translateRepoError("credit.refund_remise", err, nil)
	}
	return nil
}

// CumulativeBalance is the single derivation of a customer's outstanding credit balance.
func (l *creditLedger) CumulativeBalance(ctx context.Context, customerID string) (BalanceBreakdown, error) {
	breakdown, err := l.ledger.BalanceBreakdown(ctx, customerID, domain.ExcludedBalanceStatuses)
	if err != nil {
		return BalanceBreakdown{}, translateRepoError("credit.balance", err, nil)
	}
	return breakdown, nil
}

func (l *creditLedger) Card(ctx context.Context, customerID string) (CreditCard, error) {
	credit, err := l.read(ctx, customerID)
	if err != nil {
		return CreditCard{}, err
	}
	breakdown, err := l.CumulativeBalance(ctx, credit.CustomerID)
	if err != nil {
		return CreditCard{}, err
	}
	card := CreditCard{
		CustomerID:     credit.CustomerID,
		RemiseBalance:  credit.RemiseBalance,
		CreditEligible: credit.CreditEligible,
		Plafond:        credit.Plafond,
		Outstanding:    breakdown.Balance(),
	}
	if credit.Plafond != nil {
		card.Available = valuePtr(max(0, *credit.Plafond-card.Outstanding))
	}
	return card, nil
}

func (l *creditLedger) Summary(ctx context.Context, customerID string) (CreditSummary, error) {
	credit, err := l.read(ctx, customerID)
	if err != nil {
		return CreditSummary{}, err
	}
	breakdown, err := l.CumulativeBalance(ctx, credit.CustomerID)
	if err != nil {
		return CreditSummary{}, err
	}
	return CreditSummary{
		CustomerID:  credit.CustomerID,
		Outstanding: breakdown.Balance(),
		Breakdown:   breakdown,
	}, nil
}

func (l *creditLedger) read(ctx context.Context, customerID string) (CustomerCredit, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return CustomerCredit{}, ErrCreditAuthRequired
	}
	credit, err := l.ledger.GetCustomerCredit(ctx, customerID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return CustomerCredit{CustomerID: customerID}, nil
		}
		return CustomerCredit{}, translateRepoError("credit.get", err, nil)
	}
	return credit, nil
}

func valuePtr[T any](v T) *T {
	return &v
}
