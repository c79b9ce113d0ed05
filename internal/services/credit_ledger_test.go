package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/batimat/api/internal/domain"
)

func TestRemiseSpend(t *testing.T) {
	cases := []struct {
		name    string
		req     RemiseRequest
		balance int64
		payable int64
		want    int64
	}{
		{name: "amount within balance", req: RemiseRequest{Amount: 2000}, balance: 5000, payable: 10000, want: 2000},
		{name: "amount above balance", req: RemiseRequest{Amount: 8000}, balance: 5000, payable: 10000, want: 5000},
		{name: "all of balance", req: RemiseRequest{All: true}, balance: 5000, payable: 10000, want: 5000},
		{name: "all capped by payable", req: RemiseRequest{All: true}, balance: 50000, payable: 10000, want: 10000},
		{name: "negative balance", req: RemiseRequest{All: true}, balance: -10, payable: 10000, want: 0},
		{name: "nothing payable", req: RemiseRequest{Amount: 100}, balance: 5000, payable: 0, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := remiseSpend(tc.req, tc.balance, tc.payable); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestCreditLedgerAuthorizeSolde(t *testing.T) {
	plafond := int64(100000)
	env := newTestEnv(t)
	env.seedCustomer("cust-1", 0, true, &plafond)
	env.seedCustomer("cust-2", 0, false, &plafond)
	env.seedCustomer("cust-3", 0, true, nil)
	env.store.AddCreditDocument(domain.CreditDocument{ID: "bo-1", CustomerID: "cust-1", Source: domain.CreditSourceBackoffice, Kind: domain.CreditDocumentSale, Status: "validated", Amount: 90000})
	ctx := context.Background()

	authorize := func(customerID string, amount int64) error {
		return env.store.RunInTx(ctx, func(txCtx context.Context) error {
			credit, err := env.credit.Lock(txCtx, customerID)
			if err != nil {
				return err
			}
			return env.credit.AuthorizeSolde(txCtx, credit, amount)
		})
	}

	if err := authorize("cust-1", 15000); !errors.Is(err, ErrCreditCeilingExceeded) {
		t.Fatalf("expected ceiling exceeded, got %v", err)
	}
	if err := authorize("cust-1", 10000); err != nil {
		t.Fatalf("expected exact ceiling to pass, got %v", err)
	}
	if err := authorize("cust-1", 10001); err != nil {
		t.Fatalf("expected one cent tolerance, got %v", err)
	}
	if err := authorize("cust-1", 10002); !errors.Is(err, ErrCreditCeilingExceeded) {
		t.Fatalf("expected ceiling exceeded beyond tolerance, got %v", err)
	}
	if err := authorize("cust-2", 100); !errors.Is(err, ErrCreditNotAllowed) {
		t.Fatalf("expected not allowed, got %v", err)
	}
	if err := authorize("cust-3", 10_000_000); err != nil {
		t.Fatalf("expected unbounded ceiling, got %v", err)
	}
	if err := authorize("unknown", 100); !errors.Is(err, ErrCreditNotAllowed) {
		t.Fatalf("expected not allowed for customer without ledger row, got %v", err)
	}
}

func TestCreditLedgerBalanceIgnoresExcludedStatuses(t *testing.T) {
	env := newTestEnv(t)
	env.seedCustomer("cust-1", 0, true, nil)
	docs := []domain.CreditDocument{
		{ID: "s1", Source: domain.CreditSourceBackoffice, Kind: domain.CreditDocumentSale, Status: "validated", Amount: 50000},
		{ID: "s2", Source: domain.CreditSourceBackoffice, Kind: domain.CreditDocumentSale, Status: "cancelled", Amount: 70000},
		{ID: "s3", Source: domain.CreditSourceBackoffice, Kind: domain.CreditDocumentSale, Status: "draft", Amount: 30000},
		{ID: "p1", Source: domain.CreditSourceBackoffice, Kind: domain.CreditDocumentPayment, Status: "validated", Amount: 10000},
		{ID: "p2", Source: domain.CreditSourceShop, Kind: domain.CreditDocumentPayment, Status: "void", Amount: 5000},
		{ID: "a1", Source: domain.CreditSourceBackoffice, Kind: domain.CreditDocumentCreditNote, Status: "validated", Amount: 2500},
	}
	for _, doc := range docs {
		doc.CustomerID = "cust-1"
		env.store.AddCreditDocument(doc)
	}

	breakdown, err := env.credit.CumulativeBalance(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("CumulativeBalance: %v", err)
	}
	if breakdown.Balance() != 37500 {
		t.Fatalf("expected balance 37500, got %d (%+v)", breakdown.Balance(), breakdown)
	}
}

func TestCreditLedgerCardAndSummaryAgree(t *testing.T) {
	plafond := int64(100000)
	env := newTestEnv(t)
	env.seedCustomer("cust-1", 4200, true, &plafond)
	env.store.AddCreditDocument(domain.CreditDocument{ID: "s1", CustomerID: "cust-1", Source: domain.CreditSourceBackoffice, Kind: domain.CreditDocumentSale, Status: "validated", Amount: 64000})
	env.store.AddCreditDocument(domain.CreditDocument{ID: "p1", CustomerID: "cust-1", Source: domain.CreditSourceShop, Kind: domain.CreditDocumentPayment, Status: "validated", Amount: 4000})
	ctx := context.Background()

	card, err := env.credit.Card(ctx, "cust-1")
	if err != nil {
		t.Fatalf("Card: %v", err)
	}
	summary, err := env.credit.Summary(ctx, "cust-1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if card.Outstanding != summary.Outstanding || card.Outstanding != 60000 {
		t.Fatalf("expected both views at 60000, card=%d summary=%d", card.Outstanding, summary.Outstanding)
	}
	if card.Available == nil || *card.Available != 40000 {
		t.Fatalf("expected 40000 available, got %v", card.Available)
	}
	if card.RemiseBalance != 4200 {
		t.Fatalf("unexpected remise %d", card.RemiseBalance)
	}
	if summary.Breakdown.BackofficeSales != 64000 || summary.Breakdown.ShopPayments != 4000 {
		t.Fatalf("unexpected breakdown %+v", summary.Breakdown)
	}
}

func TestCreditLedgerCardForCustomerWithoutLedgerRow(t *testing.T) {
	env := newTestEnv(t)

	card, err := env.credit.Card(context.Background(), "newcomer")
	if err != nil {
		t.Fatalf("Card: %v", err)
	}
	if card.CustomerID != "newcomer" || card.CreditEligible || card.Outstanding != 0 || card.Available != nil {
		t.Fatalf("unexpected card %+v", card)
	}
	if _, err := env.credit.Card(context.Background(), " "); !errors.Is(err, ErrCreditAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
}

func TestCreditLedgerSpendRemiseDetectsBalanceChange(t *testing.T) {
	env := newTestEnv(t)
	env.seedCustomer("cust-1", 1000, false, nil)
	ctx := context.Background()

	// a stale read claiming more remise than the row holds
	stale := CustomerCredit{CustomerID: "cust-1", RemiseBalance: 5000}
	_, err := env.credit.SpendRemise(ctx, stale, RemiseRequest{Amount: 3000}, 10000)
	if !errors.Is(err, ErrCreditBalanceChanged) {
		t.Fatalf("expected balance changed, got %v", err)
	}
	credit, _ := env.store.Credit("cust-1")
	if credit.RemiseBalance != 1000 {
		t.Fatalf("expected balance untouched, got %d", credit.RemiseBalance)
	}
}
