package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/platform/postgres"
)

type ledgerRepo struct{ db *postgres.DB }

type creditRow struct {
	CustomerID     string        `db:"customer_id"`
	RemiseBalance  int64         `db:"remise_balance"`
	CreditEligible bool          `db:"credit_eligible"`
	Plafond        sql.NullInt64 `db:"plafond"`
}

const selectCredit = `SELECT customer_id, remise_balance, credit_eligible, plafond
FROM customer_credits WHERE customer_id = $1`

func (r ledgerRepo) GetCustomerCredit(ctx context.Context, customerID string) (domain.CustomerCredit, error) {
	return r.get(ctx, "credit.get", selectCredit, customerID)
}

func (r ledgerRepo) LockCustomerCredit(ctx context.Context, customerID string) (domain.CustomerCredit, error) {
	if err := requireTx(ctx, r.db, "credit.lock"); err != nil {
		return domain.CustomerCredit{}, err
	}
	return r.get(ctx, "credit.lock", selectCredit+" FOR UPDATE", customerID)
}

func (r ledgerRepo) get(ctx context.Context, op, query, customerID string) (domain.CustomerCredit, error) {
	var row creditRow
	if err := sqlx.GetContext(ctx, r.db.Conn(ctx), &row, query, customerID); err != nil {
		return domain.CustomerCredit{}, postgres.Classify(op, err)
	}
	credit := domain.CustomerCredit{
		CustomerID:     row.CustomerID,
		RemiseBalance:  row.RemiseBalance,
		CreditEligible: row.CreditEligible,
	}
	if row.Plafond.Valid {
		credit.Plafond = &row.Plafond.Int64
	}
	return credit, nil
}

// SpendRemise is a conditional decrement; concurrent spenders cannot both pass the guard.
func (r ledgerRepo) SpendRemise(ctx context.Context, customerID string, amount int64) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE customer_credits SET remise_balance = remise_balance - $1 WHERE customer_id = $2 AND remise_balance >= $1`,
		amount, customerID)
	if err != nil {
		return false, postgres.Classify("credit.spend", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, postgres.Classify("credit.spend", err)
	}
	return affected == 1, nil
}

func (r ledgerRepo) RefundRemise(ctx context.Context, customerID string, amount int64) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE customer_credits SET remise_balance = remise_balance + $1 WHERE customer_id = $2`, amount, customerID)
	if err != nil {
		return postgres.Classify("credit.refund", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return postgres.Classify("credit.refund", err)
	} else if affected == 0 {
		return postgres.NotFound("credit.refund", "credit "+customerID)
	}
	return nil
}

// Shop credit sales come from orders; every other document lives in credit_documents.
const selectBalanceBreakdown = `SELECT 'shop' AS source, 'sale' AS kind, COALESCE(SUM(credit_amount), 0) AS amount
FROM orders WHERE customer_id = $1 AND is_credit_sale AND NOT (status = ANY($2))
UNION ALL
SELECT source, kind, COALESCE(SUM(amount), 0) AS amount
FROM credit_documents WHERE customer_id = $1 AND NOT (status = ANY($2))
GROUP BY source, kind`

func (r ledgerRepo) BalanceBreakdown(ctx context.Context, customerID string, excluded []string) (domain.BalanceBreakdown, error) {
	var rows []struct {
		Source string `db:"source"`
		Kind   string `db:"kind"`
		Amount int64  `db:"amount"`
	}
	if excluded == nil {
		excluded = []string{}
	}
	if err := sqlx.SelectContext(ctx, r.db.Conn(ctx), &rows, selectBalanceBreakdown, customerID, pq.Array(excluded)); err != nil {
		return domain.BalanceBreakdown{}, postgres.Classify("credit.balance", err)
	}
	var breakdown domain.BalanceBreakdown
	for _, row := range rows {
		breakdown.Add(domain.CreditSource(row.Source), domain.CreditDocumentKind(row.Kind), row.Amount)
	}
	return breakdown, nil
}
