// Package postgres implements the repository contracts on PostgreSQL through sqlx.
// Locking reads use SELECT ... FOR UPDATE and therefore must run inside RunInTx.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/batimat/api/internal/platform/postgres"
	"github.com/batimat/api/internal/repositories"
)

//go:embed schema.sql
var schema string

// Registry exposes the Postgres repositories over one pool.
type Registry struct {
	db *postgres.DB
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wraps db.
func NewRegistry(db *postgres.DB) *Registry {
	return &Registry{db: db}
}

// EnsureSchema creates missing tables and indexes. Every statement is idempotent.
func (r *Registry) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Conn(ctx).ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", postgres.Classify("schema", err))
	}
	return nil
}

func (r *Registry) Catalog() repositories.CatalogRepository                { return catalogRepo{r.db} }
func (r *Registry) InventoryLots() repositories.InventoryLotRepository     { return lotRepo{r.db} }
func (r *Registry) Promos() repositories.PromoCodeRepository               { return promoRepo{r.db} }
func (r *Registry) CreditLedger() repositories.CreditLedgerRepository      { return ledgerRepo{r.db} }
func (r *Registry) Orders() repositories.OrderRepository                   { return orderRepo{r.db} }
func (r *Registry) Counters() repositories.CounterRepository               { return counterRepo{r.db} }
func (r *Registry) Carts() repositories.CartRepository                     { return cartRepo{r.db} }
func (r *Registry) PickupLocations() repositories.PickupLocationRepository { return pickupRepo{r.db} }

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, fn)
}

// Ping checks database connectivity.
func (r *Registry) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close closes the pool.
func (r *Registry) Close(context.Context) error {
	return r.db.Close()
}

func requireTx(ctx context.Context, db *postgres.DB, op string) error {
	if db.InTx(ctx) {
		return nil
	}
	return repositories.NewLedgerError(op, repositories.LedgerErrorNotInTransaction, "", nil)
}
