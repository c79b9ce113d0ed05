// Package memory provides a mutex-guarded, transactional in-memory implementation of the
// repository contracts. It backs local development and service tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	domain "github.com/batimat/api/internal/domain"
	"github.com/batimat/api/internal/repositories"
)

type txKey struct{}

// Store holds every table in memory. RunInTx serialises transactions and rolls back on error.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	products    map[string]domain.Product
	variants    map[string]domain.ProductVariant
	units       map[string]domain.ProductUnit
	lots        map[string]domain.InventoryLot
	legacy      map[domain.StockKey]int
	allocations map[string][]domain.Allocation
	promos      map[string]domain.PromoCode
	credits     map[string]domain.CustomerCredit
	documents   []domain.CreditDocument
	orders      map[string]domain.Order
	history     map[string][]domain.OrderStatusChange
	counters    map[string]int64
	carts       map[string][]domain.CartItem
	pickups     map[string]domain.PickupLocation
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		state: &state{
			products:    map[string]domain.Product{},
			variants:    map[string]domain.ProductVariant{},
			units:       map[string]domain.ProductUnit{},
			lots:        map[string]domain.InventoryLot{},
			legacy:      map[domain.StockKey]int{},
			allocations: map[string][]domain.Allocation{},
			promos:      map[string]domain.PromoCode{},
			credits:     map[string]domain.CustomerCredit{},
			orders:      map[string]domain.Order{},
			history:     map[string][]domain.OrderStatusChange{},
			counters:    map[string]int64{},
			carts:       map[string][]domain.CartItem{},
			pickups:     map[string]domain.PickupLocation{},
		},
	}
}

var _ repositories.Registry = (*Store)(nil)

func (s *Store) Catalog() repositories.CatalogRepository                { return catalogRepo{s} }
func (s *Store) InventoryLots() repositories.InventoryLotRepository     { return lotRepo{s} }
func (s *Store) Promos() repositories.PromoCodeRepository               { return promoRepo{s} }
func (s *Store) CreditLedger() repositories.CreditLedgerRepository      { return ledgerRepo{s} }
func (s *Store) Orders() repositories.OrderRepository                   { return orderRepo{s} }
func (s *Store) Counters() repositories.CounterRepository               { return counterRepo{s} }
func (s *Store) Carts() repositories.CartRepository                     { return cartRepo{s} }
func (s *Store) PickupLocations() repositories.PickupLocationRepository { return pickupRepo{s} }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// RunInTx runs fn with exclusive access to the store. State is restored if fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// acquire locks the store unless ctx already belongs to a transaction on it.
func (s *Store) acquire(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (st *state) clone() *state {
	out := &state{
		products:    maps.Clone(st.products),
		variants:    maps.Clone(st.variants),
		units:       maps.Clone(st.units),
		lots:        maps.Clone(st.lots),
		legacy:      maps.Clone(st.legacy),
		allocations: make(map[string][]domain.Allocation, len(st.allocations)),
		promos:      maps.Clone(st.promos),
		credits:     maps.Clone(st.credits),
		documents:   slices.Clone(st.documents),
		orders:      maps.Clone(st.orders),
		history:     make(map[string][]domain.OrderStatusChange, len(st.history)),
		counters:    maps.Clone(st.counters),
		carts:       make(map[string][]domain.CartItem, len(st.carts)),
		pickups:     maps.Clone(st.pickups),
	}
	for k, v := range st.allocations {
		out.allocations[k] = slices.Clone(v)
	}
	for k, v := range st.history {
		out.history[k] = slices.Clone(v)
	}
	for k, v := range st.carts {
		out.carts[k] = slices.Clone(v)
	}
	return out
}

// Error implements repositories.RepositoryError.
type Error struct {
	op          string
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string       { return fmt.Sprintf("memory %s: %s", e.op, e.msg) }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return e.unavailable }

func notFound(op, what string) error {
	return &Error{op: op, msg: what + " not found", notFound: true}
}

func conflict(op, msg string) error {
	return &Error{op: op, msg: msg, conflict: true}
}

func variantKey(productID, variantID string) string { return productID + "/" + variantID }
