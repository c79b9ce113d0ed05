// Package postgres provides the sqlx connection pool, context-scoped transactions and
// error classification shared by the Postgres repositories.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/batimat/api/internal/platform/config"
)

const driverName = "postgres"

type txKey struct{}

type txState struct {
	owner *DB
	tx    *sqlx.Tx
}

// DB wraps a sqlx pool. Repository calls made with a context returned by RunInTx run on that
// transaction; any other context runs directly on the pool.
type DB struct {
	db        *sqlx.DB
	txTimeout time.Duration
}

// Open connects to cfg.URL, applies pool limits and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: database url is required")
	}
	db, err := sqlx.Open(driverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, Classify("ping", err)
	}
	return New(db, cfg.TxTimeout), nil
}

// New wraps an existing pool. txTimeout bounds each outermost transaction when positive.
func New(db *sqlx.DB, txTimeout time.Duration) *DB {
	return &DB{db: db, txTimeout: txTimeout}
}

// Wrap adapts a database/sql handle, typically a sqlmock connection.
func Wrap(db *sql.DB, txTimeout time.Duration) *DB {
	return New(sqlx.NewDb(db, driverName), txTimeout)
}

// Conn returns the transaction bound to ctx, or the pool when ctx carries none.
func (d *DB) Conn(ctx context.Context) sqlx.ExtContext {
	if state, ok := ctx.Value(txKey{}).(*txState); ok && state.owner == d {
		return state.tx
	}
	return d.db
}

// InTx reports whether ctx carries a transaction opened by d.
func (d *DB) InTx(ctx context.Context) bool {
	state, ok := ctx.Value(txKey{}).(*txState)
	return ok && state.owner == d
}

// RunInTx runs fn inside a read-committed transaction. Nested calls join the outer
// transaction. The transaction commits when fn returns nil and rolls back otherwise.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if fn == nil {
		return nil
	}
	if d.InTx(ctx) {
		return fn(ctx)
	}
	if d.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.txTimeout)
		defer cancel()
	}

	tx, err := d.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return Classify("begin", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, &txState{owner: d, tx: tx})); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, Classify("rollback", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return Classify("commit", err)
	}
	return nil
}

// Ping verifies the pool can reach the server.
func (d *DB) Ping(ctx context.Context) error {
	return Classify("ping", d.db.PingContext(ctx))
}

// Close closes the pool.
func (d *DB) Close() error {
	return d.db.Close()
}
