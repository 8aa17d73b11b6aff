// Package tx carries the open Postgres transaction of a state write through its
// context, so the processed-interaction marker and the record change commit as one.
package tx

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// ErrNoTransaction is returned by Required outside TransactionManager.WithTransaction
var ErrNoTransaction = errors.New("no database transaction in context")

type txKey struct{}

// Querier is the query surface repositories need. *sqlx.DB and *sqlx.Tx both satisfy it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
}

var (
	_ Querier = (*sqlx.DB)(nil)
	_ Querier = (*sqlx.Tx)(nil)
)

func WithTransaction(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TransactionFromContext(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx, ok && tx != nil
}

// For returns the transaction bound to ctx, or db for a standalone statement.
func For(ctx context.Context, db *sqlx.DB) Querier {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx
	}
	return db
}

// Required returns the transaction bound to ctx. Statements that are only
// meaningful together with a record write use it instead of For.
func Required(ctx context.Context) (*sqlx.Tx, error) {
	tx, ok := TransactionFromContext(ctx)
	if !ok {
		return nil, ErrNoTransaction
	}
	return tx, nil
}
