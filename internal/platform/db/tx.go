package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txScope struct {
	tx          pgx.Tx
	afterCommit []func(context.Context)
}

type txKey struct{}

func scopeFrom(ctx context.Context) *txScope {
	scope, _ := ctx.Value(txKey{}).(*txScope)
	return scope
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	return scopeFrom(ctx) != nil
}

// WithTx runs fn inside a ReadCommitted transaction carried by the context.
// When ctx already carries a transaction fn joins it and the outermost caller
// owns commit and rollback. Row locks taken with SELECT ... FOR UPDATE are held
// until the outermost transaction finishes.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context) error) error {
	if scopeFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	scope := &txScope{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, scope)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	for _, cb := range scope.afterCommit {
		cb(ctx)
	}
	return nil
}

// Conn returns the transaction carried by ctx, or the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if scope := scopeFrom(ctx); scope != nil {
		return scope.tx
	}
	return pool
}

// AfterCommit defers fn until the outermost transaction on ctx commits.
// Outside a transaction fn runs immediately. Callbacks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if scope := scopeFrom(ctx); scope != nil {
		scope.afterCommit = append(scope.afterCommit, fn)
		return
	}
	fn(ctx)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
