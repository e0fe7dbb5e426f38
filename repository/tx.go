package repository

import (
	"context"
	"database/sql"
)

// Executor is the subset of *sql.DB / *sql.Tx that a SideEffect's apply
// closure needs. Postgres-backed read-model and outbox side effects use
// ExecutorFromContext to join the repository's in-flight transaction when
// one exists, so a commit batch stays atomic across tables, and fall back
// to their own pool when called outside a repository.Commit (e.g. a direct
// Store or backend call with no transaction attached to ctx).
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// WithTx attaches tx to ctx so nested SideEffect.Prepare calls can join it.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// ExecutorFromContext returns the transaction attached by WithTx, or falls
// back to db when none is present.
func ExecutorFromContext(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return db
}
