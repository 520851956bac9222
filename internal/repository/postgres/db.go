package postgres

import (
	"context"
	"database/sql"
)

// Querier is an interface satisfied by both *sql.DB and *sql.Tx, so the
// history writes can join the completion transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// withTx runs fn in a transaction. It commits only when fn returns
// commit=true and no error; every other outcome rolls back. Driver errors
// are classified.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (commit bool, err error)) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify(err)
	}

	commit, err := fn(tx)
	if err != nil || !commit {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, classify(err)
	}
	return true, nil
}
