package app

import (
	"context"
	_ "embed"
	"fmt"

	"ridehail/internal/repository/postgres"
)

//go:embed schema.sql
var schema string

// Migrate creates the ride store tables if they do not exist. The schema
// is idempotent and safe to apply on every start.
func Migrate(ctx context.Context, db postgres.Querier) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
