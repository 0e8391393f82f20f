package sync

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the outbox table
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS role_sync_outbox (
			external_id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create role_sync_outbox table: %w", err)
	}
	return nil
}
