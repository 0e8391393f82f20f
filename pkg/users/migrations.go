package users

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrations for the user store. Applied in order at startup; every
// statement is idempotent. Uniqueness of email, username and external_id is
// enforced here, not by check-then-insert in callers: concurrent creates for
// the same external identity must resolve to exactly one row.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		external_id TEXT,
		email TEXT NOT NULL,
		username TEXT NOT NULL,
		display_name TEXT,
		role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin', 'superadmin')),
		is_active BOOLEAN NOT NULL DEFAULT true,
		avatar_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (email)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_key ON users (username)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_external_id_key ON users (external_id) WHERE external_id IS NOT NULL`,
}

// Migrate applies the user store schema
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("user migration %d failed: %w", i, err)
		}
	}
	return nil
}
