package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openlot/openlot/pkg/roles"
)

// Intent is a role write that succeeded locally but has not yet reached
// the provider. One row per user: a newer role replaces the pending one.
type Intent struct {
	ExternalID string     `json:"external_id"`
	Role       roles.Role `json:"role"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Outbox persists pending provider pushes in the primary database so
// they survive restarts
type Outbox struct {
	db *sql.DB
}

// NewOutbox creates the outbox store
func NewOutbox(db *sql.DB) *Outbox {
	return &Outbox{db: db}
}

// Enqueue records a pending push, replacing any older intent for the
// same user
func (o *Outbox) Enqueue(ctx context.Context, externalID string, role roles.Role) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO role_sync_outbox (external_id, role, attempts, created_at, updated_at)
		VALUES ($1, $2, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (external_id) DO UPDATE SET
			role = excluded.role,
			attempts = 0,
			last_error = NULL,
			updated_at = CURRENT_TIMESTAMP`,
		externalID, string(role))
	if err != nil {
		return fmt.Errorf("failed to enqueue sync intent: %w", err)
	}
	return nil
}

// Remove clears the pending intent for a user, if any
func (o *Outbox) Remove(ctx context.Context, externalID string) error {
	_, err := o.db.ExecContext(ctx,
		`DELETE FROM role_sync_outbox WHERE external_id = $1`, externalID)
	if err != nil {
		return fmt.Errorf("failed to remove sync intent: %w", err)
	}
	return nil
}

// Pending returns up to limit intents, oldest first
func (o *Outbox) Pending(ctx context.Context, limit int) ([]Intent, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT external_id, role, attempts, COALESCE(last_error, ''), created_at, updated_at
		FROM role_sync_outbox ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync intents: %w", err)
	}
	defer rows.Close()

	var intents []Intent
	for rows.Next() {
		var intent Intent
		var role string
		if err := rows.Scan(&intent.ExternalID, &role, &intent.Attempts,
			&intent.LastError, &intent.CreatedAt, &intent.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync intent: %w", err)
		}
		intent.Role = roles.ParseRole(role)
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

// MarkAttempt bumps the attempt counter and records the latest failure
func (o *Outbox) MarkAttempt(ctx context.Context, externalID, errMsg string) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE role_sync_outbox
		SET attempts = attempts + 1, last_error = $1, updated_at = CURRENT_TIMESTAMP
		WHERE external_id = $2`,
		errMsg, externalID)
	if err != nil {
		return fmt.Errorf("failed to mark sync attempt: %w", err)
	}
	return nil
}

// Size returns the number of pending intents
func (o *Outbox) Size(ctx context.Context) (int64, error) {
	var count int64
	err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM role_sync_outbox`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync intents: %w", err)
	}
	return count, nil
}
