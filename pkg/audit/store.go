// Package audit records administrative actions in the primary database.
// Every role change and account action leaves a row, whether or not the
// external push succeeded.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Action names recorded in the trail
const (
	ActionRoleChange     = "role.change"
	ActionUserDeactivate = "user.deactivate"
	ActionUserActivate   = "user.activate"
	ActionRoleMigrate    = "role.migrate"
)

// Entry is one recorded administrative action
type Entry struct {
	ID        int64     `json:"id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	TargetID  string    `json:"target_id"`
	Detail    string    `json:"detail,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists audit entries
type Store struct {
	db *sql.DB
}

// NewStore creates the audit store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the audit_log table
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_log (
			id BIGSERIAL PRIMARY KEY,
			actor_id TEXT NOT NULL,
			action TEXT NOT NULL,
			target_id TEXT NOT NULL,
			detail TEXT,
			request_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create audit_log table: %w", err)
	}
	return nil
}

// Record appends an entry. Audit failures are the caller's to log; the
// underlying action is never rolled back over them.
func (s *Store) Record(ctx context.Context, actorID, action, targetID, detail, requestID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor_id, action, target_id, detail, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)`,
		actorID, action, targetID, detail, requestID)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// List returns entries newest first
func (s *Store) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, action, target_id, COALESCE(detail, ''), COALESCE(request_id, ''), created_at
		FROM audit_log ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetID,
			&e.Detail, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListByTarget returns entries touching one target, newest first
func (s *Store) ListByTarget(ctx context.Context, targetID string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, action, target_id, COALESCE(detail, ''), COALESCE(request_id, ''), created_at
		FROM audit_log WHERE target_id = $1 ORDER BY id DESC LIMIT $2`,
		targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetID,
			&e.Detail, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
