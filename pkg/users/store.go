package users

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/openlot/openlot/pkg/roles"
)

// pq unique-violation SQLSTATE
const uniqueViolation = "23505"

// usernameAttempts bounds the retry loop when the derived username collides
const usernameAttempts = 5

// Store persists user records in PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, external_id, email, username, display_name, role, is_active, avatar_url, created_at, updated_at`

// FindByID retrieves a user by internal id. Absent users return (nil, nil).
func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail retrieves a user by email. Absent users return (nil, nil).
func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByExternalID retrieves a user by identity-provider id. Absent users
// return (nil, nil).
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID)
}

func (s *Store) findOne(ctx context.Context, query string, arg interface{}) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// CreateFromExternal builds a local record from an identity-provider profile
// snapshot. The initial role must be decided by the caller before this is
// invoked; invalid roles are rejected. Username collisions retry with a fresh
// disambiguator. A concurrent create for the same identity surfaces
// ErrDuplicateExternalID so the caller can re-read the winning record; this
// holds whichever of the email or external_id indexes rejects the insert. An
// email held by an unrelated record surfaces ErrDuplicateEmail.
func (s *Store) CreateFromExternal(ctx context.Context, profile ExternalProfile, role roles.Role) (*User, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if profile.Email == "" {
		return nil, ErrMissingEmail
	}
	if profile.ExternalID == "" {
		return nil, ErrMissingExternalID
	}

	var lastErr error
	for attempt := 0; attempt < usernameAttempts; attempt++ {
		username, err := generateUsername(profile.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to generate username: %w", err)
		}

		user := &User{}
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO users (id, external_id, email, username, display_name, role, is_active, avatar_url, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, true, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			RETURNING `+userColumns,
			uuid.NewString(), profile.ExternalID, profile.Email, username,
			profile.FullName(), string(role), profile.AvatarURL,
		).Scan(
			&user.ID, &user.ExternalID, &user.Email, &user.Username,
			&user.DisplayName, &user.Role, &user.IsActive, &user.AvatarURL,
			&user.CreatedAt, &user.UpdatedAt,
		)
		if err == nil {
			return user, nil
		}

		switch constraint, ok := uniqueConstraint(err); {
		case ok && strings.Contains(constraint, "username"):
			lastErr = err
			continue // fresh disambiguator on the next attempt
		case ok && strings.Contains(constraint, "external_id"):
			return nil, ErrDuplicateExternalID
		case ok && strings.Contains(constraint, "email"):
			// A racing create for the same identity duplicates the email
			// as well as the external id, and which index the engine
			// reports first is not defined. When a record for this
			// external id exists the conflict is the provisioning race;
			// otherwise the email belongs to someone else.
			winner, findErr := s.FindByExternalID(ctx, profile.ExternalID)
			if findErr != nil {
				return nil, fmt.Errorf("failed to create user: %w", err)
			}
			if winner != nil {
				return nil, ErrDuplicateExternalID
			}
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return nil, fmt.Errorf("exhausted username attempts: %w", lastErr)
}

// UpdateRole atomically updates the role field and bumps updated_at. Returns
// false when no record matched; that is a result, not an error.
func (s *Store) UpdateRole(ctx context.Context, id string, role roles.Role) (bool, error) {
	if !role.Valid() {
		return false, ErrInvalidRole
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		string(role), id)
	if err != nil {
		return false, fmt.Errorf("failed to update role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// SetActive flips the soft-delete flag
func (s *Store) SetActive(ctx context.Context, id string, active bool) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		active, id)
	if err != nil {
		return false, fmt.Errorf("failed to update active flag: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// List returns users ordered by creation time
func (s *Store) List(ctx context.Context, limit, offset int) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CountActive returns the number of active accounts
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_active`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(scanner rowScanner) (*User, error) {
	user := &User{}
	var externalID, displayName, avatarURL sql.NullString
	var role string

	err := scanner.Scan(
		&user.ID, &externalID, &user.Email, &user.Username,
		&displayName, &role, &user.IsActive, &avatarURL,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.ExternalID = externalID.String
	user.DisplayName = displayName.String
	user.AvatarURL = avatarURL.String
	user.Role = roles.ParseRole(role)
	return user, nil
}

// uniqueConstraint extracts the violated constraint name from a driver
// error. lib/pq carries the constraint on the error itself; the SQLite
// driver backing the in-memory test harness only names it in the message.
func uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == uniqueViolation {
			return pqErr.Constraint, true
		}
		return "", false
	}

	const sqlitePrefix = "UNIQUE constraint failed: "
	msg := err.Error()
	if idx := strings.Index(msg, sqlitePrefix); idx != -1 {
		return strings.ReplaceAll(msg[idx+len(sqlitePrefix):], ".", "_"), true
	}
	return "", false
}

// generateUsername derives a username from the email local-part plus a random
// hex disambiguator, e.g. "jane.doe-4f21"
func generateUsername(email string) (string, error) {
	local := email
	if idx := strings.Index(email, "@"); idx > 0 {
		local = email[:idx]
	}
	local = strings.ToLower(local)

	// Strip characters outside the username alphabet
	var b strings.Builder
	for _, r := range local {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	base := b.String()
	if base == "" {
		base = "user"
	}
	if len(base) > 24 {
		base = base[:24]
	}

	suffix := make([]byte, 2)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return base + "-" + hex.EncodeToString(suffix), nil
}
