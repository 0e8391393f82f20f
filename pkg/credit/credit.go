// Package credit handles financing application intake. Applications are
// stored for review by admins; no underwriting decision happens here.
package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Application statuses
const (
	StatusSubmitted = "submitted"
	StatusInReview  = "in_review"
	StatusApproved  = "approved"
	StatusDeclined  = "declined"
)

// Application is one financing request tied to a listing
type Application struct {
	ID                string    `json:"id"`
	ApplicantID       string    `json:"applicant_id"`
	ListingID         string    `json:"listing_id"`
	AnnualIncomeCents int64     `json:"annual_income_cents"`
	DownPaymentCents  int64     `json:"down_payment_cents"`
	EmploymentStatus  string    `json:"employment_status"`
	Status            string    `json:"status"`
	ReviewerID        string    `json:"reviewer_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

var (
	// ErrInvalidIncome is returned for non-positive income figures
	ErrInvalidIncome = errors.New("annual income must be positive")
	// ErrMissingListing is returned when no listing is referenced
	ErrMissingListing = errors.New("listing id is required")
)

// Store persists credit applications
type Store struct {
	db *sql.DB
}

// NewStore creates the credit application store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the credit_applications table
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS credit_applications (
			id TEXT PRIMARY KEY,
			applicant_id TEXT NOT NULL,
			listing_id TEXT NOT NULL,
			annual_income_cents BIGINT NOT NULL,
			down_payment_cents BIGINT NOT NULL DEFAULT 0,
			employment_status TEXT,
			status TEXT NOT NULL DEFAULT 'submitted'
				CHECK (status IN ('submitted', 'in_review', 'approved', 'declined')),
			reviewer_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create credit_applications table: %w", err)
	}
	return nil
}

// Submit stores a new application in the submitted state
func (s *Store) Submit(ctx context.Context, app *Application) error {
	if app.ListingID == "" {
		return ErrMissingListing
	}
	if app.AnnualIncomeCents <= 0 {
		return ErrInvalidIncome
	}
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	app.Status = StatusSubmitted

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO credit_applications (id, applicant_id, listing_id,
			annual_income_cents, down_payment_cents, employment_status, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`,
		app.ID, app.ApplicantID, app.ListingID, app.AnnualIncomeCents,
		app.DownPaymentCents, app.EmploymentStatus, app.Status,
	).Scan(&app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to submit application: %w", err)
	}
	return nil
}

// GetByID retrieves an application. Absent ones return (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Application, error) {
	app, err := scanApplication(s.db.QueryRowContext(ctx, `
		SELECT id, applicant_id, listing_id, annual_income_cents, down_payment_cents,
			COALESCE(employment_status, ''), status, COALESCE(reviewer_id, ''), created_at, updated_at
		FROM credit_applications WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query application: %w", err)
	}
	return app, nil
}

// ListByStatus returns applications in a given state, oldest first
func (s *Store) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, applicant_id, listing_id, annual_income_cents, down_payment_cents,
			COALESCE(employment_status, ''), status, COALESCE(reviewer_id, ''), created_at, updated_at
		FROM credit_applications WHERE status = $1
		ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []*Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// ListByApplicant returns one applicant's applications, newest first
func (s *Store) ListByApplicant(ctx context.Context, applicantID string, limit int) ([]*Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, applicant_id, listing_id, annual_income_cents, down_payment_cents,
			COALESCE(employment_status, ''), status, COALESCE(reviewer_id, ''), created_at, updated_at
		FROM credit_applications WHERE applicant_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		applicantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []*Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// SetStatus moves an application to a new review state and records the
// reviewer. Returns false when no application matched.
func (s *Store) SetStatus(ctx context.Context, id, status, reviewerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE credit_applications
		SET status = $1, reviewer_id = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3`,
		status, reviewerID, id)
	if err != nil {
		return false, fmt.Errorf("failed to update application: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(scanner rowScanner) (*Application, error) {
	app := &Application{}
	err := scanner.Scan(
		&app.ID, &app.ApplicantID, &app.ListingID, &app.AnnualIncomeCents,
		&app.DownPaymentCents, &app.EmploymentStatus, &app.Status,
		&app.ReviewerID, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return app, nil
}
