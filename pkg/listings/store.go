package listings

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Storage is the listing persistence surface the handlers depend on.
// Implemented by Store and by the Redis read-through CachedStore.
type Storage interface {
	Create(ctx context.Context, listing *Listing) error
	GetByID(ctx context.Context, id string) (*Listing, error)
	List(ctx context.Context, filter Filter) ([]*Listing, error)
	Update(ctx context.Context, listing *Listing) (bool, error)
	SetStatus(ctx context.Context, id string, status Status) (bool, error)
	AddPhoto(ctx context.Context, listingID, key string) error
	CountPublished(ctx context.Context) (int64, error)
}

// Store persists listings in PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a listing store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the listings tables
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			make TEXT NOT NULL,
			model TEXT NOT NULL,
			year INTEGER NOT NULL,
			mileage INTEGER NOT NULL DEFAULT 0,
			price_cents BIGINT NOT NULL,
			currency TEXT NOT NULL DEFAULT 'USD',
			vin TEXT,
			status TEXT NOT NULL DEFAULT 'draft'
				CHECK (status IN ('draft', 'published', 'sold', 'archived')),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create listings table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listing_photos (
			listing_id TEXT NOT NULL REFERENCES listings(id),
			s3_key TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (listing_id, s3_key)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create listing_photos table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS listings_status_idx ON listings (status)`)
	if err != nil {
		return fmt.Errorf("failed to create listings index: %w", err)
	}
	return nil
}

// defaultPageSize is the page size when a filter does not set one
const defaultPageSize = 50

const listingColumns = `id, owner_id, title, COALESCE(description, ''), make, model,
	year, mileage, price_cents, currency, COALESCE(vin, ''), status, created_at, updated_at`

// Create inserts a new listing. An empty status defaults to draft and a
// missing id is generated.
func (s *Store) Create(ctx context.Context, listing *Listing) error {
	if err := listing.Validate(); err != nil {
		return err
	}
	if listing.ID == "" {
		listing.ID = uuid.NewString()
	}
	if listing.Status == "" {
		listing.Status = StatusDraft
	}
	if listing.Currency == "" {
		listing.Currency = "USD"
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO listings (id, owner_id, title, description, make, model, year,
			mileage, price_cents, currency, vin, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`,
		listing.ID, listing.OwnerID, listing.Title, listing.Description,
		listing.Make, listing.Model, listing.Year, listing.Mileage,
		listing.PriceCents, listing.Currency, listing.VIN, string(listing.Status),
	).Scan(&listing.CreatedAt, &listing.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

// GetByID retrieves a listing with its photo keys. Absent listings
// return (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Listing, error) {
	listing, err := scanListing(s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query listing: %w", err)
	}

	if err := s.loadPhotos(ctx, listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// List returns listings matching the filter, newest first
func (s *Store) List(ctx context.Context, filter Filter) ([]*Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	var conds []string
	var args []interface{}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.Make != "" {
		args = append(args, filter.Make)
		conds = append(conds, "make = $"+strconv.Itoa(len(args)))
	}
	if filter.Model != "" {
		args = append(args, filter.Model)
		conds = append(conds, "model = $"+strconv.Itoa(len(args)))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conds = append(conds, "owner_id = $"+strconv.Itoa(len(args)))
	}
	if filter.YearMin > 0 {
		args = append(args, filter.YearMin)
		conds = append(conds, "year >= $"+strconv.Itoa(len(args)))
	}
	if filter.YearMax > 0 {
		args = append(args, filter.YearMax)
		conds = append(conds, "year <= $"+strconv.Itoa(len(args)))
	}
	if filter.PriceMin > 0 {
		args = append(args, filter.PriceMin)
		conds = append(conds, "price_cents >= $"+strconv.Itoa(len(args)))
	}
	if filter.PriceMax > 0 {
		args = append(args, filter.PriceMax)
		conds = append(conds, "price_cents <= $"+strconv.Itoa(len(args)))
	}
	if filter.Query != "" {
		args = append(args, "%"+strings.ToLower(filter.Query)+"%")
		n := strconv.Itoa(len(args))
		conds = append(conds, "(LOWER(title) LIKE $"+n+" OR LOWER(COALESCE(description, '')) LIKE $"+n+")")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var result []*Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		result = append(result, listing)
	}
	return result, rows.Err()
}

// Update rewrites the mutable fields. Returns false when no listing
// matched.
func (s *Store) Update(ctx context.Context, listing *Listing) (bool, error) {
	if err := listing.Validate(); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE listings SET title = $1, description = $2, make = $3, model = $4,
			year = $5, mileage = $6, price_cents = $7, currency = $8, vin = $9,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $10`,
		listing.Title, listing.Description, listing.Make, listing.Model,
		listing.Year, listing.Mileage, listing.PriceCents, listing.Currency,
		listing.VIN, listing.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update listing: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// SetStatus moves a listing through its lifecycle. Returns false when
// no listing matched.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) (bool, error) {
	if !status.Valid() {
		return false, ErrInvalidStatus
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE listings SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		string(status), id)
	if err != nil {
		return false, fmt.Errorf("failed to update listing status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// AddPhoto records an uploaded photo key, appended after existing ones
func (s *Store) AddPhoto(ctx context.Context, listingID, key string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listing_photos (listing_id, s3_key, position)
		SELECT $1, $2, COALESCE(MAX(position), -1) + 1
		FROM listing_photos WHERE listing_id = $3`,
		listingID, key, listingID)
	if err != nil {
		return fmt.Errorf("failed to add listing photo: %w", err)
	}
	return nil
}

// CountPublished returns the number of published listings
func (s *Store) CountPublished(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE status = 'published'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return count, nil
}

func (s *Store) loadPhotos(ctx context.Context, listing *Listing) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s3_key FROM listing_photos WHERE listing_id = $1 ORDER BY position ASC`,
		listing.ID)
	if err != nil {
		return fmt.Errorf("failed to load listing photos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("failed to scan photo key: %w", err)
		}
		listing.PhotoKeys = append(listing.PhotoKeys, key)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(scanner rowScanner) (*Listing, error) {
	listing := &Listing{}
	var status string
	err := scanner.Scan(
		&listing.ID, &listing.OwnerID, &listing.Title, &listing.Description,
		&listing.Make, &listing.Model, &listing.Year, &listing.Mileage,
		&listing.PriceCents, &listing.Currency, &listing.VIN, &status,
		&listing.CreatedAt, &listing.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	listing.Status = Status(status)
	return listing, nil
}
