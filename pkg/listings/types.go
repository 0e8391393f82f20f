// Package listings implements the vehicle listing catalog: persistence,
// the Redis read-through cache, S3-backed photo storage, and the HTTP
// handlers.
package listings

import (
	"errors"
	"time"
)

// Status is the listing lifecycle state
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusSold      Status = "sold"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusSold, StatusArchived:
		return true
	}
	return false
}

// Listing is one vehicle for sale
type Listing struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Make        string    `json:"make"`
	Model       string    `json:"model"`
	Year        int       `json:"year"`
	Mileage     int       `json:"mileage"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	VIN         string    `json:"vin,omitempty"`
	Status      Status    `json:"status"`
	PhotoKeys   []string  `json:"photo_keys,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	Status  Status
	Make    string
	Model   string
	OwnerID string

	// Inclusive bounds, ignored when zero
	YearMin  int
	YearMax  int
	PriceMin int64
	PriceMax int64

	// Case-insensitive substring match on title and description
	Query string

	Limit  int
	Offset int
}

var (
	// ErrInvalidStatus is returned for unknown lifecycle states
	ErrInvalidStatus = errors.New("invalid listing status")
	// ErrMissingTitle is returned when a listing has no title
	ErrMissingTitle = errors.New("listing title is required")
	// ErrInvalidPrice is returned for non-positive prices
	ErrInvalidPrice = errors.New("listing price must be positive")
)

// Validate checks the fields a listing needs before it can be stored
func (l *Listing) Validate() error {
	if l.Title == "" {
		return ErrMissingTitle
	}
	if l.PriceCents <= 0 {
		return ErrInvalidPrice
	}
	if l.Status != "" && !l.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}
