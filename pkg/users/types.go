package users

import (
	"errors"
	"time"

	"github.com/openlot/openlot/pkg/roles"
)

// User represents a local user record. The local store is authoritative for
// authorization decisions inside the application.
type User struct {
	ID          string     `json:"id"`
	ExternalID  string     `json:"external_id,omitempty"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        roles.Role `json:"role"`
	IsActive    bool       `json:"is_active"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ExternalProfile is a snapshot of an identity-provider user used to build a
// local record
type ExternalProfile struct {
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
	AvatarURL  string
}

// FullName joins the profile name parts
func (p ExternalProfile) FullName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.LastName
	}
}

var (
	// ErrDuplicateExternalID signals that another local record already links
	// the same external identity. Callers should re-read the winner.
	ErrDuplicateExternalID = errors.New("external id already linked to a local user")

	// ErrInvalidRole signals a role outside the closed enumeration
	ErrInvalidRole = errors.New("invalid role")

	// ErrDuplicateEmail signals that the email already belongs to a local
	// record linked to a different (or no) external identity
	ErrDuplicateEmail = errors.New("email already belongs to a local user")

	// ErrMissingEmail signals an external profile without a usable email
	ErrMissingEmail = errors.New("external profile has no email")

	// ErrMissingExternalID signals an external profile without a provider id
	ErrMissingExternalID = errors.New("external profile has no external id")
)
