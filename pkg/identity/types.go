// Package identity wraps the external identity provider. It is the only
// network-calling component of the authorization subsystem: provider and
// transport failures are logged here and converted to nil/false results,
// never propagated as raw errors to callers.
package identity

import (
	"context"

	"github.com/openlot/openlot/pkg/roles"
	"github.com/openlot/openlot/pkg/users"
)

// Profile is a provider-side user record, referenced but not owned by this
// system
type Profile struct {
	ID             string            `json:"id"`
	FirstName      string            `json:"first_name"`
	LastName       string            `json:"last_name"`
	EmailAddresses []EmailAddress    `json:"email_addresses"`
	PhoneNumbers   []PhoneNumber     `json:"phone_numbers"`
	ImageURL       string            `json:"image_url"`
	PublicMetadata map[string]string `json:"public_metadata"`
}

// EmailAddress is one of the provider-side email entries
type EmailAddress struct {
	EmailAddress string `json:"email_address"`
	Primary      bool   `json:"primary"`
}

// PhoneNumber is one of the provider-side phone entries
type PhoneNumber struct {
	PhoneNumber string `json:"phone_number"`
}

// PrimaryEmail returns the primary email, or the first one listed
func (p *Profile) PrimaryEmail() string {
	for _, e := range p.EmailAddresses {
		if e.Primary {
			return e.EmailAddress
		}
	}
	if len(p.EmailAddresses) > 0 {
		return p.EmailAddresses[0].EmailAddress
	}
	return ""
}

// MetadataRole returns the role stored in provider-side public metadata, or
// "" when none is set
func (p *Profile) MetadataRole() string {
	if p.PublicMetadata == nil {
		return ""
	}
	return p.PublicMetadata["role"]
}

// HasRole reports whether the metadata names a valid role
func (p *Profile) HasRole() bool {
	return roles.Role(p.MetadataRole()).Valid()
}

// ToExternalProfile converts the provider record into the snapshot shape the
// local user store consumes
func (p *Profile) ToExternalProfile() users.ExternalProfile {
	return users.ExternalProfile{
		ExternalID: p.ID,
		Email:      p.PrimaryEmail(),
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		AvatarURL:  p.ImageURL,
	}
}

// Provider is the adapter surface the synchronization service depends on
type Provider interface {
	// GetUser fetches a provider profile; nil on any failure
	GetUser(ctx context.Context, externalID string) *Profile
	// UpdateUserMetadata writes the role into provider public metadata;
	// false on any failure
	UpdateUserMetadata(ctx context.Context, externalID string, role roles.Role) bool
	// ListUsers fetches up to limit profiles; nil on any failure
	ListUsers(ctx context.Context, limit int) []*Profile
}
