package sync

import (
	"context"
	"fmt"

	"github.com/openlot/openlot/pkg/roles"
)

// DriftEntry is one user whose provider metadata disagrees with the
// local store
type DriftEntry struct {
	ExternalID   string     `json:"external_id"`
	UserID       string     `json:"user_id,omitempty"`
	LocalRole    roles.Role `json:"local_role,omitempty"`
	MetadataRole string     `json:"metadata_role"`
	Kind         string     `json:"kind"`
}

// Drift kinds
const (
	DriftRoleMismatch = "role_mismatch" // metadata names a different role
	DriftNoLocalUser  = "no_local_user" // provider record with no local counterpart
)

// DriftReport is the outcome of one detection pass. Reporting only: the
// detector never writes to either side.
type DriftReport struct {
	Scanned int          `json:"scanned"`
	Entries []DriftEntry `json:"entries"`
}

// DetectDrift compares provider metadata roles against the local store
// for up to limit provider records. The scan window is provider-side:
// provider records beyond the first limit, and local users the provider
// does not return at all, are outside it and never appear in the report.
// Callers wanting full coverage raise limit above the provider's user
// count. Provider records without a metadata role are consistent with
// any local role and are not reported.
func (s *Service) DetectDrift(ctx context.Context, limit int) (*DriftReport, error) {
	profiles := s.provider.ListUsers(ctx, limit)
	if profiles == nil {
		return nil, fmt.Errorf("identity provider unavailable")
	}

	report := &DriftReport{Scanned: len(profiles)}
	for _, profile := range profiles {
		metadataRole := profile.MetadataRole()
		if metadataRole == "" {
			continue
		}

		user, err := s.store.FindByExternalID(ctx, profile.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up user: %w", err)
		}
		if user == nil {
			report.Entries = append(report.Entries, DriftEntry{
				ExternalID:   profile.ID,
				MetadataRole: metadataRole,
				Kind:         DriftNoLocalUser,
			})
			continue
		}

		if string(user.Role) != metadataRole {
			report.Entries = append(report.Entries, DriftEntry{
				ExternalID:   profile.ID,
				UserID:       user.ID,
				LocalRole:    user.Role,
				MetadataRole: metadataRole,
				Kind:         DriftRoleMismatch,
			})
		}
	}

	if s.metrics != nil && len(report.Entries) > 0 {
		s.metrics.RoleDriftDetected.Add(float64(len(report.Entries)))
	}
	if len(report.Entries) > 0 {
		s.logger.WithField("count", len(report.Entries)).Warn("role drift detected")
	}

	return report, nil
}
