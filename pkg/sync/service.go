// Package sync keeps user roles consistent across the two places they
// live: the local PostgreSQL user store, which is authoritative, and the
// external identity provider's public metadata, which mirrors it. All
// writes go local-first; failed provider pushes are recorded as pending
// intents and retried by the reconciler.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/openlot/openlot/pkg/identity"
	"github.com/openlot/openlot/pkg/observability"
	"github.com/openlot/openlot/pkg/roles"
	"github.com/openlot/openlot/pkg/users"
)

// RoleChangeStatus describes how far a role change propagated
type RoleChangeStatus string

const (
	// RoleChangeSynced means both the local store and the provider were
	// updated
	RoleChangeSynced RoleChangeStatus = "synced"
	// RoleChangeLocalOnly means the local store was updated but the
	// provider push failed; a pending intent was recorded for retry
	RoleChangeLocalOnly RoleChangeStatus = "local_only"
	// RoleChangeFailed means nothing was changed
	RoleChangeFailed RoleChangeStatus = "failed"
)

// RoleChangeResult is the outcome of ChangeUserRole. Callers must
// distinguish LocalOnly from Synced when reporting back to operators.
type RoleChangeResult struct {
	Status RoleChangeStatus
	User   *users.User
	Reason string
}

// UserStore is the local persistence surface the service depends on
type UserStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*users.User, error)
	CreateFromExternal(ctx context.Context, profile users.ExternalProfile, role roles.Role) (*users.User, error)
	UpdateRole(ctx context.Context, id string, role roles.Role) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*users.User, error)
}

// Service coordinates the local user store and the identity provider
type Service struct {
	store    UserStore
	provider identity.Provider
	outbox   *Outbox
	logger   *observability.Logger
	metrics  *observability.Metrics

	// profileCache holds provider profiles for display surfaces (admin
	// user list, drift reports). It is never consulted on the create
	// path, which always reads the provider fresh.
	profileCache *lru.LRU[string, *identity.Profile]
}

// NewService creates the synchronization service. cacheSize and cacheTTL
// bound the provider profile cache; a non-positive size disables it.
func NewService(store UserStore, provider identity.Provider, outbox *Outbox,
	cacheSize int, cacheTTL time.Duration,
	logger *observability.Logger, metrics *observability.Metrics) *Service {

	var cache *lru.LRU[string, *identity.Profile]
	if cacheSize > 0 {
		cache = lru.NewLRU[string, *identity.Profile](cacheSize, nil, cacheTTL)
	}

	return &Service{
		store:        store,
		provider:     provider,
		outbox:       outbox,
		logger:       logger,
		metrics:      metrics,
		profileCache: cache,
	}
}

// GetOrCreateUser resolves an authenticated external id to a local user,
// provisioning the local record on first sight. The initial role comes
// from provider metadata when it names a valid role, otherwise the least
// privileged role. Existing records are returned untouched even when
// provider metadata disagrees; drift is observed by the detector, never
// corrected on the request path.
//
// A nil, nil return means the caller should treat the request as
// unauthenticated: either the provider could not confirm the identity or
// a concurrent deactivation removed the record.
func (s *Service) GetOrCreateUser(ctx context.Context, externalID string) (*users.User, error) {
	if externalID == "" {
		return nil, nil
	}

	user, err := s.store.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	// First sight: the provider read happens before the insert so the
	// metadata role lands in the initial record.
	profile := s.provider.GetUser(ctx, externalID)
	if profile == nil {
		// Already logged by the adapter. Without a profile there is no
		// email to provision from, so no partial record is written.
		return nil, nil
	}

	role := roles.RoleUser
	if profile.HasRole() {
		role = roles.ParseRole(profile.MetadataRole())
	}

	user, err = s.store.CreateFromExternal(ctx, profile.ToExternalProfile(), role)
	if errors.Is(err, users.ErrDuplicateExternalID) {
		// Lost a provisioning race; the winner's record is the truth.
		winner, readErr := s.store.FindByExternalID(ctx, externalID)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read winning record: %w", readErr)
		}
		return winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"external_id": externalID,
		"user_id":     user.ID,
		"role":        string(user.Role),
	}).Info("provisioned user from identity provider")

	return user, nil
}

// ChangeUserRole updates a user's role in the local store and pushes the
// same role to the provider. The local write always happens first; when
// the provider push fails the change still stands locally and a pending
// intent is recorded so the reconciler can finish the job.
func (s *Service) ChangeUserRole(ctx context.Context, externalID string, newRole roles.Role) (RoleChangeResult, error) {
	if !newRole.Valid() {
		return RoleChangeResult{Status: RoleChangeFailed, Reason: "invalid role"}, users.ErrInvalidRole
	}

	user, err := s.store.FindByExternalID(ctx, externalID)
	if err != nil {
		return RoleChangeResult{Status: RoleChangeFailed, Reason: "lookup failed"},
			fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		s.recordSync("failed")
		return RoleChangeResult{Status: RoleChangeFailed, Reason: "user not found"}, nil
	}

	updated, err := s.store.UpdateRole(ctx, user.ID, newRole)
	if err != nil {
		s.recordSync("failed")
		return RoleChangeResult{Status: RoleChangeFailed, Reason: "local update failed"},
			fmt.Errorf("failed to update role: %w", err)
	}
	if !updated {
		s.recordSync("failed")
		return RoleChangeResult{Status: RoleChangeFailed, Reason: "user not found"}, nil
	}
	user.Role = newRole

	if !s.provider.UpdateUserMetadata(ctx, externalID, newRole) {
		if s.outbox != nil {
			if err := s.outbox.Enqueue(ctx, externalID, newRole); err != nil {
				s.logger.WithError(err).WithField("external_id", externalID).
					Error("failed to record pending role sync")
			}
		}
		s.recordSync("local_only")
		s.logger.WithFields(map[string]interface{}{
			"external_id": externalID,
			"role":        string(newRole),
		}).Warn("role updated locally, provider push pending")
		return RoleChangeResult{Status: RoleChangeLocalOnly, User: user,
			Reason: "provider push failed, retry scheduled"}, nil
	}

	// A successful push supersedes any older pending intent.
	if s.outbox != nil {
		if err := s.outbox.Remove(ctx, externalID); err != nil {
			s.logger.WithError(err).WithField("external_id", externalID).
				Warn("failed to clear pending role sync")
		}
	}

	s.recordSync("synced")
	return RoleChangeResult{Status: RoleChangeSynced, User: user}, nil
}

// SyncRoleToExternal pushes a role to the provider without touching the
// local store. The write is issued even when metadata already matches;
// the provider write is idempotent and skipping it would hide drift.
func (s *Service) SyncRoleToExternal(ctx context.Context, externalID string, role roles.Role) bool {
	return s.provider.UpdateUserMetadata(ctx, externalID, role)
}

// Profile returns the provider profile for display surfaces, served from
// the TTL cache when warm. Returns nil when the provider is unreachable.
func (s *Service) Profile(ctx context.Context, externalID string) *identity.Profile {
	if s.profileCache != nil {
		if profile, ok := s.profileCache.Get(externalID); ok {
			s.recordCache(true)
			return profile
		}
		s.recordCache(false)
	}

	profile := s.provider.GetUser(ctx, externalID)
	if profile != nil && s.profileCache != nil {
		s.profileCache.Add(externalID, profile)
	}
	return profile
}

// MigrationReport summarizes a bulk push of local roles to the provider
type MigrationReport struct {
	Total   int `json:"total"`
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// MigrateAll pushes every local user's role into provider metadata.
// Users without an external id are skipped. Individual failures do not
// abort the run.
func (s *Service) MigrateAll(ctx context.Context, batchSize int) (*MigrationReport, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	report := &MigrationReport{}
	for offset := 0; ; offset += batchSize {
		batch, err := s.store.List(ctx, batchSize, offset)
		if err != nil {
			return report, fmt.Errorf("failed to list users: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, user := range batch {
			report.Total++
			if user.ExternalID == "" {
				report.Skipped++
				continue
			}
			if s.provider.UpdateUserMetadata(ctx, user.ExternalID, user.Role) {
				report.Synced++
			} else {
				report.Failed++
			}
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"total":  report.Total,
		"synced": report.Synced,
		"failed": report.Failed,
	}).Info("role migration complete")

	return report, nil
}

func (s *Service) recordSync(outcome string) {
	if s.metrics != nil {
		s.metrics.RoleSyncsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) recordCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHitsTotal.WithLabelValues("profile").Inc()
	} else {
		s.metrics.CacheMissesTotal.WithLabelValues("profile").Inc()
	}
}
