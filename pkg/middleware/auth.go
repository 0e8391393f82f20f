// Package middleware provides the HTTP middleware chain: request ids,
// user resolution, and the role guards that gate protected surfaces.
package middleware

import (
	"context"
	"net/http"

	"github.com/openlot/openlot/pkg/contextkeys"
	"github.com/openlot/openlot/pkg/httputil"
	"github.com/openlot/openlot/pkg/identity"
	"github.com/openlot/openlot/pkg/observability"
	"github.com/openlot/openlot/pkg/roles"
	syncsvc "github.com/openlot/openlot/pkg/sync"
	"github.com/openlot/openlot/pkg/users"
)

// Authenticator resolves sessions to local users and enforces role
// requirements
type Authenticator struct {
	sessions identity.SessionResolver
	service  *syncsvc.Service
	logger   *observability.Logger
	loginURL string
}

// NewAuthenticator builds the authenticator. loginURL is where browser
// clients are sent when unauthenticated; API clients get 401 instead.
func NewAuthenticator(sessions identity.SessionResolver, service *syncsvc.Service,
	loginURL string, logger *observability.Logger) *Authenticator {
	if loginURL == "" {
		loginURL = "/login"
	}
	return &Authenticator{
		sessions: sessions,
		service:  service,
		logger:   logger,
		loginURL: loginURL,
	}
}

// LoadUser resolves the request's session to a local user and stores it
// in the context. Requests without a valid session, or whose identity
// cannot be confirmed, pass through with no user set; the guards decide
// what that means per route. Deactivated accounts carry no user.
func (a *Authenticator) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		externalID := a.sessions.ResolveExternalID(r)
		if externalID == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := contextkeys.WithExternalID(r.Context(), externalID)

		user, err := a.service.GetOrCreateUser(ctx, externalID)
		if err != nil {
			observability.FromContext(ctx).WithError(err).
				Error("failed to resolve user")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if user != nil && user.IsActive {
			ctx = contextkeys.WithCurrentUser(ctx, user)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CurrentUser returns the resolved user, or nil when the request is
// unauthenticated
func CurrentUser(ctx context.Context) *users.User {
	if user, ok := ctx.Value(contextkeys.CurrentUserKey).(*users.User); ok {
		return user
	}
	return nil
}

// RequireUser rejects unauthenticated requests. Browser clients are
// redirected to the login page; API clients receive 401.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CurrentUser(r.Context()) == nil {
			a.rejectUnauthenticated(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests whose user does not hold at least the
// given role. Authenticated but underprivileged requests get a generic
// 403 that does not disclose the required role.
func (a *Authenticator) RequireRole(minimum roles.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := CurrentUser(r.Context())
			if user == nil {
				a.rejectUnauthenticated(w, r)
				return
			}
			if !user.Role.AtLeast(minimum) {
				a.rejectForbidden(w, r, user)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin gates admin surfaces
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.RequireRole(roles.RoleAdmin)(next)
}

// RequireSuperAdmin gates the highest-privilege operations
func (a *Authenticator) RequireSuperAdmin(next http.Handler) http.Handler {
	return a.RequireRole(roles.RoleSuperAdmin)(next)
}

// RequirePermission gates a route on a capability rather than a role
// rank
func (a *Authenticator) RequirePermission(perm roles.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := CurrentUser(r.Context())
			if user == nil {
				a.rejectUnauthenticated(w, r)
				return
			}
			if !roles.HasPermission(user.Role, perm) {
				a.rejectForbidden(w, r, user)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if httputil.WantsJSON(r) {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	http.Redirect(w, r, a.loginURL, http.StatusFound)
}

func (a *Authenticator) rejectForbidden(w http.ResponseWriter, r *http.Request, user *users.User) {
	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"user_id": user.ID,
		"role":    string(user.Role),
		"path":    r.URL.Path,
	}).Info("access denied")
	httputil.WriteForbidden(w, "forbidden")
}
