package middleware

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/openlot/pkg/identity"
	"github.com/openlot/openlot/pkg/observability"
	"github.com/openlot/openlot/pkg/roles"
	syncsvc "github.com/openlot/openlot/pkg/sync"
	"github.com/openlot/openlot/pkg/users"
)

// stubSessions maps bearer tokens straight to external ids
type stubSessions struct {
	tokens map[string]string
}

func (s *stubSessions) ResolveExternalID(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && auth[:7] == "Bearer " {
		return s.tokens[auth[7:]]
	}
	return ""
}

// stubProvider serves canned profiles and accepts all metadata writes
type stubProvider struct {
	profiles map[string]*identity.Profile
}

func (p *stubProvider) GetUser(ctx context.Context, externalID string) *identity.Profile {
	return p.profiles[externalID]
}

func (p *stubProvider) UpdateUserMetadata(ctx context.Context, externalID string, role roles.Role) bool {
	return true
}

func (p *stubProvider) ListUsers(ctx context.Context, limit int) []*identity.Profile {
	return nil
}

type authFixture struct {
	auth     *Authenticator
	store    *users.Store
	sessions *stubSessions
	provider *stubProvider
}

func setupAuth(t *testing.T) *authFixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			external_id TEXT,
			email TEXT NOT NULL,
			username TEXT NOT NULL,
			display_name TEXT,
			role TEXT NOT NULL DEFAULT 'user',
			is_active BOOLEAN NOT NULL DEFAULT true,
			avatar_url TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX users_email_key ON users (email);
		CREATE UNIQUE INDEX users_username_key ON users (username);
		CREATE UNIQUE INDEX users_external_id_key ON users (external_id) WHERE external_id IS NOT NULL;
	`)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	store := users.NewStore(db)
	provider := &stubProvider{profiles: make(map[string]*identity.Profile)}
	service := syncsvc.NewService(store, provider, nil, 0, time.Minute, logger, nil)
	sessions := &stubSessions{tokens: make(map[string]string)}

	return &authFixture{
		auth:     NewAuthenticator(sessions, service, "/login", logger),
		store:    store,
		sessions: sessions,
		provider: provider,
	}
}

// addUser provisions a user with the given role and returns its token
func (f *authFixture) addUser(t *testing.T, externalID, email string, role roles.Role) string {
	t.Helper()
	f.provider.profiles[externalID] = &identity.Profile{
		ID: externalID,
		EmailAddresses: []identity.EmailAddress{
			{EmailAddress: email, Primary: true},
		},
		PublicMetadata: map[string]string{"role": string(role)},
	}
	token := "tok_" + externalID
	f.sessions.tokens[token] = externalID
	return token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(handler http.Handler, token string, json bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if json {
		req.Header.Set("Accept", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireUserUnauthenticatedAPI(t *testing.T) {
	f := setupAuth(t)
	handler := f.auth.LoadUser(f.auth.RequireUser(okHandler()))

	rec := doRequest(handler, "", true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireUserUnauthenticatedBrowserRedirects(t *testing.T) {
	f := setupAuth(t)
	handler := f.auth.LoadUser(f.auth.RequireUser(okHandler()))

	rec := doRequest(handler, "", false)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRequireUserAuthenticated(t *testing.T) {
	f := setupAuth(t)
	token := f.addUser(t, "ext_u1", "u1@lot.example", roles.RoleUser)
	handler := f.auth.LoadUser(f.auth.RequireUser(okHandler()))

	rec := doRequest(handler, token, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdminRejectsUser(t *testing.T) {
	f := setupAuth(t)
	token := f.addUser(t, "ext_u2", "u2@lot.example", roles.RoleUser)
	handler := f.auth.LoadUser(f.auth.RequireAdmin(okHandler()))

	rec := doRequest(handler, token, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	// Generic body: the required role is not disclosed
	assert.NotContains(t, rec.Body.String(), "admin")
}

func TestRequireSuperAdminRejectsAdmin(t *testing.T) {
	f := setupAuth(t)
	token := f.addUser(t, "ext_a1", "a1@lot.example", roles.RoleAdmin)
	handler := f.auth.LoadUser(f.auth.RequireSuperAdmin(okHandler()))

	rec := doRequest(handler, token, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireSuperAdminAllowsSuperAdmin(t *testing.T) {
	f := setupAuth(t)
	token := f.addUser(t, "ext_s1", "s1@lot.example", roles.RoleSuperAdmin)
	handler := f.auth.LoadUser(f.auth.RequireSuperAdmin(okHandler()))

	rec := doRequest(handler, token, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequirePermission(t *testing.T) {
	f := setupAuth(t)
	userToken := f.addUser(t, "ext_u3", "u3@lot.example", roles.RoleUser)
	adminToken := f.addUser(t, "ext_a2", "a2@lot.example", roles.RoleAdmin)

	handler := f.auth.LoadUser(
		f.auth.RequirePermission(roles.PermListingsCreate)(okHandler()))

	assert.Equal(t, http.StatusForbidden, doRequest(handler, userToken, true).Code)
	assert.Equal(t, http.StatusOK, doRequest(handler, adminToken, true).Code)
}

func TestDeactivatedUserIsUnauthenticated(t *testing.T) {
	f := setupAuth(t)
	ctx := context.Background()
	token := f.addUser(t, "ext_d1", "d1@lot.example", roles.RoleAdmin)

	handler := f.auth.LoadUser(f.auth.RequireUser(okHandler()))

	// First request provisions the account
	assert.Equal(t, http.StatusOK, doRequest(handler, token, true).Code)

	user, err := f.store.FindByExternalID(ctx, "ext_d1")
	require.NoError(t, err)
	_, err = f.store.SetActive(ctx, user.ID, false)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, doRequest(handler, token, true).Code)
}

func TestLoadUserProvisionsAndExposesCurrentUser(t *testing.T) {
	f := setupAuth(t)
	token := f.addUser(t, "ext_c1", "c1@lot.example", roles.RoleUser)

	var seen *users.User
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CurrentUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := doRequest(f.auth.LoadUser(inner), token, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "ext_c1", seen.ExternalID)
	assert.Equal(t, roles.RoleUser, seen.Role)
}
