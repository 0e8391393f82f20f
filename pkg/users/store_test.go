package users

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/openlot/pkg/roles"
)

func setupStore(t *testing.T) *Store {
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
	return NewStore(db)
}

func profile(externalID, email string) ExternalProfile {
	return ExternalProfile{
		ExternalID: externalID,
		Email:      email,
		FirstName:  "Jane",
		LastName:   "Doe",
	}
}

func TestCreateFromExternal(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	user, err := store.CreateFromExternal(ctx, profile("ext_1", "jane.doe@example.com"), roles.RoleAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "ext_1", user.ExternalID)
	assert.Equal(t, roles.RoleAdmin, user.Role)
	assert.Equal(t, "Jane Doe", user.DisplayName)
	assert.True(t, user.IsActive)
	assert.True(t, strings.HasPrefix(user.Username, "jane.doe-"))
}

func TestCreateFromExternalRejectsInvalidInput(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.CreateFromExternal(ctx, profile("ext_1", "a@b.c"), roles.Role("owner"))
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = store.CreateFromExternal(ctx, profile("ext_1", ""), roles.RoleUser)
	assert.ErrorIs(t, err, ErrMissingEmail)

	_, err = store.CreateFromExternal(ctx, profile("", "a@b.c"), roles.RoleUser)
	assert.ErrorIs(t, err, ErrMissingExternalID)
}

func TestCreateFromExternalDuplicateExternalID(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.CreateFromExternal(ctx, profile("ext_dup", "first@example.com"), roles.RoleUser)
	require.NoError(t, err)

	_, err = store.CreateFromExternal(ctx, profile("ext_dup", "second@example.com"), roles.RoleUser)
	assert.ErrorIs(t, err, ErrDuplicateExternalID)
}

// A concurrent create for the same identity collides on email and
// external_id at once; the engine reports whichever index it checks
// first, and both must surface the re-readable conflict.
func TestCreateFromExternalSameIdentityConflict(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	winner, err := store.CreateFromExternal(ctx, profile("ext_race", "race@example.com"), roles.RoleUser)
	require.NoError(t, err)

	_, err = store.CreateFromExternal(ctx, profile("ext_race", "race@example.com"), roles.RoleUser)
	assert.ErrorIs(t, err, ErrDuplicateExternalID)

	got, err := store.FindByExternalID(ctx, "ext_race")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, winner.ID, got.ID)
}

func TestCreateFromExternalDuplicateEmail(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.CreateFromExternal(ctx, profile("ext_a", "shared@example.com"), roles.RoleUser)
	require.NoError(t, err)

	// Same email, unrelated identity: not a provisioning race
	_, err = store.CreateFromExternal(ctx, profile("ext_b", "shared@example.com"), roles.RoleUser)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestFindByExternalIDAbsent(t *testing.T) {
	store := setupStore(t)

	user, err := store.FindByExternalID(context.Background(), "ext_none")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestFindByEmail(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.CreateFromExternal(ctx, profile("ext_1", "find@example.com"), roles.RoleUser)
	require.NoError(t, err)

	found, err := store.FindByEmail(ctx, "find@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
}

func TestUpdateRole(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	user, err := store.CreateFromExternal(ctx, profile("ext_1", "role@example.com"), roles.RoleUser)
	require.NoError(t, err)

	updated, err := store.UpdateRole(ctx, user.ID, roles.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, roles.RoleAdmin, got.Role)
}

func TestUpdateRoleMissingUser(t *testing.T) {
	store := setupStore(t)

	updated, err := store.UpdateRole(context.Background(), "no-such-id", roles.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestUpdateRoleRejectsInvalidRole(t *testing.T) {
	store := setupStore(t)

	_, err := store.UpdateRole(context.Background(), "any", roles.Role("owner"))
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestSetActiveAndCount(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	user, err := store.CreateFromExternal(ctx, profile("ext_1", "active@example.com"), roles.RoleUser)
	require.NoError(t, err)

	count, err := store.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	updated, err := store.SetActive(ctx, user.ID, false)
	require.NoError(t, err)
	assert.True(t, updated)

	count, err = store.CountActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestList(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.CreateFromExternal(ctx, profile("ext_1", "one@example.com"), roles.RoleUser)
	require.NoError(t, err)
	_, err = store.CreateFromExternal(ctx, profile("ext_2", "two@example.com"), roles.RoleUser)
	require.NoError(t, err)

	list, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	limited, err := store.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// TestFindQueryError uses sqlmock to exercise the driver-error path the
// sqlite harness cannot produce
func TestFindQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).
		WillReturnError(sql.ErrConnDone)

	store := NewStore(db)
	_, err = store.FindByExternalID(context.Background(), "ext_1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateUsername(t *testing.T) {
	name, err := generateUsername("Jane.Doe+test@example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "jane.doetest-"))
	assert.Len(t, name, len("jane.doetest")+5)

	name, err = generateUsername("@@@")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "user-"))
}
