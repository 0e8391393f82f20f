package listings

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/openlot/pkg/contextkeys"
	"github.com/openlot/openlot/pkg/observability"
	"github.com/openlot/openlot/pkg/roles"
	"github.com/openlot/openlot/pkg/users"
)

type fakeUploader struct {
	uploads []string
}

func (f *fakeUploader) Upload(ctx context.Context, listingID, filename string, content io.Reader, contentType string) (string, error) {
	key := "listings/" + listingID + "/" + filename
	f.uploads = append(f.uploads, key)
	return key, nil
}

func (f *fakeUploader) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	return io.NopCloser(bytes.NewReader(nil)), "image/jpeg", nil
}

type handlerFixture struct {
	router   *mux.Router
	store    *Store
	uploader *fakeUploader
}

func setupHandlers(t *testing.T) *handlerFixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	store := NewStore(db)
	uploader := &fakeUploader{}

	router := mux.NewRouter()
	NewHandlers(store, uploader, logger).RegisterRoutes(
		router.PathPrefix("/api/listings").Subrouter())

	return &handlerFixture{router: router, store: store, uploader: uploader}
}

func actor(id string, role roles.Role) *users.User {
	return &users.User{ID: id, Role: role, IsActive: true}
}

func (f *handlerFixture) do(method, path string, body interface{}, user *users.User) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Accept", "application/json")
	if user != nil {
		req = req.WithContext(contextkeys.WithCurrentUser(req.Context(), user))
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *handlerFixture) seed(t *testing.T, ownerID string, status Status) *Listing {
	t.Helper()
	listing := sample(ownerID)
	require.NoError(t, f.store.Create(context.Background(), listing))
	if status != StatusDraft {
		_, err := f.store.SetStatus(context.Background(), listing.ID, status)
		require.NoError(t, err)
		listing.Status = status
	}
	return listing
}

func TestPublicListShowsOnlyPublished(t *testing.T) {
	f := setupHandlers(t)
	published := f.seed(t, "owner-1", StatusPublished)
	f.seed(t, "owner-1", StatusDraft)

	rec := f.do(http.MethodGet, "/api/listings", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Listings []*Listing `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Listings, 1)
	assert.Equal(t, published.ID, resp.Listings[0].ID)
}

func TestMineRequiresAuthentication(t *testing.T) {
	f := setupHandlers(t)

	rec := f.do(http.MethodGet, "/api/listings?mine=1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMineListsAllOwnStates(t *testing.T) {
	f := setupHandlers(t)
	owner := actor("owner-1", roles.RoleAdmin)
	f.seed(t, "owner-1", StatusPublished)
	f.seed(t, "owner-1", StatusDraft)
	f.seed(t, "owner-2", StatusPublished)

	rec := f.do(http.MethodGet, "/api/listings?mine=1", nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Listings []*Listing `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Listings, 2)
}

func TestGetDraftHiddenFromOthers(t *testing.T) {
	f := setupHandlers(t)
	draft := f.seed(t, "owner-1", StatusDraft)

	// Anonymous and unrelated admins get 404, not 403
	assert.Equal(t, http.StatusNotFound,
		f.do(http.MethodGet, "/api/listings/"+draft.ID, nil, nil).Code)
	assert.Equal(t, http.StatusNotFound,
		f.do(http.MethodGet, "/api/listings/"+draft.ID, nil, actor("owner-2", roles.RoleAdmin)).Code)

	// Owner and superadmin can see it
	assert.Equal(t, http.StatusOK,
		f.do(http.MethodGet, "/api/listings/"+draft.ID, nil, actor("owner-1", roles.RoleAdmin)).Code)
	assert.Equal(t, http.StatusOK,
		f.do(http.MethodGet, "/api/listings/"+draft.ID, nil, actor("root", roles.RoleSuperAdmin)).Code)
}

func TestCreateRequiresAdminRole(t *testing.T) {
	f := setupHandlers(t)

	rec := f.do(http.MethodPost, "/api/listings", sample("ignored"), actor("u1", roles.RoleUser))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/listings", sample("ignored"), actor("a1", roles.RoleAdmin))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "a1", created.OwnerID)
	assert.Equal(t, StatusDraft, created.Status)
}

func TestUpdateOwnershipRule(t *testing.T) {
	f := setupHandlers(t)
	listing := f.seed(t, "owner-1", StatusPublished)

	body := *listing
	body.PriceCents = 1_400_000

	// Admin who does not own the listing is rejected
	rec := f.do(http.MethodPut, "/api/listings/"+listing.ID, body, actor("owner-2", roles.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The owning admin may edit
	rec = f.do(http.MethodPut, "/api/listings/"+listing.ID, body, actor("owner-1", roles.RoleAdmin))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Superadmin may edit anything
	body.PriceCents = 1_300_000
	rec = f.do(http.MethodPut, "/api/listings/"+listing.ID, body, actor("root", roles.RoleSuperAdmin))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.store.GetByID(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_300_000), got.PriceCents)
}

func TestUpdateCannotReassignOwner(t *testing.T) {
	f := setupHandlers(t)
	listing := f.seed(t, "owner-1", StatusPublished)

	body := *listing
	body.OwnerID = "someone-else"

	rec := f.do(http.MethodPut, "/api/listings/"+listing.ID, body, actor("root", roles.RoleSuperAdmin))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.store.GetByID(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)
}

func TestSetStatusPublishes(t *testing.T) {
	f := setupHandlers(t)
	listing := f.seed(t, "owner-1", StatusDraft)

	rec := f.do(http.MethodPut, "/api/listings/"+listing.ID+"/status",
		setStatusRequest{Status: "published"}, actor("owner-1", roles.RoleAdmin))
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := f.store.GetByID(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, got.Status)
}

func TestUploadPhoto(t *testing.T) {
	f := setupHandlers(t)
	listing := f.seed(t, "owner-1", StatusPublished)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("photo", "front.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/listings/"+listing.ID+"/photos", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req = req.WithContext(contextkeys.WithCurrentUser(req.Context(),
		actor("owner-1", roles.RoleAdmin)))

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.uploader.uploads, 1)

	got, err := f.store.GetByID(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Len(t, got.PhotoKeys, 1)
}
