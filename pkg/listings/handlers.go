package listings

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/openlot/openlot/pkg/httputil"
	"github.com/openlot/openlot/pkg/middleware"
	"github.com/openlot/openlot/pkg/observability"
	"github.com/openlot/openlot/pkg/roles"
	"github.com/openlot/openlot/pkg/users"
)

// maxPhotoSize bounds a single photo upload
const maxPhotoSize = 10 << 20 // 10 MiB

// Handlers serves the listing HTTP API
type Handlers struct {
	storage Storage
	media   Uploader
	logger  *observability.Logger
}

// NewHandlers creates the listing handlers. media may be nil when no
// object storage is configured; photo routes then return 404.
func NewHandlers(storage Storage, media Uploader, logger *observability.Logger) *Handlers {
	return &Handlers{storage: storage, media: media, logger: logger}
}

// RegisterRoutes mounts the listing API. Browsing is public; mutation
// requires authentication via the LoadUser chain.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.list).Methods(http.MethodGet)
	r.HandleFunc("", h.create).Methods(http.MethodPost)
	r.HandleFunc("/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/{id}", h.update).Methods(http.MethodPut)
	r.HandleFunc("/{id}/status", h.setStatus).Methods(http.MethodPut)
	if h.media != nil {
		r.HandleFunc("/{id}/photos", h.uploadPhoto).Methods(http.MethodPost)
	}
}

// list returns published listings, optionally narrowed by make, model,
// year/price bounds, and a text query. Authenticated callers can pass
// mine=1 to see their own listings in every lifecycle state.
func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePagination(r, defaultPageSize, 200)
	q := r.URL.Query()
	filter := Filter{
		Status:   StatusPublished,
		Make:     q.Get("make"),
		Model:    q.Get("model"),
		YearMin:  intParam(q.Get("year_min")),
		YearMax:  intParam(q.Get("year_max")),
		PriceMin: int64(intParam(q.Get("price_min"))),
		PriceMax: int64(intParam(q.Get("price_max"))),
		Query:    q.Get("q"),
		Limit:    page.Limit,
		Offset:   page.Offset,
	}

	if r.URL.Query().Get("mine") == "1" {
		user := middleware.CurrentUser(r.Context())
		if user == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		filter.Status = ""
		filter.OwnerID = user.ID
	}

	result, err := h.storage.List(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list listings")
		httputil.WriteInternalError(w, errors.New("failed to list listings"))
		return
	}
	if result == nil {
		result = []*Listing{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"listings": result,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// get returns one listing. Unpublished listings are visible only to
// their owner and to superadmin; everyone else sees 404, not 403.
func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	listing, err := h.storage.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to get listing")
		httputil.WriteInternalError(w, errors.New("failed to get listing"))
		return
	}
	if listing == nil {
		httputil.WriteNotFoundError(w, "listing not found")
		return
	}

	if listing.Status != StatusPublished {
		user := middleware.CurrentUser(r.Context())
		if user == nil || !roles.CanEditListing(user.Role, listing.OwnerID, user.ID) {
			httputil.WriteNotFoundError(w, "listing not found")
			return
		}
	}

	httputil.WriteSuccess(w, listing)
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if !roles.CanCreateListings(user.Role) {
		httputil.WriteForbidden(w, "forbidden")
		return
	}

	var listing Listing
	if err := httputil.DecodeJSON(r, &listing); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	listing.ID = ""
	listing.OwnerID = user.ID
	listing.Status = StatusDraft

	if err := h.storage.Create(r.Context(), &listing); err != nil {
		if errors.Is(err, ErrMissingTitle) || errors.Is(err, ErrInvalidPrice) {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to create listing")
		httputil.WriteInternalError(w, errors.New("failed to create listing"))
		return
	}

	httputil.WriteCreated(w, listing)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request) {
	existing, _, ok := h.authorizeEdit(w, r)
	if !ok {
		return
	}

	var req Listing
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	// Identity, ownership, and lifecycle are not editable here
	req.ID = existing.ID
	req.OwnerID = existing.OwnerID
	req.Status = existing.Status

	updated, err := h.storage.Update(r.Context(), &req)
	if err != nil {
		if errors.Is(err, ErrMissingTitle) || errors.Is(err, ErrInvalidPrice) {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to update listing")
		httputil.WriteInternalError(w, errors.New("failed to update listing"))
		return
	}
	if !updated {
		httputil.WriteNotFoundError(w, "listing not found")
		return
	}

	httputil.WriteSuccess(w, req)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handlers) setStatus(w http.ResponseWriter, r *http.Request) {
	existing, _, ok := h.authorizeEdit(w, r)
	if !ok {
		return
	}

	var req setStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	status := Status(req.Status)
	if !status.Valid() {
		httputil.WriteValidationError(w, "unknown status")
		return
	}

	updated, err := h.storage.SetStatus(r.Context(), existing.ID, status)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to update listing status")
		httputil.WriteInternalError(w, errors.New("failed to update listing status"))
		return
	}
	if !updated {
		httputil.WriteNotFoundError(w, "listing not found")
		return
	}

	httputil.WriteNoContent(w)
}

func (h *Handlers) uploadPhoto(w http.ResponseWriter, r *http.Request) {
	existing, _, ok := h.authorizeEdit(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		httputil.WriteValidationError(w, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		httputil.WriteValidationError(w, "photo file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	key, err := h.media.Upload(r.Context(), existing.ID, header.Filename,
		io.LimitReader(file, maxPhotoSize), contentType)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to upload photo")
		httputil.WriteInternalError(w, errors.New("failed to upload photo"))
		return
	}

	if err := h.storage.AddPhoto(r.Context(), existing.ID, key); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to record photo")
		httputil.WriteInternalError(w, errors.New("failed to record photo"))
		return
	}

	httputil.WriteCreated(w, map[string]string{"key": key})
}

func intParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// authorizeEdit loads the listing and applies the edit rule: superadmin
// edits anything, admin edits only what it owns. Failures are written
// to the response; ok reports whether the caller may proceed.
func (h *Handlers) authorizeEdit(w http.ResponseWriter, r *http.Request) (*Listing, *users.User, bool) {
	user := middleware.CurrentUser(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, nil, false
	}

	listing, err := h.storage.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to get listing")
		httputil.WriteInternalError(w, errors.New("failed to get listing"))
		return nil, nil, false
	}
	if listing == nil {
		httputil.WriteNotFoundError(w, "listing not found")
		return nil, nil, false
	}

	if !roles.CanEditListing(user.Role, listing.OwnerID, user.ID) {
		observability.FromContext(r.Context()).WithFields(map[string]interface{}{
			"user_id":    user.ID,
			"listing_id": listing.ID,
		}).Info("listing edit denied")
		httputil.WriteForbidden(w, "forbidden")
		return nil, nil, false
	}

	return listing, user, true
}
