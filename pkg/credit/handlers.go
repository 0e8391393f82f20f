package credit

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openlot/openlot/pkg/httputil"
	"github.com/openlot/openlot/pkg/listings"
	"github.com/openlot/openlot/pkg/middleware"
	"github.com/openlot/openlot/pkg/observability"
	"github.com/openlot/openlot/pkg/roles"
)

// Handlers serves the credit application API
type Handlers struct {
	store    *Store
	listings listings.Storage
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewHandlers creates the credit handlers
func NewHandlers(store *Store, listingStorage listings.Storage,
	logger *observability.Logger, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		store:    store,
		listings: listingStorage,
		logger:   logger,
		metrics:  metrics,
	}
}

// RegisterRoutes mounts the credit API on the given router
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.submit).Methods(http.MethodPost)
	r.HandleFunc("/mine", h.listMine).Methods(http.MethodGet)
	r.HandleFunc("/review", h.listForReview).Methods(http.MethodGet)
	r.HandleFunc("/{id}/status", h.setStatus).Methods(http.MethodPut)
}

type submitRequest struct {
	ListingID         string `json:"listing_id"`
	AnnualIncomeCents int64  `json:"annual_income_cents"`
	DownPaymentCents  int64  `json:"down_payment_cents"`
	EmploymentStatus  string `json:"employment_status"`
}

// submit files a financing application against a published listing
func (h *Handlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user := middleware.CurrentUser(ctx)
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req submitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	listing, err := h.listings.GetByID(ctx, req.ListingID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to load listing")
		httputil.WriteInternalError(w, errors.New("failed to load listing"))
		return
	}
	if listing == nil || listing.Status != listings.StatusPublished {
		httputil.WriteNotFoundError(w, "listing not found")
		return
	}

	app := &Application{
		ApplicantID:       user.ID,
		ListingID:         req.ListingID,
		AnnualIncomeCents: req.AnnualIncomeCents,
		DownPaymentCents:  req.DownPaymentCents,
		EmploymentStatus:  req.EmploymentStatus,
	}
	if err := h.store.Submit(ctx, app); err != nil {
		if errors.Is(err, ErrInvalidIncome) || errors.Is(err, ErrMissingListing) {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		observability.FromContext(ctx).WithError(err).Error("failed to submit application")
		httputil.WriteInternalError(w, errors.New("failed to submit application"))
		return
	}

	if h.metrics != nil {
		h.metrics.CreditApplications.Inc()
	}

	httputil.WriteCreated(w, app)
}

func (h *Handlers) listMine(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	apps, err := h.store.ListByApplicant(r.Context(), user.ID, 50)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list applications")
		httputil.WriteInternalError(w, errors.New("failed to list applications"))
		return
	}
	if apps == nil {
		apps = []*Application{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{"applications": apps})
}

// listForReview shows the submitted queue to reviewers
func (h *Handlers) listForReview(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if !roles.HasPermission(user.Role, roles.PermCreditReview) {
		httputil.WriteForbidden(w, "forbidden")
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = StatusSubmitted
	}
	page := httputil.ParsePagination(r, 50, 200)

	apps, err := h.store.ListByStatus(r.Context(), status, page.Limit, page.Offset)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list applications")
		httputil.WriteInternalError(w, errors.New("failed to list applications"))
		return
	}
	if apps == nil {
		apps = []*Application{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{"applications": apps})
}

type reviewRequest struct {
	Status string `json:"status"`
}

func (h *Handlers) setStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user := middleware.CurrentUser(ctx)
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if !roles.HasPermission(user.Role, roles.PermCreditReview) {
		httputil.WriteForbidden(w, "forbidden")
		return
	}

	var req reviewRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	switch req.Status {
	case StatusInReview, StatusApproved, StatusDeclined:
	default:
		httputil.WriteValidationError(w, "unknown status")
		return
	}

	updated, err := h.store.SetStatus(ctx, mux.Vars(r)["id"], req.Status, user.ID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to update application")
		httputil.WriteInternalError(w, errors.New("failed to update application"))
		return
	}
	if !updated {
		httputil.WriteNotFoundError(w, "application not found")
		return
	}

	httputil.WriteNoContent(w)
}
