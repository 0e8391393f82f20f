// Package admin exposes the administrative HTTP API: user management,
// role changes, drift reports, and the audit trail. Routes are mounted
// behind the admin guard; the sensitive handlers still re-check the
// acting user's capability themselves.
package admin

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openlot/openlot/pkg/audit"
	"github.com/openlot/openlot/pkg/contextkeys"
	"github.com/openlot/openlot/pkg/httputil"
	"github.com/openlot/openlot/pkg/middleware"
	"github.com/openlot/openlot/pkg/observability"
	"github.com/openlot/openlot/pkg/roles"
	syncsvc "github.com/openlot/openlot/pkg/sync"
	"github.com/openlot/openlot/pkg/users"
)

// Handlers serves the admin API
type Handlers struct {
	service *syncsvc.Service
	store   *users.Store
	audit   *audit.Store
	logger  *observability.Logger
}

// NewHandlers creates the admin handlers
func NewHandlers(service *syncsvc.Service, store *users.Store, auditStore *audit.Store,
	logger *observability.Logger) *Handlers {
	return &Handlers{
		service: service,
		store:   store,
		audit:   auditStore,
		logger:  logger,
	}
}

// RegisterRoutes mounts the admin API on the given router. The caller
// is responsible for wrapping the router with the admin guard.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/users/{external_id}/role", h.changeRole).Methods(http.MethodPut)
	r.HandleFunc("/users/{external_id}/active", h.setActive).Methods(http.MethodPut)
	r.HandleFunc("/drift", h.driftReport).Methods(http.MethodGet)
	r.HandleFunc("/migrate", h.migrateRoles).Methods(http.MethodPost)
	r.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)
}

func (h *Handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePagination(r, 50, 200)

	list, err := h.store.List(r.Context(), page.Limit, page.Offset)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list users")
		httputil.WriteInternalError(w, errors.New("failed to list users"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"users":  list,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type changeRoleResponse struct {
	Status string      `json:"status"`
	Reason string      `json:"reason,omitempty"`
	User   *users.User `json:"user,omitempty"`
}

// changeRole updates a user's role locally and pushes it to the
// identity provider. A partial success, where the local change stood
// but the push failed, is reported as 202 with status local_only so
// operators can tell it apart from a full sync.
func (h *Handlers) changeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Route guards aside, changing roles requires the manage-users
	// capability held only by superadmin
	actor := middleware.CurrentUser(ctx)
	if actor == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if !roles.CanManageUsers(actor.Role) {
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"user_id": actor.ID,
			"role":    string(actor.Role),
		}).Info("role change denied")
		httputil.WriteForbidden(w, "forbidden")
		return
	}

	externalID := mux.Vars(r)["external_id"]

	var req changeRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	newRole := roles.Role(req.Role)
	if !newRole.Valid() {
		httputil.WriteValidationError(w, fmt.Sprintf("unknown role %q", req.Role))
		return
	}

	result, err := h.service.ChangeUserRole(ctx, externalID, newRole)
	if err != nil && !errors.Is(err, users.ErrInvalidRole) {
		observability.FromContext(ctx).WithError(err).Error("role change failed")
		httputil.WriteInternalError(w, errors.New("role change failed"))
		return
	}

	switch result.Status {
	case syncsvc.RoleChangeSynced, syncsvc.RoleChangeLocalOnly:
		h.recordAudit(r, actor.ID, audit.ActionRoleChange, externalID,
			fmt.Sprintf("role=%s status=%s", newRole, result.Status))
	}

	switch result.Status {
	case syncsvc.RoleChangeSynced:
		httputil.WriteSuccess(w, changeRoleResponse{
			Status: string(result.Status), User: result.User})
	case syncsvc.RoleChangeLocalOnly:
		httputil.WriteJSON(w, http.StatusAccepted, changeRoleResponse{
			Status: string(result.Status), Reason: result.Reason, User: result.User})
	default:
		if result.Reason == "user not found" {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		httputil.WriteInternalError(w, errors.New(result.Reason))
	}
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor := middleware.CurrentUser(ctx)
	if actor == nil || !roles.CanManageUsers(actor.Role) {
		httputil.WriteForbidden(w, "forbidden")
		return
	}

	externalID := mux.Vars(r)["external_id"]

	var req setActiveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	user, err := h.store.FindByExternalID(ctx, externalID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to look up user")
		httputil.WriteInternalError(w, errors.New("lookup failed"))
		return
	}
	if user == nil {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}

	updated, err := h.store.SetActive(ctx, user.ID, req.Active)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to update active flag")
		httputil.WriteInternalError(w, errors.New("update failed"))
		return
	}
	if !updated {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}

	action := audit.ActionUserDeactivate
	if req.Active {
		action = audit.ActionUserActivate
	}
	h.recordAudit(r, actor.ID, action, externalID, "")

	httputil.WriteNoContent(w)
}

func (h *Handlers) driftReport(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePagination(r, 100, 500)

	report, err := h.service.DetectDrift(r.Context(), page.Limit)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("drift detection failed")
		httputil.WriteError(w, http.StatusBadGateway, errors.New("identity provider unavailable"))
		return
	}

	httputil.WriteSuccess(w, report)
}

func (h *Handlers) migrateRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor := middleware.CurrentUser(ctx)
	if actor == nil || !roles.CanManageUsers(actor.Role) {
		httputil.WriteForbidden(w, "forbidden")
		return
	}

	report, err := h.service.MigrateAll(ctx, 100)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("role migration failed")
		httputil.WriteInternalError(w, errors.New("migration failed"))
		return
	}

	h.recordAudit(r, actor.ID, audit.ActionRoleMigrate, "all",
		fmt.Sprintf("total=%d synced=%d failed=%d", report.Total, report.Synced, report.Failed))

	httputil.WriteSuccess(w, report)
}

func (h *Handlers) listAudit(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePagination(r, 50, 200)

	entries, err := h.audit.List(r.Context(), page.Limit, page.Offset)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list audit entries")
		httputil.WriteInternalError(w, errors.New("failed to list audit entries"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"entries": entries})
}

func (h *Handlers) recordAudit(r *http.Request, actorID, action, targetID, detail string) {
	requestID := contextkeys.GetRequestID(r.Context())
	if err := h.audit.Record(r.Context(), actorID, action, targetID, detail, requestID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to record audit entry")
	}
}
