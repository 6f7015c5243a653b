package access

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/franchise-tracker/internal/platform/httpx"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

type accessService interface {
	AssignRole(ctx context.Context, actorID string, in AssignInput) (AuditEntry, error)
	GetBinding(ctx context.Context, actor Scope, principalID string) (Binding, error)
	ListAudit(ctx context.Context, actor Scope, filter AuditFilter) (AuditPage, error)
}

// Handler exposes scope and role endpoints.
type Handler struct {
	logger  *slog.Logger
	service accessService
}

// NewHandler constructs the access HTTP handler.
func NewHandler(logger *slog.Logger, service accessService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the routes. /me is mounted at the parent level.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit", h.listAudit)
	r.Get("/{principalID}", h.getBinding)
	r.Put("/{principalID}", h.assignRole)
}

// Me returns the caller's resolved scope.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	scope, err := ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, scope)
}

type assignRoleRequest struct {
	Role        Role       `json:"role" validate:"required,oneof=super_admin franchise admin_keuangan admin_marketing user"`
	FranchiseID *uuid.UUID `json:"franchiseId"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	scope, err := ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, err := h.service.AssignRole(r.Context(), scope.PrincipalID, AssignInput{
		TargetPrincipalID: chi.URLParam(r, "principalID"),
		Role:              req.Role,
		FranchiseID:       req.FranchiseID,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) getBinding(w http.ResponseWriter, r *http.Request) {
	scope, err := ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	b, err := h.service.GetBinding(r.Context(), scope, chi.URLParam(r, "principalID"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	scope, err := ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filter := AuditFilter{
		TargetPrincipalID: r.URL.Query().Get("principal_id"),
		Page:              shared.PageRequestFromQuery(r),
	}
	if raw := r.URL.Query().Get("franchise_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid franchise_id")
			return
		}
		filter.FranchiseID = &id
	}
	page, err := h.service.ListAudit(r.Context(), scope, filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}
