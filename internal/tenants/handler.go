package tenants

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/httpx"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

type directoryService interface {
	Create(ctx context.Context, actor access.Scope, in CreateInput) (Franchise, error)
	Get(ctx context.Context, actor access.Scope, id uuid.UUID) (Franchise, error)
	GetBySlug(ctx context.Context, actor access.Scope, slug string) (Franchise, error)
	List(ctx context.Context, actor access.Scope, page shared.PageRequest) (Page, error)
	Update(ctx context.Context, actor access.Scope, id uuid.UUID, in UpdateInput) (Franchise, error)
	Delete(ctx context.Context, actor access.Scope, id uuid.UUID) (DeleteReport, error)
}

// Handler exposes the franchise directory.
type Handler struct {
	logger  *slog.Logger
	service directoryService
}

// NewHandler constructs the directory HTTP handler.
func NewHandler(logger *slog.Logger, service directoryService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/by-slug/{slug}", h.getBySlug)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

type createRequest struct {
	DisplayName string  `json:"displayName" validate:"required,max=200"`
	Slug        string  `json:"slug" validate:"omitempty,max=64"`
	Address     *string `json:"address" validate:"omitempty,max=500"`
}

type updateRequest struct {
	DisplayName *string `json:"displayName" validate:"omitempty,max=200"`
	Slug        *string `json:"slug" validate:"omitempty,max=64"`
	Address     *string `json:"address" validate:"omitempty,max=500"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	page, err := h.service.List(r.Context(), scope, shared.PageRequestFromQuery(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	f, err := h.service.Create(r.Context(), scope, CreateInput{DisplayName: req.DisplayName, Slug: req.Slug, Address: req.Address})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, f)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	f, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *Handler) getBySlug(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	f, err := h.service.GetBySlug(r.Context(), scope, chi.URLParam(r, "slug"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	f, err := h.service.Update(r.Context(), scope, id, UpdateInput(req))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	report, err := h.service.Delete(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (access.Scope, bool) {
	scope, err := access.ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return access.Scope{}, false
	}
	return scope, true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid franchise id")
		return uuid.Nil, false
	}
	return id, true
}
