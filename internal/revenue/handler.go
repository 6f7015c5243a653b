package revenue

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/httpx"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

type revenueService interface {
	Summary(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID, month shared.MonthKey) (Totals, error)
	Window(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID, to shared.MonthKey, months int) (Window, error)
}

// Handler serves revenue summaries.
type Handler struct {
	logger  *slog.Logger
	service revenueService
	now     func() time.Time
	loc     *time.Location
}

// NewHandler constructs the handler. loc picks the default month.
func NewHandler(logger *slog.Logger, service revenueService, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{logger: logger, service: service, now: time.Now, loc: loc}
}

// MountRoutes registers /revenue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.summary)
	r.Get("/window", h.window)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	scope, fid, month, ok := h.params(w, r)
	if !ok {
		return
	}
	totals, err := h.service.Summary(r.Context(), scope, fid, month)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) window(w http.ResponseWriter, r *http.Request) {
	scope, fid, month, ok := h.params(w, r)
	if !ok {
		return
	}
	months := 12
	if raw := r.URL.Query().Get("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "months must be an integer")
			return
		}
		months = n
	}
	series, err := h.service.Window(r.Context(), scope, fid, month, months)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, series)
}

func (h *Handler) params(w http.ResponseWriter, r *http.Request) (access.Scope, *uuid.UUID, shared.MonthKey, bool) {
	scope, err := access.ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return access.Scope{}, nil, shared.MonthKey{}, false
	}
	q := r.URL.Query()
	var fid *uuid.UUID
	if raw := q.Get("franchise_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid franchise_id")
			return access.Scope{}, nil, shared.MonthKey{}, false
		}
		fid = &id
	}
	month := shared.MonthKeyOf(h.now(), h.loc)
	if raw := q.Get("month"); raw != "" {
		month, err = shared.ParseMonthKey(raw)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return access.Scope{}, nil, shared.MonthKey{}, false
		}
	}
	return scope, fid, month, true
}
