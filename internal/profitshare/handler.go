package profitshare

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/httpx"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

type profitShareService interface {
	Get(ctx context.Context, actor access.Scope, key Key) (Record, error)
	List(ctx context.Context, actor access.Scope, f ListFilter) (Page, error)
	Delete(ctx context.Context, actor access.Scope, key Key) error
	Recalculate(ctx context.Context, actor access.Scope, key Key) (Record, error)
	RecalculateBatch(ctx context.Context, actor access.Scope, f BatchFilter, async bool) (*BatchReport, string, error)
	SetPaymentStatus(ctx context.Context, actor access.Scope, key Key, status PaymentStatus) (Record, error)
	EditPercentage(ctx context.Context, actor access.Scope, key Key, pct decimal.Decimal) (Record, error)
	Effective(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID) (Effective, error)
	SetOverride(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID, adminPct decimal.Decimal, async bool) (OverrideResult, error)
	RemoveOverride(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID, async bool) (OverrideResult, error)
}

// Handler exposes profit-share records and overrides.
type Handler struct {
	logger  *slog.Logger
	service profitShareService
}

// NewHandler constructs the profit-share HTTP handler.
func NewHandler(logger *slog.Logger, service profitShareService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers /profit-share routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/recalculate", h.recalculateBatch)

	r.Get("/overrides/effective", h.effective)
	r.Put("/overrides/global", h.setOverride(false))
	r.Delete("/overrides/global", h.removeOverride(false))
	r.Put("/overrides/franchises/{franchiseID}", h.setOverride(true))
	r.Delete("/overrides/franchises/{franchiseID}", h.removeOverride(true))

	r.Route("/{franchiseID}/{month}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Delete("/", h.delete)
		r.Post("/recalculate", h.recalculate)
		r.Put("/payment-status", h.paymentStatus)
		r.Put("/percentage", h.percentage)
	})
}

type batchRequest struct {
	FranchiseID *uuid.UUID       `json:"franchiseId"`
	Month       *shared.MonthKey `json:"month"`
	Async       bool             `json:"async"`
}

type statusRequest struct {
	Status PaymentStatus `json:"status" validate:"required,oneof=unpaid paid"`
}

type percentageRequest struct {
	AdminPercentage decimal.Decimal `json:"adminPercentage"`
}

type batchResponse struct {
	Report *BatchReport `json:"report,omitempty"`
	TaskID string       `json:"taskId,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := ListFilter{Page: shared.PageRequestFromQuery(r), Status: PaymentStatus(q.Get("status"))}
	if raw := q.Get("franchise_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid franchise_id")
			return
		}
		f.FranchiseID = &id
	}
	if raw := q.Get("month"); raw != "" {
		month, err := shared.ParseMonthKey(raw)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		f.Month = &month
	}
	page, err := h.service.List(r.Context(), scope, f)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, key, ok := h.keyed(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), scope, key)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	scope, key, ok := h.keyed(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), scope, key); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	scope, key, ok := h.keyed(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Recalculate(r.Context(), scope, key)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) recalculateBatch(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	report, taskID, err := h.service.RecalculateBatch(r.Context(), scope, BatchFilter{FranchiseID: req.FranchiseID, Month: req.Month}, req.Async)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if taskID != "" {
		status = http.StatusAccepted
	}
	httpx.JSON(w, status, batchResponse{Report: report, TaskID: taskID})
}

func (h *Handler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	scope, key, ok := h.keyed(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rec, err := h.service.SetPaymentStatus(r.Context(), scope, key, req.Status)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) percentage(w http.ResponseWriter, r *http.Request) {
	scope, key, ok := h.keyed(w, r)
	if !ok {
		return
	}
	var req percentageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rec, err := h.service.EditPercentage(r.Context(), scope, key, req.AdminPercentage)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) effective(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var fid *uuid.UUID
	if raw := r.URL.Query().Get("franchise_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid franchise_id")
			return
		}
		fid = &id
	}
	eff, err := h.service.Effective(r.Context(), scope, fid)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, eff)
}

func (h *Handler) setOverride(perFranchise bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, fid, ok := h.overrideTarget(w, r, perFranchise)
		if !ok {
			return
		}
		var req percentageRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		res, err := h.service.SetOverride(r.Context(), scope, fid, req.AdminPercentage, asyncParam(r))
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		httpx.JSON(w, overrideStatus(res), res)
	}
}

func (h *Handler) removeOverride(perFranchise bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, fid, ok := h.overrideTarget(w, r, perFranchise)
		if !ok {
			return
		}
		res, err := h.service.RemoveOverride(r.Context(), scope, fid, asyncParam(r))
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		httpx.JSON(w, overrideStatus(res), res)
	}
}

func overrideStatus(res OverrideResult) int {
	if res.TaskID != "" {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func asyncParam(r *http.Request) bool {
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return async
}

func (h *Handler) overrideTarget(w http.ResponseWriter, r *http.Request, perFranchise bool) (access.Scope, *uuid.UUID, bool) {
	scope, ok := h.scope(w, r)
	if !ok || !perFranchise {
		return scope, nil, ok
	}
	id, err := uuid.Parse(chi.URLParam(r, "franchiseID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid franchise id")
		return access.Scope{}, nil, false
	}
	return scope, &id, true
}

func (h *Handler) keyed(w http.ResponseWriter, r *http.Request) (access.Scope, Key, bool) {
	scope, ok := h.scope(w, r)
	if !ok {
		return access.Scope{}, Key{}, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "franchiseID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid franchise id")
		return access.Scope{}, Key{}, false
	}
	month, err := shared.ParseMonthKey(chi.URLParam(r, "month"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return access.Scope{}, Key{}, false
	}
	return scope, Key{FranchiseID: id, Month: month}, true
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (access.Scope, bool) {
	scope, err := access.ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return access.Scope{}, false
	}
	return scope, true
}
