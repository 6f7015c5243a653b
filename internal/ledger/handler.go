package ledger

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/httpx"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

type ledgerService interface {
	Create(ctx context.Context, actor access.Scope, kind Kind, in Input) (Record, error)
	Update(ctx context.Context, actor access.Scope, kind Kind, id uuid.UUID, in Input) (Record, error)
	Get(ctx context.Context, actor access.Scope, kind Kind, id uuid.UUID) (Record, error)
	List(ctx context.Context, actor access.Scope, kind Kind, f Filter) (Page, error)
	ListWorkerView(ctx context.Context, actor access.Scope, f Filter) (ViewPage, error)
	CreateWorker(ctx context.Context, actor access.Scope, in WorkerInput) (Worker, error)
	ListWorkers(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID, page shared.PageRequest) (WorkerPage, error)
}

// Handler exposes ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service ledgerService
	loc     *time.Location
}

// NewHandler constructs the ledger HTTP handler. loc resolves month filters.
func NewHandler(logger *slog.Logger, service ledgerService, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{logger: logger, service: service, loc: loc}
}

// MountRoutes registers /ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/workers", h.listWorkers)
	r.Post("/workers", h.createWorker)
	r.Get("/{kind}", h.list)
	r.Post("/{kind}", h.create)
	r.Get("/{kind}/{id}", h.get)
	r.Put("/{kind}/{id}", h.update)
}

type recordRequest struct {
	FranchiseID    *uuid.UUID      `json:"franchiseId"`
	Amount         decimal.Decimal `json:"amount"`
	OccurredAt     time.Time       `json:"occurredAt" validate:"required"`
	Code           string          `json:"code" validate:"max=64"`
	WorkerID       *uuid.UUID      `json:"workerId"`
	JobDescription string          `json:"jobDescription" validate:"max=500"`
	Note           string          `json:"note" validate:"max=1000"`
}

func (r recordRequest) input() Input {
	return Input{
		FranchiseID:    r.FranchiseID,
		Amount:         r.Amount,
		OccurredAt:     r.OccurredAt,
		Code:           r.Code,
		WorkerID:       r.WorkerID,
		JobDescription: r.JobDescription,
		Note:           r.Note,
	}
}

type workerRequest struct {
	FranchiseID *uuid.UUID `json:"franchiseId"`
	Name        string     `json:"name" validate:"required,max=200"`
	PrincipalID *string    `json:"principalId" validate:"omitempty,max=200"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope, kind, ok := h.prelude(w, r)
	if !ok {
		return
	}
	f, err := FilterFromQuery(r, h.loc)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page, err := h.service.List(r.Context(), scope, kind, f)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	scope, kind, ok := h.prelude(w, r)
	if !ok {
		return
	}
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rec, err := h.service.Create(r.Context(), scope, kind, req.input())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, kind, ok := h.prelude(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid record id")
		return
	}
	rec, err := h.service.Get(r.Context(), scope, kind, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	scope, kind, ok := h.prelude(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid record id")
		return
	}
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rec, err := h.service.Update(r.Context(), scope, kind, id, req.input())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

// WorkerView serves GET /me/worker-income for the user role.
func (h *Handler) WorkerView(w http.ResponseWriter, r *http.Request) {
	scope, err := access.ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	f, err := FilterFromQuery(r, h.loc)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page, err := h.service.ListWorkerView(r.Context(), scope, f)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	scope, err := access.ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	f, err := FilterFromQuery(r, h.loc)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page, err := h.service.ListWorkers(r.Context(), scope, f.FranchiseID, f.Page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) createWorker(w http.ResponseWriter, r *http.Request) {
	scope, err := access.ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req workerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	worker, err := h.service.CreateWorker(r.Context(), scope, WorkerInput(req))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, worker)
}

func (h *Handler) prelude(w http.ResponseWriter, r *http.Request) (access.Scope, Kind, bool) {
	scope, err := access.ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return access.Scope{}, "", false
	}
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return access.Scope{}, "", false
	}
	return scope, kind, true
}

// FilterFromQuery reads franchise_id, month (YYYY-MM) or from/to (RFC 3339)
// and paging parameters.
func FilterFromQuery(r *http.Request, loc *time.Location) (Filter, error) {
	q := r.URL.Query()
	f := Filter{Page: shared.PageRequestFromQuery(r)}
	if raw := q.Get("franchise_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Filter{}, shared.ErrInvalidArgument
		}
		f.FranchiseID = &id
	}
	if raw := q.Get("month"); raw != "" {
		month, err := shared.ParseMonthKey(raw)
		if err != nil {
			return Filter{}, err
		}
		from, to := month.Bounds(loc)
		f.From, f.To = &from, &to
		return f, nil
	}
	for name, target := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filter{}, shared.ErrInvalidArgument
		}
		*target = &t
	}
	return f, nil
}
