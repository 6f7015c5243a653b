package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/changefeed"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// writerRoles may create and edit ledger rows.
var writerRoles = []access.Role{
	access.RoleSuperAdmin, access.RoleFranchise, access.RoleAdminKeuangan, access.RoleAdminMarketing,
}

// RecalcTrigger is told which (franchise, month) revenue changed so stored
// profit-share records can be refreshed.
type RecalcTrigger interface {
	RevenueChanged(ctx context.Context, franchiseID uuid.UUID, month shared.MonthKey) error
}

// Service applies scope rules to ledger reads and writes.
type Service struct {
	repo      Repository
	publisher changefeed.Publisher
	trigger   RecalcTrigger
	loc       *time.Location
	logger    *slog.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

// NewService constructs the ledger service. loc is the ledger month timezone.
func NewService(repo Repository, publisher changefeed.Publisher, loc *time.Location, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, publisher: publisher, loc: loc, logger: logger, now: time.Now, newID: uuid.New}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRecalcTrigger wires the profit-share refresh hook.
func (s *Service) WithRecalcTrigger(trigger RecalcTrigger) {
	s.trigger = trigger
}

// Create appends a record. The franchise is stamped from the scope; only
// super admins choose it.
func (s *Service) Create(ctx context.Context, actor access.Scope, kind Kind, in Input) (Record, error) {
	if err := actor.RequireAny(writerRoles...); err != nil {
		return Record{}, err
	}
	franchiseID, err := actor.WriteFranchise(in.FranchiseID)
	if err != nil {
		return Record{}, err
	}
	now := s.now().UTC()
	rec := in.apply(Record{
		Kind:        kind,
		ID:          s.newID(),
		FranchiseID: franchiseID,
		CreatedBy:   actor.PrincipalID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err := s.validate(ctx, rec); err != nil {
		return Record{}, err
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return Record{}, err
	}
	s.changed(ctx, changefeed.OpInsert, rec, rec.OccurredAt)
	return rec, nil
}

// Update edits a record in place. The franchise never changes.
func (s *Service) Update(ctx context.Context, actor access.Scope, kind Kind, id uuid.UUID, in Input) (Record, error) {
	if err := actor.RequireAny(writerRoles...); err != nil {
		return Record{}, err
	}
	current, err := s.Get(ctx, actor, kind, id)
	if err != nil {
		return Record{}, err
	}
	if in.FranchiseID != nil && *in.FranchiseID != current.FranchiseID && actor.IsSuperAdmin() {
		return Record{}, fmt.Errorf("ledger: records cannot move between franchises: %w", shared.ErrInvalidArgument)
	}
	previousAt := current.OccurredAt
	next := in.apply(current)
	next.UpdatedAt = s.now().UTC()
	if err := s.validate(ctx, next); err != nil {
		return Record{}, err
	}
	if err := s.repo.Update(ctx, next); err != nil {
		return Record{}, err
	}
	s.changed(ctx, changefeed.OpUpdate, next, previousAt)
	return next, nil
}

// Get returns one record visible to the actor. Records of other franchises
// are reported as not found.
func (s *Service) Get(ctx context.Context, actor access.Scope, kind Kind, id uuid.UUID) (Record, error) {
	if _, err := actor.TenantFilter(nil); err != nil {
		return Record{}, err
	}
	rec, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return Record{}, err
	}
	if !actor.CanSee(rec.FranchiseID) {
		return Record{}, fmt.Errorf("ledger: %s %s: %w", kind, id, shared.ErrNotFound)
	}
	return rec, nil
}

// List returns records of one kind filtered by the actor's scope.
func (s *Service) List(ctx context.Context, actor access.Scope, kind Kind, f Filter) (Page, error) {
	if _, err := specFor(kind); err != nil {
		return Page{}, err
	}
	scoped, err := actor.TenantFilter(f.FranchiseID)
	if err != nil {
		return Page{}, err
	}
	f.FranchiseID = scoped
	records, total, err := s.repo.List(ctx, kind, f)
	if err != nil {
		return Page{}, err
	}
	if records == nil {
		records = []Record{}
	}
	return Page{Records: records, Pagination: shared.NewPagination(f.Page.Page, f.Page.PerPage, total)}, nil
}

// ListWorkerView returns the user role's own worker income, de-identified.
func (s *Service) ListWorkerView(ctx context.Context, actor access.Scope, f Filter) (ViewPage, error) {
	if actor.Role != access.RoleUser {
		return ViewPage{}, fmt.Errorf("ledger: worker view is for the user role: %w", shared.ErrForbidden)
	}
	records, total, err := s.repo.ListWorkerView(ctx, actor.PrincipalID, f)
	if err != nil {
		return ViewPage{}, err
	}
	if records == nil {
		records = []WorkerIncomeView{}
	}
	return ViewPage{Records: records, Pagination: shared.NewPagination(f.Page.Page, f.Page.PerPage, total)}, nil
}

// CreateWorker registers a worker at the actor's franchise.
func (s *Service) CreateWorker(ctx context.Context, actor access.Scope, in WorkerInput) (Worker, error) {
	if err := actor.RequireAny(writerRoles...); err != nil {
		return Worker{}, err
	}
	franchiseID, err := actor.WriteFranchise(in.FranchiseID)
	if err != nil {
		return Worker{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Worker{}, fmt.Errorf("ledger: worker name required: %w", shared.ErrInvalidArgument)
	}
	w := Worker{ID: s.newID(), FranchiseID: franchiseID, Name: name, PrincipalID: in.PrincipalID, CreatedAt: s.now().UTC()}
	if err := s.repo.InsertWorker(ctx, w); err != nil {
		return Worker{}, err
	}
	return w, nil
}

// WorkerPage is one page of workers.
type WorkerPage struct {
	Workers    []Worker          `json:"workers"`
	Pagination shared.Pagination `json:"pagination"`
}

// ListWorkers lists workers in the actor's scope.
func (s *Service) ListWorkers(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID, page shared.PageRequest) (WorkerPage, error) {
	scoped, err := actor.TenantFilter(franchiseID)
	if err != nil {
		return WorkerPage{}, err
	}
	workers, total, err := s.repo.ListWorkers(ctx, scoped, page)
	if err != nil {
		return WorkerPage{}, err
	}
	if workers == nil {
		workers = []Worker{}
	}
	return WorkerPage{Workers: workers, Pagination: shared.NewPagination(page.Page, page.PerPage, total)}, nil
}

func (s *Service) validate(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Kind != KindWorkerIncome {
		return nil
	}
	w, err := s.repo.GetWorker(ctx, *rec.WorkerID)
	if err != nil {
		return fmt.Errorf("ledger: worker %s: %w", rec.WorkerID, shared.ErrInvalidArgument)
	}
	if w.FranchiseID != rec.FranchiseID {
		return fmt.Errorf("ledger: worker %s belongs to another franchise: %w", w.ID, shared.ErrInvalidArgument)
	}
	return nil
}

func (s *Service) changed(ctx context.Context, op changefeed.Op, rec Record, previousAt time.Time) {
	fid := rec.FranchiseID
	changefeed.Notify(ctx, s.publisher, s.logger, changefeed.Event{
		Table:       tableOf(rec.Kind),
		Op:          op,
		FranchiseID: &fid,
		Key:         rec.ID.String(),
	})
	if s.trigger == nil || rec.Kind == KindExpense {
		return
	}
	months := []shared.MonthKey{shared.MonthKeyOf(rec.OccurredAt, s.loc)}
	if prev := shared.MonthKeyOf(previousAt, s.loc); prev != months[0] {
		months = append(months, prev)
	}
	for _, m := range months {
		if err := s.trigger.RevenueChanged(ctx, rec.FranchiseID, m); err != nil {
			s.logger.Warn("ledger: schedule recalculation", slog.String("franchise_id", fid.String()), slog.String("month", m.String()), slog.Any("error", err))
		}
	}
}

func tableOf(kind Kind) changefeed.Table {
	switch kind {
	case KindAdminIncome:
		return changefeed.TableAdminIncome
	case KindWorkerIncome:
		return changefeed.TableWorkerIncome
	default:
		return changefeed.TableExpenses
	}
}
