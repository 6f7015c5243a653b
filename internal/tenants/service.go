package tenants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/changefeed"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/cache"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// ScopeInvalidator drops cached scopes of principals whose binding vanished.
type ScopeInvalidator interface {
	InvalidateFranchise(ctx context.Context, principalIDs []string) error
}

// Service is the franchise directory.
type Service struct {
	repo      Repository
	cache     *cache.JSONCache
	publisher changefeed.Publisher
	scopes    ScopeInvalidator
	logger    *slog.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

// NewService constructs the directory service. cache, publisher and scopes may be nil.
func NewService(repo Repository, directoryCache *cache.JSONCache, publisher changefeed.Publisher, scopes ScopeInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		cache:     directoryCache,
		publisher: publisher,
		scopes:    scopes,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.New,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetScopeInvalidator wires the access service after construction, since the
// access service itself depends on the directory.
func (s *Service) SetScopeInvalidator(scopes ScopeInvalidator) {
	s.scopes = scopes
}

// Create registers a franchise. Super admins only.
func (s *Service) Create(ctx context.Context, actor access.Scope, in CreateInput) (Franchise, error) {
	if err := actor.RequireSuperAdmin(); err != nil {
		return Franchise{}, err
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		return Franchise{}, err
	}
	now := s.now().UTC()
	f := Franchise{
		ID:          s.newID(),
		DisplayName: in.DisplayName,
		Slug:        in.Slug,
		Address:     in.Address,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, f); err != nil {
		return Franchise{}, err
	}
	s.notify(ctx, changefeed.OpInsert, f.ID)
	return f, nil
}

// Get returns a franchise visible to the actor.
func (s *Service) Get(ctx context.Context, actor access.Scope, id uuid.UUID) (Franchise, error) {
	if !actor.CanSee(id) {
		return Franchise{}, fmt.Errorf("tenants: franchise %s: %w", id, shared.ErrForbidden)
	}
	return s.load(ctx, id)
}

// GetBySlug resolves a slug for the actor.
func (s *Service) GetBySlug(ctx context.Context, actor access.Scope, slug string) (Franchise, error) {
	f, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return Franchise{}, err
	}
	if !actor.CanSee(f.ID) {
		return Franchise{}, fmt.Errorf("tenants: franchise %q: %w", slug, shared.ErrForbidden)
	}
	return f, nil
}

// Page is one page of franchises.
type Page struct {
	Franchises []Franchise       `json:"franchises"`
	Pagination shared.Pagination `json:"pagination"`
}

// List returns every franchise for super admins and the bound franchise for
// franchise-bound roles.
func (s *Service) List(ctx context.Context, actor access.Scope, page shared.PageRequest) (Page, error) {
	filter, err := actor.TenantFilter(nil)
	if err != nil {
		return Page{}, err
	}
	if filter != nil {
		f, err := s.load(ctx, *filter)
		if err != nil {
			return Page{}, err
		}
		return Page{Franchises: []Franchise{f}, Pagination: shared.NewPagination(1, page.Limit(), 1)}, nil
	}
	items, total, err := s.repo.List(ctx, page)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Franchise{}
	}
	return Page{Franchises: items, Pagination: shared.NewPagination(page.Page, page.PerPage, total)}, nil
}

// Update edits a franchise. Super admins only.
func (s *Service) Update(ctx context.Context, actor access.Scope, id uuid.UUID, in UpdateInput) (Franchise, error) {
	if err := actor.RequireSuperAdmin(); err != nil {
		return Franchise{}, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Franchise{}, err
	}
	next, err := in.Apply(current)
	if err != nil {
		return Franchise{}, err
	}
	next.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, next); err != nil {
		return Franchise{}, err
	}
	stale := s.invalidate(ctx, id)
	s.notify(ctx, changefeed.OpUpdate, id)
	if stale != nil {
		return Franchise{}, stale
	}
	return next, nil
}

// Delete removes the franchise with all dependent records atomically.
func (s *Service) Delete(ctx context.Context, actor access.Scope, id uuid.UUID) (DeleteReport, error) {
	if err := actor.RequireSuperAdmin(); err != nil {
		return DeleteReport{}, err
	}
	report, err := s.repo.DeleteCascade(ctx, id, actor.PrincipalID, s.now().UTC())
	if err != nil {
		return DeleteReport{}, err
	}
	stale := s.invalidate(ctx, id)
	if s.scopes != nil && len(report.UnboundPrincipals) > 0 {
		stale = errors.Join(stale, s.scopes.InvalidateFranchise(ctx, report.UnboundPrincipals))
	}
	fid := id
	events := []changefeed.Event{{Table: changefeed.TableFranchises, Op: changefeed.OpDelete, FranchiseID: &fid, Key: id.String()}}
	for _, t := range []changefeed.Table{
		changefeed.TableWorkerIncome, changefeed.TableAdminIncome, changefeed.TableExpenses,
		changefeed.TableProfitShare, changefeed.TableRoleBindings, changefeed.TableOverrides,
	} {
		events = append(events, changefeed.Event{Table: t, Op: changefeed.OpDelete, FranchiseID: &fid})
	}
	changefeed.Notify(ctx, s.publisher, s.logger, events...)
	s.logger.Info("franchise deleted",
		slog.String("franchise_id", id.String()),
		slog.String("actor", actor.PrincipalID),
		slog.Int64("ledger_rows", report.AdminIncome+report.WorkerIncome+report.Expenses),
		slog.Int64("profit_share_records", report.ProfitShareRecords),
		slog.Int64("role_bindings", report.RoleBindings))
	if stale != nil {
		return DeleteReport{}, stale
	}
	return report, nil
}

// FranchiseExists reports whether id names a franchise. It reads through the
// directory cache.
func (s *Service) FranchiseExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.load(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IDs returns every franchise id. Used by background sweeps.
func (s *Service) IDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	page := shared.PageRequest{Page: 1, PerPage: 200}
	for {
		items, total, err := s.repo.List(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, f := range items {
			ids = append(ids, f.ID)
		}
		if len(items) == 0 || page.Offset()+len(items) >= total {
			return ids, nil
		}
		page.Page++
	}
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (Franchise, error) {
	var f Franchise
	err := s.cache.Fetch(ctx, s.cache.Key("franchise", id.String()), &f, func(ctx context.Context) (any, error) {
		return s.repo.Get(ctx, id)
	})
	if err != nil {
		return Franchise{}, err
	}
	return f, nil
}

// invalidate drops the cached entry. A failure is reported to the caller:
// the write is committed but readers may see the old entry until its TTL.
func (s *Service) invalidate(ctx context.Context, id uuid.UUID) error {
	if err := s.cache.Invalidate(ctx, s.cache.Key("franchise", id.String())); err != nil {
		s.logger.Warn("tenants: invalidate cache", slog.String("franchise_id", id.String()), slog.Any("error", err))
		return fmt.Errorf("tenants: franchise %s saved, cache not invalidated: %v: %w", id, err, shared.ErrUnavailable)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, op changefeed.Op, id uuid.UUID) {
	fid := id
	changefeed.Notify(ctx, s.publisher, s.logger, changefeed.Event{
		Table: changefeed.TableFranchises, Op: op, FranchiseID: &fid, Key: id.String(),
	})
}
