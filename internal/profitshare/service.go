package profitshare

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/changefeed"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// readerRoles may read records of their own franchise.
var readerRoles = []access.Role{access.RoleSuperAdmin, access.RoleFranchise, access.RoleAdminKeuangan}

// Enqueuer schedules a batch recalculation in the background.
type Enqueuer interface {
	EnqueueRecalculateBatch(ctx context.Context, f BatchFilter) (string, error)
}

// FranchiseLister enumerates franchises for the current-month sweep.
type FranchiseLister interface {
	IDs(ctx context.Context) ([]uuid.UUID, error)
}

// OverrideResult reports an override change and the recalculation it caused.
// Report is nil when the batch was queued; TaskID is set instead.
type OverrideResult struct {
	Effective Effective    `json:"effective"`
	Report    *BatchReport `json:"report,omitempty"`
	TaskID    string       `json:"taskId,omitempty"`
}

// Service applies role rules over the calculator, resolver and tracker.
type Service struct {
	repo      Repository
	calc      *Calculator
	resolver  *Resolver
	enqueuer  Enqueuer
	publisher changefeed.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the profit-share service.
func NewService(repo Repository, calc *Calculator, resolver *Resolver, publisher changefeed.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, calc: calc, resolver: resolver, publisher: publisher, logger: logger, now: time.Now}
}

// WithEnqueuer enables asynchronous batch recalculation.
func (s *Service) WithEnqueuer(e Enqueuer) {
	s.enqueuer = e
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns one record visible to the actor.
func (s *Service) Get(ctx context.Context, actor access.Scope, key Key) (Record, error) {
	if err := actor.RequireAny(readerRoles...); err != nil {
		return Record{}, err
	}
	if !actor.CanSee(key.FranchiseID) {
		return Record{}, fmt.Errorf("profitshare: record %s: %w", key, shared.ErrNotFound)
	}
	return s.repo.Get(ctx, key)
}

// List returns records in the actor's scope.
func (s *Service) List(ctx context.Context, actor access.Scope, f ListFilter) (Page, error) {
	if err := actor.RequireAny(readerRoles...); err != nil {
		return Page{}, err
	}
	scoped, err := actor.TenantFilter(f.FranchiseID)
	if err != nil {
		return Page{}, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return Page{}, fmt.Errorf("profitshare: status %q: %w", f.Status, shared.ErrInvalidArgument)
	}
	f.FranchiseID = scoped
	records, total, err := s.repo.List(ctx, f)
	if err != nil {
		return Page{}, err
	}
	if records == nil {
		records = []Record{}
	}
	return Page{Records: records, Pagination: shared.NewPagination(f.Page.Page, f.Page.PerPage, total)}, nil
}

// Delete removes one record.
func (s *Service) Delete(ctx context.Context, actor access.Scope, key Key) error {
	if err := actor.RequireSuperAdmin(); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		return err
	}
	s.notify(ctx, changefeed.TableProfitShare, changefeed.OpDelete, &key.FranchiseID, key.String())
	return nil
}

// Recalculate recomputes one key on demand, creating the record if needed.
func (s *Service) Recalculate(ctx context.Context, actor access.Scope, key Key) (Record, error) {
	if err := actor.RequireSuperAdmin(); err != nil {
		return Record{}, err
	}
	return s.calc.Recalculate(ctx, key.FranchiseID, key.Month)
}

// RecalculateBatch recomputes existing records matching f, inline or queued.
func (s *Service) RecalculateBatch(ctx context.Context, actor access.Scope, f BatchFilter, async bool) (*BatchReport, string, error) {
	if err := actor.RequireSuperAdmin(); err != nil {
		return nil, "", err
	}
	return s.batch(ctx, f, async)
}

// SetPaymentStatus marks a record paid or unpaid.
func (s *Service) SetPaymentStatus(ctx context.Context, actor access.Scope, key Key, status PaymentStatus) (Record, error) {
	if err := actor.RequireSuperAdmin(); err != nil {
		return Record{}, err
	}
	if !status.Valid() {
		return Record{}, fmt.Errorf("profitshare: status %q: %w", status, shared.ErrInvalidArgument)
	}
	return s.mutate(ctx, key, func(r *Record) {
		r.PaymentStatus = status
	})
}

// EditPercentage changes the applied percentage and re-derives the share
// from the stored revenue without re-aggregating.
func (s *Service) EditPercentage(ctx context.Context, actor access.Scope, key Key, pct decimal.Decimal) (Record, error) {
	if err := actor.RequireSuperAdmin(); err != nil {
		return Record{}, err
	}
	if err := ValidatePercentage(pct); err != nil {
		return Record{}, err
	}
	return s.mutate(ctx, key, func(r *Record) {
		r.AdminPercentage = pct
		r.ShareAmount = ComputeShare(r.TotalRevenue, pct)
	})
}

func (s *Service) mutate(ctx context.Context, key Key, apply func(*Record)) (Record, error) {
	if err := key.Validate(); err != nil {
		return Record{}, err
	}
	var out Record
	err := s.repo.WithKeyLock(ctx, key, func(ctx context.Context, tx TxRepository) error {
		rec, found, err := tx.Load(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("profitshare: record %s: %w", key, shared.ErrNotFound)
		}
		apply(&rec)
		rec.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
		if err := tx.Save(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	s.notify(ctx, changefeed.TableProfitShare, changefeed.OpUpdate, &key.FranchiseID, key.String())
	return out, nil
}

// Effective returns the split in force for a franchise the actor may see.
func (s *Service) Effective(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID) (Effective, error) {
	if err := actor.RequireAny(readerRoles...); err != nil {
		return Effective{}, err
	}
	scoped, err := actor.TenantFilter(franchiseID)
	if err != nil {
		return Effective{}, err
	}
	if scoped == nil {
		o, found, err := s.resolver.Override(ctx, nil)
		if err != nil {
			return Effective{}, err
		}
		eff := Effective{AdminPercentage: DefaultAdminPercentage, Source: SourceDefault}
		if found {
			eff = Effective{AdminPercentage: o.AdminPercentage, Source: SourceGlobal}
		}
		eff.FranchisePercentage = hundred.Sub(eff.AdminPercentage)
		return eff, nil
	}
	return s.resolver.Effective(ctx, *scoped)
}

// SetOverride stores the global (franchiseID nil) or per-franchise split and
// recalculates the affected records.
func (s *Service) SetOverride(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID, adminPct decimal.Decimal, async bool) (OverrideResult, error) {
	if err := actor.RequireSuperAdmin(); err != nil {
		return OverrideResult{}, err
	}
	o, err := NewOverride(franchiseID, adminPct, actor.PrincipalID, s.now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return OverrideResult{}, err
	}
	if err := s.resolver.store.UpsertOverride(ctx, o); err != nil {
		return OverrideResult{}, err
	}
	return s.afterOverride(ctx, actor, franchiseID, changefeed.OpUpdate, async)
}

// RemoveOverride deletes a tier so resolution falls through to the next one.
func (s *Service) RemoveOverride(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID, async bool) (OverrideResult, error) {
	if err := actor.RequireSuperAdmin(); err != nil {
		return OverrideResult{}, err
	}
	removed, err := s.resolver.store.DeleteOverride(ctx, franchiseID)
	if err != nil {
		return OverrideResult{}, err
	}
	if !removed {
		return OverrideResult{}, fmt.Errorf("profitshare: override %s: %w", scopeKey(franchiseID), shared.ErrNotFound)
	}
	return s.afterOverride(ctx, actor, franchiseID, changefeed.OpDelete, async)
}

func (s *Service) afterOverride(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID, op changefeed.Op, async bool) (OverrideResult, error) {
	stale := s.resolver.Forget(ctx, franchiseID)
	s.notify(ctx, changefeed.TableOverrides, op, franchiseID, scopeKey(franchiseID))

	// Records are refreshed even when the cache is stale: recalculation reads
	// overrides from storage.
	report, taskID, err := s.batch(ctx, BatchFilter{FranchiseID: franchiseID}, async)
	if err != nil {
		return OverrideResult{}, err
	}
	if stale != nil {
		return OverrideResult{}, stale
	}
	eff, err := s.Effective(ctx, actor, franchiseID)
	if err != nil {
		return OverrideResult{}, err
	}
	return OverrideResult{Effective: eff, Report: report, TaskID: taskID}, nil
}

func (s *Service) batch(ctx context.Context, f BatchFilter, async bool) (*BatchReport, string, error) {
	if async && s.enqueuer != nil {
		id, err := s.enqueuer.EnqueueRecalculateBatch(ctx, f)
		if err != nil {
			return nil, "", fmt.Errorf("profitshare: enqueue batch: %v: %w", err, shared.ErrUnavailable)
		}
		return nil, id, nil
	}
	report, err := s.calc.RecalculateBatch(ctx, f)
	if err != nil {
		return nil, "", err
	}
	return &report, "", nil
}

// SweepMonth recalculates month for every listed franchise, creating
// missing records.
func (s *Service) SweepMonth(ctx context.Context, franchises FranchiseLister, month shared.MonthKey) (BatchReport, error) {
	ids, err := franchises.IDs(ctx)
	if err != nil {
		return BatchReport{}, err
	}
	keys := make([]Key, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, Key{FranchiseID: id, Month: month})
	}
	return s.calc.RecalculateKeys(ctx, keys), nil
}

func (s *Service) notify(ctx context.Context, table changefeed.Table, op changefeed.Op, franchiseID *uuid.UUID, key string) {
	var fid *uuid.UUID
	if franchiseID != nil {
		id := *franchiseID
		fid = &id
	}
	changefeed.Notify(ctx, s.publisher, s.logger, changefeed.Event{Table: table, Op: op, FranchiseID: fid, Key: key})
}
