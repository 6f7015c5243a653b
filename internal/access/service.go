package access

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/franchise-tracker/internal/changefeed"
	"github.com/odyssey-erp/franchise-tracker/internal/identity"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/cache"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// SystemActor is recorded as the actor of bootstrap assignments.
const SystemActor = "system"

// Directory reports whether a franchise exists.
type Directory interface {
	FranchiseExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Service resolves scopes and applies role assignments.
type Service struct {
	repo      Repository
	directory Directory
	cache     *cache.JSONCache
	publisher changefeed.Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

// NewService constructs the access service. cache and publisher may be nil.
func NewService(repo Repository, directory Directory, scopeCache *cache.JSONCache, publisher changefeed.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		directory: directory,
		cache:     scopeCache,
		publisher: publisher,
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

// ResolveRole returns the principal's binding, creating the default user
// binding on first access. Results may be served from a short-lived cache.
func (s *Service) ResolveRole(ctx context.Context, principalID string) (Binding, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return Binding{}, fmt.Errorf("access: empty principal: %w", shared.ErrUnauthenticated)
	}
	var b Binding
	err := s.cache.Fetch(ctx, s.scopeKey(principalID), &b, func(ctx context.Context) (any, error) {
		return s.repo.EnsureBinding(ctx, principalID)
	})
	if err != nil {
		return Binding{}, err
	}
	return b, nil
}

// Resolve returns the request scope of an authenticated principal.
func (s *Service) Resolve(ctx context.Context, p identity.Principal) (Scope, error) {
	b, err := s.ResolveRole(ctx, p.ID)
	if err != nil {
		return Scope{}, err
	}
	scope := ScopeFromBinding(b)
	scope.Email = p.Email
	return scope, nil
}

// AssignRole replaces the target's binding and appends an audit entry in the
// same transaction. Only super admins may assign roles; the actor's role is
// read fresh rather than from cache.
func (s *Service) AssignRole(ctx context.Context, actorID string, in AssignInput) (AuditEntry, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return AuditEntry{}, fmt.Errorf("access: empty actor: %w", shared.ErrUnauthenticated)
	}
	actor, err := s.repo.EnsureBinding(ctx, actorID)
	if err != nil {
		return AuditEntry{}, err
	}
	if err := ScopeFromBinding(actor).RequireSuperAdmin(); err != nil {
		return AuditEntry{}, err
	}
	return s.assign(ctx, actorID, in)
}

func (s *Service) assign(ctx context.Context, actorID string, in AssignInput) (AuditEntry, error) {
	in.TargetPrincipalID = strings.TrimSpace(in.TargetPrincipalID)
	if in.TargetPrincipalID == "" {
		return AuditEntry{}, fmt.Errorf("access: target principal required: %w", shared.ErrInvalidArgument)
	}
	if err := ValidateBinding(in.Role, in.FranchiseID); err != nil {
		return AuditEntry{}, err
	}
	if in.FranchiseID != nil && s.directory != nil {
		ok, err := s.directory.FranchiseExists(ctx, *in.FranchiseID)
		if err != nil {
			return AuditEntry{}, err
		}
		if !ok {
			return AuditEntry{}, fmt.Errorf("access: franchise %s: %w", in.FranchiseID, shared.ErrInvalidArgument)
		}
	}

	now := s.now().UTC()
	entry := AuditEntry{
		ID:                s.newID(),
		ActorID:           actorID,
		TargetPrincipalID: in.TargetPrincipalID,
		NewRole:           in.Role,
		FranchiseID:       in.FranchiseID,
		At:                now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, found, err := tx.LockBinding(ctx, in.TargetPrincipalID)
		if err != nil {
			return err
		}
		entry.PreviousRole = RoleNone
		if found {
			entry.PreviousRole = current.Role
		}
		if err := tx.UpsertBinding(ctx, Binding{
			PrincipalID: in.TargetPrincipalID,
			Role:        in.Role,
			FranchiseID: in.FranchiseID,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, entry)
	})
	if err != nil {
		return AuditEntry{}, err
	}

	var stale error
	if err := s.cache.Invalidate(ctx, s.scopeKey(in.TargetPrincipalID)); err != nil {
		s.logger.Warn("access: invalidate scope cache", slog.String("principal", in.TargetPrincipalID), slog.Any("error", err))
		stale = fmt.Errorf("access: role of %s saved, scope cache not invalidated: %v: %w", in.TargetPrincipalID, err, shared.ErrUnavailable)
	}
	changefeed.Notify(ctx, s.publisher, s.logger, changefeed.Event{
		Table:       changefeed.TableRoleBindings,
		Op:          changefeed.OpUpdate,
		FranchiseID: in.FranchiseID,
		Key:         in.TargetPrincipalID,
	})
	s.logger.Info("role assigned",
		slog.String("actor", actorID),
		slog.String("target", in.TargetPrincipalID),
		slog.String("previous", string(entry.PreviousRole)),
		slog.String("role", string(in.Role)))
	if stale != nil {
		return AuditEntry{}, stale
	}
	return entry, nil
}

// Bootstrap grants super_admin to the listed principals that do not hold it
// yet. It is run by the server at startup.
func (s *Service) Bootstrap(ctx context.Context, principalIDs []string) error {
	for _, id := range principalIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		b, err := s.repo.EnsureBinding(ctx, id)
		if err != nil {
			return err
		}
		if b.Role == RoleSuperAdmin {
			continue
		}
		if _, err := s.assign(ctx, SystemActor, AssignInput{TargetPrincipalID: id, Role: RoleSuperAdmin}); err != nil {
			return err
		}
	}
	return nil
}

// GetBinding returns a principal's binding. Principals may read their own;
// super admins may read anyone's.
func (s *Service) GetBinding(ctx context.Context, actor Scope, principalID string) (Binding, error) {
	if actor.PrincipalID != principalID {
		if err := actor.RequireSuperAdmin(); err != nil {
			return Binding{}, err
		}
	}
	return s.ResolveRole(ctx, principalID)
}

// ListAudit returns role audit entries, newest first. Super admins only.
func (s *Service) ListAudit(ctx context.Context, actor Scope, filter AuditFilter) (AuditPage, error) {
	if err := actor.RequireSuperAdmin(); err != nil {
		return AuditPage{}, err
	}
	entries, total, err := s.repo.ListAudit(ctx, filter)
	if err != nil {
		return AuditPage{}, err
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return AuditPage{
		Entries:    entries,
		Pagination: shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total),
	}, nil
}

// InvalidateFranchise drops cached scopes after a franchise is deleted.
func (s *Service) InvalidateFranchise(ctx context.Context, principalIDs []string) error {
	keys := make([]string, 0, len(principalIDs))
	for _, id := range principalIDs {
		keys = append(keys, s.scopeKey(id))
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("access: invalidate scope cache", slog.Any("error", err))
		return fmt.Errorf("access: scope cache not invalidated: %v: %w", err, shared.ErrUnavailable)
	}
	return nil
}

func (s *Service) scopeKey(principalID string) string {
	return s.cache.Key("scope", principalID)
}
