package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// Scope is the resolved (role, franchise) pair of the caller. It is resolved
// once per request and passed explicitly to every service call.
type Scope struct {
	PrincipalID string     `json:"principalId"`
	Email       string     `json:"email,omitempty"`
	Role        Role       `json:"role"`
	FranchiseID *uuid.UUID `json:"franchiseId,omitempty"`
}

// ScopeFromBinding builds a scope for the principal's binding.
func ScopeFromBinding(b Binding) Scope {
	return Scope{PrincipalID: b.PrincipalID, Role: b.Role, FranchiseID: b.FranchiseID}
}

// IsSuperAdmin reports whether the scope spans every tenant.
func (s Scope) IsSuperAdmin() bool {
	return s.Role == RoleSuperAdmin
}

// RequireSuperAdmin fails with ErrForbidden for every other role.
func (s Scope) RequireSuperAdmin() error {
	if s.IsSuperAdmin() {
		return nil
	}
	return fmt.Errorf("access: role %s: %w", s.Role, shared.ErrForbidden)
}

// RequireAny fails with ErrForbidden unless the scope holds one of roles.
func (s Scope) RequireAny(roles ...Role) error {
	for _, r := range roles {
		if s.Role == r {
			return nil
		}
	}
	return fmt.Errorf("access: role %s: %w", s.Role, shared.ErrForbidden)
}

// TenantFilter returns the franchise filter for reads. Super admins get the
// requested franchise (nil means all); franchise-bound roles always get their
// own franchise whatever was requested; users are rejected.
func (s Scope) TenantFilter(requested *uuid.UUID) (*uuid.UUID, error) {
	switch {
	case s.IsSuperAdmin():
		return requested, nil
	case s.Role.FranchiseBound():
		if s.FranchiseID == nil {
			return nil, fmt.Errorf("access: role %s without franchise: %w", s.Role, shared.ErrForbidden)
		}
		id := *s.FranchiseID
		return &id, nil
	default:
		return nil, fmt.Errorf("access: role %s: %w", s.Role, shared.ErrForbidden)
	}
}

// CanSee reports whether the scope may read rows of franchiseID.
func (s Scope) CanSee(franchiseID uuid.UUID) bool {
	if s.IsSuperAdmin() {
		return true
	}
	return s.Role.FranchiseBound() && s.FranchiseID != nil && *s.FranchiseID == franchiseID
}

// WriteFranchise returns the franchise a write is stamped with. Super admins
// must supply it; franchise-bound roles always write to their own franchise.
func (s Scope) WriteFranchise(supplied *uuid.UUID) (uuid.UUID, error) {
	switch {
	case s.IsSuperAdmin():
		if supplied == nil || *supplied == uuid.Nil {
			return uuid.Nil, fmt.Errorf("access: franchise required: %w", shared.ErrInvalidArgument)
		}
		return *supplied, nil
	case s.Role.FranchiseBound() && s.FranchiseID != nil:
		return *s.FranchiseID, nil
	default:
		return uuid.Nil, fmt.Errorf("access: role %s cannot write: %w", s.Role, shared.ErrForbidden)
	}
}

type scopeContextKey struct{}

// ContextWithScope stores the resolved scope in context.
func ContextWithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, s)
}

// ScopeFromContext extracts the scope stored by the scope middleware.
func ScopeFromContext(ctx context.Context) (Scope, error) {
	s, ok := ctx.Value(scopeContextKey{}).(Scope)
	if !ok || s.PrincipalID == "" {
		return Scope{}, fmt.Errorf("access: no scope: %w", shared.ErrUnauthenticated)
	}
	return s, nil
}
