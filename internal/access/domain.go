// Package access resolves the role and tenant scope of authenticated
// principals and records every role reassignment.
package access

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// Role is the single active role of a principal.
type Role string

const (
	RoleSuperAdmin     Role = "super_admin"
	RoleFranchise      Role = "franchise"
	RoleAdminKeuangan  Role = "admin_keuangan"
	RoleAdminMarketing Role = "admin_marketing"
	RoleUser           Role = "user"
)

// RoleNone is recorded as the previous role when a binding did not exist.
const RoleNone Role = "none"

// Valid reports whether r is an assignable role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleFranchise, RoleAdminKeuangan, RoleAdminMarketing, RoleUser:
		return true
	}
	return false
}

// FranchiseBound reports whether the role must carry a franchise.
func (r Role) FranchiseBound() bool {
	return r == RoleFranchise || r == RoleAdminKeuangan || r == RoleAdminMarketing
}

// Binding is the persisted role assignment of a principal.
type Binding struct {
	PrincipalID string     `json:"principalId"`
	Role        Role       `json:"role"`
	FranchiseID *uuid.UUID `json:"franchiseId,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ValidateBinding enforces the role/franchise pairing rules.
func ValidateBinding(role Role, franchiseID *uuid.UUID) error {
	if !role.Valid() {
		return fmt.Errorf("access: unknown role %q: %w", role, shared.ErrInvalidArgument)
	}
	if role.FranchiseBound() && franchiseID == nil {
		return fmt.Errorf("access: role %s requires a franchise: %w", role, shared.ErrInvalidArgument)
	}
	if !role.FranchiseBound() && franchiseID != nil {
		return fmt.Errorf("access: role %s cannot carry a franchise: %w", role, shared.ErrInvalidArgument)
	}
	return nil
}

// AssignInput describes a role reassignment.
type AssignInput struct {
	TargetPrincipalID string
	Role              Role
	FranchiseID       *uuid.UUID
}

// AuditEntry is an immutable record of one role change.
type AuditEntry struct {
	ID                uuid.UUID  `json:"id"`
	ActorID           string     `json:"actorId"`
	TargetPrincipalID string     `json:"targetPrincipalId"`
	PreviousRole      Role       `json:"previousRole"`
	NewRole           Role       `json:"newRole"`
	FranchiseID       *uuid.UUID `json:"franchiseId,omitempty"`
	At                time.Time  `json:"at"`
}

// AuditFilter narrows the audit listing.
type AuditFilter struct {
	TargetPrincipalID string
	FranchiseID       *uuid.UUID
	Page              shared.PageRequest
}

// AuditPage is one page of audit entries, newest first.
type AuditPage struct {
	Entries    []AuditEntry      `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}
