package access

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

func TestTenantFilter(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	super := Scope{PrincipalID: "root", Role: RoleSuperAdmin}
	got, err := super.TenantFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = super.TenantFilter(&b)
	require.NoError(t, err)
	assert.Equal(t, b, *got)

	for _, role := range []Role{RoleFranchise, RoleAdminKeuangan, RoleAdminMarketing} {
		bound := Scope{PrincipalID: "x", Role: role, FranchiseID: &a}
		got, err := bound.TenantFilter(&b)
		require.NoError(t, err, role)
		assert.Equal(t, a, *got, "scope wins over requested franchise for %s", role)
		assert.True(t, bound.CanSee(a))
		assert.False(t, bound.CanSee(b))
	}

	_, err = Scope{PrincipalID: "u", Role: RoleUser}.TenantFilter(&a)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = Scope{PrincipalID: "x", Role: RoleFranchise}.TenantFilter(nil)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestWriteFranchise(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	_, err := Scope{Role: RoleSuperAdmin}.WriteFranchise(nil)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
	got, err := Scope{Role: RoleSuperAdmin}.WriteFranchise(&b)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	got, err = Scope{Role: RoleAdminMarketing, FranchiseID: &a}.WriteFranchise(&b)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = Scope{Role: RoleUser}.WriteFranchise(&a)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestValidateBinding(t *testing.T) {
	id := uuid.New()
	require.NoError(t, ValidateBinding(RoleSuperAdmin, nil))
	require.NoError(t, ValidateBinding(RoleUser, nil))
	require.NoError(t, ValidateBinding(RoleFranchise, &id))
	require.ErrorIs(t, ValidateBinding(RoleFranchise, nil), shared.ErrInvalidArgument)
	require.ErrorIs(t, ValidateBinding(RoleSuperAdmin, &id), shared.ErrInvalidArgument)
	require.ErrorIs(t, ValidateBinding(RoleNone, nil), shared.ErrInvalidArgument)
}
