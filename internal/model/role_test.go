package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/bilal-89/wissahickon-backend/internal/permission"
)

func TestHasPermission(t *testing.T) {
	t.Parallel()

	role := Role{Permissions: datatypes.JSONMap{
		string(permission.ViewUsers):   true,
		string(permission.ManageUsers): false,
	}}

	assert.True(t, role.HasPermission(permission.ViewUsers))
	assert.False(t, role.HasPermission(permission.ManageUsers), "explicit false grants nothing")
	assert.False(t, role.HasPermission(permission.ManageTenant), "absent key grants nothing")
}

func TestHasPermission_NilSet(t *testing.T) {
	t.Parallel()

	role := Role{}
	for _, p := range permission.All() {
		assert.False(t, role.HasPermission(p))
	}
}

func TestHasPermission_AdminWildcard(t *testing.T) {
	t.Parallel()

	role := Role{Permissions: datatypes.JSONMap{permission.Admin: true}}
	for _, p := range permission.All() {
		assert.True(t, role.HasPermission(p), "admin wildcard must grant %s", p)
	}

	// A falsy admin entry is not a wildcard.
	role = Role{Permissions: datatypes.JSONMap{permission.Admin: false}}
	assert.False(t, role.HasPermission(permission.ViewUsers))
}

func TestHasPermission_NonBooleanValues(t *testing.T) {
	t.Parallel()

	// JSON round trips can produce strings or numbers; only boolean true grants.
	role := Role{Permissions: datatypes.JSONMap{
		string(permission.ViewUsers):   "true",
		string(permission.UseFeatureX): 1,
	}}
	assert.False(t, role.HasPermission(permission.ViewUsers))
	assert.False(t, role.HasPermission(permission.UseFeatureX))
}

func TestDefaultRoles(t *testing.T) {
	t.Parallel()

	roles := DefaultRoles("tenant-1")
	require.Len(t, roles, 3)

	byName := map[string]Role{}
	for _, r := range roles {
		assert.Equal(t, "tenant-1", r.TenantID)
		byName[r.Name] = r
	}

	admin, ok := byName["admin"]
	require.True(t, ok)
	assert.True(t, admin.HasPermission(permission.ManageTenant))
	assert.True(t, admin.HasPermission(permission.UseFeatureY))

	staff, ok := byName["staff"]
	require.True(t, ok)
	assert.True(t, staff.HasPermission(permission.ViewUsers))
	assert.True(t, staff.HasPermission(permission.UseFeatureX))
	assert.True(t, staff.HasPermission(permission.UseFeatureY))
	assert.False(t, staff.HasPermission(permission.ManageUsers))

	user, ok := byName["user"]
	require.True(t, ok)
	assert.True(t, user.HasPermission(permission.UseFeatureX))
	assert.False(t, user.HasPermission(permission.ViewUsers))
}
