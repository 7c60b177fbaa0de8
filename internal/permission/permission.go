package permission

import "fmt"

// Permission identifies one guarded capability. The set is closed: route
// guards reference the constants directly and anything arriving over the
// wire goes through Parse, so an unknown name can never silently gate a
// route.
type Permission string

const (
	ManageTenant Permission = "manage_tenant"
	ViewTenant   Permission = "view_tenant"
	ManageUsers  Permission = "manage_users"
	ViewUsers    Permission = "view_users"
	ManageRoles  Permission = "manage_roles"
	ViewRoles    Permission = "view_roles"
	UseFeatureX  Permission = "use_feature_x"
	UseFeatureY  Permission = "use_feature_y"
)

// Admin is the wildcard key in a role's permission set. It is not a
// Permission itself; a truthy admin entry grants every permission.
const Admin = "admin"

// All returns every defined permission.
func All() []Permission {
	return []Permission{
		ManageTenant,
		ViewTenant,
		ManageUsers,
		ViewUsers,
		ManageRoles,
		ViewRoles,
		UseFeatureX,
		UseFeatureY,
	}
}

// Parse converts a wire string into a Permission.
func Parse(s string) (Permission, error) {
	for _, p := range All() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown permission: %q", s)
}

func (p Permission) String() string {
	return string(p)
}
