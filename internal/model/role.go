package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/bilal-89/wissahickon-backend/internal/permission"
)

// Role names a permission set inside one tenant. Role names are unique per
// tenant; the same name in different tenants is unrelated.
type Role struct {
	ID          string            `json:"id" gorm:"type:varchar(36);primaryKey"`
	TenantID    string            `json:"tenant_id" gorm:"type:varchar(36);uniqueIndex:idx_roles_tenant_name;not null"`
	Name        string            `json:"name" gorm:"type:varchar(50);uniqueIndex:idx_roles_tenant_name;not null"`
	Description string            `json:"description" gorm:"type:varchar(255)"`
	Permissions datatypes.JSONMap `json:"permissions"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	Tenant Tenant `json:"-" gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns the UUID primary key
func (r *Role) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// HasPermission reports whether the role grants the permission. A role
// without a permission set grants nothing; a truthy admin entry grants
// everything.
func (r *Role) HasPermission(p permission.Permission) bool {
	if r.Permissions == nil {
		return false
	}
	if admin, ok := r.Permissions[permission.Admin].(bool); ok && admin {
		return true
	}
	granted, ok := r.Permissions[string(p)].(bool)
	return ok && granted
}

// DefaultRoles returns the role set every new tenant starts with.
func DefaultRoles(tenantID string) []Role {
	return []Role{
		{
			TenantID:    tenantID,
			Name:        "admin",
			Description: "Full administrative access",
			Permissions: datatypes.JSONMap{permission.Admin: true},
		},
		{
			TenantID:    tenantID,
			Name:        "staff",
			Description: "Operational staff access",
			Permissions: datatypes.JSONMap{
				string(permission.ViewUsers):   true,
				string(permission.UseFeatureX): true,
				string(permission.UseFeatureY): true,
			},
		},
		{
			TenantID:    tenantID,
			Name:        "user",
			Description: "Standard member access",
			Permissions: datatypes.JSONMap{
				string(permission.UseFeatureX): true,
			},
		},
	}
}
