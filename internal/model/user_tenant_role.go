package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAlreadyMember is returned when a user already holds a role in a tenant.
var ErrAlreadyMember = errors.New("user already has a role in this tenant")

// UserTenantRole binds a user to a role within one tenant. A user holds at
// most one role per tenant and at most one association is primary across all
// tenants.
type UserTenantRole struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);uniqueIndex:idx_user_tenant;not null"`
	TenantID  string    `json:"tenant_id" gorm:"type:varchar(36);uniqueIndex:idx_user_tenant;not null"`
	RoleID    string    `json:"role_id" gorm:"type:varchar(36);not null"`
	IsPrimary bool      `json:"is_primary" gorm:"default:false"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User   User   `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Tenant Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
	Role   Role   `json:"role,omitempty" gorm:"foreignKey:RoleID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns the UUID primary key
func (utr *UserTenantRole) BeforeCreate(tx *gorm.DB) error {
	if utr.ID == "" {
		utr.ID = uuid.NewString()
	}
	return nil
}

// AssignTenantRole binds the user to a role in the tenant. It must run
// inside the caller's transaction. When primary is requested any existing
// primary association is cleared first so at most one remains.
func AssignTenantRole(tx *gorm.DB, userID, tenantID, roleID string, primary bool) (*UserTenantRole, error) {
	var existing UserTenantRole
	err := tx.Where("user_id = ? AND tenant_id = ?", userID, tenantID).First(&existing).Error
	if err == nil {
		return nil, ErrAlreadyMember
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if primary {
		if err := tx.Model(&UserTenantRole{}).
			Where("user_id = ? AND is_primary = ?", userID, true).
			Update("is_primary", false).Error; err != nil {
			return nil, err
		}
	}

	utr := &UserTenantRole{
		UserID:    userID,
		TenantID:  tenantID,
		RoleID:    roleID,
		IsPrimary: primary,
		IsActive:  true,
	}
	if err := tx.Create(utr).Error; err != nil {
		return nil, err
	}
	return utr, nil
}

// SwitchPrimaryTenant re-points the user's primary flag to the given tenant
// in a single transaction. The target association row is locked so
// concurrent switches serialize; the flag can never rest on two rows.
func SwitchPrimaryTenant(db *gorm.DB, userID, tenantID string) (*UserTenantRole, error) {
	var target UserTenantRole
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND tenant_id = ? AND is_active = ?", userID, tenantID, true).
			First(&target).Error; err != nil {
			return err
		}

		if err := tx.Model(&UserTenantRole{}).
			Where("user_id = ? AND is_primary = ?", userID, true).
			Update("is_primary", false).Error; err != nil {
			return err
		}

		target.IsPrimary = true
		return tx.Model(&target).Update("is_primary", true).Error
	})
	if err != nil {
		return nil, err
	}
	return &target, nil
}
