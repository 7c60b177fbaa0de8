package model

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User represents an account that may belong to any number of tenants.
// Accounts created through external sign-in carry a GoogleID and may have no
// local password; such users can never authenticate with credentials.
type User struct {
	ID           string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	Email        string     `json:"email" gorm:"type:varchar(120);uniqueIndex;not null"`
	PasswordHash *string    `json:"-" gorm:"type:varchar(255)"`
	GoogleID     *string    `json:"-" gorm:"type:varchar(255);uniqueIndex"`
	FirstName    string     `json:"first_name" gorm:"type:varchar(50)"`
	LastName     string     `json:"last_name" gorm:"type:varchar(50)"`
	IsActive     bool       `json:"is_active" gorm:"default:true"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	TenantRoles []UserTenantRole `json:"-" gorm:"foreignKey:UserID"`
}

// BeforeCreate assigns the UUID primary key
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// SetPassword hashes and stores the password
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	hashed := string(hash)
	u.PasswordHash = &hashed
	return nil
}

// CheckPassword verifies the password against the stored hash. Users without
// a local password never match.
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*u.PasswordHash), []byte(password)) == nil
}

// RoleForTenant returns the user's active association in the tenant, or nil.
// TenantRoles must be preloaded.
func (u *User) RoleForTenant(tenantID string) *UserTenantRole {
	for i := range u.TenantRoles {
		utr := &u.TenantRoles[i]
		if utr.TenantID == tenantID && utr.IsActive {
			return utr
		}
	}
	return nil
}

// PrimaryTenantRole returns the association flagged as primary, or nil.
// TenantRoles must be preloaded.
func (u *User) PrimaryTenantRole() *UserTenantRole {
	for i := range u.TenantRoles {
		utr := &u.TenantRoles[i]
		if utr.IsPrimary && utr.IsActive {
			return utr
		}
	}
	return nil
}

// Profile serializes the user together with tenant membership context.
// TenantRoles must be preloaded with their Tenant and Role.
func (u *User) Profile() map[string]interface{} {
	profile := map[string]interface{}{
		"id":         u.ID,
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"is_active":  u.IsActive,
		"last_login": u.LastLogin,
		"created_at": u.CreatedAt,
	}

	if primary := u.PrimaryTenantRole(); primary != nil {
		profile["primary_tenant"] = map[string]interface{}{
			"id":        primary.TenantID,
			"name":      primary.Tenant.Name,
			"subdomain": primary.Tenant.Subdomain,
			"role":      primary.Role.Name,
		}
	}

	others := make([]map[string]interface{}, 0)
	for i := range u.TenantRoles {
		utr := &u.TenantRoles[i]
		if utr.IsPrimary || !utr.IsActive {
			continue
		}
		others = append(others, map[string]interface{}{
			"id":        utr.TenantID,
			"name":      utr.Tenant.Name,
			"subdomain": utr.Tenant.Subdomain,
			"role":      utr.Role.Name,
		})
	}
	profile["other_tenants"] = others

	return profile
}
