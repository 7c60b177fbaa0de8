package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tenant represents an isolated customer workspace. The subdomain is the
// routing key: requests are scoped to a tenant by the leftmost label of the
// Host header.
type Tenant struct {
	ID        string            `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name      string            `json:"name" gorm:"type:varchar(100);not null"`
	Subdomain string            `json:"subdomain" gorm:"type:varchar(63);uniqueIndex;not null"`
	Settings  datatypes.JSONMap `json:"settings"`
	IsActive  bool              `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// BeforeCreate assigns the UUID primary key
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// DefaultRoleName returns the role auto-assigned to users who join through
// external sign-in, from the tenant's settings with a fallback of "user".
func (t *Tenant) DefaultRoleName() string {
	if t.Settings != nil {
		if name, ok := t.Settings["default_role"].(string); ok && name != "" {
			return name
		}
	}
	return "user"
}
