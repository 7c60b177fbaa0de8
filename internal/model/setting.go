package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Owner types for settings records.
const (
	SettingOwnerTenant = "tenant"
	SettingOwnerUser   = "user"
)

// Setting is a JSON bag owned by a tenant or a user. One active record per
// owner; key-level reads and writes leave sibling keys untouched.
type Setting struct {
	ID        string            `json:"id" gorm:"type:varchar(36);primaryKey"`
	OwnerType string            `json:"owner_type" gorm:"type:varchar(20);index:idx_settings_owner;not null"`
	OwnerID   string            `json:"owner_id" gorm:"type:varchar(36);index:idx_settings_owner;not null"`
	Settings  datatypes.JSONMap `json:"settings"`
	IsActive  bool              `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// BeforeCreate assigns the UUID primary key
func (s *Setting) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// SettingsForOwner loads the owner's active settings record. A missing
// record is not an error; the caller receives nil.
func SettingsForOwner(db *gorm.DB, ownerType, ownerID string) (*Setting, error) {
	var setting Setting
	err := db.Where("owner_type = ? AND owner_id = ? AND is_active = ?", ownerType, ownerID, true).
		First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &setting, nil
}
