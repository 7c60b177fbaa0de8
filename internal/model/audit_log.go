package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog is an append-only record of a mutating request. TenantID and
// UserID are nullable: system events have no tenant, unauthenticated events
// no user. Rows are never updated or deleted by the application.
type AuditLog struct {
	ID         string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	TenantID   *string        `json:"tenant_id" gorm:"type:varchar(36);index"`
	UserID     *string        `json:"user_id" gorm:"type:varchar(36);index"`
	Action     string         `json:"action" gorm:"type:varchar(100);not null;index"`
	EntityType string         `json:"entity_type" gorm:"type:varchar(50);index"`
	EntityID   *string        `json:"entity_id" gorm:"type:varchar(36)"`
	Changes    datatypes.JSON `json:"changes"`
	IPAddress  string         `json:"ip_address" gorm:"type:varchar(45)"`
	UserAgent  string         `json:"user_agent" gorm:"type:varchar(255)"`
	Endpoint   string         `json:"endpoint" gorm:"type:varchar(255)"`
	Method     string         `json:"method" gorm:"type:varchar(10)"`
	Timestamp  time.Time      `json:"timestamp" gorm:"index"`
}

// BeforeCreate assigns the UUID primary key and stamps the event time
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	return nil
}
