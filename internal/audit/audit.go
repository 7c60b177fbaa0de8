package audit

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/pkg/logger"
	"github.com/bilal-89/wissahickon-backend/pkg/metrics"
)

// Entry describes one auditable event.
type Entry struct {
	TenantID   *string
	UserID     *string
	Action     string
	EntityType string
	EntityID   *string
	Changes    map[string]interface{}
	IPAddress  string
	UserAgent  string
	Endpoint   string
	Method     string
}

// Recorder persists audit entries. Writes happen in their own transaction,
// after the handler's work has committed, and never fail the caller: a lost
// audit row is logged and counted, not surfaced.
type Recorder struct {
	db       *gorm.DB
	recorder *metrics.Recorder
}

// NewRecorder creates an audit recorder writing through the given DB handle.
func NewRecorder(db *gorm.DB, rec *metrics.Recorder) *Recorder {
	return &Recorder{
		db:       db,
		recorder: rec,
	}
}

// Record writes the entry. All failures are swallowed after logging.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	log := logger.FromContext(ctx)

	var changes datatypes.JSON
	if entry.Changes != nil {
		raw, err := json.Marshal(entry.Changes)
		if err != nil {
			log.Warn("audit changes not serializable",
				zap.Error(err),
				zap.String("action", entry.Action))
		} else {
			changes = datatypes.JSON(raw)
		}
	}

	row := model.AuditLog{
		TenantID:   entry.TenantID,
		UserID:     entry.UserID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Changes:    changes,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
		Endpoint:   entry.Endpoint,
		Method:     entry.Method,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		if r.recorder != nil {
			r.recorder.RecordAuditFailure()
		}
		log.Warn("failed to write audit log",
			zap.Error(err),
			zap.String("action", entry.Action),
			zap.String("endpoint", entry.Endpoint))
	}
}

// Diff computes a key-level difference between two snapshots. Added keys
// report {"added": v}, removed keys {"removed": v}, changed keys
// {"from": old, "to": new}. Equal snapshots produce nil.
func Diff(before, after map[string]interface{}) map[string]interface{} {
	diff := map[string]interface{}{}

	for key, oldVal := range before {
		newVal, ok := after[key]
		if !ok {
			diff[key] = map[string]interface{}{"removed": oldVal}
			continue
		}
		if !equal(oldVal, newVal) {
			diff[key] = map[string]interface{}{"from": oldVal, "to": newVal}
		}
	}

	for key, newVal := range after {
		if _, ok := before[key]; !ok {
			diff[key] = map[string]interface{}{"added": newVal}
		}
	}

	if len(diff) == 0 {
		return nil
	}
	return diff
}

// equal compares snapshot values through their JSON forms, so structurally
// identical maps and slices compare equal regardless of concrete type.
func equal(a, b interface{}) bool {
	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(rawA) == string(rawB)
}
