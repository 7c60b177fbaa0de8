package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/pkg/logger"
	"github.com/bilal-89/wissahickon-backend/pkg/metrics"
)

// SettingsHandler serves the tenant settings bag. Writes lock the owner's
// row, so concurrent key updates merge instead of overwriting each other.
type SettingsHandler struct {
	db  *gorm.DB
	rec *metrics.Recorder
}

// NewSettingsHandler creates the handler with its dependencies.
func NewSettingsHandler(db *gorm.DB, rec *metrics.Recorder) *SettingsHandler {
	return &SettingsHandler{db: db, rec: rec}
}

// Get returns every setting of the tenant. A tenant that never stored
// anything reads as an empty object, not as missing.
func (h *SettingsHandler) Get(c echo.Context) error {
	tenant, err := h.pathTenant(c)
	if err != nil {
		return err
	}

	defer h.rec.TrackDBOperation("query")(time.Now())
	setting, err := model.SettingsForOwner(h.db.WithContext(c.Request().Context()), model.SettingOwnerTenant, tenant.ID)
	if err != nil {
		return apperr.Internal(err)
	}

	values := datatypes.JSONMap{}
	if setting != nil && setting.Settings != nil {
		values = setting.Settings
	}
	return c.JSON(http.StatusOK, echo.Map{"settings": values})
}

// Update merges the submitted keys into the tenant's settings. Keys absent
// from the request are untouched.
func (h *SettingsHandler) Update(c echo.Context) error {
	tenant, err := h.pathTenant(c)
	if err != nil {
		return err
	}

	var req struct {
		Settings map[string]interface{} `json:"settings"`
	}
	if err := c.Bind(&req); err != nil || req.Settings == nil {
		return apperr.New(apperr.KindValidation, "settings object is required")
	}

	defer h.rec.TrackDBOperation("update")(time.Now())
	var merged datatypes.JSONMap
	err = h.db.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		setting, err := h.lockSettings(tx, tenant.ID)
		if err != nil {
			return err
		}

		for key, value := range req.Settings {
			setting.Settings[key] = value
		}
		merged = setting.Settings

		return tx.Save(setting).Error
	})
	if err != nil {
		return apperr.Internal(err)
	}

	logger.FromEcho(c).Info("tenant settings updated",
		zap.String("tenant_id", tenant.ID),
		zap.Int("keys", len(req.Settings)))

	return c.JSON(http.StatusOK, echo.Map{"settings": merged})
}

// UpdateKey sets a single setting.
func (h *SettingsHandler) UpdateKey(c echo.Context) error {
	tenant, err := h.pathTenant(c)
	if err != nil {
		return err
	}
	key := c.Param("key")

	// Bind into a raw map: {"value": null} is a legitimate payload and must
	// be distinguishable from a missing value field.
	var raw map[string]interface{}
	if err := c.Bind(&raw); err != nil {
		return apperr.New(apperr.KindValidation, "invalid request")
	}
	value, ok := raw["value"]
	if !ok {
		return apperr.New(apperr.KindValidation, "value is required")
	}

	defer h.rec.TrackDBOperation("update")(time.Now())
	err = h.db.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		setting, err := h.lockSettings(tx, tenant.ID)
		if err != nil {
			return err
		}
		setting.Settings[key] = value
		return tx.Save(setting).Error
	})
	if err != nil {
		return apperr.Internal(err)
	}

	return c.JSON(http.StatusOK, echo.Map{"key": key, "value": value})
}

// DeleteKey removes a single setting, leaving siblings untouched. A key the
// tenant never stored is missing, not silently deleted.
func (h *SettingsHandler) DeleteKey(c echo.Context) error {
	tenant, err := h.pathTenant(c)
	if err != nil {
		return err
	}
	key := c.Param("key")

	defer h.rec.TrackDBOperation("delete")(time.Now())
	err = h.db.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		var setting model.Setting
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_type = ? AND owner_id = ? AND is_active = ?", model.SettingOwnerTenant, tenant.ID, true).
			First(&setting).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindNotFound, "setting not found")
			}
			return err
		}

		if _, exists := setting.Settings[key]; !exists {
			return apperr.New(apperr.KindNotFound, "setting not found")
		}

		delete(setting.Settings, key)
		return tx.Save(&setting).Error
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperr.Internal(err)
	}

	logger.FromEcho(c).Info("tenant setting deleted",
		zap.String("tenant_id", tenant.ID),
		zap.String("key", key))

	return c.NoContent(http.StatusNoContent)
}

// lockSettings loads the tenant's settings row for update, creating it on
// first write.
func (h *SettingsHandler) lockSettings(tx *gorm.DB, tenantID string) (*model.Setting, error) {
	var setting model.Setting
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_type = ? AND owner_id = ? AND is_active = ?", model.SettingOwnerTenant, tenantID, true).
		First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		setting = model.Setting{
			OwnerType: model.SettingOwnerTenant,
			OwnerID:   tenantID,
			Settings:  datatypes.JSONMap{},
			IsActive:  true,
		}
		if err := tx.Create(&setting).Error; err != nil {
			return nil, err
		}
		return &setting, nil
	}
	if err != nil {
		return nil, err
	}
	if setting.Settings == nil {
		setting.Settings = datatypes.JSONMap{}
	}
	return &setting, nil
}

// pathTenant checks that the :tenant_id path parameter names the request's
// resolved tenant. Settings are never readable or writable across tenants.
func (h *SettingsHandler) pathTenant(c echo.Context) (*model.Tenant, error) {
	tenant, err := requestTenant(c)
	if err != nil {
		return nil, err
	}
	if c.Param("tenant_id") != tenant.ID {
		return nil, apperr.New(apperr.KindNotFound, "tenant not found")
	}
	return tenant, nil
}
