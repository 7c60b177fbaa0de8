package handler

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/internal/testutil"
)

func TestSettings(t *testing.T) {
	db := testutil.DB(t)
	h := NewSettingsHandler(db, newTestRecorder())

	acme := testutil.CreateTenant(t, db, "Acme", "acme")
	beta := testutil.CreateTenant(t, db, "Beta", "beta")

	tenantParam := func(c echo.Context, tenantID string) {
		c.SetParamNames("tenant_id")
		c.SetParamValues(tenantID)
	}
	keyParams := func(c echo.Context, tenantID, key string) {
		c.SetParamNames("tenant_id", "key")
		c.SetParamValues(tenantID, key)
	}

	t.Run("reads an empty object before any write", func(t *testing.T) {
		c, rec := newContext(t, http.MethodGet, "/settings/tenant/"+acme.ID, "")
		tenantParam(c, acme.ID)
		asTenant(c, acme)

		require.NoError(t, h.Get(c))
		body := decodeBody(t, rec)
		assert.Equal(t, map[string]interface{}{}, body["settings"])
	})

	t.Run("bulk update merges into existing keys", func(t *testing.T) {
		seed, _ := newContext(t, http.MethodPut, "/settings/tenant/"+acme.ID,
			`{"settings":{"theme":"dark","locale":"en"}}`)
		tenantParam(seed, acme.ID)
		asTenant(seed, acme)
		require.NoError(t, h.Update(seed))

		c, rec := newContext(t, http.MethodPut, "/settings/tenant/"+acme.ID,
			`{"settings":{"locale":"de","beta":true}}`)
		tenantParam(c, acme.ID)
		asTenant(c, acme)
		require.NoError(t, h.Update(c))

		settings := decodeBody(t, rec)["settings"].(map[string]interface{})
		assert.Equal(t, "dark", settings["theme"], "keys absent from the request survive")
		assert.Equal(t, "de", settings["locale"])
		assert.Equal(t, true, settings["beta"])
	})

	t.Run("single key update touches only that key", func(t *testing.T) {
		c, rec := newContext(t, http.MethodPut, "/settings/tenant/"+acme.ID+"/theme",
			`{"value":"light"}`)
		keyParams(c, acme.ID, "theme")
		asTenant(c, acme)

		require.NoError(t, h.UpdateKey(c))
		body := decodeBody(t, rec)
		assert.Equal(t, "theme", body["key"])
		assert.Equal(t, "light", body["value"])

		setting, err := model.SettingsForOwner(db, model.SettingOwnerTenant, acme.ID)
		require.NoError(t, err)
		require.NotNil(t, setting)
		assert.Equal(t, "light", setting.Settings["theme"])
		assert.Equal(t, "de", setting.Settings["locale"])
	})

	t.Run("null is a storable value", func(t *testing.T) {
		c, rec := newContext(t, http.MethodPut, "/settings/tenant/"+acme.ID+"/flag",
			`{"value":null}`)
		keyParams(c, acme.ID, "flag")
		asTenant(c, acme)

		require.NoError(t, h.UpdateKey(c))
		body := decodeBody(t, rec)
		assert.Equal(t, "flag", body["key"])
		assert.Nil(t, body["value"])
	})

	t.Run("a missing value field is rejected", func(t *testing.T) {
		c, _ := newContext(t, http.MethodPut, "/settings/tenant/"+acme.ID+"/theme", `{}`)
		keyParams(c, acme.ID, "theme")
		asTenant(c, acme)

		err := h.UpdateKey(c)
		require.Error(t, err)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Contains(t, err.Error(), "value is required")
	})

	t.Run("deletes a key leaving siblings untouched", func(t *testing.T) {
		c, rec := newContext(t, http.MethodDelete, "/settings/tenant/"+acme.ID+"/locale", "")
		keyParams(c, acme.ID, "locale")
		asTenant(c, acme)

		require.NoError(t, h.DeleteKey(c))
		assert.Equal(t, http.StatusNoContent, rec.Code)

		setting, err := model.SettingsForOwner(db, model.SettingOwnerTenant, acme.ID)
		require.NoError(t, err)
		require.NotNil(t, setting)
		_, exists := setting.Settings["locale"]
		assert.False(t, exists)
		assert.Equal(t, "light", setting.Settings["theme"])
	})

	t.Run("deleting an absent key reads as missing", func(t *testing.T) {
		c, _ := newContext(t, http.MethodDelete, "/settings/tenant/"+acme.ID+"/locale", "")
		keyParams(c, acme.ID, "locale")
		asTenant(c, acme)

		err := h.DeleteKey(c)
		require.Error(t, err)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
		assert.Contains(t, err.Error(), "setting not found")
	})

	t.Run("deleting with no settings record reads as missing", func(t *testing.T) {
		c, _ := newContext(t, http.MethodDelete, "/settings/tenant/"+beta.ID+"/anything", "")
		keyParams(c, beta.ID, "anything")
		asTenant(c, beta)

		err := h.DeleteKey(c)
		require.Error(t, err)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("bulk update requires the settings object", func(t *testing.T) {
		c, _ := newContext(t, http.MethodPut, "/settings/tenant/"+acme.ID, `{}`)
		tenantParam(c, acme.ID)
		asTenant(c, acme)

		err := h.Update(c)
		require.Error(t, err)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("creates the record on first bulk write", func(t *testing.T) {
		c, rec := newContext(t, http.MethodPut, "/settings/tenant/"+beta.ID,
			`{"settings":{"onboarded":true}}`)
		tenantParam(c, beta.ID)
		asTenant(c, beta)

		require.NoError(t, h.Update(c))
		settings := decodeBody(t, rec)["settings"].(map[string]interface{})
		assert.Equal(t, true, settings["onboarded"])

		setting, err := model.SettingsForOwner(db, model.SettingOwnerTenant, beta.ID)
		require.NoError(t, err)
		require.NotNil(t, setting)
	})

	t.Run("path must name the resolved tenant", func(t *testing.T) {
		c, _ := newContext(t, http.MethodGet, "/settings/tenant/"+beta.ID, "")
		tenantParam(c, beta.ID)
		asTenant(c, acme)

		err := h.Get(c)
		require.Error(t, err)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})
}
