// Package handler contains the HTTP handlers. Handlers bind and validate
// input, run the business operation, and either write the success response or
// return an error for the central error handler to translate; they never
// format error responses themselves.
package handler

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/internal/middleware"
	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/pkg/logger"
)

// requestTenant returns the resolved tenant, failing as a server error when
// the chain did not run tenant resolution first.
func requestTenant(c echo.Context) (*model.Tenant, error) {
	tenant := middleware.TenantFromEcho(c)
	if tenant == nil {
		logger.FromEcho(c).Error("handler reached without tenant context",
			zap.String("path", c.Path()))
		return nil, apperr.New(apperr.KindInternal, "an unexpected error occurred")
	}
	return tenant, nil
}
