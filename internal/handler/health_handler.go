package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
)

// HealthHandler reports liveness of the service and its backends. Both
// endpoints are public; a load balancer probing them never carries a token.
type HealthHandler struct {
	db      *gorm.DB
	redis   *redis.Client
	version string
}

// NewHealthHandler creates the handler with its dependencies.
func NewHealthHandler(db *gorm.DB, redisClient *redis.Client, version string) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient, version: version}
}

// Check reports overall health. Any unhealthy backend turns the response
// into a 503 so orchestrators stop routing traffic here.
func (h *HealthHandler) Check(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()

	dbHealthy, dbMessage := h.checkDatabase(ctx)
	redisHealthy, redisMessage := h.checkRedis(ctx)

	status := "healthy"
	code := http.StatusOK
	if !dbHealthy || !redisHealthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, echo.Map{
		"status":        status,
		"response_time": formatSeconds(time.Since(start)),
		"services": echo.Map{
			"database": echo.Map{
				"status":  statusWord(dbHealthy),
				"message": dbMessage,
			},
			"redis": echo.Map{
				"status":  statusWord(redisHealthy),
				"message": redisMessage,
			},
		},
		"version": h.version,
	})
}

// Extended reports per-backend check durations and process memory usage on
// top of the basic health payload.
func (h *HealthHandler) Extended(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()

	dbStart := time.Now()
	dbHealthy, dbMessage := h.checkDatabase(ctx)
	dbTime := time.Since(dbStart)

	redisStart := time.Now()
	redisHealthy, redisMessage := h.checkRedis(ctx)
	redisTime := time.Since(redisStart)

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return apperr.Internal(err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return apperr.Internal(err)
	}

	status := "healthy"
	code := http.StatusOK
	if !dbHealthy || !redisHealthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, echo.Map{
		"status":        status,
		"response_time": formatSeconds(time.Since(start)),
		"services": echo.Map{
			"database": echo.Map{
				"status":        statusWord(dbHealthy),
				"response_time": formatSeconds(dbTime),
				"message":       dbMessage,
			},
			"redis": echo.Map{
				"status":        statusWord(redisHealthy),
				"response_time": formatSeconds(redisTime),
				"message":       redisMessage,
			},
		},
		"system": echo.Map{
			"memory_usage": echo.Map{
				"rss": formatMegabytes(mem.RSS),
				"vms": formatMegabytes(mem.VMS),
			},
		},
		"version": h.version,
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) (bool, string) {
	if err := h.db.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		return false, err.Error()
	}
	return true, "Healthy"
}

func (h *HealthHandler) checkRedis(ctx context.Context) (bool, string) {
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return false, err.Error()
	}
	return true, "Healthy"
}

func statusWord(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}

func formatMegabytes(bytes uint64) string {
	return fmt.Sprintf("%.2fMB", float64(bytes)/1024/1024)
}
