package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/internal/audit"
	"github.com/bilal-89/wissahickon-backend/internal/handler"
	"github.com/bilal-89/wissahickon-backend/internal/middleware"
	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/internal/permission"
	"github.com/bilal-89/wissahickon-backend/pkg/config"
	"github.com/bilal-89/wissahickon-backend/pkg/database"
	"github.com/bilal-89/wissahickon-backend/pkg/googleauth"
	"github.com/bilal-89/wissahickon-backend/pkg/jwtutil"
	"github.com/bilal-89/wissahickon-backend/pkg/logger"
	"github.com/bilal-89/wissahickon-backend/pkg/metrics"
	"github.com/bilal-89/wissahickon-backend/pkg/ratelimit"
)

const serviceName = "wissahickon-backend"

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: serviceName,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	log.Info("Starting backend service...", cfg.LogConfig()...)

	// Initialize database
	db, err := database.Connect(&cfg.DB)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db, model.AllModels()...); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database connection established")

	// Initialize Redis (rate limiting and health checks)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Initialize Prometheus metrics
	rec := metrics.NewRecorder(cfg.Metrics.Prefix, serviceName, cfg.Server.Version)
	log.Info("Prometheus metrics initialized")

	// Initialize supporting services
	jwt := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      cfg.JWT.SigningKey,
		ExpirationHours: cfg.JWT.ExpirationHours,
	})
	verifier := googleauth.NewVerifier(cfg.Google.ClientID)
	limiter := ratelimit.NewLimiter(redisClient, "ratelimit")
	auditRec := audit.NewRecorder(db, rec)
	sanitizer, err := middleware.NewSanitizer(cfg.Sanitizer.ExemptPaths)
	if err != nil {
		log.Fatal("Failed to build sanitizer", zap.Error(err))
	}

	// Initialize handlers
	authHandler := handler.NewAuthHandler(db, jwt, verifier, rec)
	tenantHandler := handler.NewTenantHandler(db, rec)
	userHandler := handler.NewUserHandler(db, rec)
	settingsHandler := handler.NewSettingsHandler(db, rec)
	healthHandler := handler.NewHealthHandler(db, redisClient, cfg.Server.Version)

	// Initialize Echo framework
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = apperr.NewHTTPErrorHandler()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(logger.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.Server.IsProduction()))
	e.Use(rec.Middleware())
	e.Use(middleware.ValidateRequest(cfg.Sanitizer.MaxBodyBytes))
	e.Use(sanitizer.Middleware())
	e.Use(middleware.RateLimit(limiter, rec, "global", cfg.RateLimit.Requests, cfg.RateLimit.Window))

	// Middleware shared by the tenant-scoped groups
	resolveTenant := middleware.ResolveTenant(db, cfg.Server.IsDevelopment())
	requireAuth := middleware.Auth(jwt, rec)

	// Public routes - no authentication required
	e.GET("/health", healthHandler.Check)
	e.GET("/health/extended", healthHandler.Extended)
	e.GET("/metrics", echo.WrapHandler(rec.Handler()))

	// Credential routes - tenant context but no token yet, stricter rate limit
	login := e.Group("/auth", resolveTenant,
		middleware.RateLimit(limiter, rec, "login", cfg.RateLimit.LoginRequests, cfg.RateLimit.LoginWindow))
	login.POST("/login", authHandler.Login)
	login.POST("/external", authHandler.ExternalLogin)

	// Session routes - token required, no tenant resolution
	session := e.Group("/auth", requireAuth)
	session.GET("/me", authHandler.Me)
	session.POST("/switch-tenant", authHandler.SwitchTenant)

	// Tenant management - tenant context, token, per-route permission and audit
	tenants := e.Group("/tenants", resolveTenant, requireAuth)
	tenants.GET("", tenantHandler.List,
		middleware.RequirePermission(db, permission.ViewTenant),
		middleware.Audited(auditRec, "list", "tenants", nil))
	tenants.POST("", tenantHandler.Create,
		middleware.RequirePermission(db, permission.ManageTenant),
		middleware.Audited(auditRec, "create", "tenant", middleware.AuditEntityFromContext()))
	tenants.GET("/:id", tenantHandler.Get,
		middleware.RequirePermission(db, permission.ViewTenant),
		middleware.Audited(auditRec, "view", "tenant", middleware.AuditEntityFromParam("id")))
	tenants.GET("/:id/users", tenantHandler.ListUsers,
		middleware.RequirePermission(db, permission.ViewUsers),
		middleware.Audited(auditRec, "list_users", "tenant", middleware.AuditEntityFromParam("id")))
	tenants.GET("/:id/roles", tenantHandler.ListRoles,
		middleware.RequirePermission(db, permission.ViewRoles),
		middleware.Audited(auditRec, "list_roles", "tenant", middleware.AuditEntityFromParam("id")))
	tenants.POST("/:id/roles", tenantHandler.CreateRole,
		middleware.RequirePermission(db, permission.ManageRoles),
		middleware.Audited(auditRec, "create_role", "tenant", middleware.AuditEntityFromParam("id")))

	// User management within the resolved tenant
	users := e.Group("/users", resolveTenant, requireAuth)
	users.GET("", userHandler.List,
		middleware.RequirePermission(db, permission.ViewUsers),
		middleware.Audited(auditRec, "list", "users", nil))
	users.POST("", userHandler.Create,
		middleware.RequirePermission(db, permission.ManageUsers),
		middleware.Audited(auditRec, "create", "user", middleware.AuditEntityFromContext()))
	users.GET("/:id", userHandler.Get,
		middleware.RequirePermission(db, permission.ViewUsers),
		middleware.Audited(auditRec, "view", "user", middleware.AuditEntityFromParam("id")))
	users.PUT("/:id", userHandler.Update,
		middleware.RequirePermission(db, permission.ManageUsers),
		middleware.Audited(auditRec, "update", "user", middleware.AuditEntityFromParam("id")))
	users.PUT("/:id/role", userHandler.UpdateRole,
		middleware.RequirePermission(db, permission.ManageUsers),
		middleware.Audited(auditRec, "update_role", "user", middleware.AuditEntityFromParam("id")))

	// Tenant settings - token required, handlers check the path tenant
	settings := e.Group("/settings/tenant/:tenant_id", resolveTenant, requireAuth)
	settings.GET("", settingsHandler.Get)
	settings.PUT("", settingsHandler.Update)
	settings.PUT("/:key", settingsHandler.UpdateKey)
	settings.DELETE("/:key", settingsHandler.DeleteKey)

	// Start server
	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt, then drain in-flight requests
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
}
