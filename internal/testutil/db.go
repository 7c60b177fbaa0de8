// Package testutil provides the PostgreSQL container harness and data
// fixtures shared by integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bilal-89/wissahickon-backend/internal/model"
)

// DB starts a throwaway PostgreSQL container, migrates the schema and returns
// a connected handle. The test is skipped in -short mode and when no container
// runtime is available.
func DB(t *testing.T) *gorm.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("app_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(model.AllModels()...))

	return db
}

// CreateTenant inserts an active tenant together with its default role set.
func CreateTenant(t *testing.T, db *gorm.DB, name, subdomain string) *model.Tenant {
	t.Helper()

	tenant := &model.Tenant{Name: name, Subdomain: subdomain, IsActive: true}
	require.NoError(t, db.Create(tenant).Error)

	roles := model.DefaultRoles(tenant.ID)
	require.NoError(t, db.Create(&roles).Error)

	return tenant
}

// CreateUser inserts an active user with a local password.
func CreateUser(t *testing.T, db *gorm.DB, email, password string) *model.User {
	t.Helper()

	user := &model.User{Email: email, IsActive: true}
	require.NoError(t, user.SetPassword(password))
	require.NoError(t, db.Create(user).Error)

	return user
}

// Role fetches one of the tenant's roles by name.
func Role(t *testing.T, db *gorm.DB, tenantID, name string) *model.Role {
	t.Helper()

	var role model.Role
	require.NoError(t, db.Where("tenant_id = ? AND name = ?", tenantID, name).First(&role).Error)
	return &role
}

// Grant binds the user to the tenant with the named role.
func Grant(t *testing.T, db *gorm.DB, user *model.User, tenant *model.Tenant, roleName string, primary bool) *model.UserTenantRole {
	t.Helper()

	role := Role(t, db, tenant.ID, roleName)

	var utr *model.UserTenantRole
	err := db.Transaction(func(tx *gorm.DB) error {
		var assignErr error
		utr, assignErr = model.AssignTenantRole(tx, user.ID, tenant.ID, role.ID, primary)
		return assignErr
	})
	require.NoError(t, err)
	return utr
}
