package model

// AllModels lists every model handed to the migrator, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Tenant{},
		&Role{},
		&UserTenantRole{},
		&AuditLog{},
		&Setting{},
	}
}
