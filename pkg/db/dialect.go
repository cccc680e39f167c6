package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialect resolves the gorm dialector for the configured database type.
func Dialect(cfg Config) (gorm.Dialector, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.Port,
			cfg.SSLMode,
		)), nil
	case "sqlite":
		name := cfg.Name
		if name == "" {
			name = "inferbill.db"
		}
		return sqlite.Open(name), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}
