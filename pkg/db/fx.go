package db

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database and applies pool settings.
func Open(cfg Config, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)
	}

	log.Info("database connected", zap.String("type", cfg.Type), zap.String("name", cfg.Name))
	return gdb, nil
}

func registerHooks(lc fx.Lifecycle, gdb *gorm.DB, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			log.Info("closing database")
			return sqlDB.Close()
		},
	})
}

// Module wires the gorm database handle.
var Module = fx.Module("db",
	fx.Provide(Open),
	fx.Invoke(registerHooks),
)
