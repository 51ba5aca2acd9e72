package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"service-sopm/internal/adapters/gorm"
	"service-sopm/internal/config"
)

func migrate(cfg config.Config, log zerolog.Logger) error {
	db, err := gorm.New(cfg.DatabaseDriver, cfg.DatabaseDSN, log)
	if err != nil {
		return fmt.Errorf("gorm connect: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := gorm.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("driver", cfg.DatabaseDriver).Msg("schema migrated")
	return nil
}
