package infra

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/LougLynx/RIG-SYSTEM/internal/model"
)

// DatabaseConfig selects the SQL dialect and pool sizing.
type DatabaseConfig struct {
	Driver       string // postgres | mysql
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// NewDatabase opens the store, sizes the pool, runs AutoMigrate for the
// receiving and plan tables, then applies the idempotent patches GORM cannot
// express on its own.
func NewDatabase(cfg DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "", "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "mysql", "mariadb":
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// RunMigrations creates or updates every table the worker touches. Integration
// tests call it directly against a throwaway container.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Supplier{},
		&model.TagRule{},
		&model.Plan{},
		&model.PlanDetail{},
		&model.PlanDetailDelay{},
		&model.ReceivingRecord{},
		&model.ReceivingDetail{},
		&model.HistoryPlanDetail{},
		&model.HistoryReceiving{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}

	if err := applySchemaPatches(db); err != nil {
		return fmt.Errorf("schema patches: %w", err)
	}
	return nil
}

// applySchemaPatches runs idempotent DDL that AutoMigrate does not cover.
// Only postgres gets partial indexes; mysql has no equivalent.
func applySchemaPatches(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	patches := []string{
		// incomplete-record scan used by the detail pass
		`CREATE INDEX IF NOT EXISTS idx_receiving_incomplete
		    ON receiving_records (actual_delivery_time)
		    WHERE is_completed = false`,
		// storage pass scans records not yet stored
		`CREATE INDEX IF NOT EXISTS idx_receiving_unstored
		    ON receiving_records (actual_delivery_time)
		    WHERE is_stored = false`,
	}

	for _, sql := range patches {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", strings.TrimSpace(sql)[:min(len(strings.TrimSpace(sql)), 60)], err)
		}
	}
	return nil
}
