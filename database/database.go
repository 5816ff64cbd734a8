package database

import (
	"fmt"

	"peopledesk-app/internal/domain/billing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open connects to Postgres and migrates the reconciliation engine's
// tables. The returned handle is constructed once at process start and
// passed into every component; nothing in this codebase holds a package
// global database.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the billing tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&billing.Customer{},
		&billing.Price{},
		&billing.Subscription{},
		&billing.Payment{},
		&billing.EventLogEntry{},
	); err != nil {
		return fmt.Errorf("migrate billing tables: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool at shutdown.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
