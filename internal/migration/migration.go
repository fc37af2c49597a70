// Package migration creates the ledger and storefront tables on startup.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	entrepo "github.com/smallbiznis/purchaseledger/internal/entitlement/repository"
	storerepo "github.com/smallbiznis/purchaseledger/internal/storefront/repository"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the tables through gorm for dialects without SQL
// migrations.
func AutoMigrate(ctx context.Context, conn *gorm.DB) error {
	if err := entrepo.AutoMigrate(ctx, conn); err != nil {
		return fmt.Errorf("migrate ledger tables: %w", err)
	}
	if err := storerepo.AutoMigrate(ctx, conn); err != nil {
		return fmt.Errorf("migrate storefront tables: %w", err)
	}
	return nil
}
