package cmd

import (
	"errors"
	"fmt"
	"log"

	"market-forecast/config"
	"market-forecast/internal/repository"
	"market-forecast/pkg/common"
	"market-forecast/pkg/database"
	"market-forecast/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

const migrationsPath = "file://migrations"

func runMigrations(direction string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.DB.Driver == common.DB_DRIVER_SQLITE {
		if err := migrateSQLite(cfg, direction); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		return
	}

	m, err := migrate.New(migrationsPath, database.PostgresURL(cfg.DB))
	if err != nil {
		log.Fatalf("Failed to create migration instance: %v", err)
	}

	var migrationErr error
	switch direction {
	case "up":
		migrationErr = m.Up()
	case "down":
		migrationErr = m.Steps(-1)
	}

	if migrationErr != nil && !errors.Is(migrationErr, migrate.ErrNoChange) {
		log.Fatalf("Migration failed: %v", migrationErr)
	}
	fmt.Printf("Migration %s applied successfully.\n", direction)

	srcErr, dbErr := m.Close()
	if srcErr != nil {
		log.Printf("Migration source error on close: %v\n", srcErr)
	}
	if dbErr != nil {
		log.Printf("Migration database error on close: %v\n", dbErr)
	}
}

// migrateSQLite creates the schema from the gorm models; sqlite has no versioned down path.
func migrateSQLite(cfg *config.Config, direction string) error {
	if direction != "up" {
		return fmt.Errorf("migrate %s is not supported for sqlite", direction)
	}
	db, err := database.NewDB(cfg.DB, logger.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.AutoMigrate(db.DB); err != nil {
		return err
	}
	fmt.Println("SQLite schema is up to date.")
	return nil
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all available database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		runMigrations("up")
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the last database migration",
	Run: func(cmd *cobra.Command, args []string) {
		runMigrations("down")
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

func init() {
	migrateCmd.AddCommand(upCmd)
	migrateCmd.AddCommand(downCmd)
}
