package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/diewo77/recurring-invoices/internal/config"
	"github.com/diewo77/recurring-invoices/internal/db"
	"github.com/diewo77/recurring-invoices/internal/logger"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var (
	migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")
	seedOnlyFlag    = flag.Bool("seed-only", false, "Run DB seed and exit")
)

func main() {
	flag.Parse()

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *migrateOnlyFlag || *seedOnlyFlag {
		if err := maintenance(cfg, *migrateOnlyFlag); err != nil {
			log.Fatal(err)
		}
		return
	}

	fx.New(appOptions(cfg)).Run()
}

// maintenance runs migrations or seeding without starting the server.
func maintenance(cfg *config.Config, migrate bool) error {
	zl, err := logger.New(cfg.Log, cfg.App)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	conn, err := db.Open(cfg.Database, zl.Named("db"))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(conn) }()

	if migrate {
		if err := db.Migrate(conn); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		zl.Info("migrations completed")
		return nil
	}
	if err := db.Seed(conn); err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	zl.Info("seeding completed")
	return nil
}
