package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/PortNumber53/tubesum/backend/internal/billing"
	"github.com/PortNumber53/tubesum/backend/internal/config"
	"github.com/PortNumber53/tubesum/backend/internal/migrations"
	"github.com/PortNumber53/tubesum/backend/internal/store"
	stripeclient "github.com/PortNumber53/tubesum/backend/internal/stripe"
)

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if len(os.Args) < 2 {
		log.Printf("Applying migrations...")
		if err := migrations.Up(db); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		log.Printf("Migrations applied successfully")
		return
	}

	switch os.Args[1] {
	case "fix":
		log.Printf("Attempting to fix dirty database...")
		if err := migrations.FixDirtyDatabase(db); err != nil {
			log.Fatalf("failed to fix dirty database: %v", err)
		}
		log.Printf("Database fixed successfully")

	case "force":
		if len(os.Args) < 3 {
			log.Fatalf("usage: %s force <version>", os.Args[0])
		}
		var v uint
		if _, err := fmt.Sscanf(os.Args[2], "%d", &v); err != nil {
			log.Fatalf("invalid version number: %s", os.Args[2])
		}

		log.Printf("Forcing database version to %d...", v)
		if err := migrations.ForceVersion(db, v); err != nil {
			log.Fatalf("failed to force version: %v", err)
		}
		log.Printf("Database version forced to %d", v)

	case "status":
		version, dirty, err := migrations.Version(db)
		if err != nil {
			log.Fatalf("failed to read migration version: %v", err)
		}
		log.Printf("Migration version: %d (dirty: %t)", version, dirty)

	case "sweep":
		if err := runSweep(db, cfg); err != nil {
			log.Fatalf("sweep failed: %v", err)
		}

	default:
		log.Printf("Usage: %s [fix|force <version>|status|sweep]", os.Args[0])
		os.Exit(1)
	}
}

// runSweep cancels duplicate active subscriptions once and prints the report.
func runSweep(db *sql.DB, cfg config.Config) error {
	subscriptions, err := store.New(db)
	if err != nil {
		return err
	}
	provider, err := stripeclient.NewClient(stripeclient.Options{
		SecretKey: cfg.StripeSecretKey,
		BaseURL:   cfg.StripeAPIURL,
		Timeout:   cfg.ProviderTimeout,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sweeper := &billing.Sweeper{Provider: provider, Store: subscriptions}
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
