package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/PortNumber53/tubesum/backend/internal/auth"
	"github.com/PortNumber53/tubesum/backend/internal/billing"
	"github.com/PortNumber53/tubesum/backend/internal/config"
	"github.com/PortNumber53/tubesum/backend/internal/handlers"
	"github.com/PortNumber53/tubesum/backend/internal/httpserver"
	"github.com/PortNumber53/tubesum/backend/internal/migrations"
	"github.com/PortNumber53/tubesum/backend/internal/store"
	stripeclient "github.com/PortNumber53/tubesum/backend/internal/stripe"
	"github.com/PortNumber53/tubesum/backend/internal/summarizer"
	"github.com/PortNumber53/tubesum/backend/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
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

	logDBTarget("primary", cfg.DatabaseURL)
	configureDB(db)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if err := runMigrationsWithDirtyFix(db, "primary"); err != nil {
		log.Fatalf("failed to apply database migrations: %v", err)
	}

	subscriptions, err := store.New(db)
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}

	provider, err := stripeclient.NewClient(stripeclient.Options{
		SecretKey: cfg.StripeSecretKey,
		BaseURL:   cfg.StripeAPIURL,
		Timeout:   cfg.ProviderTimeout,
	})
	if err != nil {
		log.Fatalf("failed to create stripe client: %v", err)
	}

	catalog, err := billing.DefaultCatalog(cfg.Prices)
	if err != nil {
		log.Fatalf("failed to build plan catalog: %v", err)
	}

	verifier, err := auth.NewVerifier(cfg.AuthJWTSecret, cfg.AuthAudience)
	if err != nil {
		log.Fatalf("failed to create token verifier: %v", err)
	}

	canceller := &billing.Canceller{Provider: provider, Store: subscriptions}
	sweeper := &billing.Sweeper{Provider: provider, Store: subscriptions}
	billingHandler := &handlers.BillingHandler{
		Catalog:       catalog,
		Subscriptions: subscriptions,
		Checkout: &billing.Checkout{
			Catalog:    catalog,
			Provider:   provider,
			Store:      subscriptions,
			SuccessURL: cfg.SuccessURL(),
			CancelURL:  cfg.CancelURL(),
		},
		Canceller:  canceller,
		Portal:     &billing.Portal{Provider: provider, Store: subscriptions, ReturnURL: cfg.PortalReturnURL()},
		Sweeper:    sweeper,
		AdminToken: cfg.AdminToken,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var jobWorker *worker.Worker
	if cfg.WorkerEnabled {
		jobWorker, err = newBillingWorker(ctx, db, cfg, subscriptions, canceller, sweeper)
		if err != nil {
			log.Fatalf("failed to create job worker: %v", err)
		}
		billingHandler.Jobs = jobWorker
	}

	if cfg.StripeWebhookSecret == "" {
		log.Printf("warning: STRIPE_WEBHOOK_SECRET is not set; webhook deliveries will be rejected")
	}

	srv, err := httpserver.New(cfg, httpserver.Deps{
		DB:       subscriptions,
		Verifier: verifier,
		Billing:  billingHandler,
		Summaries: &handlers.SummaryHandler{
			Store:      subscriptions,
			Summarizer: summarizer.New(cfg.SummarizerURL, cfg.SummarizerTimeout),
		},
		Reconciler:  &billing.Reconciler{Provider: provider, Store: subscriptions},
		VerifyEvent: stripeclient.VerifyWebhook,
		Worker:      jobWorker,
	})
	if err != nil {
		log.Fatalf("failed to create http server: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("backend starting on %s", cfg.ServerAddress)
		if err := srv.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("server exited with error: %v", err)
		os.Exit(1)
	}
}

// newBillingWorker builds the job worker, binds the billing jobs and routes
// partial cancellations to mirror-cancel retries.
func newBillingWorker(ctx context.Context, db *sql.DB, cfg config.Config, subscriptions *store.Store, canceller *billing.Canceller, sweeper *billing.Sweeper) (*worker.Worker, error) {
	jobStore, err := store.NewJobStore(db)
	if err != nil {
		return nil, err
	}

	w := worker.New(worker.DefaultConfig(), jobStore)
	instrumentation, err := worker.PrometheusInstrumentation(nil)
	if err != nil {
		return nil, err
	}
	w.SetInstrumentation(instrumentation)

	jobs := &worker.BillingJobs{
		Sweeper:       sweeper,
		Store:         subscriptions,
		Queue:         w,
		SweepInterval: cfg.SweepInterval,
	}
	jobs.Register(w)

	canceller.OnPartial = jobs.EnqueueMirrorCancel
	sweeper.OnPartial = jobs.EnqueueMirrorCancel

	if cfg.SweepInterval > 0 {
		if err := jobs.ScheduleSweep(ctx, 0); err != nil {
			return nil, err
		}
		log.Printf("[worker] duplicate sweep scheduled every %s", cfg.SweepInterval)
	}
	return w, nil
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, name string) error {
	if err := migrations.Up(db); err != nil {
		log.Printf("migrations(%s): error detected: %v (type: %T)", name, err, err)
		if strings.Contains(err.Error(), "Dirty database version") {
			log.Printf("migrations(%s): dirty database detected, attempting to fix...", name)
			if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
				log.Printf("migrations(%s): failed to fix dirty database: %v", name, fixErr)
				return err
			}
			return migrations.Up(db)
		}
		return err
	}
	return nil
}

func logDBTarget(name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Printf("db(%s): configured (dsn parse error: %v)", name, err)
		return
	}
	log.Printf("db(%s): host=%s db=%s", name, u.Hostname(), strings.TrimPrefix(u.Path, "/"))
}
