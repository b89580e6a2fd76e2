package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// StripeSecretKey authenticates calls to the Stripe API.
	StripeSecretKey string

	// StripeWebhookSecret is the signing secret for inbound Stripe webhooks.
	// The webhook endpoint answers 500 while it is unset.
	StripeWebhookSecret string

	// StripeAPIURL overrides the Stripe API base URL (stripe-mock, tests).
	StripeAPIURL string

	// ProviderTimeout bounds every round-trip to Stripe.
	ProviderTimeout time.Duration

	// Prices maps catalog tiers to Stripe price IDs.
	Prices PriceIDs

	// BaseURL is the public origin of the web application, used to build
	// checkout and portal redirect targets.
	BaseURL string

	Checkout CheckoutRedirects

	// PortalReturnPath is appended to BaseURL for billing portal sessions.
	PortalReturnPath string

	// AuthJWTSecret verifies HS256 access tokens issued by the identity provider.
	AuthJWTSecret string

	// AuthAudience is the expected "aud" claim. Defaults to "authenticated".
	AuthAudience string

	// AdminToken guards operational endpoints such as the on-demand sweep.
	AdminToken string

	SummarizerURL     string
	SummarizerTimeout time.Duration

	// SummaryRateLimit caps summary requests per caller per minute.
	SummaryRateLimit int

	WorkerEnabled bool

	// SweepInterval schedules recurring duplicate sweeps through the job
	// worker. Zero disables scheduling.
	SweepInterval time.Duration
}

// PriceIDs holds the Stripe price identifier of each paid tier.
type PriceIDs struct {
	Basic    string
	Standard string
	Pro      string
}

// CheckoutRedirects are the success/cancel paths appended to BaseURL.
type CheckoutRedirects struct {
	SuccessPath string
	CancelPath  string
}

// SuccessURL returns the absolute checkout success redirect.
func (c Config) SuccessURL() string {
	return joinURL(c.BaseURL, c.Checkout.SuccessPath)
}

// CancelURL returns the absolute checkout cancel redirect.
func (c Config) CancelURL() string {
	return joinURL(c.BaseURL, c.Checkout.CancelPath)
}

// PortalReturnURL returns the absolute billing portal return target.
func (c Config) PortalReturnURL() string {
	return joinURL(c.BaseURL, c.PortalReturnPath)
}

const (
	defaultServerAddress     = ":18111"
	defaultBaseURL           = "http://localhost:3000"
	defaultSuccessPath       = "/settings?upgraded=true"
	defaultCancelPath        = "/pricing?canceled=true"
	defaultPortalReturnPath  = "/settings"
	defaultAuthAudience      = "authenticated"
	defaultProviderTimeout   = 10 * time.Second
	defaultSummarizerTimeout = 30 * time.Second
	defaultSummaryRateLimit  = 10

	defaultPriceBasic    = "price_1R1qvqEA8X51ZZ0PgR6R9vDc"
	defaultPriceStandard = "price_1R1qoBEA8X51ZZ0PYvGOQKMi"
	defaultPricePro      = "price_1R1qwZEA8X51ZZ0P0rgXMakQ"

	envServerAddress     = "BACKEND_ADDR"
	envDatabaseURL       = "DATABASE_URL"
	envStripeSecretKey   = "STRIPE_SECRET_KEY"
	envStripeWebhook     = "STRIPE_WEBHOOK_SECRET"
	envStripeAPIURL      = "STRIPE_API_URL"
	envStripeTimeout     = "STRIPE_TIMEOUT"
	envPriceBasic        = "STRIPE_PRICE_BASIC"
	envPriceStandard     = "STRIPE_PRICE_STANDARD"
	envPricePro          = "STRIPE_PRICE_PRO"
	envBaseURL           = "APP_BASE_URL"
	envSuccessPath       = "CHECKOUT_SUCCESS_PATH"
	envCancelPath        = "CHECKOUT_CANCEL_PATH"
	envPortalReturnPath  = "PORTAL_RETURN_PATH"
	envAuthJWTSecret     = "AUTH_JWT_SECRET"
	envAuthAudience      = "AUTH_JWT_AUDIENCE"
	envAdminToken        = "ADMIN_TOKEN"
	envSummarizerURL     = "SUMMARIZER_URL"
	envSummarizerTimeout = "SUMMARIZER_TIMEOUT"
	envSummaryRateLimit  = "SUMMARY_RATE_LIMIT"
	envWorkerEnabled     = "WORKER_ENABLED"
	envSweepInterval     = "SWEEP_INTERVAL"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:       firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:         strings.TrimSpace(os.Getenv(envDatabaseURL)),
		StripeSecretKey:     strings.TrimSpace(os.Getenv(envStripeSecretKey)),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv(envStripeWebhook)),
		StripeAPIURL:        strings.TrimSpace(os.Getenv(envStripeAPIURL)),
		Prices: PriceIDs{
			Basic:    firstNonEmpty(os.Getenv(envPriceBasic), defaultPriceBasic),
			Standard: firstNonEmpty(os.Getenv(envPriceStandard), defaultPriceStandard),
			Pro:      firstNonEmpty(os.Getenv(envPricePro), defaultPricePro),
		},
		BaseURL: strings.TrimRight(firstNonEmpty(os.Getenv(envBaseURL), defaultBaseURL), "/"),
		Checkout: CheckoutRedirects{
			SuccessPath: firstNonEmpty(os.Getenv(envSuccessPath), defaultSuccessPath),
			CancelPath:  firstNonEmpty(os.Getenv(envCancelPath), defaultCancelPath),
		},
		PortalReturnPath: firstNonEmpty(os.Getenv(envPortalReturnPath), defaultPortalReturnPath),
		AuthJWTSecret:    os.Getenv(envAuthJWTSecret),
		AuthAudience:     firstNonEmpty(os.Getenv(envAuthAudience), defaultAuthAudience),
		AdminToken:       strings.TrimSpace(os.Getenv(envAdminToken)),
		SummarizerURL:    strings.TrimSpace(os.Getenv(envSummarizerURL)),
		SummaryRateLimit: defaultSummaryRateLimit,
	}

	var err error
	if cfg.ProviderTimeout, err = durationFromEnv(envStripeTimeout, defaultProviderTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SummarizerTimeout, err = durationFromEnv(envSummarizerTimeout, defaultSummarizerTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationFromEnv(envSweepInterval, 0); err != nil {
		return Config{}, err
	}

	if value := os.Getenv(envWorkerEnabled); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envWorkerEnabled, err)
		}
		cfg.WorkerEnabled = enabled
	}

	if value := strings.TrimSpace(os.Getenv(envSummaryRateLimit)); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be a positive integer", envSummaryRateLimit)
		}
		cfg.SummaryRateLimit = limit
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.StripeSecretKey == "" {
		return Config{}, fmt.Errorf("%s is required", envStripeSecretKey)
	}
	if cfg.AuthJWTSecret == "" {
		return Config{}, fmt.Errorf("%s is required", envAuthJWTSecret)
	}

	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envBaseURL, err)
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(base, "/") + path
}
