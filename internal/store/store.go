package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/PortNumber53/tubesum/backend/internal/billing"
	"github.com/PortNumber53/tubesum/backend/internal/models"
)

// Store provides database-backed accessors for subscriptions, profiles and
// summaries.
type Store struct {
	db *sql.DB
}

var _ billing.SubscriptionStore = (*Store)(nil)

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

const subscriptionColumns = `
	id, user_id, stripe_subscription_id, stripe_customer_id, stripe_price_id,
	status, current_period_end, canceled_at, ends_at,
	amount, currency, billing_interval, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.StripeSubscriptionID,
		&sub.StripeCustomerID,
		&sub.StripePriceID,
		&sub.Status,
		&sub.CurrentPeriodEnd,
		&sub.CanceledAt,
		&sub.EndsAt,
		&sub.Amount,
		&sub.Currency,
		&sub.Interval,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...any) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate subscriptions: %w", err)
	}
	return subs, nil
}

// Find returns every subscription record for userID, newest first.
func (s *Store) Find(ctx context.Context, userID string) ([]models.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
FROM subscriptions
WHERE user_id = $1
ORDER BY created_at DESC, id DESC`

	return s.querySubscriptions(ctx, query, userID)
}

// FindActive returns the newest active subscription for userID, or nil.
func (s *Store) FindActive(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
FROM subscriptions
WHERE user_id = $1 AND status = 'active'
ORDER BY created_at DESC, id DESC
LIMIT 1`

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find active subscription: %w", err)
	}
	return sub, nil
}

// FindAllActive returns every active subscription for userID, newest first.
func (s *Store) FindAllActive(ctx context.Context, userID string) ([]models.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
FROM subscriptions
WHERE user_id = $1 AND status = 'active'
ORDER BY created_at DESC, id DESC`

	return s.querySubscriptions(ctx, query, userID)
}

// FindByProviderID returns the record for a Stripe subscription ID, or nil.
func (s *Store) FindByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
FROM subscriptions
WHERE stripe_subscription_id = $1`

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, providerSubscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find subscription by provider id: %w", err)
	}
	return sub, nil
}

// UpsertByProviderID inserts sub or updates the record with the same Stripe
// subscription ID. The owning user is never reassigned, and an empty customer
// or missing period end keeps the stored value.
func (s *Store) UpsertByProviderID(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if sub == nil || sub.StripeSubscriptionID == "" {
		return nil, errors.New("store: subscription requires a stripe subscription id")
	}

	query := `
INSERT INTO subscriptions (
	user_id, stripe_subscription_id, stripe_customer_id, stripe_price_id,
	status, current_period_end, amount, currency, billing_interval
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (stripe_subscription_id) DO UPDATE SET
	stripe_customer_id = COALESCE(NULLIF(EXCLUDED.stripe_customer_id, ''), subscriptions.stripe_customer_id),
	stripe_price_id = EXCLUDED.stripe_price_id,
	status = EXCLUDED.status,
	current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
	amount = EXCLUDED.amount,
	currency = EXCLUDED.currency,
	billing_interval = EXCLUDED.billing_interval,
	updated_at = now()
RETURNING` + subscriptionColumns

	saved, err := scanSubscription(s.db.QueryRowContext(ctx, query,
		sub.UserID,
		sub.StripeSubscriptionID,
		sub.StripeCustomerID,
		sub.StripePriceID,
		sub.Status,
		sub.CurrentPeriodEnd,
		sub.Amount,
		sub.Currency,
		sub.Interval,
	))
	if err != nil {
		return nil, fmt.Errorf("store: upsert subscription: %w", err)
	}
	return saved, nil
}

// UpdateStatus sets the status of one record addressed by local ID, or by
// Stripe subscription ID when ID is zero. It reports whether a row matched.
func (s *Store) UpdateStatus(ctx context.Context, u models.StatusUpdate) (bool, error) {
	where, key := "stripe_subscription_id = $4", any(u.ProviderSubscriptionID)
	if u.ID != 0 {
		where, key = "id = $4", any(u.ID)
	} else if u.ProviderSubscriptionID == "" {
		return false, errors.New("store: status update needs an id or stripe subscription id")
	}

	query := `
UPDATE subscriptions
SET status = $1,
	canceled_at = COALESCE($2, canceled_at),
	ends_at = COALESCE($3, ends_at),
	updated_at = now()
WHERE ` + where

	res, err := s.db.ExecContext(ctx, query, u.Status, u.CanceledAt, u.EndsAt, key)
	if err != nil {
		return false, fmt.Errorf("store: update subscription status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: update subscription status: %w", err)
	}
	return affected > 0, nil
}

// UsersWithMultipleActive lists users holding more than one active record.
func (s *Store) UsersWithMultipleActive(ctx context.Context) ([]string, error) {
	query := `
SELECT user_id
FROM subscriptions
WHERE status = 'active'
GROUP BY user_id
HAVING COUNT(*) > 1
ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: query duplicate subscribers: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan duplicate subscriber: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate duplicate subscribers: %w", err)
	}
	return users, nil
}

// GetCustomerID returns the Stripe customer saved on the user's profile, or
// "" when there is none.
func (s *Store) GetCustomerID(ctx context.Context, userID string) (string, error) {
	var id sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT stripe_customer_id FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get profile customer: %w", err)
	}
	return id.String, nil
}

// SaveCustomerID records the Stripe customer on the user's profile, creating
// the profile if needed.
func (s *Store) SaveCustomerID(ctx context.Context, userID, email, customerID string) error {
	query := `
INSERT INTO profiles (user_id, email, stripe_customer_id)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET
	email = COALESCE(NULLIF(EXCLUDED.email, ''), profiles.email),
	stripe_customer_id = EXCLUDED.stripe_customer_id,
	updated_at = now()`

	if _, err := s.db.ExecContext(ctx, query, userID, email, customerID); err != nil {
		return fmt.Errorf("store: save profile customer: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
