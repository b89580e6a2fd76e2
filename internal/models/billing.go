package models

import "time"

// SubscriptionStatus mirrors the provider's subscription status. It is an
// open enumeration: values the service does not recognise are stored as-is.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)

// Subscription is the local mirror of a Stripe subscription.
type Subscription struct {
	ID                   int64              `json:"id"`
	UserID               string             `json:"user_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	StripePriceID        string             `json:"stripe_price_id"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	CanceledAt           *time.Time         `json:"canceled_at,omitempty"`
	EndsAt               *time.Time         `json:"ends_at,omitempty"`
	Amount               int64              `json:"amount"`
	Currency             string             `json:"currency"`
	Interval             string             `json:"interval"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// IsActive reports whether the record currently grants paid access.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionActive
}

// Profile carries the billing handle of a user who may not own a
// subscription record yet.
type Profile struct {
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StatusUpdate changes the status of one subscription record, addressed by
// local ID or by provider subscription ID. Nil timestamps leave the column
// unchanged.
type StatusUpdate struct {
	ID                     int64
	ProviderSubscriptionID string
	Status                 SubscriptionStatus
	CanceledAt             *time.Time
	EndsAt                 *time.Time
}
