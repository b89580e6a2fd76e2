package billing

import (
	"context"
	"time"

	"github.com/PortNumber53/tubesum/backend/internal/models"
)

// Metadata keys written onto checkout sessions and the subscriptions they
// create. Webhook events carry them back.
const (
	MetadataUserID      = "userId"
	MetadataUpgradeFrom = "upgradeFrom"
)

// Identity is the authenticated caller as seen by billing operations.
type Identity struct {
	UserID string
	Email  string
}

// CustomerParams describes a customer to create at the provider.
type CustomerParams struct {
	Email          string
	Metadata       map[string]string
	IdempotencyKey string
}

// CheckoutSessionParams describes a subscription-mode checkout session with a
// single line item.
type CheckoutSessionParams struct {
	CustomerID  string
	PriceID     string
	UserID      string
	UpgradeFrom string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the hosted payment page returned by the provider.
type CheckoutSession struct {
	ID  string
	URL string
}

// Provider is the remote billing system. Every call is bounded by the
// implementation's timeout and ctx; failures are reported as *ProviderError.
type Provider interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// SubscriptionStore persists the local mirror of provider subscriptions.
// Lookups return a nil record (and no error) when nothing matches.
type SubscriptionStore interface {
	Find(ctx context.Context, userID string) ([]models.Subscription, error)
	FindActive(ctx context.Context, userID string) (*models.Subscription, error)
	FindAllActive(ctx context.Context, userID string) ([]models.Subscription, error)
	FindByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error)
	UpsertByProviderID(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	UpdateStatus(ctx context.Context, update models.StatusUpdate) (bool, error)
	UsersWithMultipleActive(ctx context.Context) ([]string, error)
	GetCustomerID(ctx context.Context, userID string) (string, error)
	SaveCustomerID(ctx context.Context, userID, email, customerID string) error
}

// Clock returns the current time. Components default to time.Now.
type Clock func() time.Time

// Now returns the current time in UTC; a nil Clock uses time.Now.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
