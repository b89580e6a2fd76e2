package billing

import (
	"time"

	"github.com/PortNumber53/tubesum/backend/internal/models"
)

// Provider event types the reconciler understands.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// ProviderSubscription is the subscription snapshot carried by an event.
type ProviderSubscription struct {
	ID               string
	CustomerID       string
	PriceID          string
	Status           models.SubscriptionStatus
	CurrentPeriodEnd *time.Time
	Amount           int64
	Currency         string
	Interval         string
	Metadata         map[string]string
}

// UserID returns the owning user recorded in metadata at checkout.
func (p ProviderSubscription) UserID() string {
	return p.Metadata[MetadataUserID]
}

// record converts the snapshot into a store record for userID.
func (p ProviderSubscription) record(userID string, status models.SubscriptionStatus) *models.Subscription {
	return &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: p.ID,
		StripeCustomerID:     p.CustomerID,
		StripePriceID:        p.PriceID,
		Status:               status,
		CurrentPeriodEnd:     p.CurrentPeriodEnd,
		Amount:               p.Amount,
		Currency:             p.Currency,
		Interval:             p.Interval,
	}
}

// Event is a verified provider notification. The concrete type is one of
// SubscriptionCreated, SubscriptionUpdated, SubscriptionDeleted or
// UnknownEvent.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

type SubscriptionCreated struct {
	ID           string
	Subscription ProviderSubscription
}

type SubscriptionUpdated struct {
	ID           string
	Subscription ProviderSubscription
}

type SubscriptionDeleted struct {
	ID           string
	Subscription ProviderSubscription
}

// UnknownEvent is any verified event the service does not act on.
type UnknownEvent struct {
	ID   string
	Type string
}

func (e SubscriptionCreated) EventID() string   { return e.ID }
func (e SubscriptionCreated) EventType() string { return EventSubscriptionCreated }
func (SubscriptionCreated) isEvent()            {}

func (e SubscriptionUpdated) EventID() string   { return e.ID }
func (e SubscriptionUpdated) EventType() string { return EventSubscriptionUpdated }
func (SubscriptionUpdated) isEvent()            {}

func (e SubscriptionDeleted) EventID() string   { return e.ID }
func (e SubscriptionDeleted) EventType() string { return EventSubscriptionDeleted }
func (SubscriptionDeleted) isEvent()            {}

func (e UnknownEvent) EventID() string   { return e.ID }
func (e UnknownEvent) EventType() string { return e.Type }
func (UnknownEvent) isEvent()            {}
