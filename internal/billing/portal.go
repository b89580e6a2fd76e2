package billing

import (
	"context"
	"fmt"
	"strings"
)

// Portal opens provider-hosted billing management sessions.
type Portal struct {
	Provider  Provider
	Store     SubscriptionStore
	ReturnURL string
}

// Session returns the portal URL for userID's customer.
func (p *Portal) Session(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrNotAuthenticated
	}

	customerID, err := CustomerFor(ctx, p.Store, userID)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", fmt.Errorf("%w: no billing customer for user", ErrNotFound)
	}

	url, err := p.Provider.CreatePortalSession(ctx, customerID, p.ReturnURL)
	if err != nil {
		return "", NewProviderError("create portal session", err)
	}
	return url, nil
}

// CustomerFor returns the user's provider customer from their subscription
// records, falling back to the profile. It returns "" when none exists.
func CustomerFor(ctx context.Context, store SubscriptionStore, userID string) (string, error) {
	subs, err := store.Find(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("billing: load subscriptions: %w", err)
	}
	for _, sub := range subs {
		if sub.StripeCustomerID != "" {
			return sub.StripeCustomerID, nil
		}
	}

	id, err := store.GetCustomerID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("billing: load profile customer: %w", err)
	}
	return id, nil
}
