package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PortNumber53/tubesum/backend/internal/models"
)

// cancelAndMirror cancels sub at the provider and then marks the local record
// canceled. A provider failure leaves the record untouched and comes back as
// *ProviderError. A store failure after the provider succeeded comes back as
// *PartialSuccess. keepPeriodEnd copies current_period_end into ends_at.
func cancelAndMirror(ctx context.Context, provider Provider, store SubscriptionStore, now time.Time, sub models.Subscription, source string, keepPeriodEnd bool) error {
	err := provider.CancelSubscription(ctx, sub.StripeSubscriptionID)
	observeCancellation(source, err)
	if err != nil {
		return NewProviderError("cancel subscription", err)
	}

	canceledAt := now
	update := models.StatusUpdate{
		ID:                     sub.ID,
		ProviderSubscriptionID: sub.StripeSubscriptionID,
		Status:                 models.SubscriptionCanceled,
		CanceledAt:             &canceledAt,
	}
	if keepPeriodEnd {
		update.EndsAt = sub.CurrentPeriodEnd
	}

	if _, err := store.UpdateStatus(ctx, update); err != nil {
		p := &PartialSuccess{
			Op:      source + " cancel",
			Primary: "provider canceled " + sub.StripeSubscriptionID,
			Err:     err,
		}
		observePartial(p)
		return p
	}
	return nil
}

// CancelResult reports a user-initiated cancellation. Partial is set when the
// provider canceled the subscription but the local mirror was not updated.
type CancelResult struct {
	Subscription models.Subscription
	Partial      *PartialSuccess
}

// Canceller cancels a user's subscription at the provider and mirrors the
// change locally.
type Canceller struct {
	Provider Provider
	Store    SubscriptionStore
	Clock    Clock

	// OnPartial runs after a provider cancel whose local mirror failed, so
	// the caller can schedule a retry.
	OnPartial func(ctx context.Context, providerSubscriptionID string)
}

// Cancel cancels the subscription identified by providerSubscriptionID on
// behalf of userID. Records owned by someone else are reported as missing.
func (c *Canceller) Cancel(ctx context.Context, userID, providerSubscriptionID string) (*CancelResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrNotAuthenticated
	}
	if strings.TrimSpace(providerSubscriptionID) == "" {
		return nil, fmt.Errorf("%w: subscription id is required", ErrNotFound)
	}

	sub, err := c.Store.FindByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("billing: lookup subscription: %w", err)
	}
	if sub == nil || sub.UserID != userID {
		return nil, ErrNotFound
	}
	if sub.Status == models.SubscriptionCanceled {
		return &CancelResult{Subscription: *sub}, nil
	}

	now := c.Clock.Now()
	err = cancelAndMirror(ctx, c.Provider, c.Store, now, *sub, sourceUser, false)
	if err != nil {
		var partial *PartialSuccess
		if !errors.As(err, &partial) {
			log.Printf("[cancel] provider cancel failed for %s: %v", providerSubscriptionID, err)
			return nil, err
		}
		log.Printf("[cancel] %v", partial)
		if c.OnPartial != nil {
			c.OnPartial(ctx, providerSubscriptionID)
		}
		return &CancelResult{Subscription: *sub, Partial: partial}, nil
	}

	sub.Status = models.SubscriptionCanceled
	sub.CanceledAt = &now
	log.Printf("[cancel] user %s canceled %s", userID, providerSubscriptionID)
	return &CancelResult{Subscription: *sub}, nil
}
