package billing

import (
	"context"
	"fmt"
	"log"

	"github.com/PortNumber53/tubesum/backend/internal/models"
)

// Outcome describes what the reconciler did with an event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeDropped Outcome = "dropped"
	OutcomeIgnored Outcome = "ignored"
	OutcomeFailed  Outcome = "failed"
)

// ReconcileResult reports an event's outcome and any secondary failures.
type ReconcileResult struct {
	Outcome  Outcome
	Warnings []string
}

// Reconciler applies verified provider events to the subscription store.
// Events may arrive duplicated or out of order; all writes are keyed by the
// provider subscription ID so replays converge.
type Reconciler struct {
	Provider Provider
	Store    SubscriptionStore
	Clock    Clock
}

// Reconcile dispatches on the event variant. An error means a primary store
// write failed and the provider should redeliver.
func (r *Reconciler) Reconcile(ctx context.Context, event Event) (*ReconcileResult, error) {
	var (
		res *ReconcileResult
		err error
	)

	switch e := event.(type) {
	case SubscriptionCreated:
		res, err = r.created(ctx, e.Subscription)
	case SubscriptionUpdated:
		res, err = r.updated(ctx, e.Subscription)
	case SubscriptionDeleted:
		res, err = r.deleted(ctx, e.Subscription)
	default:
		res = &ReconcileResult{Outcome: OutcomeIgnored}
	}

	outcome := OutcomeFailed
	if err == nil {
		outcome = res.Outcome
	}
	webhookEvents.WithLabelValues(event.EventType(), string(outcome)).Inc()

	if err != nil {
		log.Printf("[webhook] %s %s failed: %v", event.EventType(), event.EventID(), err)
		return nil, err
	}
	for _, w := range res.Warnings {
		log.Printf("[webhook] %s %s: %s", event.EventType(), event.EventID(), w)
	}
	return res, nil
}

func (r *Reconciler) created(ctx context.Context, ps ProviderSubscription) (*ReconcileResult, error) {
	return r.insert(ctx, ps, models.SubscriptionActive)
}

// insert records a subscription with no local row. Only an active record
// displaces the user's other active subscriptions.
func (r *Reconciler) insert(ctx context.Context, ps ProviderSubscription, status models.SubscriptionStatus) (*ReconcileResult, error) {
	userID := ps.UserID()
	if userID == "" {
		log.Printf("[webhook] subscription %s has no userId metadata; dropping", ps.ID)
		return &ReconcileResult{Outcome: OutcomeDropped}, nil
	}

	res := &ReconcileResult{Outcome: OutcomeApplied}
	if status == models.SubscriptionActive {
		res.Warnings = r.dedup(ctx, userID, ps.ID)
	}

	if _, err := r.Store.UpsertByProviderID(ctx, ps.record(userID, status)); err != nil {
		return nil, fmt.Errorf("billing: upsert subscription %s: %w", ps.ID, err)
	}
	log.Printf("[webhook] recorded %s subscription %s for user %s", status, ps.ID, userID)
	return res, nil
}

// dedup cancels every other active subscription the user holds, keeping the
// access end at the old period end. Failures are returned as warnings.
func (r *Reconciler) dedup(ctx context.Context, userID, keepProviderID string) []string {
	active, err := r.Store.FindAllActive(ctx, userID)
	if err != nil {
		return []string{fmt.Sprintf("dedup skipped: load active subscriptions: %v", err)}
	}

	var warnings []string
	now := r.Clock.Now()
	for _, sub := range active {
		if sub.StripeSubscriptionID == keepProviderID {
			continue
		}
		if err := cancelAndMirror(ctx, r.Provider, r.Store, now, sub, sourceDedup, true); err != nil {
			warnings = append(warnings, fmt.Sprintf("dedup %s: %v", sub.StripeSubscriptionID, err))
			continue
		}
		log.Printf("[webhook] canceled duplicate subscription %s for user %s", sub.StripeSubscriptionID, userID)
	}
	return warnings
}

func (r *Reconciler) updated(ctx context.Context, ps ProviderSubscription) (*ReconcileResult, error) {
	existing, err := r.Store.FindByProviderID(ctx, ps.ID)
	if err != nil {
		return nil, fmt.Errorf("billing: lookup subscription %s: %w", ps.ID, err)
	}
	if existing == nil {
		status := ps.Status
		if status == "" {
			status = models.SubscriptionActive
		}
		return r.insert(ctx, ps, status)
	}

	status := ps.Status
	if status == "" {
		status = existing.Status
	}
	rec := ps.record(existing.UserID, status)
	if rec.StripeCustomerID == "" {
		rec.StripeCustomerID = existing.StripeCustomerID
	}
	if _, err := r.Store.UpsertByProviderID(ctx, rec); err != nil {
		return nil, fmt.Errorf("billing: upsert subscription %s: %w", ps.ID, err)
	}
	return &ReconcileResult{Outcome: OutcomeApplied}, nil
}

func (r *Reconciler) deleted(ctx context.Context, ps ProviderSubscription) (*ReconcileResult, error) {
	now := r.Clock.Now()
	matched, err := r.Store.UpdateStatus(ctx, models.StatusUpdate{
		ProviderSubscriptionID: ps.ID,
		Status:                 models.SubscriptionCanceled,
		CanceledAt:             &now,
	})
	if err != nil {
		return nil, fmt.Errorf("billing: mark %s canceled: %w", ps.ID, err)
	}
	if !matched {
		log.Printf("[webhook] deleted subscription %s has no local record", ps.ID)
		return &ReconcileResult{Outcome: OutcomeIgnored}, nil
	}
	return &ReconcileResult{Outcome: OutcomeApplied}, nil
}

// MirrorCancel marks a provider subscription canceled locally. It retries the
// local half of a cancellation whose provider half already succeeded.
func MirrorCancel(ctx context.Context, store SubscriptionStore, clock Clock, providerSubscriptionID string) error {
	now := clock.Now()
	matched, err := store.UpdateStatus(ctx, models.StatusUpdate{
		ProviderSubscriptionID: providerSubscriptionID,
		Status:                 models.SubscriptionCanceled,
		CanceledAt:             &now,
	})
	if err != nil {
		return fmt.Errorf("billing: mirror cancel %s: %w", providerSubscriptionID, err)
	}
	if !matched {
		return fmt.Errorf("billing: mirror cancel %s: %w", providerSubscriptionID, ErrNotFound)
	}
	return nil
}
