package billing

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// SweepReport summarises a duplicate sweep.
type SweepReport struct {
	UsersChecked int      `json:"users_checked"`
	Canceled     []string `json:"canceled"`
	Errors       []string `json:"errors,omitempty"`
}

// Sweeper repairs users holding more than one active subscription by
// keeping the most recently created one.
type Sweeper struct {
	Provider Provider
	Store    SubscriptionStore
	Clock    Clock

	// OnPartial, when set, is called for a subscription the provider
	// canceled but the store failed to mark canceled.
	OnPartial func(ctx context.Context, providerSubscriptionID string)
}

// Sweep cancels every active subscription except the newest for each
// affected user. Running it again on a clean store does nothing.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	users, err := s.Store.UsersWithMultipleActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("billing: list users with duplicate subscriptions: %w", err)
	}

	report := &SweepReport{UsersChecked: len(users), Canceled: []string{}}
	now := s.Clock.Now()

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		active, err := s.Store.FindAllActive(ctx, userID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("user %s: %v", userID, err))
			continue
		}
		if len(active) < 2 {
			continue
		}

		sort.SliceStable(active, func(i, j int) bool {
			return active[i].CreatedAt.After(active[j].CreatedAt)
		})

		for _, sub := range active[1:] {
			if err := cancelAndMirror(ctx, s.Provider, s.Store, now, sub, sourceSweep, true); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("cancel %s for user %s: %v", sub.StripeSubscriptionID, userID, err))
				if !IsPartial(err) {
					continue
				}
				if s.OnPartial != nil {
					s.OnPartial(ctx, sub.StripeSubscriptionID)
				}
			}
			report.Canceled = append(report.Canceled, sub.StripeSubscriptionID)
		}
	}

	log.Printf("[sweep] checked %d users, canceled %d subscriptions, %d errors", report.UsersChecked, len(report.Canceled), len(report.Errors))
	return report, nil
}
