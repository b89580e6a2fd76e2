package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/PortNumber53/tubesum/backend/internal/billing"
	"github.com/PortNumber53/tubesum/backend/internal/models"
)

// VerifyWebhook checks the Stripe-Signature header against secret and decodes
// the event into a billing.Event. Any verification or decoding failure is
// reported as billing.ErrInvalidSignature.
func VerifyWebhook(payload []byte, signatureHeader, secret string) (billing.Event, error) {
	if strings.TrimSpace(signatureHeader) == "" || secret == "" {
		return nil, billing.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidSignature, err)
	}

	return decodeEvent(event)
}

func decodeEvent(event stripe.Event) (billing.Event, error) {
	eventType := string(event.Type)

	switch eventType {
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
	default:
		return billing.UnknownEvent{ID: event.ID, Type: eventType}, nil
	}

	if event.Data == nil {
		return nil, fmt.Errorf("%w: %s event has no data", billing.ErrInvalidSignature, eventType)
	}
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", billing.ErrInvalidSignature, eventType, err)
	}
	var legacy legacyPeriod
	if err := json.Unmarshal(event.Data.Raw, &legacy); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", billing.ErrInvalidSignature, eventType, err)
	}
	sub := snapshot(&subscription, legacy.CurrentPeriodEnd)

	switch eventType {
	case billing.EventSubscriptionCreated:
		return billing.SubscriptionCreated{ID: event.ID, Subscription: sub}, nil
	case billing.EventSubscriptionUpdated:
		return billing.SubscriptionUpdated{ID: event.ID, Subscription: sub}, nil
	default:
		return billing.SubscriptionDeleted{ID: event.ID, Subscription: sub}, nil
	}
}

// legacyPeriod reads the subscription-level current_period_end sent on API
// versions before it moved to subscription items. stripe-go v82 no longer
// models the field.
type legacyPeriod struct {
	CurrentPeriodEnd int64 `json:"current_period_end"`
}

func snapshot(sub *stripe.Subscription, legacyPeriodEnd int64) billing.ProviderSubscription {
	out := billing.ProviderSubscription{
		ID:       sub.ID,
		Status:   models.SubscriptionStatus(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	periodEnd := legacyPeriodEnd
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
			out.Amount = item.Price.UnitAmount
			out.Currency = string(item.Price.Currency)
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
			}
		}
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	if periodEnd > 0 {
		t := time.Unix(periodEnd, 0).UTC()
		out.CurrentPeriodEnd = &t
	}
	return out
}
