package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
)

// customerNamespace scopes idempotency keys derived from user IDs.
var customerNamespace = uuid.MustParse("8f0c3f57-3f0e-4d7a-9a4e-5b3f1f2a6c10")

// CheckoutRequest starts a subscription purchase or plan change.
type CheckoutRequest struct {
	Identity           *Identity
	PriceID            string
	FromSubscriptionID string
	CustomerID         string
}

// CheckoutResult carries the hosted checkout page. Warnings list secondary
// steps that failed without blocking the checkout.
type CheckoutResult struct {
	SessionID  string
	URL        string
	Action     Action
	CustomerID string
	Warnings   []string
}

// Checkout orchestrates customer resolution, plan-change cancellation and
// checkout session creation.
type Checkout struct {
	Catalog    *Catalog
	Provider   Provider
	Store      SubscriptionStore
	SuccessURL string
	CancelURL  string
	Clock      Clock
}

// Begin validates req and returns a checkout session for the target plan.
func (c *Checkout) Begin(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.Identity == nil || strings.TrimSpace(req.Identity.UserID) == "" {
		return nil, ErrNotAuthenticated
	}
	userID := req.Identity.UserID

	if _, ok := c.Catalog.Lookup(req.PriceID); !ok {
		return nil, fmt.Errorf("%w: %q is not a purchasable plan", ErrInvalidPlan, req.PriceID)
	}

	active, err := c.Store.FindActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("billing: load active subscription: %w", err)
	}

	currentPrice := ""
	if active != nil {
		currentPrice = active.StripePriceID
		if _, known := c.Catalog.Lookup(currentPrice); !known {
			currentPrice = ""
		}
	}
	action, err := c.Catalog.Classify(currentPrice, req.PriceID)
	if err != nil {
		return nil, err
	}
	if action == ActionNoop {
		return nil, ErrAlreadyOnPlan
	}

	from := strings.TrimSpace(req.FromSubscriptionID)
	if from == "" && active != nil && action.IsPlanChange() {
		from = active.StripeSubscriptionID
	}

	result := &CheckoutResult{Action: action}

	customerID, warning, err := c.resolveCustomer(ctx, req)
	if err != nil {
		return nil, err
	}
	if warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}
	result.CustomerID = customerID

	if from != "" {
		if warning := c.cancelPrevious(ctx, userID, from); warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}

	session, err := c.Provider.CreateCheckoutSession(ctx, CheckoutSessionParams{
		CustomerID:  customerID,
		PriceID:     req.PriceID,
		UserID:      userID,
		UpgradeFrom: from,
		SuccessURL:  c.SuccessURL,
		CancelURL:   c.CancelURL,
	})
	if err != nil {
		return nil, NewProviderError("create checkout session", err)
	}

	result.SessionID = session.ID
	result.URL = session.URL
	log.Printf("[checkout] session %s for user %s (%s)", session.ID, userID, action)
	return result, nil
}

// resolveCustomer finds or creates the provider customer for the caller. A
// customer named in the request must match the one on record for the user.
// The returned warning is non-empty when the new customer could not be saved.
func (c *Checkout) resolveCustomer(ctx context.Context, req CheckoutRequest) (string, string, error) {
	userID := req.Identity.UserID
	requested := strings.TrimSpace(req.CustomerID)

	existing, err := CustomerFor(ctx, c.Store, userID)
	if err != nil {
		return "", "", err
	}
	if requested != "" && requested != existing {
		log.Printf("[checkout] user %s requested customer %s; on record %q", userID, requested, existing)
		return "", "", ErrCustomerMismatch
	}
	if existing != "" {
		return existing, "", nil
	}

	customerID, err := c.Provider.CreateCustomer(ctx, CustomerParams{
		Email:          req.Identity.Email,
		Metadata:       map[string]string{MetadataUserID: userID},
		IdempotencyKey: CustomerIdempotencyKey(userID),
	})
	if err != nil {
		return "", "", NewProviderError("create customer", err)
	}

	if err := c.Store.SaveCustomerID(ctx, userID, req.Identity.Email, customerID); err != nil {
		p := &PartialSuccess{Op: "save customer", Primary: "provider created " + customerID, Err: err}
		observePartial(p)
		log.Printf("[checkout] %v", p)
		return customerID, p.Error(), nil
	}
	return customerID, "", nil
}

// cancelPrevious cancels the plan being replaced. Failures never block the
// checkout and are returned as a warning.
func (c *Checkout) cancelPrevious(ctx context.Context, userID, providerSubscriptionID string) string {
	sub, err := c.Store.FindByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		log.Printf("[checkout] lookup of %s failed: %v", providerSubscriptionID, err)
		return fmt.Sprintf("could not load subscription %s: %v", providerSubscriptionID, err)
	}
	if sub == nil || sub.UserID != userID {
		log.Printf("[checkout] upgrade source %s not found for user %s", providerSubscriptionID, userID)
		return fmt.Sprintf("subscription %s not found; it was not canceled", providerSubscriptionID)
	}
	if !sub.IsActive() {
		return ""
	}

	err = cancelAndMirror(ctx, c.Provider, c.Store, c.Clock.Now(), *sub, sourceCheckout, false)
	if err == nil {
		log.Printf("[checkout] canceled %s ahead of plan change for user %s", providerSubscriptionID, userID)
		return ""
	}

	var partial *PartialSuccess
	if errors.As(err, &partial) {
		log.Printf("[checkout] %v", partial)
		return partial.Error()
	}
	log.Printf("[checkout] cancel of %s failed: %v", providerSubscriptionID, err)
	return fmt.Sprintf("previous subscription %s was not canceled: %v", providerSubscriptionID, err)
}

// CustomerIdempotencyKey derives a stable provider idempotency key for
// creating userID's customer, so concurrent checkouts create one customer.
func CustomerIdempotencyKey(userID string) string {
	return "customer-" + uuid.NewSHA1(customerNamespace, []byte(userID)).String()
}
