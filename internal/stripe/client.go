package stripe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/PortNumber53/tubesum/backend/internal/billing"
)

// Options configures a Client.
type Options struct {
	SecretKey string
	// BaseURL overrides the API origin (stripe-mock, tests).
	BaseURL string
	// Timeout bounds each API round-trip.
	Timeout time.Duration
}

// Client is a billing.Provider backed by the Stripe API. Each Client owns its
// own API handle; the package-level stripe.Key is never touched.
type Client struct {
	api *client.API
}

var _ billing.Provider = (*Client)(nil)

// NewClient creates a Stripe client. SDK retries are disabled; callers decide
// whether to retry.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SecretKey) == "" {
		return nil, errors.New("stripe: secret key is required")
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: opts.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if opts.BaseURL != "" {
		cfg.URL = stripe.String(strings.TrimRight(opts.BaseURL, "/"))
	}

	api := &client.API{}
	api.Init(opts.SecretKey, stripe.NewBackendsWithConfig(cfg))

	return &Client{api: api}, nil
}

// CreateCustomer creates a customer. The idempotency key makes concurrent
// attempts for the same user resolve to a single customer.
func (c *Client) CreateCustomer(ctx context.Context, p billing.CustomerParams) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if p.Email != "" {
		params.Email = stripe.String(p.Email)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	cus, err := c.api.Customers.New(params)
	if err != nil {
		return "", providerError("create customer", err)
	}
	log.Printf("[stripe] created customer %s", cus.ID)
	return cus.ID, nil
}

// CreateCheckoutSession creates a subscription-mode checkout session. The
// user and upgrade source are written to both the session and the
// subscription it creates.
func (c *Client) CreateCheckoutSession(ctx context.Context, p billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
	metadata := map[string]string{
		billing.MetadataUserID:      p.UserID,
		billing.MetadataUpgradeFrom: p.UpgradeFrom,
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, providerError("create checkout session", err)
	}
	if sess.ID == "" {
		return nil, &billing.ProviderError{Op: "create checkout session", Message: "missing session ID in response"}
	}
	return &billing.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CancelSubscription cancels a subscription immediately.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := c.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return providerError("cancel subscription", err)
	}
	log.Printf("[stripe] canceled subscription %s", subscriptionID)
	return nil
}

// CreatePortalSession opens a billing portal session for customerID.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", providerError("create portal session", err)
	}
	return sess.URL, nil
}

// providerError keeps Stripe's own message when the API answered with one.
func providerError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return &billing.ProviderError{Op: op, Message: se.Msg, Err: err}
	}
	return &billing.ProviderError{Op: op, Message: fmt.Sprint(err), Err: err}
}
