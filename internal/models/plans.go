package models

// PlanTier is one rung of the pricing ladder. TierRank orders tiers for
// upgrade/downgrade comparison; rank 0 is the unpaid baseline and has no
// PriceID.
type PlanTier struct {
	Name         string   `json:"name"`
	PriceID      string   `json:"price_id,omitempty"`
	TierRank     int      `json:"tier_rank"`
	DisplayPrice string   `json:"display_price"`
	Amount       int64    `json:"amount"`
	Currency     string   `json:"currency"`
	Interval     string   `json:"interval,omitempty"`
	Description  string   `json:"description,omitempty"`
	Features     []string `json:"features"`
	Popular      bool     `json:"popular,omitempty"`
}

// IsBaseline reports whether the tier is the free baseline.
func (p PlanTier) IsBaseline() bool {
	return p.TierRank == 0
}

// CheckoutRequest is the JSON body accepted by the checkout endpoint.
type CheckoutRequest struct {
	PriceID                   string `json:"price_id"`
	CustomerID                string `json:"customer_id,omitempty"`
	UpgradeFromSubscriptionID string `json:"upgrade_from_subscription_id,omitempty"`
}

// CheckoutResponse is returned after a checkout session is created.
type CheckoutResponse struct {
	SessionID  string   `json:"session_id"`
	URL        string   `json:"url"`
	Action     string   `json:"action"`
	CustomerID string   `json:"customer_id,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}
