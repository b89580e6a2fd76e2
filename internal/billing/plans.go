package billing

import (
	"fmt"

	"github.com/PortNumber53/tubesum/backend/internal/config"
	"github.com/PortNumber53/tubesum/backend/internal/models"
)

// Action classifies a move between two tiers.
type Action string

const (
	ActionNew       Action = "new"
	ActionUpgrade   Action = "upgrade"
	ActionDowngrade Action = "downgrade"
	ActionNoop      Action = "noop"
)

// IsPlanChange reports whether the action replaces an existing paid plan.
func (a Action) IsPlanChange() bool {
	return a == ActionUpgrade || a == ActionDowngrade
}

// Catalog is the ordered, immutable list of plan tiers.
type Catalog struct {
	tiers   []models.PlanTier
	byPrice map[string]models.PlanTier
}

// NewCatalog validates tiers and builds a catalog. Tiers must be ordered by
// strictly increasing rank and price, and exactly one must be the rank-0
// baseline.
func NewCatalog(tiers []models.PlanTier) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("billing: catalog needs at least one tier")
	}

	c := &Catalog{
		tiers:   make([]models.PlanTier, len(tiers)),
		byPrice: make(map[string]models.PlanTier, len(tiers)),
	}
	copy(c.tiers, tiers)

	baselines := 0
	for i, t := range c.tiers {
		if t.IsBaseline() {
			baselines++
			if t.PriceID != "" {
				return nil, fmt.Errorf("billing: baseline tier %q must not carry a price id", t.Name)
			}
			continue
		}
		if t.PriceID == "" {
			return nil, fmt.Errorf("billing: tier %q has no price id", t.Name)
		}
		if _, dup := c.byPrice[t.PriceID]; dup {
			return nil, fmt.Errorf("billing: duplicate price id %q", t.PriceID)
		}
		if i > 0 {
			prev := c.tiers[i-1]
			if t.TierRank <= prev.TierRank || t.Amount <= prev.Amount {
				return nil, fmt.Errorf("billing: tier %q must rank and cost more than %q", t.Name, prev.Name)
			}
		}
		c.byPrice[t.PriceID] = t
	}
	if baselines != 1 {
		return nil, fmt.Errorf("billing: catalog needs exactly one baseline tier, got %d", baselines)
	}
	if !c.tiers[0].IsBaseline() {
		return nil, fmt.Errorf("billing: baseline tier must come first")
	}

	return c, nil
}

// DefaultCatalog returns the published plans with price IDs from configuration.
func DefaultCatalog(prices config.PriceIDs) (*Catalog, error) {
	return NewCatalog([]models.PlanTier{
		{
			Name:         "Free",
			TierRank:     0,
			DisplayPrice: "£0.00",
			Currency:     "gbp",
			Features:     []string{"Try the summariser on public videos"},
		},
		{
			Name:         "Basic Plan",
			PriceID:      prices.Basic,
			TierRank:     1,
			DisplayPrice: "£1.00",
			Amount:       100,
			Currency:     "gbp",
			Interval:     "month",
			Description:  "Fast, AI-generated summaries for short videos up to 15 minutes long.",
			Features: []string{
				"Summarize YouTube videos up to 15 minutes",
				"AI-powered quick insights",
				"Bullet-point summaries",
				"Ideal for short educational clips, news, or tutorials",
			},
		},
		{
			Name:         "Standard Plan",
			PriceID:      prices.Standard,
			TierRank:     2,
			DisplayPrice: "£12.00",
			Amount:       1200,
			Currency:     "gbp",
			Interval:     "month",
			Description:  "In-depth summaries for videos up to 30 minutes long.",
			Features: []string{
				"Summarize YouTube videos up to 30 minutes",
				"AI-powered summaries with key takeaways",
				"Paragraph-based summaries for better understanding",
				"Ideal for podcasts, interviews, and longer tutorials",
				"Priority processing for faster results",
			},
			Popular: true,
		},
		{
			Name:         "Pro Plan",
			PriceID:      prices.Pro,
			TierRank:     3,
			DisplayPrice: "£24.00",
			Amount:       2400,
			Currency:     "gbp",
			Interval:     "month",
			Description:  "Full-length video summaries with chapter-wise segmentation.",
			Features: []string{
				"Summarize YouTube videos of ANY length (60+ minutes included)",
				"AI-powered, detailed breakdowns",
				"Chapter-wise segmentation for longer videos",
				"Perfect for documentaries, lectures, and full-length courses",
				"Highest priority processing for the fastest results",
				"Early access to new AI features",
			},
		},
	})
}

// Tiers returns a copy of the catalog in rank order.
func (c *Catalog) Tiers() []models.PlanTier {
	out := make([]models.PlanTier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// Baseline returns the rank-0 tier.
func (c *Catalog) Baseline() models.PlanTier {
	return c.tiers[0]
}

// Lookup resolves a price id to its tier.
func (c *Catalog) Lookup(priceID string) (models.PlanTier, bool) {
	t, ok := c.byPrice[priceID]
	return t, ok
}

// TierFor resolves the tier a subscription grants. Inactive or unknown
// subscriptions map to the baseline.
func (c *Catalog) TierFor(sub *models.Subscription) models.PlanTier {
	if !sub.IsActive() {
		return c.Baseline()
	}
	if t, ok := c.byPrice[sub.StripePriceID]; ok {
		return t
	}
	return c.Baseline()
}

// Classify compares the current price (empty for none) to the target price.
func (c *Catalog) Classify(currentPriceID, targetPriceID string) (Action, error) {
	target, ok := c.byPrice[targetPriceID]
	if !ok {
		return "", fmt.Errorf("%w: unknown price %q", ErrInvalidPlan, targetPriceID)
	}
	if currentPriceID == "" {
		return ActionNew, nil
	}
	current, ok := c.byPrice[currentPriceID]
	if !ok {
		return "", fmt.Errorf("%w: unknown price %q", ErrInvalidPlan, currentPriceID)
	}

	switch {
	case target.TierRank > current.TierRank:
		return ActionUpgrade, nil
	case target.TierRank < current.TierRank:
		return ActionDowngrade, nil
	default:
		return ActionNoop, nil
	}
}
