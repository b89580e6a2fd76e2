package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/tubesum/backend/internal/auth"
	"github.com/PortNumber53/tubesum/backend/internal/billing"
	"github.com/PortNumber53/tubesum/backend/internal/models"
)

// ActiveSubscriptionFinder loads the caller's current subscription.
type ActiveSubscriptionFinder interface {
	FindActive(ctx context.Context, userID string) (*models.Subscription, error)
}

// CheckoutStarter begins a checkout.
type CheckoutStarter interface {
	Begin(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
}

// SubscriptionCanceller cancels one of the caller's subscriptions.
type SubscriptionCanceller interface {
	Cancel(ctx context.Context, userID, providerSubscriptionID string) (*billing.CancelResult, error)
}

// PortalOpener creates billing portal sessions.
type PortalOpener interface {
	Session(ctx context.Context, userID string) (string, error)
}

// SweepRunner repairs duplicate active subscriptions.
type SweepRunner interface {
	Sweep(ctx context.Context) (*billing.SweepReport, error)
}

// QueueStatsReader reports job queue depth.
type QueueStatsReader interface {
	GetQueueStats(ctx context.Context) (*models.JobStats, error)
}

// BillingHandler holds dependencies for billing routes.
type BillingHandler struct {
	Catalog       *billing.Catalog
	Subscriptions ActiveSubscriptionFinder
	Checkout      CheckoutStarter
	Canceller     SubscriptionCanceller
	Portal        PortalOpener
	Sweeper       SweepRunner
	Jobs          QueueStatsReader
	AdminToken    string
}

// RegisterRoutes registers plan and billing routes. They expect the caller
// identity on the request context.
func (h *BillingHandler) RegisterRoutes(router chi.Router) {
	router.Get("/api/plans", h.ListPlans())
	router.Get("/api/plans/classify", h.ClassifyPlan())
	router.Post("/api/billing/checkout", h.CreateCheckout())
	router.Get("/api/billing/subscription", h.CurrentSubscription())
	router.Post("/api/billing/subscriptions/{subscriptionID}/cancel", h.CancelSubscription())
	router.Post("/api/billing/portal", h.PortalSession())
}

// RegisterAdminRoutes registers operational routes guarded by the admin token.
func (h *BillingHandler) RegisterAdminRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Post("/api/admin/sweep", h.RunSweep())
		r.Get("/api/admin/jobs", h.JobStats())
	})
}

// ListPlans returns the plan catalog.
func (h *BillingHandler) ListPlans() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"plans": h.Catalog.Tiers()})
	}
}

// ClassifyPlan compares the caller's current plan with ?target=<price_id>.
// Anonymous callers are classified as holding no plan.
func (h *BillingHandler) ClassifyPlan() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := strings.TrimSpace(r.URL.Query().Get("target"))
		if target == "" {
			writeError(w, http.StatusBadRequest, "target query parameter is required")
			return
		}

		current := ""
		if userID := auth.UserIDFromContext(r.Context()); userID != "" {
			sub, err := h.Subscriptions.FindActive(r.Context(), userID)
			if err != nil {
				respondError(w, "ClassifyPlan", err)
				return
			}
			if sub != nil {
				if _, known := h.Catalog.Lookup(sub.StripePriceID); known {
					current = sub.StripePriceID
				}
			}
		}

		action, err := h.Catalog.Classify(current, target)
		if err != nil {
			respondError(w, "ClassifyPlan", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"current_price_id": current,
			"target_price_id":  target,
			"action":           action,
		})
	}
}

// CreateCheckout starts a checkout session for the caller.
func (h *BillingHandler) CreateCheckout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CheckoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		result, err := h.Checkout.Begin(r.Context(), billing.CheckoutRequest{
			Identity:           auth.IdentityFromContext(r.Context()),
			PriceID:            strings.TrimSpace(req.PriceID),
			FromSubscriptionID: req.UpgradeFromSubscriptionID,
			CustomerID:         req.CustomerID,
		})
		if err != nil {
			respondError(w, "CreateCheckout", err)
			return
		}

		writeJSON(w, http.StatusOK, models.CheckoutResponse{
			SessionID:  result.SessionID,
			URL:        result.URL,
			Action:     string(result.Action),
			CustomerID: result.CustomerID,
			Warnings:   result.Warnings,
		})
	}
}

// CurrentSubscription returns the caller's active subscription, if any, and
// the tier it grants.
func (h *BillingHandler) CurrentSubscription() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, "CurrentSubscription", billing.ErrNotAuthenticated)
			return
		}

		sub, err := h.Subscriptions.FindActive(r.Context(), userID)
		if err != nil {
			respondError(w, "CurrentSubscription", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"subscription": sub,
			"plan":         h.Catalog.TierFor(sub),
		})
	}
}

// CancelSubscription cancels one of the caller's subscriptions.
func (h *BillingHandler) CancelSubscription() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subscriptionID := chi.URLParam(r, "subscriptionID")

		result, err := h.Canceller.Cancel(r.Context(), auth.UserIDFromContext(r.Context()), subscriptionID)
		if err != nil {
			respondError(w, "CancelSubscription", err)
			return
		}

		payload := map[string]any{"subscription": result.Subscription}
		if result.Partial != nil {
			payload["warnings"] = []string{result.Partial.Error()}
		}
		writeJSON(w, http.StatusOK, payload)
	}
}

// PortalSession opens the provider's self-service billing portal.
func (h *BillingHandler) PortalSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, "PortalSession", billing.ErrNotAuthenticated)
			return
		}

		url, err := h.Portal.Session(r.Context(), userID)
		if err != nil {
			respondError(w, "PortalSession", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

// RunSweep runs a duplicate sweep and returns its report.
func (h *BillingHandler) RunSweep() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := h.Sweeper.Sweep(r.Context())
		if err != nil {
			respondError(w, "RunSweep", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// JobStats reports job queue depth. 404 when the worker is disabled.
func (h *BillingHandler) JobStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Jobs == nil {
			writeError(w, http.StatusNotFound, "job worker disabled")
			return
		}
		stats, err := h.Jobs.GetQueueStats(r.Context())
		if err != nil {
			respondError(w, "JobStats", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// requireAdmin guards operational routes with the static admin token. The
// routes do not exist while no token is configured.
func (h *BillingHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.AdminToken == "" {
			http.NotFound(w, r)
			return
		}
		token, err := auth.BearerToken(r)
		if err != nil || subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
