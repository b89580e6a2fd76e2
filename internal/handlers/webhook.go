package handlers

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/PortNumber53/tubesum/backend/internal/billing"
)

const maxWebhookBody = 64 << 10

// EventVerifier authenticates a raw webhook payload and decodes it.
type EventVerifier func(payload []byte, signatureHeader, secret string) (billing.Event, error)

// EventReconciler applies a verified event to local state.
type EventReconciler interface {
	Reconcile(ctx context.Context, event billing.Event) (*billing.ReconcileResult, error)
}

// StripeWebhook verifies and reconciles Stripe subscription events. Nothing
// reaches the reconciler unless the signature checks out.
func StripeWebhook(secret string, verify EventVerifier, reconciler EventReconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			log.Printf("[webhook] signing secret is not configured")
			writeError(w, http.StatusInternalServerError, "webhook secret not configured")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		header := r.Header.Get("Stripe-Signature")
		if header == "" {
			writeError(w, http.StatusBadRequest, "missing Stripe-Signature header")
			return
		}

		event, err := verify(body, header, secret)
		if err != nil {
			log.Printf("[webhook] rejected payload: %v", err)
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}

		log.Printf("[webhook] received event %s (type: %s)", event.EventID(), event.EventType())

		result, err := reconciler.Reconcile(r.Context(), event)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to process event")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"received": true,
			"outcome":  result.Outcome,
		})
	}
}
