package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/PortNumber53/tubesum/backend/internal/billing"
	"github.com/PortNumber53/tubesum/backend/internal/summarizer"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[http] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var providerErr *billing.ProviderError
	var serviceErr *summarizer.ServiceError
	switch {
	case errors.Is(err, billing.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, billing.ErrInvalidPlan),
		errors.Is(err, billing.ErrInvalidSignature),
		errors.Is(err, summarizer.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrCustomerMismatch):
		return http.StatusForbidden
	case errors.Is(err, billing.ErrAlreadyOnPlan):
		return http.StatusConflict
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, summarizer.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &providerErr), errors.As(err, &serviceErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err under op and writes the mapped status. Internal
// errors are not echoed to the client.
func respondError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	log.Printf("%s: %v (status %d)", op, err, status)

	msg := err.Error()
	var providerErr *billing.ProviderError
	switch {
	case status == http.StatusInternalServerError:
		msg = "internal error"
	case errors.As(err, &providerErr) && providerErr.Message != "":
		msg = providerErr.Message
	}
	writeError(w, status, msg)
}
