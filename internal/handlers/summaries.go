package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/tubesum/backend/internal/auth"
	"github.com/PortNumber53/tubesum/backend/internal/billing"
	"github.com/PortNumber53/tubesum/backend/internal/models"
	"github.com/PortNumber53/tubesum/backend/internal/store"
	"github.com/PortNumber53/tubesum/backend/internal/summarizer"
)

// SummaryStore persists summaries.
type SummaryStore interface {
	CreateSummary(ctx context.Context, summary *models.Summary) error
	ListSummaries(ctx context.Context, userID string, limit int) ([]models.Summary, error)
	DeleteSummary(ctx context.Context, userID string, id int64) error
}

// Summarizer produces video summaries.
type Summarizer interface {
	Enabled() bool
	Summarize(ctx context.Context, req summarizer.Request) (*summarizer.Result, summarizer.Request, error)
}

// SummaryHandler serves the summary history routes.
type SummaryHandler struct {
	Store      SummaryStore
	Summarizer Summarizer

	// CreateLimit wraps the create route, typically with a rate limiter.
	CreateLimit func(http.Handler) http.Handler
}

// RegisterRoutes registers summary routes.
func (h *SummaryHandler) RegisterRoutes(router chi.Router) {
	create := http.Handler(h.CreateSummary())
	if h.CreateLimit != nil {
		create = h.CreateLimit(create)
	}
	router.Method(http.MethodPost, "/api/summaries", create)
	router.Get("/api/summaries", h.ListSummaries())
	router.Delete("/api/summaries/{id}", h.DeleteSummary())
}

type createSummaryRequest struct {
	YouTubeURL string `json:"youtube_url"`
	Format     string `json:"summary_format"`
	Length     string `json:"summary_length"`
}

// CreateSummary summarises a video. Signed-in callers get the result saved to
// their history; anonymous results are returned but not stored.
func (h *SummaryHandler) CreateSummary() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Summarizer == nil || !h.Summarizer.Enabled() {
			respondError(w, "CreateSummary", summarizer.ErrUnavailable)
			return
		}

		var payload createSummaryRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if payload.YouTubeURL == "" {
			writeError(w, http.StatusBadRequest, "youtube_url is required")
			return
		}

		userID := auth.UserIDFromContext(r.Context())
		result, sent, err := h.Summarizer.Summarize(r.Context(), summarizer.Request{
			YouTubeURL: payload.YouTubeURL,
			Format:     payload.Format,
			Length:     payload.Length,
			UserID:     userID,
		})
		if err != nil {
			respondError(w, "CreateSummary", err)
			return
		}

		summary := result.Summary(sent)
		if userID != "" {
			if err := h.Store.CreateSummary(r.Context(), summary); err != nil {
				// The caller still gets the summary; only history is lost.
				log.Printf("CreateSummary: failed to save summary for user %s: %v", userID, err)
			}
		}

		writeJSON(w, http.StatusOK, summary)
	}
}

// ListSummaries returns the caller's summary history, newest first.
func (h *SummaryHandler) ListSummaries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, "ListSummaries", billing.ErrNotAuthenticated)
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		summaries, err := h.Store.ListSummaries(r.Context(), userID, limit)
		if err != nil {
			respondError(w, "ListSummaries", err)
			return
		}
		if summaries == nil {
			summaries = []models.Summary{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
	}
}

// DeleteSummary removes one of the caller's summaries.
func (h *SummaryHandler) DeleteSummary() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, "DeleteSummary", billing.ErrNotAuthenticated)
			return
		}

		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid summary id")
			return
		}

		err = h.Store.DeleteSummary(r.Context(), userID, id)
		if errors.Is(err, store.ErrSummaryNotFound) {
			writeError(w, http.StatusNotFound, "summary not found")
			return
		}
		if err != nil {
			respondError(w, "DeleteSummary", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
