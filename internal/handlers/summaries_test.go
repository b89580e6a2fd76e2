package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/tubesum/backend/internal/auth"
	"github.com/PortNumber53/tubesum/backend/internal/billing"
	"github.com/PortNumber53/tubesum/backend/internal/models"
	"github.com/PortNumber53/tubesum/backend/internal/store"
	"github.com/PortNumber53/tubesum/backend/internal/summarizer"
)

type memSummaries struct {
	mu      sync.Mutex
	saved   []models.Summary
	saveErr error
}

func (m *memSummaries) CreateSummary(_ context.Context, s *models.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	s.ID = int64(len(m.saved) + 1)
	m.saved = append(m.saved, *s)
	return nil
}

func (m *memSummaries) ListSummaries(_ context.Context, userID string, limit int) ([]models.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Summary
	for _, s := range m.saved {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSummaries) DeleteSummary(_ context.Context, userID string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.saved {
		if s.ID == id && s.UserID == userID {
			m.saved = append(m.saved[:i], m.saved[i+1:]...)
			return nil
		}
	}
	return store.ErrSummaryNotFound
}

type fakeSummarizer struct {
	disabled bool
	err      error
}

func (f *fakeSummarizer) Enabled() bool { return !f.disabled }

func (f *fakeSummarizer) Summarize(_ context.Context, req summarizer.Request) (*summarizer.Result, summarizer.Request, error) {
	if f.err != nil {
		return nil, req, f.err
	}
	if req.Format == "" {
		req.Format = summarizer.DefaultFormat
	}
	if req.Length == "" {
		req.Length = summarizer.DefaultLength
	}
	return &summarizer.Result{
		VideoTitle: "Never Gonna Give You Up",
		KeyPoints:  []string{"first", "second"},
	}, req, nil
}

func newSummaryRouter(h *SummaryHandler) chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func serveAs(router http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &billing.Identity{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const videoBody = `{"youtube_url":"https://youtu.be/dQw4w9WgXcQ"}`

func TestCreateSummarySavesForSignedInUser(t *testing.T) {
	summaries := &memSummaries{}
	router := newSummaryRouter(&SummaryHandler{Store: summaries, Summarizer: &fakeSummarizer{}})

	rec := serveAs(router, http.MethodPost, "/api/summaries", "user-1", videoBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "Never Gonna Give You Up", body["video_title"])
	require.Len(t, summaries.saved, 1)
	assert.Equal(t, "user-1", summaries.saved[0].UserID)
	assert.Equal(t, "first second", summaries.saved[0].SummaryText)
	assert.Equal(t, summarizer.DefaultFormat, summaries.saved[0].Format)
}

func TestCreateSummaryAnonymousNotSaved(t *testing.T) {
	summaries := &memSummaries{}
	router := newSummaryRouter(&SummaryHandler{Store: summaries, Summarizer: &fakeSummarizer{}})

	rec := serveAs(router, http.MethodPost, "/api/summaries", "", videoBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, summaries.saved)
}

func TestCreateSummarySaveFailureStillResponds(t *testing.T) {
	summaries := &memSummaries{saveErr: assert.AnError}
	router := newSummaryRouter(&SummaryHandler{Store: summaries, Summarizer: &fakeSummarizer{}})

	rec := serveAs(router, http.MethodPost, "/api/summaries", "user-1", videoBody)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSummaryErrors(t *testing.T) {
	cases := []struct {
		name       string
		summarizer *fakeSummarizer
		body       string
		status     int
	}{
		{"disabled", &fakeSummarizer{disabled: true}, videoBody, http.StatusServiceUnavailable},
		{"bad json", &fakeSummarizer{}, `{`, http.StatusBadRequest},
		{"missing url", &fakeSummarizer{}, `{}`, http.StatusBadRequest},
		{"invalid url", &fakeSummarizer{err: summarizer.ErrInvalidURL}, videoBody, http.StatusBadRequest},
		{"service error", &fakeSummarizer{err: &summarizer.ServiceError{StatusCode: 500, Message: "boom"}}, videoBody, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newSummaryRouter(&SummaryHandler{Store: &memSummaries{}, Summarizer: tc.summarizer})
			rec := serveAs(router, http.MethodPost, "/api/summaries", "user-1", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateSummaryUsesLimiter(t *testing.T) {
	calls := 0
	limit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	router := newSummaryRouter(&SummaryHandler{Store: &memSummaries{}, Summarizer: &fakeSummarizer{}, CreateLimit: limit})

	rec := serveAs(router, http.MethodPost, "/api/summaries", "user-1", videoBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, calls)

	rec = serveAs(router, http.MethodGet, "/api/summaries", "user-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestListSummaries(t *testing.T) {
	summaries := &memSummaries{saved: []models.Summary{
		{ID: 1, UserID: "user-1", VideoTitle: "a"},
		{ID: 2, UserID: "user-2", VideoTitle: "b"},
	}}
	router := newSummaryRouter(&SummaryHandler{Store: summaries, Summarizer: &fakeSummarizer{}})

	assert.Equal(t, http.StatusUnauthorized, serveAs(router, http.MethodGet, "/api/summaries", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, serveAs(router, http.MethodGet, "/api/summaries?limit=x", "user-1", "").Code)

	rec := serveAs(router, http.MethodGet, "/api/summaries", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["summaries"], 1)

	rec = serveAs(router, http.MethodGet, "/api/summaries", "user-3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"summaries":[]`)
}

func TestDeleteSummary(t *testing.T) {
	summaries := &memSummaries{saved: []models.Summary{{ID: 1, UserID: "user-1"}}}
	router := newSummaryRouter(&SummaryHandler{Store: summaries, Summarizer: &fakeSummarizer{}})

	assert.Equal(t, http.StatusUnauthorized, serveAs(router, http.MethodDelete, "/api/summaries/1", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, serveAs(router, http.MethodDelete, "/api/summaries/abc", "user-1", "").Code)
	assert.Equal(t, http.StatusNotFound, serveAs(router, http.MethodDelete, "/api/summaries/1", "user-2", "").Code)
	assert.Equal(t, http.StatusNoContent, serveAs(router, http.MethodDelete, "/api/summaries/1", "user-1", "").Code)
	assert.Empty(t, summaries.saved)
}
