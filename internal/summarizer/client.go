// Package summarizer talks to the external video summarization service.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PortNumber53/tubesum/backend/internal/models"
)

const (
	DefaultFormat = "bullets"
	DefaultLength = "brief"

	maxResponseBytes = 1 << 20
)

// ErrInvalidURL is returned when the video URL has no recognisable id.
var ErrInvalidURL = errors.New("summarizer: invalid YouTube URL")

// ErrUnavailable is returned when no service is configured.
var ErrUnavailable = errors.New("summarizer: service not configured")

var (
	videoIDPattern = regexp.MustCompile(`(?:youtu\.be/|/v/|/u/\w/|embed/|watch\?(?:[^#]*&)?v=)([^#&?]*)`)
	validVideoID   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// VideoID extracts the 11 character video id from a YouTube URL.
func VideoID(rawURL string) (string, error) {
	m := videoIDPattern.FindStringSubmatch(strings.TrimSpace(rawURL))
	if m == nil || !validVideoID.MatchString(m[1]) {
		return "", ErrInvalidURL
	}
	return m[1], nil
}

// Request describes one summarization.
type Request struct {
	YouTubeURL string `json:"youtube_url"`
	Format     string `json:"summary_format"`
	Length     string `json:"summary_length"`
	UserID     string `json:"user_id,omitempty"`
}

// Result is the service's answer.
type Result struct {
	VideoTitle    string             `json:"videoTitle"`
	KeyPoints     []string           `json:"keyPoints"`
	Timestamps    []models.Timestamp `json:"timestamps"`
	MainTakeaways []string           `json:"mainTakeaways"`
}

// Summary converts the result into a storable record.
func (r Result) Summary(req Request) *models.Summary {
	return &models.Summary{
		UserID:        req.UserID,
		YouTubeURL:    req.YouTubeURL,
		VideoTitle:    r.VideoTitle,
		SummaryText:   strings.Join(r.KeyPoints, " "),
		KeyPoints:     r.KeyPoints,
		Timestamps:    r.Timestamps,
		MainTakeaways: r.MainTakeaways,
		Format:        req.Format,
		Length:        req.Length,
	}
}

// ServiceError carries a non-2xx answer from the service.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("summarizer: service returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the summarization endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New returns a Client for endpoint. An empty endpoint yields a client whose
// calls fail with ErrUnavailable.
func New(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a service endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

// Summarize validates req, applies defaults, and calls the service. The
// returned Request is the normalised one that was sent.
func (c *Client) Summarize(ctx context.Context, req Request) (*Result, Request, error) {
	if !c.Enabled() {
		return nil, req, ErrUnavailable
	}
	if _, err := VideoID(req.YouTubeURL); err != nil {
		return nil, req, err
	}
	if req.Format == "" {
		req.Format = DefaultFormat
	}
	if req.Length == "" {
		req.Length = DefaultLength
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, req, fmt.Errorf("summarizer: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, req, fmt.Errorf("summarizer: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, req, fmt.Errorf("summarizer: call service: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, req, fmt.Errorf("summarizer: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(payload))
		if json.Unmarshal(payload, &failure) == nil && failure.Error != "" {
			msg = failure.Error
		}
		return nil, req, &ServiceError{StatusCode: resp.StatusCode, Message: msg}
	}

	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, req, fmt.Errorf("summarizer: decode response: %w", err)
	}
	return &result, req, nil
}
