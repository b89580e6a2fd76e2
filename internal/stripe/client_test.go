package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/tubesum/backend/internal/billing"
)

type recordedRequest struct {
	Method string
	Path   string
	Form   url.Values
	Header http.Header
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Form: r.PostForm, Header: r.Header.Clone()})
	status, body := f.status, f.body
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeAPI) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{SecretKey: "sk_test_123", BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
}

func TestCreateCustomer(t *testing.T) {
	api := &fakeAPI{body: `{"id":"cus_123","object":"customer"}`}
	c := newTestClient(t, api)

	id, err := c.CreateCustomer(context.Background(), billing.CustomerParams{
		Email:          "viewer@example.com",
		Metadata:       map[string]string{"userId": "user-1"},
		IdempotencyKey: "customer-key",
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_123", id)

	req := api.last(t)
	assert.Equal(t, "/v1/customers", req.Path)
	assert.Equal(t, "viewer@example.com", req.Form.Get("email"))
	assert.Equal(t, "user-1", req.Form.Get("metadata[userId]"))
	assert.Equal(t, "customer-key", req.Header.Get("Idempotency-Key"))
}

func TestCreateCheckoutSession(t *testing.T) {
	api := &fakeAPI{body: `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`}
	c := newTestClient(t, api)

	sess, err := c.CreateCheckoutSession(context.Background(), billing.CheckoutSessionParams{
		CustomerID:  "cus_1",
		PriceID:     "price_pro",
		UserID:      "user-1",
		UpgradeFrom: "sub_old",
		SuccessURL:  "http://localhost:3000/settings?upgraded=true",
		CancelURL:   "http://localhost:3000/pricing?canceled=true",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", sess.URL)

	form := api.last(t).Form
	assert.Equal(t, "subscription", form.Get("mode"))
	assert.Equal(t, "price_pro", form.Get("line_items[0][price]"))
	assert.Equal(t, "1", form.Get("line_items[0][quantity]"))
	assert.Equal(t, "cus_1", form.Get("customer"))
	assert.Equal(t, "user-1", form.Get("client_reference_id"))
	assert.Equal(t, "user-1", form.Get("metadata[userId]"))
	assert.Equal(t, "sub_old", form.Get("metadata[upgradeFrom]"))
	assert.Equal(t, "user-1", form.Get("subscription_data[metadata][userId]"))
	assert.Equal(t, "sub_old", form.Get("subscription_data[metadata][upgradeFrom]"))
}

func TestCancelSubscription(t *testing.T) {
	api := &fakeAPI{body: `{"id":"sub_1","object":"subscription","status":"canceled"}`}
	c := newTestClient(t, api)

	require.NoError(t, c.CancelSubscription(context.Background(), "sub_1"))
	assert.Equal(t, "/v1/subscriptions/sub_1", api.last(t).Path)
}

func TestCreatePortalSession(t *testing.T) {
	api := &fakeAPI{body: `{"id":"bps_1","object":"billing_portal.session","url":"https://billing.stripe.com/p/session/bps_1"}`}
	c := newTestClient(t, api)

	url, err := c.CreatePortalSession(context.Background(), "cus_1", "http://localhost:3000/settings")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session/bps_1", url)

	req := api.last(t)
	assert.Equal(t, "/v1/billing_portal/sessions", req.Path)
	assert.Equal(t, "cus_1", req.Form.Get("customer"))
	assert.Equal(t, "http://localhost:3000/settings", req.Form.Get("return_url"))
}

func TestAPIErrorBecomesProviderError(t *testing.T) {
	api := &fakeAPI{
		status: http.StatusBadRequest,
		body:   `{"error":{"type":"invalid_request_error","message":"No such price: 'price_missing'"}}`,
	}
	c := newTestClient(t, api)

	_, err := c.CreateCheckoutSession(context.Background(), billing.CheckoutSessionParams{PriceID: "price_missing", UserID: "user-1"})

	var pe *billing.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "create checkout session", pe.Op)
	assert.Equal(t, "No such price: 'price_missing'", pe.Message)
}

func TestTimeoutBecomesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{SecretKey: "sk_test_123", BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	err = c.CancelSubscription(context.Background(), "sub_1")

	var pe *billing.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "cancel subscription", pe.Op)
}
