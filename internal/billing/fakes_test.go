package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PortNumber53/tubesum/backend/internal/config"
	"github.com/PortNumber53/tubesum/backend/internal/models"
)

var (
	testPrices = config.PriceIDs{Basic: "price_basic", Standard: "price_standard", Pro: "price_pro"}
	fixedNow   = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	errStore   = errors.New("store unavailable")
)

func fixedClock() time.Time { return fixedNow }

func testCatalog() *Catalog {
	c, err := DefaultCatalog(testPrices)
	if err != nil {
		panic(err)
	}
	return c
}

type fakeProvider struct {
	mu         sync.Mutex
	canceled   []string
	cancelErr  map[string]error
	customers  []CustomerParams
	sessions   []CheckoutSessionParams
	portals    []string
	customerID string

	customerErr error
	sessionErr  error
	portalErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{cancelErr: map[string]error{}, customerID: "cus_new"}
}

func (p *fakeProvider) CreateCustomer(_ context.Context, params CustomerParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.customerErr != nil {
		return "", p.customerErr
	}
	p.customers = append(p.customers, params)
	return p.customerID, nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	p.sessions = append(p.sessions, params)
	id := fmt.Sprintf("cs_test_%d", len(p.sessions))
	return &CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.cancelErr[id]; err != nil {
		return err
	}
	p.canceled = append(p.canceled, id)
	return nil
}

func (p *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.portalErr != nil {
		return "", p.portalErr
	}
	p.portals = append(p.portals, customerID)
	return "https://billing.example.com/session?return=" + returnURL, nil
}

// fakeStore keeps records keyed by provider subscription id. created_at
// increases with every insert.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	tick     time.Time
	subs     map[string]*models.Subscription
	profiles map[string]models.Profile

	upsertErr error
	updateErr error
	findErr   error
	saveErr   error
	upserts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tick:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		subs:     map[string]*models.Subscription{},
		profiles: map[string]models.Profile{},
	}
}

// seed inserts a record directly, bypassing error injection.
func (s *fakeStore) seed(sub models.Subscription) models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.tick = s.tick.Add(time.Hour)
	sub.ID = s.nextID
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.tick
	}
	sub.UpdatedAt = sub.CreatedAt
	cp := sub
	s.subs[sub.StripeSubscriptionID] = &cp
	return cp
}

func (s *fakeStore) get(providerID string) models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[providerID]; ok {
		return *sub
	}
	return models.Subscription{}
}

func (s *fakeStore) snapshot() map[string]models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.Subscription, len(s.subs))
	for k, v := range s.subs {
		out[k] = *v
	}
	return out
}

func (s *fakeStore) sorted(filter func(*models.Subscription) bool) []models.Subscription {
	var out []models.Subscription
	for _, sub := range s.subs {
		if filter(sub) {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *fakeStore) Find(_ context.Context, userID string) ([]models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.sorted(func(sub *models.Subscription) bool { return sub.UserID == userID }), nil
}

func (s *fakeStore) FindActive(_ context.Context, userID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	active := s.sorted(func(sub *models.Subscription) bool { return sub.UserID == userID && sub.IsActive() })
	if len(active) == 0 {
		return nil, nil
	}
	return &active[0], nil
}

func (s *fakeStore) FindAllActive(_ context.Context, userID string) ([]models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.sorted(func(sub *models.Subscription) bool { return sub.UserID == userID && sub.IsActive() }), nil
}

func (s *fakeStore) FindByProviderID(_ context.Context, id string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	sub, ok := s.subs[id]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (s *fakeStore) UpsertByProviderID(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	s.upserts++
	if existing, ok := s.subs[sub.StripeSubscriptionID]; ok {
		existing.UserID = sub.UserID
		existing.StripeCustomerID = sub.StripeCustomerID
		existing.StripePriceID = sub.StripePriceID
		existing.Status = sub.Status
		existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
		existing.Amount = sub.Amount
		existing.Currency = sub.Currency
		existing.Interval = sub.Interval
		cp := *existing
		return &cp, nil
	}
	s.nextID++
	s.tick = s.tick.Add(time.Hour)
	cp := *sub
	cp.ID = s.nextID
	cp.CreatedAt = s.tick
	cp.UpdatedAt = s.tick
	s.subs[sub.StripeSubscriptionID] = &cp
	out := cp
	return &out, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, u models.StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return false, s.updateErr
	}
	for _, sub := range s.subs {
		if (u.ID != 0 && sub.ID == u.ID) || (u.ID == 0 && sub.StripeSubscriptionID == u.ProviderSubscriptionID) {
			sub.Status = u.Status
			if u.CanceledAt != nil {
				sub.CanceledAt = u.CanceledAt
			}
			if u.EndsAt != nil {
				sub.EndsAt = u.EndsAt
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) UsersWithMultipleActive(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	counts := map[string]int{}
	for _, sub := range s.subs {
		if sub.IsActive() {
			counts[sub.UserID]++
		}
	}
	var users []string
	for user, n := range counts {
		if n > 1 {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *fakeStore) GetCustomerID(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok || p.StripeCustomerID == nil {
		return "", nil
	}
	return *p.StripeCustomerID, nil
}

func (s *fakeStore) SaveCustomerID(_ context.Context, userID, email, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	id := customerID
	s.profiles[userID] = models.Profile{UserID: userID, Email: email, StripeCustomerID: &id}
	return nil
}

func activeCount(store *fakeStore, userID string) int {
	n := 0
	for _, sub := range store.snapshot() {
		if sub.UserID == userID && sub.IsActive() {
			n++
		}
	}
	return n
}

func timePtr(t time.Time) *time.Time { return &t }
