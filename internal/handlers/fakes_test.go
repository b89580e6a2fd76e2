package handlers

import (
	"context"
	"sync"

	"github.com/PortNumber53/tubesum/backend/internal/billing"
	"github.com/PortNumber53/tubesum/backend/internal/models"
)

// memStore is a minimal in-memory billing.SubscriptionStore that counts
// writes.
type memStore struct {
	mu     sync.Mutex
	subs   map[string]*models.Subscription
	writes int
	nextID int64
}

func newMemStore(subs ...models.Subscription) *memStore {
	s := &memStore{subs: map[string]*models.Subscription{}}
	for _, sub := range subs {
		s.nextID++
		sub.ID = s.nextID
		cp := sub
		s.subs[sub.StripeSubscriptionID] = &cp
	}
	return s
}

func (s *memStore) filter(keep func(*models.Subscription) bool) []models.Subscription {
	var out []models.Subscription
	for _, sub := range s.subs {
		if keep(sub) {
			out = append(out, *sub)
		}
	}
	return out
}

func (s *memStore) Find(_ context.Context, userID string) ([]models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(sub *models.Subscription) bool { return sub.UserID == userID }), nil
}

func (s *memStore) FindActive(_ context.Context, userID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.IsActive() {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindAllActive(_ context.Context, userID string) ([]models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(sub *models.Subscription) bool { return sub.UserID == userID && sub.IsActive() }), nil
}

func (s *memStore) FindByProviderID(_ context.Context, id string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) UpsertByProviderID(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	cp := *sub
	if existing, ok := s.subs[sub.StripeSubscriptionID]; ok {
		cp.ID = existing.ID
		cp.UserID = existing.UserID
	} else {
		s.nextID++
		cp.ID = s.nextID
	}
	s.subs[sub.StripeSubscriptionID] = &cp
	out := cp
	return &out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, u models.StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
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

func (s *memStore) UsersWithMultipleActive(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	return users, nil
}

func (s *memStore) GetCustomerID(context.Context, string) (string, error) { return "", nil }

func (s *memStore) SaveCustomerID(context.Context, string, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return nil
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) get(id string) models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		return *sub
	}
	return models.Subscription{}
}

var _ billing.SubscriptionStore = (*memStore)(nil)

// stubProvider records cancellations; other calls succeed with fixed ids.
type stubProvider struct {
	mu       sync.Mutex
	canceled []string
}

func (p *stubProvider) CreateCustomer(context.Context, billing.CustomerParams) (string, error) {
	return "cus_stub", nil
}

func (p *stubProvider) CreateCheckoutSession(context.Context, billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{ID: "cs_stub", URL: "https://checkout.example/cs_stub"}, nil
}

func (p *stubProvider) CancelSubscription(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled = append(p.canceled, id)
	return nil
}

func (p *stubProvider) CreatePortalSession(context.Context, string, string) (string, error) {
	return "https://billing.example/portal", nil
}
