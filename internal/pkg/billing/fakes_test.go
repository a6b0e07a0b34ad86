package billing

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelConvert/app/models"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/clerk"
)

type memoryRepo struct {
	mu            sync.Mutex
	customers     map[string]*models.BillingCustomer // by user id
	subscriptions map[string]*models.BillingSubscription
	events        map[string]*models.BillingWebhookEvent
	nextID        uint
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		customers:     map[string]*models.BillingCustomer{},
		subscriptions: map[string]*models.BillingSubscription{},
		events:        map[string]*models.BillingWebhookEvent{},
	}
}

func (r *memoryRepo) UpsertCustomer(_ context.Context, c *models.BillingCustomer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.customers[c.UserID] = &cp
	return nil
}

func (r *memoryRepo) GetCustomerByUserID(_ context.Context, userID string) (*models.BillingCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.customers[userID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) GetCustomerByCustomerID(_ context.Context, customerID string) (*models.BillingCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.CustomerID == customerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) UpsertSubscription(_ context.Context, sub *models.BillingSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subscriptions[sub.SubscriptionID] = &cp
	return nil
}

func (r *memoryRepo) GetSubscription(_ context.Context, subscriptionID string) (*models.BillingSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subscriptions[subscriptionID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) GetLatestSubscriptionByUser(_ context.Context, userID string) (*models.BillingSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.BillingSubscription
	for _, s := range r.subscriptions {
		if s.UserID == userID && (latest == nil || s.LastEventAt.After(latest.LastEventAt)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *memoryRepo) CreateWebhookEventIfNotExists(_ context.Context, e *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := e.Provider + "/" + e.ProviderEventID
	if existing, ok := r.events[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.nextID++
	cp := *e
	cp.ID = r.nextID
	r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *memoryRepo) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			now := e.CreatedAt
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type fakeGateway struct {
	mu            sync.Mutex
	subscriptions map[string]*SubscriptionSnapshot
	checkouts     []CheckoutRequest
	portalFor     string
	err           error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{subscriptions: map[string]*SubscriptionSnapshot{}}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.checkouts = append(g.checkouts, req)
	return &CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.portalFor = customerID
	return "https://billing.stripe.test/p/" + customerID, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, id string) (*SubscriptionSnapshot, error) {
	return g.setCancel(id, true)
}

func (g *fakeGateway) ResumeSubscription(ctx context.Context, id string) (*SubscriptionSnapshot, error) {
	return g.setCancel(id, false)
}

func (g *fakeGateway) setCancel(id string, cancel bool) (*SubscriptionSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	snap, ok := g.subscriptions[id]
	if !ok {
		return nil, &ProviderError{StatusCode: 404, Code: "resource_missing", Message: "No such subscription"}
	}
	snap.CancelAtPeriodEnd = cancel
	if cancel {
		snap.CancelAt = snap.CurrentPeriodEnd
	} else {
		snap.CancelAt = nil
	}
	cp := *snap
	return &cp, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*SubscriptionSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	snap, ok := g.subscriptions[id]
	if !ok {
		return nil, &ProviderError{StatusCode: 404, Message: "No such subscription"}
	}
	cp := *snap
	return &cp, nil
}

type fakeMetadata struct {
	mu      sync.Mutex
	patches map[string][]map[string]interface{}
	err     error
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{patches: map[string][]map[string]interface{}{}}
}

func (m *fakeMetadata) UpdatePublicMetadata(_ context.Context, userID string, patch map[string]interface{}) (*clerk.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.patches[userID] = append(m.patches[userID], patch)
	return &clerk.User{ID: userID}, nil
}

func (m *fakeMetadata) last(userID string) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.patches[userID]
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1]
}

func (m *fakeMetadata) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patches[userID])
}

var errClerkDown = errors.New("clerk unavailable")
