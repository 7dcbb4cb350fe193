package stripewebhook

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/fisiohub/clinic-backend/internal/subscriptions"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"

	"github.com/google/uuid"
)

type fakeSubscriptions struct {
	mtx     sync.Mutex
	applied []*stripe.Subscription
	err     error
}

func (f *fakeSubscriptions) Create(ctx context.Context, input subscriptions.CreateInput) (*models.Subscription, bool, error) {
	return nil, false, nil
}

func (f *fakeSubscriptions) Cancel(ctx context.Context, clinicID, actorUserID uuid.UUID) (*models.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptions) GetByClinic(ctx context.Context, clinicID uuid.UUID) (*models.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptions) ListPlans(ctx context.Context) ([]models.BillingPlan, error) {
	return nil, nil
}

func (f *fakeSubscriptions) ApplyStripeState(ctx context.Context, stripeSub *stripe.Subscription) (*models.Subscription, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.applied = append(f.applied, stripeSub)
	return &models.Subscription{}, nil
}

type fakeStripeClient struct {
	getResult *stripe.Subscription
	err       error
}

func (f *fakeStripeClient) Create(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return nil, nil
}

func (f *fakeStripeClient) Cancel(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	return nil, nil
}

func (f *fakeStripeClient) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.getResult, nil
}

type fakeStore struct {
	mtx  sync.Mutex
	keys map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: make(map[string]string)}
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.keys[key], nil
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if _, exists := f.keys[key]; exists {
		return false, nil
	}
	f.keys[key] = "1"
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "fh:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(ctx context.Context, keys ...string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func newTestService(t *testing.T, subs *fakeSubscriptions, client *fakeStripeClient) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "stripe:webhook")
	if err != nil {
		t.Fatalf("NewIdempotencyGuard returned error: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Subscriptions: subs,
		StripeClient:  client,
		Guard:         guard,
		Logger:        logger.New(logger.Options{ServiceName: "stripe-webhook-test"}),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc, store
}

func subscriptionEvent(t *testing.T, id string, eventType stripe.EventType) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(stripe.Subscription{ID: "sub_123", Status: stripe.SubscriptionStatusActive})
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	return &stripe.Event{
		ID:   id,
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleEventAppliesSubscriptionState(t *testing.T) {
	subs := &fakeSubscriptions{}
	svc, _ := newTestService(t, subs, &fakeStripeClient{})

	event := subscriptionEvent(t, "evt_1", stripe.EventTypeCustomerSubscriptionUpdated)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent returned error: %v", err)
	}
	if len(subs.applied) != 1 || subs.applied[0].ID != "sub_123" {
		t.Fatalf("subscription state not applied: %v", subs.applied)
	}
}

func TestHandleEventSkipsDuplicates(t *testing.T) {
	subs := &fakeSubscriptions{}
	svc, _ := newTestService(t, subs, &fakeStripeClient{})

	event := subscriptionEvent(t, "evt_dup", stripe.EventTypeCustomerSubscriptionCreated)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("first HandleEvent returned error: %v", err)
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("duplicate HandleEvent returned error: %v", err)
	}
	if len(subs.applied) != 1 {
		t.Fatalf("duplicate should not reprocess, got %d applies", len(subs.applied))
	}
}

func TestHandleEventReleasesMarkOnFailure(t *testing.T) {
	subs := &fakeSubscriptions{err: pkgerrors.New(pkgerrors.CodeInternal, "db down")}
	svc, store := newTestService(t, subs, &fakeStripeClient{})

	event := subscriptionEvent(t, "evt_retry", stripe.EventTypeCustomerSubscriptionUpdated)
	if err := svc.HandleEvent(context.Background(), event); err == nil {
		t.Fatal("expected processing error")
	}
	if len(store.keys) != 0 {
		t.Fatalf("idempotency mark should be released, got %v", store.keys)
	}

	// Retry succeeds once the downstream recovers.
	subs.err = nil
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("retry HandleEvent returned error: %v", err)
	}
	if len(subs.applied) != 1 {
		t.Fatalf("retry should process once, got %d", len(subs.applied))
	}
}

func TestHandleEventFetchesSubscriptionForInvoices(t *testing.T) {
	subs := &fakeSubscriptions{}
	client := &fakeStripeClient{getResult: &stripe.Subscription{ID: "sub_inv", Status: stripe.SubscriptionStatusPastDue}}
	svc, _ := newTestService(t, subs, client)

	raw, _ := json.Marshal(map[string]any{"subscription": "sub_inv"})
	event := &stripe.Event{
		ID:   "evt_inv",
		Type: stripe.EventTypeInvoicePaymentFailed,
		Data: &stripe.EventData{Raw: raw, Object: map[string]any{"subscription": "sub_inv"}},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent returned error: %v", err)
	}
	if len(subs.applied) != 1 || subs.applied[0].ID != "sub_inv" {
		t.Fatalf("invoice event should sync subscription, got %v", subs.applied)
	}
}

func TestHandleEventIgnoresUnknownTypes(t *testing.T) {
	subs := &fakeSubscriptions{}
	svc, _ := newTestService(t, subs, &fakeStripeClient{})

	event := &stripe.Event{ID: "evt_other", Type: "charge.succeeded", Data: &stripe.EventData{}}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent returned error: %v", err)
	}
	if len(subs.applied) != 0 {
		t.Fatalf("unknown type should be ignored, got %d applies", len(subs.applied))
	}
}
