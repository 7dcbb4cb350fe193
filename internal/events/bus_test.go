package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/config"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/outbox"
)

type fakeRepo struct {
	mtx         sync.Mutex
	created     []models.SystemEvent
	processed   []uuid.UUID
	unprocessed []models.SystemEvent
	createErr   error
	listErr     error
}

func (f *fakeRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepo) Create(ctx context.Context, event *models.SystemEvent) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	f.created = append(f.created, *event)
	return nil
}

func (f *fakeRepo) MarkProcessed(ctx context.Context, eventID uuid.UUID) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.processed = append(f.processed, eventID)
	return nil
}

func (f *fakeRepo) ListUnprocessed(ctx context.Context, limit int) ([]models.SystemEvent, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.unprocessed) > limit {
		return f.unprocessed[:limit], nil
	}
	return f.unprocessed, nil
}

func (f *fakeRepo) processedCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.processed)
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeEmitter struct {
	mtx    sync.Mutex
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.events = append(f.events, event)
	return nil
}

func newTestBus(t *testing.T, repo *fakeRepo, emitter Emitter) *Bus {
	t.Helper()
	bus, err := NewBus(repo, fakeTxRunner{}, emitter, testLogger(), nil, config.EventingConfig{ProcessedDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewBus returned error: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "events-test"})
}

func TestTriggerRequiresClinicID(t *testing.T) {
	bus := newTestBus(t, &fakeRepo{}, nil)

	_, err := bus.Trigger(context.Background(), TriggerInput{
		Module: enums.ModulePatients,
		Type:   enums.EventPatientCreated,
	})
	if err == nil {
		t.Fatal("expected validation error for missing clinic id")
	}
}

func TestTriggerPersistsAndDispatches(t *testing.T) {
	repo := &fakeRepo{}
	emitter := &fakeEmitter{}
	bus := newTestBus(t, repo, emitter)

	var delivered []models.SystemEvent
	unsubscribe, err := bus.Subscribe(enums.EventPatientCreated, enums.ModuleNotifications, func(ctx context.Context, event models.SystemEvent) error {
		delivered = append(delivered, event)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer unsubscribe()

	clinicID := uuid.New()
	event, err := bus.Trigger(context.Background(), TriggerInput{
		ClinicID: clinicID,
		Module:   enums.ModulePatients,
		Type:     enums.EventPatientCreated,
		Data:     map[string]any{"patientName": "Maria"},
	})
	if err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected 1 persisted event, got %d", len(repo.created))
	}
	if len(delivered) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(delivered))
	}
	if delivered[0].ClinicID != clinicID {
		t.Fatalf("delivered event clinic mismatch: %s", delivered[0].ClinicID)
	}
	if event.Processed {
		t.Fatal("event must not be processed synchronously")
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected 1 outbox emission, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType != enums.OutboxEventSystemEventRecorded {
		t.Fatalf("unexpected outbox event type %s", emitter.events[0].EventType)
	}
}

func TestTriggerIsolatesHandlerFailures(t *testing.T) {
	repo := &fakeRepo{}
	bus := newTestBus(t, repo, nil)

	calls := 0
	if _, err := bus.Subscribe(enums.EventPatientCreated, enums.ModuleNotifications, func(ctx context.Context, event models.SystemEvent) error {
		return errors.New("handler failure")
	}); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if _, err := bus.Subscribe(enums.EventPatientCreated, enums.ModuleAudit, func(ctx context.Context, event models.SystemEvent) error {
		panic("handler panic")
	}); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if _, err := bus.Subscribe(enums.EventPatientCreated, enums.ModuleBackups, func(ctx context.Context, event models.SystemEvent) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	if _, err := bus.Trigger(context.Background(), TriggerInput{
		ClinicID: uuid.New(),
		Module:   enums.ModulePatients,
		Type:     enums.EventPatientCreated,
	}); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected healthy handler to run once, got %d", calls)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	repo := &fakeRepo{}
	bus := newTestBus(t, repo, nil)

	calls := 0
	unsubscribe, err := bus.Subscribe(enums.EventAppointmentScheduled, enums.ModuleNotifications, func(ctx context.Context, event models.SystemEvent) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	input := TriggerInput{
		ClinicID: uuid.New(),
		Module:   enums.ModuleAppointments,
		Type:     enums.EventAppointmentScheduled,
	}
	if _, err := bus.Trigger(context.Background(), input); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	unsubscribe()
	if _, err := bus.Trigger(context.Background(), input); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected exactly one delivery before unsubscribe, got %d", calls)
	}
}

func TestProcessedFlagFlippedAsync(t *testing.T) {
	repo := &fakeRepo{}
	bus := newTestBus(t, repo, nil)

	if _, err := bus.Trigger(context.Background(), TriggerInput{
		ClinicID: uuid.New(),
		Module:   enums.ModulePatients,
		Type:     enums.EventPatientCreated,
	}); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for repo.processedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("processed flag was never flipped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatchUnprocessedReplaysPendingEvents(t *testing.T) {
	clinicID := uuid.New()
	repo := &fakeRepo{
		unprocessed: []models.SystemEvent{
			{ID: uuid.New(), ClinicID: clinicID, Module: enums.ModulePatients, Type: enums.EventPatientCreated},
			{ID: uuid.New(), ClinicID: clinicID, Module: enums.ModulePatients, Type: enums.EventPatientCreated},
		},
	}
	bus := newTestBus(t, repo, nil)

	var delivered []uuid.UUID
	if _, err := bus.Subscribe(enums.EventPatientCreated, enums.ModuleNotifications, func(ctx context.Context, event models.SystemEvent) error {
		delivered = append(delivered, event.ID)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	count, err := bus.DispatchUnprocessed(context.Background(), 0)
	if err != nil {
		t.Fatalf("DispatchUnprocessed returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 replayed events, got %d", count)
	}
	if len(delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(delivered))
	}

	deadline := time.Now().Add(2 * time.Second)
	for repo.processedCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("replayed events were never marked processed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatchUnprocessedHonorsLimit(t *testing.T) {
	repo := &fakeRepo{}
	for i := 0; i < 5; i++ {
		repo.unprocessed = append(repo.unprocessed, models.SystemEvent{
			ID:       uuid.New(),
			ClinicID: uuid.New(),
			Module:   enums.ModulePatients,
			Type:     enums.EventPatientCreated,
		})
	}
	bus := newTestBus(t, repo, nil)

	count, err := bus.DispatchUnprocessed(context.Background(), 3)
	if err != nil {
		t.Fatalf("DispatchUnprocessed returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 replayed events, got %d", count)
	}
}

func TestSubscribeRejectsInvalidInput(t *testing.T) {
	bus := newTestBus(t, &fakeRepo{}, nil)

	if _, err := bus.Subscribe("bogus", enums.ModulePatients, func(ctx context.Context, event models.SystemEvent) error { return nil }); err == nil {
		t.Fatal("expected error for invalid event type")
	}
	if _, err := bus.Subscribe(enums.EventPatientCreated, enums.ModulePatients, nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}
