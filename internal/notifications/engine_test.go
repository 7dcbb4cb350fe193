package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fisiohub/clinic-backend/internal/events"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	dbtypes "github.com/fisiohub/clinic-backend/pkg/db/types"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/fisiohub/clinic-backend/pkg/logger"
)

func newTestEngine(t *testing.T, repo *fakeRepository, rules *fakeRuleRepository) *Engine {
	t.Helper()
	svc := newTestService(t, repo, rules, nil)
	engine, err := NewEngine(svc, rules, logger.New(logger.Options{ServiceName: "engine-test"}), nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	return engine
}

func patientCreatedEvent(clinicID uuid.UUID) models.SystemEvent {
	return models.SystemEvent{
		ID:         uuid.New(),
		ClinicID:   clinicID,
		Type:       enums.EventPatientCreated,
		Module:     enums.ModulePatients,
		Data:       json.RawMessage(`{"patientName":"Maria"}`),
		OccurredAt: time.Now().UTC(),
	}
}

func TestProcessSystemEventRendersTemplate(t *testing.T) {
	clinicID := uuid.New()
	repo := &fakeRepository{}
	rules := &fakeRuleRepository{}
	for _, rule := range defaultRules(clinicID) {
		rule := rule
		if err := rules.Create(context.Background(), &rule); err != nil {
			t.Fatalf("seeding rule: %v", err)
		}
	}
	engine := newTestEngine(t, repo, rules)

	created, err := engine.ProcessSystemEvent(context.Background(), patientCreatedEvent(clinicID))
	if err != nil {
		t.Fatalf("ProcessSystemEvent returned error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(created))
	}

	got := created[0]
	if got.Title != "Novo Paciente Cadastrado" {
		t.Fatalf("unexpected title %q", got.Title)
	}
	want := "O paciente Maria foi cadastrado e está disponível para agendamento."
	if got.Message != want {
		t.Fatalf("unexpected message %q", got.Message)
	}
	if got.ClinicID != clinicID {
		t.Fatalf("notification clinic %s differs from event clinic %s", got.ClinicID, clinicID)
	}
	if got.RecipientRole == nil || *got.RecipientRole != enums.RoleReceptionist {
		t.Fatalf("expected receptionist recipient role, got %v", got.RecipientRole)
	}
}

func TestProcessSystemEventDualRecipientAxes(t *testing.T) {
	clinicID := uuid.New()
	userA, userB := uuid.New(), uuid.New()

	rules := &fakeRuleRepository{}
	rule := models.NotificationRule{
		ClinicID:         clinicID,
		SourceModule:     enums.ModulePatients,
		TargetModules:    pq.StringArray{string(enums.ModuleNotifications)},
		TriggerEvent:     enums.EventPatientCreated,
		TitleTemplate:    "Novo Paciente",
		MessageTemplate:  "{{patientName}}",
		Priority:         enums.NotificationPriorityHigh,
		RecipientRoles:   pq.StringArray{string(enums.RoleAdmin)},
		RecipientUserIDs: dbtypes.UUIDArray{userA, userB},
		IsActive:         true,
	}
	if err := rules.Create(context.Background(), &rule); err != nil {
		t.Fatalf("seeding rule: %v", err)
	}

	repo := &fakeRepository{}
	engine := newTestEngine(t, repo, rules)

	created, err := engine.ProcessSystemEvent(context.Background(), patientCreatedEvent(clinicID))
	if err != nil {
		t.Fatalf("ProcessSystemEvent returned error: %v", err)
	}
	// Two user-scoped rows plus one role-scoped row; overlap is intentional.
	if len(created) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(created))
	}

	users := map[uuid.UUID]bool{}
	roles := 0
	for _, n := range created {
		if n.RecipientUserID != nil {
			users[*n.RecipientUserID] = true
		}
		if n.RecipientRole != nil {
			roles++
		}
	}
	if !users[userA] || !users[userB] {
		t.Fatalf("expected notifications for both users, got %v", users)
	}
	if roles != 1 {
		t.Fatalf("expected 1 role-scoped notification, got %d", roles)
	}
}

func TestProcessSystemEventBroadcastWhenNoRecipients(t *testing.T) {
	clinicID := uuid.New()
	rules := &fakeRuleRepository{}
	rule := models.NotificationRule{
		ClinicID:        clinicID,
		SourceModule:    enums.ModuleBackups,
		TargetModules:   pq.StringArray{string(enums.ModuleNotifications)},
		TriggerEvent:    enums.EventBackupCompleted,
		TitleTemplate:   "Backup Concluído",
		MessageTemplate: "Backup da clínica finalizado.",
		IsActive:        true,
	}
	if err := rules.Create(context.Background(), &rule); err != nil {
		t.Fatalf("seeding rule: %v", err)
	}

	repo := &fakeRepository{}
	engine := newTestEngine(t, repo, rules)

	created, err := engine.ProcessSystemEvent(context.Background(), models.SystemEvent{
		ID:         uuid.New(),
		ClinicID:   clinicID,
		Type:       enums.EventBackupCompleted,
		Module:     enums.ModuleBackups,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ProcessSystemEvent returned error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 broadcast notification, got %d", len(created))
	}
	if created[0].RecipientUserID != nil || created[0].RecipientRole != nil {
		t.Fatal("broadcast notification must not carry a recipient")
	}
}

func TestProcessSystemEventIgnoresOtherClinics(t *testing.T) {
	clinicID := uuid.New()
	rules := &fakeRuleRepository{}
	for _, rule := range defaultRules(uuid.New()) { // rules belong to a different clinic
		rule := rule
		if err := rules.Create(context.Background(), &rule); err != nil {
			t.Fatalf("seeding rule: %v", err)
		}
	}

	repo := &fakeRepository{}
	engine := newTestEngine(t, repo, rules)

	created, err := engine.ProcessSystemEvent(context.Background(), patientCreatedEvent(clinicID))
	if err != nil {
		t.Fatalf("ProcessSystemEvent returned error: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("expected no notifications across clinics, got %d", len(created))
	}
}

func TestProcessSystemEventSkipsInactiveRules(t *testing.T) {
	clinicID := uuid.New()
	rules := &fakeRuleRepository{}
	rule := models.NotificationRule{
		ClinicID:        clinicID,
		SourceModule:    enums.ModulePatients,
		TargetModules:   pq.StringArray{string(enums.ModuleNotifications)},
		TriggerEvent:    enums.EventPatientCreated,
		TitleTemplate:   "t",
		MessageTemplate: "m",
		IsActive:        false,
	}
	if err := rules.Create(context.Background(), &rule); err != nil {
		t.Fatalf("seeding rule: %v", err)
	}

	engine := newTestEngine(t, &fakeRepository{}, rules)

	created, err := engine.ProcessSystemEvent(context.Background(), patientCreatedEvent(clinicID))
	if err != nil {
		t.Fatalf("ProcessSystemEvent returned error: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("inactive rule must not fire, got %d notifications", len(created))
	}
}

type fakeBus struct {
	handlers map[enums.SystemEventType][]events.Handler
}

func (f *fakeBus) Subscribe(eventType enums.SystemEventType, _ enums.Module, handler events.Handler) (func(), error) {
	if f.handlers == nil {
		f.handlers = map[enums.SystemEventType][]events.Handler{}
	}
	f.handlers[eventType] = append(f.handlers[eventType], handler)
	return func() {}, nil
}

func (f *fakeBus) deliver(t *testing.T, event models.SystemEvent) error {
	t.Helper()
	handlers := f.handlers[event.Type]
	if len(handlers) != 1 {
		t.Fatalf("expected 1 handler for %s, got %d", event.Type, len(handlers))
	}
	return handlers[0](context.Background(), event)
}

type memoryGuard struct {
	marked map[string]bool
}

func (g *memoryGuard) key(consumer string, eventID uuid.UUID) string {
	return consumer + ":" + eventID.String()
}

func (g *memoryGuard) CheckAndMarkProcessed(_ context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if g.marked == nil {
		g.marked = map[string]bool{}
	}
	key := g.key(consumer, eventID)
	if g.marked[key] {
		return true, nil
	}
	g.marked[key] = true
	return false, nil
}

func (g *memoryGuard) Delete(_ context.Context, consumer string, eventID uuid.UUID) error {
	delete(g.marked, g.key(consumer, eventID))
	return nil
}

func TestAttachedEngineProcessesEachEventOnce(t *testing.T) {
	clinicID := uuid.New()
	rules := &fakeRuleRepository{}
	for _, rule := range defaultRules(clinicID) {
		rule := rule
		if err := rules.Create(context.Background(), &rule); err != nil {
			t.Fatalf("seeding rule: %v", err)
		}
	}

	repo := &fakeRepository{}
	engine := newTestEngine(t, repo, rules)
	bus := &fakeBus{}
	guard := &memoryGuard{}
	if err := engine.Attach(bus, guard); err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}

	event := patientCreatedEvent(clinicID)

	// Same persisted event arrives twice: once through the in-process bus
	// and once replayed from the outbox consumer.
	if err := bus.deliver(t, event); err != nil {
		t.Fatalf("first delivery returned error: %v", err)
	}
	first := len(repo.created)
	if first == 0 {
		t.Fatal("expected notifications from first delivery")
	}
	if err := bus.deliver(t, event); err != nil {
		t.Fatalf("second delivery returned error: %v", err)
	}
	if len(repo.created) != first {
		t.Fatalf("duplicate delivery created more notifications: %d -> %d", first, len(repo.created))
	}

	// The consumer path checks the same key, so it must see the event as done.
	already, err := guard.CheckAndMarkProcessed(context.Background(), systemEventConsumer, event.ID)
	if err != nil {
		t.Fatalf("guard check returned error: %v", err)
	}
	if !already {
		t.Fatal("expected shared idempotency key to be marked after in-process delivery")
	}
}

func TestAttachedEngineReleasesKeyOnFailure(t *testing.T) {
	engine := newTestEngine(t, &fakeRepository{}, &fakeRuleRepository{})
	bus := &fakeBus{}
	guard := &memoryGuard{}
	if err := engine.Attach(bus, guard); err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}

	// Missing clinic id makes processing fail after the key was marked.
	event := models.SystemEvent{
		ID:         uuid.New(),
		Type:       enums.EventPatientCreated,
		Module:     enums.ModulePatients,
		OccurredAt: time.Now().UTC(),
	}
	if err := bus.deliver(t, event); err == nil {
		t.Fatal("expected processing error for event without clinic id")
	}

	already, err := guard.CheckAndMarkProcessed(context.Background(), systemEventConsumer, event.ID)
	if err != nil {
		t.Fatalf("guard check returned error: %v", err)
	}
	if already {
		t.Fatal("failed processing must release the idempotency key for retry")
	}
}

func TestProcessSystemEventAppliesRuleTTL(t *testing.T) {
	clinicID := uuid.New()
	ttl := int64(3600)
	rules := &fakeRuleRepository{}
	rule := models.NotificationRule{
		ClinicID:            clinicID,
		SourceModule:        enums.ModulePatients,
		TargetModules:       pq.StringArray{string(enums.ModuleNotifications)},
		TriggerEvent:        enums.EventPatientCreated,
		TitleTemplate:       "t",
		MessageTemplate:     "m",
		ExpiresAfterSeconds: &ttl,
		IsActive:            true,
	}
	if err := rules.Create(context.Background(), &rule); err != nil {
		t.Fatalf("seeding rule: %v", err)
	}

	engine := newTestEngine(t, &fakeRepository{}, rules)

	created, err := engine.ProcessSystemEvent(context.Background(), patientCreatedEvent(clinicID))
	if err != nil {
		t.Fatalf("ProcessSystemEvent returned error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(created))
	}
	if created[0].ExpiresAt == nil {
		t.Fatal("expected expires_at to be set from the rule TTL")
	}
	remaining := time.Until(*created[0].ExpiresAt)
	if remaining < 59*time.Minute || remaining > 61*time.Minute {
		t.Fatalf("expires_at outside expected window: %s", remaining)
	}
}
