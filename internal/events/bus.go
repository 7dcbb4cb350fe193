package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/config"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/metrics"
	"github.com/fisiohub/clinic-backend/pkg/outbox"
	"github.com/fisiohub/clinic-backend/pkg/outbox/payloads"
)

// Handler reacts to a dispatched system event. Returning an error marks the
// handler as failed without affecting the remaining handlers.
type Handler func(ctx context.Context, event models.SystemEvent) error

// TxRunner executes a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Emitter appends domain events to the transactional outbox.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// TriggerInput describes the event to record and dispatch.
type TriggerInput struct {
	ClinicID   uuid.UUID
	UserID     *uuid.UUID
	Module     enums.Module
	Type       enums.SystemEventType
	Data       map[string]any
	OccurredAt time.Time
}

type subscription struct {
	module  enums.Module
	handler Handler
}

// Bus persists system events and fans them out to in-process subscribers.
// Dispatch is synchronous; the processed flag is flipped afterwards on a
// goroutine tied to the bus lifecycle.
type Bus struct {
	repo    Repository
	tx      TxRunner
	emitter Emitter
	logg    *logger.Logger
	metrics *metrics.EventMetrics

	processedDelay time.Duration

	mtx  sync.RWMutex
	subs map[enums.SystemEventType]map[uint64]subscription
	next uint64

	lifecycle context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewBus wires the event bus. The emitter and metrics are optional.
func NewBus(repo Repository, tx TxRunner, emitter Emitter, logg *logger.Logger, mets *metrics.EventMetrics, cfg config.EventingConfig) (*Bus, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "events repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}

	lifecycle, cancel := context.WithCancel(context.Background())
	return &Bus{
		repo:           repo,
		tx:             tx,
		emitter:        emitter,
		logg:           logg,
		metrics:        mets,
		processedDelay: cfg.ProcessedDelay,
		subs:           make(map[enums.SystemEventType]map[uint64]subscription),
		lifecycle:      lifecycle,
		cancel:         cancel,
	}, nil
}

// Subscribe registers a handler for the event type and returns an
// unsubscribe function bound to this registration.
func (b *Bus) Subscribe(eventType enums.SystemEventType, module enums.Module, handler Handler) (func(), error) {
	if !eventType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid event type %q", eventType))
	}
	if !module.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid module %q", module))
	}
	if handler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "handler required")
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.next++
	token := b.next
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[uint64]subscription)
	}
	b.subs[eventType][token] = subscription{module: module, handler: handler}

	return func() {
		b.mtx.Lock()
		defer b.mtx.Unlock()
		if handlers, ok := b.subs[eventType]; ok {
			delete(handlers, token)
			if len(handlers) == 0 {
				delete(b.subs, eventType)
			}
		}
	}, nil
}

// Trigger persists the event, dispatches it to every subscriber registered
// for its type, and schedules the processed flag flip.
func (b *Bus) Trigger(ctx context.Context, input TriggerInput) (*models.SystemEvent, error) {
	if input.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid event type %q", input.Type))
	}
	if !input.Module.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid module %q", input.Module))
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var data json.RawMessage
	if input.Data != nil {
		encoded, err := json.Marshal(input.Data)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode event data")
		}
		data = encoded
	}

	event := models.SystemEvent{
		ClinicID:   input.ClinicID,
		UserID:     input.UserID,
		Type:       input.Type,
		Module:     input.Module,
		Data:       data,
		OccurredAt: occurredAt,
	}

	err := b.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := b.repo.WithTx(tx).Create(ctx, &event); err != nil {
			return err
		}
		if b.emitter == nil {
			return nil
		}
		return b.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSystemEventRecorded,
			AggregateType: enums.OutboxAggregateSystemEvent,
			AggregateID:   event.ID,
			Data: payloads.SystemEventRecordedEvent{
				EventID:    event.ID,
				ClinicID:   event.ClinicID,
				UserID:     event.UserID,
				Type:       event.Type,
				Module:     event.Module,
				Data:       event.Data,
				OccurredAt: event.OccurredAt,
			},
			Version:    1,
			OccurredAt: event.OccurredAt,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record system event")
	}

	b.dispatch(ctx, event)
	b.scheduleProcessed(event.ID)

	return &event, nil
}

const redispatchBatchSize = 100

// DispatchUnprocessed replays events whose processed flag never got set,
// which happens when the process died between dispatch and the flag flip.
// Subscribers guard against duplicates with their idempotency keys.
func (b *Bus) DispatchUnprocessed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = redispatchBatchSize
	}
	pending, err := b.repo.ListUnprocessed(ctx, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unprocessed events")
	}
	for _, event := range pending {
		b.dispatch(ctx, event)
		b.scheduleProcessed(event.ID)
	}
	return len(pending), nil
}

func (b *Bus) dispatch(ctx context.Context, event models.SystemEvent) {
	b.mtx.RLock()
	handlers := make([]subscription, 0, len(b.subs[event.Type]))
	for _, sub := range b.subs[event.Type] {
		handlers = append(handlers, sub)
	}
	b.mtx.RUnlock()

	logCtx := b.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID.String(),
		"event_type": event.Type,
		"clinic_id":  event.ClinicID.String(),
	})

	started := time.Now()
	for _, sub := range handlers {
		b.invoke(logCtx, sub, event)
	}
	b.metrics.IncDispatched(string(event.Module), string(event.Type))
	b.metrics.ObserveDispatch(string(event.Module), string(event.Type), time.Since(started))
}

func (b *Bus) invoke(ctx context.Context, sub subscription, event models.SystemEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.IncHandlerError(string(sub.module), string(event.Type))
			b.logg.Error(ctx, fmt.Sprintf("event handler panicked (module=%s)", sub.module), fmt.Errorf("panic: %v", r))
		}
	}()
	if err := sub.handler(ctx, event); err != nil {
		b.metrics.IncHandlerError(string(sub.module), string(event.Type))
		b.logg.Error(ctx, fmt.Sprintf("event handler failed (module=%s)", sub.module), err)
	}
}

func (b *Bus) scheduleProcessed(eventID uuid.UUID) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		if b.processedDelay > 0 {
			timer := time.NewTimer(b.processedDelay)
			defer timer.Stop()
			select {
			case <-b.lifecycle.Done():
				return
			case <-timer.C:
			}
		} else if b.lifecycle.Err() != nil {
			return
		}

		if err := b.repo.MarkProcessed(b.lifecycle, eventID); err != nil {
			logCtx := b.logg.WithField(context.Background(), "event_id", eventID.String())
			b.logg.Error(logCtx, "failed to mark event processed", err)
		}
	}()
}

// Close stops pending processed-flag goroutines and waits for them.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}
