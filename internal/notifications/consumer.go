package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/outbox"
	"github.com/fisiohub/clinic-backend/pkg/outbox/idempotency"
	"github.com/fisiohub/clinic-backend/pkg/outbox/payloads"
	"github.com/fisiohub/clinic-backend/pkg/outbox/registry"
)

const systemEventConsumer = "notification-engine"

type eventProcessor interface {
	ProcessSystemEvent(ctx context.Context, event models.SystemEvent) ([]models.Notification, error)
}

// Consumer feeds outbox-published system events into the notification
// engine, so rule processing also covers events recorded by another process.
type Consumer struct {
	engine       eventProcessor
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

// NewConsumer builds a system event consumer for the notification engine.
func NewConsumer(engine eventProcessor, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if engine == nil {
		return nil, fmt.Errorf("notification engine required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("events subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}

	decoders := registry.NewDecoderRegistry()
	decoders.Register(enums.OutboxEventSystemEventRecorded, 1, func(payload json.RawMessage) (interface{}, error) {
		var event payloads.SystemEventRecordedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return &event, nil
	})

	return &Consumer{
		engine:       engine,
		subscription: subscription,
		idempotency:  manager,
		decoders:     decoders,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != string(enums.OutboxEventSystemEventRecorded) {
		c.logg.Info(logCtx, "skipping non system-event message")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, systemEventConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	version := envelope.Version
	if version == 0 {
		version = 1
	}
	decoded, err := c.decoders.Decode(enums.OutboxEventSystemEventRecorded, version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Delete(ctx, systemEventConsumer, eventID)
		return processResult{nack: true}
	}
	payload, ok := decoded.(*payloads.SystemEventRecordedEvent)
	if !ok {
		c.logg.Error(logCtx, "unexpected payload type", fmt.Errorf("decoded %T", decoded))
		_ = c.idempotency.Delete(ctx, systemEventConsumer, eventID)
		return processResult{ack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"system_event_id": payload.EventID.String(),
		"clinic_id":       payload.ClinicID.String(),
	})

	event := models.SystemEvent{
		ID:         payload.EventID,
		ClinicID:   payload.ClinicID,
		UserID:     payload.UserID,
		Type:       payload.Type,
		Module:     payload.Module,
		Data:       payload.Data,
		OccurredAt: payload.OccurredAt,
	}
	if _, err := c.engine.ProcessSystemEvent(ctx, event); err != nil {
		c.logg.Error(logCtx, "rule processing failed", err)
		_ = c.idempotency.Delete(ctx, systemEventConsumer, eventID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}
