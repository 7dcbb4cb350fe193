package enums

import "fmt"

// OutboxEventType maps to the event_type_enum used by outbox_events.
type OutboxEventType string

const (
	// OutboxEventSystemEventRecorded wraps a bus SystemEvent for out-of-process consumers.
	OutboxEventSystemEventRecorded OutboxEventType = "system_event_recorded"
	// OutboxEventSubscriptionChanged announces billing subscription transitions.
	OutboxEventSubscriptionChanged OutboxEventType = "subscription_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	OutboxEventSystemEventRecorded,
	OutboxEventSubscriptionChanged,
}

// IsValid checks whether the event type matches the canonical enum.
func (t OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw strings into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxAggregateType maps to the aggregate_type_enum used by outbox_events.
type OutboxAggregateType string

const (
	OutboxAggregateSystemEvent  OutboxAggregateType = "system_event"
	OutboxAggregateClinic       OutboxAggregateType = "clinic"
	OutboxAggregateSubscription OutboxAggregateType = "subscription"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	OutboxAggregateSystemEvent,
	OutboxAggregateClinic,
	OutboxAggregateSubscription,
}

// IsValid checks whether the aggregate type matches the canonical enum.
func (t OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == t {
			return true
		}
	}
	return false
}
