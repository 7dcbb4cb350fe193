package payloads

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fisiohub/clinic-backend/pkg/enums"
)

// SystemEventRecordedEvent mirrors a persisted bus event for out-of-process consumers.
type SystemEventRecordedEvent struct {
	EventID    uuid.UUID             `json:"event_id"`
	ClinicID   uuid.UUID             `json:"clinic_id"`
	UserID     *uuid.UUID            `json:"user_id,omitempty"`
	Type       enums.SystemEventType `json:"type"`
	Module     enums.Module          `json:"module"`
	Data       json.RawMessage       `json:"data"`
	OccurredAt time.Time             `json:"occurred_at"`
}

// SubscriptionChangedEvent announces a billing subscription transition.
type SubscriptionChangedEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	ClinicID       uuid.UUID                `json:"clinic_id"`
	PlanID         string                   `json:"plan_id"`
	Status         enums.SubscriptionStatus `json:"status"`
	PreviousStatus enums.SubscriptionStatus `json:"previous_status,omitempty"`
	ChangedAt      time.Time                `json:"changed_at"`
}
