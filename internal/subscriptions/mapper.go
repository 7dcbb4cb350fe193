package subscriptions

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
)

// clinicMetadataKey is attached to every Stripe subscription we create so
// webhook events can be routed back to the owning clinic.
const clinicMetadataKey = "clinic_id"

// MapStripeStatus collapses Stripe's subscription states onto the local enum.
func MapStripeStatus(status stripe.SubscriptionStatus) (enums.SubscriptionStatus, error) {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusActive, nil
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPastDue, nil
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusCanceled, nil
	case stripe.SubscriptionStatusIncomplete:
		return enums.SubscriptionStatusIncomplete, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeDependency, "unrecognized stripe subscription status "+string(status))
	}
}

// ClinicIDFromMetadata extracts the clinic ID attached to Stripe metadata.
func ClinicIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	if metadata == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription metadata is required")
	}
	raw, ok := metadata[clinicMetadataKey]
	if !ok || strings.TrimSpace(raw) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic_id missing from metadata")
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid clinic_id metadata")
	}
	return id, nil
}

func periodEndFromStripe(stripeSub *stripe.Subscription) *time.Time {
	if stripeSub == nil || stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 {
		return nil
	}
	var latest int64
	for _, item := range stripeSub.Items.Data {
		if item != nil && item.CurrentPeriodEnd > latest {
			latest = item.CurrentPeriodEnd
		}
	}
	if latest == 0 {
		return nil
	}
	t := time.Unix(latest, 0).UTC()
	return &t
}

func canceledAtFromStripe(stripeSub *stripe.Subscription) *time.Time {
	if stripeSub == nil || stripeSub.CanceledAt == 0 {
		return nil
	}
	t := time.Unix(stripeSub.CanceledAt, 0).UTC()
	return &t
}
