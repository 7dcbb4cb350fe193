package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/fisiohub/clinic-backend/internal/subscriptions"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
)

// ServiceParams groups dependencies for the webhook ingestion service.
type ServiceParams struct {
	Subscriptions subscriptions.Service
	StripeClient  subscriptions.StripeSubscriptionClient
	Guard         *IdempotencyGuard
	Logger        *logger.Logger
}

// Service routes verified Stripe events into the subscription service.
type Service struct {
	subscriptions subscriptions.Service
	stripe        subscriptions.StripeSubscriptionClient
	guard         *IdempotencyGuard
	logg          *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription service required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe client required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "idempotency guard required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Service{
		subscriptions: params.Subscriptions,
		stripe:        params.StripeClient,
		guard:         params.Guard,
		logg:          params.Logger,
	}, nil
}

// HandleEvent processes one verified Stripe event. Replayed deliveries are
// acknowledged without reprocessing; a processing failure releases the
// idempotency mark so Stripe's retry can land.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	alreadyProcessed, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook idempotency check")
	}
	if alreadyProcessed {
		s.logg.Info(s.logg.WithField(ctx, "stripe_event_id", event.ID), "duplicate stripe event skipped")
		return nil
	}

	if err := s.process(ctx, event); err != nil {
		if delErr := s.guard.Delete(ctx, event.ID); delErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "stripe_event_id", event.ID), "failed to release idempotency mark", delErr)
		}
		return err
	}
	return nil
}

func (s *Service) process(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		_, err := s.subscriptions.ApplyStripeState(ctx, &stripeSub)
		return err
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentFailed:
		subscriptionID := event.GetObjectValue("subscription")
		if subscriptionID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
		}
		stripeSub, err := s.stripe.Get(ctx, subscriptionID, &stripe.SubscriptionParams{})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
		}
		_, err = s.subscriptions.ApplyStripeState(ctx, stripeSub)
		return err
	default:
		return nil
	}
}
