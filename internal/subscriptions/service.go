package subscriptions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/internal/events"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/outbox"
	"github.com/fisiohub/clinic-backend/pkg/outbox/payloads"
)

// EventBus records a system event and dispatches it to subscribers.
type EventBus interface {
	Trigger(ctx context.Context, input events.TriggerInput) (*models.SystemEvent, error)
}

// CreateInput captures the data required to start a clinic subscription.
type CreateInput struct {
	ClinicID         uuid.UUID
	ActorUserID      uuid.UUID
	PlanID           string
	StripeCustomerID string
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              Repository
	StripeClient      StripeSubscriptionClient
	TransactionRunner events.TxRunner
	Emitter           events.Emitter
	Bus               EventBus
	Logger            *logger.Logger
}

// Service defines the clinic subscription lifecycle surface.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Subscription, bool, error)
	Cancel(ctx context.Context, clinicID, actorUserID uuid.UUID) (*models.Subscription, error)
	GetByClinic(ctx context.Context, clinicID uuid.UUID) (*models.Subscription, error)
	ListPlans(ctx context.Context) ([]models.BillingPlan, error)
	ApplyStripeState(ctx context.Context, stripeSub *stripe.Subscription) (*models.Subscription, error)
}

type service struct {
	repo     Repository
	stripe   StripeSubscriptionClient
	txRunner events.TxRunner
	emitter  events.Emitter
	bus      EventBus
	logg     *logger.Logger
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscriptions repository required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	if params.Bus == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "event bus required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		repo:     params.Repo,
		stripe:   params.StripeClient,
		txRunner: params.TransactionRunner,
		emitter:  params.Emitter,
		bus:      params.Bus,
		logg:     params.Logger,
	}, nil
}

// Create starts a Stripe subscription for the clinic. When the clinic already
// has a non-canceled subscription the existing one is returned with created
// set to false.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Subscription, bool, error) {
	if input.ClinicID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	customerID := strings.TrimSpace(input.StripeCustomerID)
	if customerID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "stripe customer id required")
	}

	existing, err := s.repo.GetByClinic(ctx, input.ClinicID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if existing != nil && existing.Status != enums.SubscriptionStatusCanceled {
		return existing, false, nil
	}

	plan, err := s.resolvePlan(ctx, input.PlanID)
	if err != nil {
		return nil, false, err
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(plan.StripePriceID)},
		},
	}
	params.AddMetadata(clinicMetadataKey, input.ClinicID.String())
	if plan.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(plan.TrialDays))
	}

	stripeSub, err := s.stripe.Create(ctx, params)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe subscription")
	}
	status, err := MapStripeStatus(stripeSub.Status)
	if err != nil {
		return nil, false, err
	}

	subscription := existing
	previous := enums.SubscriptionStatus("")
	if subscription == nil {
		subscription = &models.Subscription{ClinicID: input.ClinicID}
	} else {
		previous = subscription.Status
	}
	subscription.PlanID = plan.ID
	subscription.StripeSubscriptionID = &stripeSub.ID
	subscription.Status = status
	subscription.CurrentPeriodEnd = periodEndFromStripe(stripeSub)
	subscription.CanceledAt = nil

	if err := s.persist(ctx, subscription, previous); err != nil {
		return nil, false, err
	}

	if status == enums.SubscriptionStatusActive {
		s.trigger(ctx, subscription, input.ActorUserID, enums.EventSubscriptionActivated, map[string]any{
			"planId":   plan.ID,
			"planName": plan.Name,
		})
	}
	return subscription, true, nil
}

// Cancel ends the clinic subscription immediately on Stripe and mirrors the
// terminal state locally.
func (s *service) Cancel(ctx context.Context, clinicID, actorUserID uuid.UUID) (*models.Subscription, error) {
	if clinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}

	subscription, err := s.repo.GetByClinic(ctx, clinicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if subscription.Status == enums.SubscriptionStatusCanceled {
		return subscription, nil
	}

	if subscription.StripeSubscriptionID != nil {
		if _, err := s.stripe.Cancel(ctx, *subscription.StripeSubscriptionID, &stripe.SubscriptionCancelParams{}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel stripe subscription")
		}
	}

	previous := subscription.Status
	now := time.Now().UTC()
	subscription.Status = enums.SubscriptionStatusCanceled
	subscription.CanceledAt = &now
	if err := s.persist(ctx, subscription, previous); err != nil {
		return nil, err
	}

	s.trigger(ctx, subscription, actorUserID, enums.EventSubscriptionCanceled, map[string]any{
		"planId": subscription.PlanID,
	})
	return subscription, nil
}

func (s *service) GetByClinic(ctx context.Context, clinicID uuid.UUID) (*models.Subscription, error) {
	if clinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	subscription, err := s.repo.GetByClinic(ctx, clinicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	return subscription, nil
}

func (s *service) ListPlans(ctx context.Context) ([]models.BillingPlan, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list billing plans")
	}
	return plans, nil
}

// ApplyStripeState mirrors the remote subscription locally and emits the
// matching system events when the status changed. Webhook ingestion calls
// this with the already-decoded Stripe subscription.
func (s *service) ApplyStripeState(ctx context.Context, stripeSub *stripe.Subscription) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription required")
	}
	status, err := MapStripeStatus(stripeSub.Status)
	if err != nil {
		return nil, err
	}

	subscription, err := s.repo.FindByStripeID(ctx, stripeSub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find subscription")
	}

	previous := enums.SubscriptionStatus("")
	if subscription == nil {
		clinicID, err := ClinicIDFromMetadata(stripeSub.Metadata)
		if err != nil {
			return nil, err
		}
		plan, err := s.repo.GetDefaultPlan(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load default plan")
		}
		subscription = &models.Subscription{
			ClinicID: clinicID,
			PlanID:   plan.ID,
		}
	} else {
		previous = subscription.Status
	}

	subscription.StripeSubscriptionID = &stripeSub.ID
	subscription.Status = status
	subscription.CurrentPeriodEnd = periodEndFromStripe(stripeSub)
	subscription.CanceledAt = canceledAtFromStripe(stripeSub)

	if err := s.persist(ctx, subscription, previous); err != nil {
		return nil, err
	}

	if previous != status {
		switch status {
		case enums.SubscriptionStatusActive:
			s.trigger(ctx, subscription, uuid.Nil, enums.EventSubscriptionActivated, map[string]any{
				"planId": subscription.PlanID,
			})
		case enums.SubscriptionStatusPastDue:
			s.trigger(ctx, subscription, uuid.Nil, enums.EventPaymentOverdue, map[string]any{
				"planId": subscription.PlanID,
			})
		case enums.SubscriptionStatusCanceled:
			s.trigger(ctx, subscription, uuid.Nil, enums.EventSubscriptionCanceled, map[string]any{
				"planId": subscription.PlanID,
			})
		}
	}
	return subscription, nil
}

// persist writes the subscription and the subscription_changed outbox row in
// one transaction.
func (s *service) persist(ctx context.Context, subscription *models.Subscription, previous enums.SubscriptionStatus) error {
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if subscription.ID == uuid.Nil {
			if err := repo.Create(ctx, subscription); err != nil {
				return err
			}
		} else {
			if err := repo.Update(ctx, subscription); err != nil {
				return err
			}
		}
		return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionChanged,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   subscription.ID,
			Data: payloads.SubscriptionChangedEvent{
				SubscriptionID: subscription.ID,
				ClinicID:       subscription.ClinicID,
				PlanID:         subscription.PlanID,
				Status:         subscription.Status,
				PreviousStatus: previous,
				ChangedAt:      time.Now().UTC(),
			},
			Version:    1,
			OccurredAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist subscription")
	}
	return nil
}

func (s *service) resolvePlan(ctx context.Context, planID string) (*models.BillingPlan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		plan, err := s.repo.GetDefaultPlan(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load default plan")
		}
		return plan, nil
	}
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown billing plan "+planID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing plan")
	}
	return plan, nil
}

func (s *service) trigger(ctx context.Context, subscription *models.Subscription, actorUserID uuid.UUID, eventType enums.SystemEventType, data map[string]any) {
	var userID *uuid.UUID
	if actorUserID != uuid.Nil {
		userID = &actorUserID
	}
	if data == nil {
		data = map[string]any{}
	}
	data["subscriptionId"] = subscription.ID.String()
	_, err := s.bus.Trigger(ctx, events.TriggerInput{
		ClinicID:   subscription.ClinicID,
		UserID:     userID,
		Module:     enums.ModuleBilling,
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"subscription_id": subscription.ID.String(),
			"event_type":      string(eventType),
		}), "failed to trigger billing event", err)
	}
}
