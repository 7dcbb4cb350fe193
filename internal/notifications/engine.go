package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fisiohub/clinic-backend/internal/events"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/metrics"
)

// Engine turns system events into notifications by evaluating the clinic's
// active rules and rendering their templates.
type Engine struct {
	service Service
	rules   RuleRepository
	logg    *logger.Logger
	metrics *metrics.EventMetrics
}

// NewEngine wires the rule evaluation engine. Metrics are optional.
func NewEngine(service Service, rules RuleRepository, logg *logger.Logger, mets *metrics.EventMetrics) (*Engine, error) {
	if service == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications service required")
	}
	if rules == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification rules repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Engine{service: service, rules: rules, logg: logg, metrics: mets}, nil
}

type eventSubscriber interface {
	Subscribe(eventType enums.SystemEventType, module enums.Module, handler events.Handler) (func(), error)
}

type processedGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Attach subscribes the engine to every system event type on the bus. The
// guard shares the consumer's idempotency key, so an event rule-processed
// in-process is skipped when its outbox copy arrives through the worker
// (and vice versa). A nil guard disables the check.
func (e *Engine) Attach(bus eventSubscriber, guard processedGuard) error {
	for _, eventType := range enums.SystemEventTypes() {
		handler := func(ctx context.Context, event models.SystemEvent) error {
			if guard != nil {
				already, err := guard.CheckAndMarkProcessed(ctx, systemEventConsumer, event.ID)
				if err != nil {
					return err
				}
				if already {
					return nil
				}
			}
			if _, err := e.ProcessSystemEvent(ctx, event); err != nil {
				if guard != nil {
					_ = guard.Delete(ctx, systemEventConsumer, event.ID)
				}
				return err
			}
			return nil
		}
		if _, err := bus.Subscribe(eventType, enums.ModuleNotifications, handler); err != nil {
			return err
		}
	}
	return nil
}

// Start runs the initial expiry sweep. Recurring sweeps belong to the cron
// worker.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.service.SweepExpired(ctx); err != nil {
		return err
	}
	return nil
}

// ProcessSystemEvent evaluates every active rule matching the event's
// clinic, source module and type, and creates the resulting notifications.
// A failing rule is logged and skipped; the remaining rules still run.
func (e *Engine) ProcessSystemEvent(ctx context.Context, event models.SystemEvent) ([]models.Notification, error) {
	if event.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event clinic id required")
	}

	rules, err := e.rules.Match(ctx, event.ClinicID, event.Module, event.Type)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "match notification rules")
	}
	if len(rules) == 0 {
		return nil, nil
	}

	data := DecodeEventData(event.Data)
	created := []models.Notification{}
	for _, rule := range rules {
		notifications, err := e.applyRule(ctx, event, rule, data)
		if err != nil {
			logCtx := e.logg.WithFields(ctx, map[string]any{
				"rule_id":  rule.ID.String(),
				"event_id": event.ID.String(),
			})
			e.logg.Error(logCtx, "notification rule application failed", err)
			continue
		}
		created = append(created, notifications...)
	}

	e.metrics.IncNotificationsCreated(string(event.Module), len(created))
	return created, nil
}

// applyRule renders the templates and fans out along both recipient axes.
// A rule listing users and roles produces one notification per user plus
// one per role; overlapping recipients are intentionally not deduplicated.
func (e *Engine) applyRule(ctx context.Context, event models.SystemEvent, rule models.NotificationRule, data map[string]any) ([]models.Notification, error) {
	base := CreateInput{
		ClinicID:               event.ClinicID,
		EventID:                &event.ID,
		RuleID:                 &rule.ID,
		Type:                   event.Type,
		SourceModule:           rule.SourceModule,
		TargetModules:          modulesFromStrings(rule.TargetModules),
		Priority:               rule.Priority,
		Title:                  RenderTemplate(rule.TitleTemplate, data),
		Message:                RenderTemplate(rule.MessageTemplate, data),
		Data:                   event.Data,
		RequiresAcknowledgment: rule.RequiresAck,
	}
	if rule.ActionURLTemplate != nil {
		rendered := RenderTemplate(*rule.ActionURLTemplate, data)
		base.ActionURL = &rendered
	}
	if ttl := rule.ExpiresAfter(); ttl > 0 {
		expiresAt := time.Now().UTC().Add(ttl)
		base.ExpiresAt = &expiresAt
	}

	inputs := []CreateInput{}
	for _, userID := range rule.RecipientUserIDs {
		input := base
		id := userID
		input.RecipientUserID = &id
		inputs = append(inputs, input)
	}
	for _, raw := range rule.RecipientRoles {
		role := enums.UserRole(raw)
		input := base
		input.RecipientRole = &role
		inputs = append(inputs, input)
	}
	if len(inputs) == 0 {
		// Broadcast: no recipient axis set.
		inputs = append(inputs, base)
	}

	created := []models.Notification{}
	for _, input := range inputs {
		notification, err := e.service.Create(ctx, input)
		if err != nil {
			return created, err
		}
		created = append(created, *notification)
	}
	return created, nil
}

func modulesFromStrings(raw []string) []enums.Module {
	modules := make([]enums.Module, 0, len(raw))
	for _, value := range raw {
		modules = append(modules, enums.Module(value))
	}
	return modules
}
