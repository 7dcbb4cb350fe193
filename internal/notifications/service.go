package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	dbtypes "github.com/fisiohub/clinic-backend/pkg/db/types"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

// Service defines notification creation, listing and state transitions.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Notification, error)
	ListByModule(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, clinicID, notificationID uuid.UUID) error
	Acknowledge(ctx context.Context, clinicID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, clinicID uuid.UUID, recipientUserID *uuid.UUID) (int64, error)
	SweepExpired(ctx context.Context) (int64, error)

	CreateRule(ctx context.Context, input RuleInput) (*models.NotificationRule, error)
	UpdateRule(ctx context.Context, clinicID, ruleID uuid.UUID, input RuleInput) (*models.NotificationRule, error)
	DeleteRule(ctx context.Context, clinicID, ruleID uuid.UUID) error
	GetRule(ctx context.Context, clinicID, ruleID uuid.UUID) (*models.NotificationRule, error)
	ListRules(ctx context.Context, clinicID uuid.UUID) ([]models.NotificationRule, error)
	SeedDefaults(ctx context.Context, clinicID uuid.UUID) (int, error)
}

// CreateInput describes a notification to persist and fan out.
type CreateInput struct {
	ClinicID               uuid.UUID
	EventID                *uuid.UUID
	RuleID                 *uuid.UUID
	Type                   enums.SystemEventType
	SourceModule           enums.Module
	TargetModules          []enums.Module
	Priority               enums.NotificationPriority
	Title                  string
	Message                string
	Data                   json.RawMessage
	ActionURL              *string
	RecipientUserID        *uuid.UUID
	RecipientRole          *enums.UserRole
	RequiresAcknowledgment bool
	ExpiresAt              *time.Time
}

// ListParams configures a per-module notification query.
type ListParams struct {
	ClinicID        uuid.UUID
	TargetModule    enums.Module
	RecipientUserID *uuid.UUID
	RecipientRole   *enums.UserRole
	UnreadOnly      bool
	Limit           int
	Cursor          string
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// RuleInput carries the writable fields of a notification rule.
type RuleInput struct {
	ClinicID            uuid.UUID
	SourceModule        enums.Module
	TargetModules       []enums.Module
	TriggerEvent        enums.SystemEventType
	TitleTemplate       string
	MessageTemplate     string
	ActionURLTemplate   *string
	Priority            enums.NotificationPriority
	RecipientRoles      []enums.UserRole
	RecipientUserIDs    []uuid.UUID
	RequiresAck         bool
	ExpiresAfterSeconds *int64
	IsActive            bool
}

type service struct {
	repo     Repository
	rules    RuleRepository
	registry *SubscriberRegistry
	logg     *logger.Logger
}

// NewService wires notification dependencies.
func NewService(repo Repository, rules RuleRepository, registry *SubscriberRegistry, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if rules == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification rules repository required")
	}
	if registry == nil {
		registry = NewSubscriberRegistry()
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{repo: repo, rules: rules, registry: registry, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Notification, error) {
	if input.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	if input.Title == "" || input.Message == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title and message required")
	}
	targets, err := validateTargetModules(input.TargetModules)
	if err != nil {
		return nil, err
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid event type %q", input.Type))
	}
	if !input.SourceModule.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid source module %q", input.SourceModule))
	}
	priority := input.Priority
	if priority == "" {
		priority = enums.NotificationPriorityMedium
	}
	if !priority.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid priority %q", priority))
	}

	notification := models.Notification{
		ClinicID:               input.ClinicID,
		EventID:                input.EventID,
		RuleID:                 input.RuleID,
		Type:                   input.Type,
		SourceModule:           input.SourceModule,
		TargetModules:          targets,
		Priority:               priority,
		Title:                  input.Title,
		Message:                input.Message,
		Data:                   input.Data,
		ActionURL:              input.ActionURL,
		RecipientUserID:        input.RecipientUserID,
		RecipientRole:          input.RecipientRole,
		RequiresAcknowledgment: input.RequiresAcknowledgment,
		ExpiresAt:              input.ExpiresAt,
	}
	if err := s.repo.Create(ctx, &notification); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create notification")
	}

	s.registry.Notify(notification)
	return &notification, nil
}

func (s *service) ListByModule(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	if !params.TargetModule.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid module %q", params.TargetModule))
	}

	query := listParams{
		ClinicID:        params.ClinicID,
		TargetModule:    params.TargetModule,
		RecipientUserID: params.RecipientUserID,
		RecipientRole:   params.RecipientRole,
		UnreadOnly:      params.UnreadOnly,
		Limit:           params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListByModule(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) MarkRead(ctx context.Context, clinicID, notificationID uuid.UUID) error {
	return s.mark(ctx, clinicID, notificationID, s.repo.MarkRead)
}

func (s *service) Acknowledge(ctx context.Context, clinicID, notificationID uuid.UUID) error {
	return s.mark(ctx, clinicID, notificationID, s.repo.Acknowledge)
}

type markFunc func(ctx context.Context, clinicID, notificationID uuid.UUID, now time.Time) (markResult, error)

// mark is idempotent: a row already marked counts as success.
func (s *service) mark(ctx context.Context, clinicID, notificationID uuid.UUID, fn markFunc) error {
	if clinicID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := fn(ctx, clinicID, notificationID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update notification state")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, clinicID uuid.UUID, recipientUserID *uuid.UUID) (int64, error) {
	if clinicID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	count, err := s.repo.MarkAllRead(ctx, clinicID, recipientUserID, time.Now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

func (s *service) SweepExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete expired notifications")
	}
	if count > 0 {
		s.logg.Info(s.logg.WithField(ctx, "deleted", count), "expired notifications removed")
	}
	return count, nil
}

func (s *service) CreateRule(ctx context.Context, input RuleInput) (*models.NotificationRule, error) {
	rule, err := ruleFromInput(input)
	if err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create notification rule")
	}
	return rule, nil
}

func (s *service) UpdateRule(ctx context.Context, clinicID, ruleID uuid.UUID, input RuleInput) (*models.NotificationRule, error) {
	existing, err := s.rules.GetByID(ctx, clinicID, ruleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "notification rule not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load notification rule")
	}

	input.ClinicID = clinicID
	updated, err := ruleFromInput(input)
	if err != nil {
		return nil, err
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt

	if err := s.rules.Update(ctx, updated); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update notification rule")
	}
	return updated, nil
}

func (s *service) DeleteRule(ctx context.Context, clinicID, ruleID uuid.UUID) error {
	if clinicID == uuid.Nil || ruleID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "clinic id and rule id required")
	}
	deleted, err := s.rules.Delete(ctx, clinicID, ruleID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete notification rule")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification rule not found")
	}
	return nil
}

func (s *service) GetRule(ctx context.Context, clinicID, ruleID uuid.UUID) (*models.NotificationRule, error) {
	rule, err := s.rules.GetByID(ctx, clinicID, ruleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "notification rule not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load notification rule")
	}
	return rule, nil
}

func (s *service) ListRules(ctx context.Context, clinicID uuid.UUID) ([]models.NotificationRule, error) {
	if clinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	rules, err := s.rules.ListByClinic(ctx, clinicID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notification rules")
	}
	return rules, nil
}

// SeedDefaults installs the default rule set for a clinic that has none yet.
func (s *service) SeedDefaults(ctx context.Context, clinicID uuid.UUID) (int, error) {
	if clinicID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	count, err := s.rules.CountByClinic(ctx, clinicID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count notification rules")
	}
	if count > 0 {
		return 0, nil
	}

	seeded := 0
	for _, rule := range defaultRules(clinicID) {
		rule := rule
		if err := s.rules.Create(ctx, &rule); err != nil {
			return seeded, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seed notification rule")
		}
		seeded++
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"clinic_id": clinicID.String(), "rules": seeded}), "default notification rules seeded")
	return seeded, nil
}

func ruleFromInput(input RuleInput) (*models.NotificationRule, error) {
	if input.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	targets, err := validateTargetModules(input.TargetModules)
	if err != nil {
		return nil, err
	}
	if !input.SourceModule.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid source module %q", input.SourceModule))
	}
	if !input.TriggerEvent.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid trigger event %q", input.TriggerEvent))
	}
	if input.TitleTemplate == "" || input.MessageTemplate == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title and message templates required")
	}
	priority := input.Priority
	if priority == "" {
		priority = enums.NotificationPriorityMedium
	}
	if !priority.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid priority %q", priority))
	}

	roles := pq.StringArray{}
	for _, role := range input.RecipientRoles {
		if !role.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid recipient role %q", role))
		}
		roles = append(roles, string(role))
	}
	userIDs := dbtypes.UUIDArray{}
	for _, id := range input.RecipientUserIDs {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient user id cannot be nil")
		}
		userIDs = append(userIDs, id)
	}

	return &models.NotificationRule{
		ClinicID:            input.ClinicID,
		SourceModule:        input.SourceModule,
		TargetModules:       targets,
		TriggerEvent:        input.TriggerEvent,
		TitleTemplate:       input.TitleTemplate,
		MessageTemplate:     input.MessageTemplate,
		ActionURLTemplate:   input.ActionURLTemplate,
		Priority:            priority,
		RecipientRoles:      roles,
		RecipientUserIDs:    userIDs,
		RequiresAck:         input.RequiresAck,
		ExpiresAfterSeconds: input.ExpiresAfterSeconds,
		IsActive:            input.IsActive,
	}, nil
}

func validateTargetModules(targets []enums.Module) (pq.StringArray, error) {
	if len(targets) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one target module required")
	}
	out := pq.StringArray{}
	for _, target := range targets {
		if !target.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid target module %q", target))
		}
		out = append(out, string(target))
	}
	return out, nil
}
