package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fisiohub/clinic-backend/api/middleware"
	"github.com/fisiohub/clinic-backend/api/responses"
	"github.com/fisiohub/clinic-backend/api/validators"
	"github.com/fisiohub/clinic-backend/internal/notifications"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

// ListNotifications returns paginated notifications for one module panel.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		module, err := enums.ParseModule(strings.TrimSpace(r.URL.Query().Get("module")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid module"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := notifications.ListParams{
			ClinicID:     clinicID,
			TargetModule: module,
			Limit:        limit,
			Cursor:       strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if unread := strings.TrimSpace(r.URL.Query().Get("unreadOnly")); unread != "" {
			value, err := strconv.ParseBool(unread)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid unreadOnly value"))
				return
			}
			params.UnreadOnly = value
		}
		if actorRaw := middleware.UserIDFromContext(r.Context()); actorRaw != "" {
			if actorID, err := uuid.Parse(actorRaw); err == nil {
				params.RecipientUserID = &actorID
			}
		}
		if roleRaw := middleware.RoleFromContext(r.Context()); roleRaw != "" {
			if role, err := enums.ParseUserRole(roleRaw); err == nil {
				params.RecipientRole = &role
			}
		}
		result, err := svc.ListByModule(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// MarkNotificationRead flags a single notification as read.
func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		notificationID, err := pathUUID(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.MarkRead(r.Context(), clinicID, notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "read"})
	}
}

// AcknowledgeNotification confirms receipt of a notification that demands it.
func AcknowledgeNotification(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		notificationID, err := pathUUID(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Acknowledge(r.Context(), clinicID, notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "acknowledged"})
	}
}

// MarkAllNotificationsRead flags every unread notification visible to the actor.
func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var recipient *uuid.UUID
		if actorRaw := middleware.UserIDFromContext(r.Context()); actorRaw != "" {
			if actorID, err := uuid.Parse(actorRaw); err == nil {
				recipient = &actorID
			}
		}
		count, err := svc.MarkAllRead(r.Context(), clinicID, recipient)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": count})
	}
}

type ruleRequest struct {
	SourceModule        string   `json:"source_module" validate:"required"`
	TargetModules       []string `json:"target_modules" validate:"required,min=1"`
	TriggerEvent        string   `json:"trigger_event" validate:"required"`
	TitleTemplate       string   `json:"title_template" validate:"required,max=300"`
	MessageTemplate     string   `json:"message_template" validate:"required,max=2000"`
	ActionURLTemplate   *string  `json:"action_url_template,omitempty"`
	Priority            string   `json:"priority" validate:"required"`
	RecipientRoles      []string `json:"recipient_roles,omitempty"`
	RecipientUserIDs    []string `json:"recipient_user_ids,omitempty"`
	RequiresAck         bool     `json:"requires_acknowledgment"`
	ExpiresAfterSeconds *int64   `json:"expires_after_seconds,omitempty"`
	IsActive            *bool    `json:"is_active,omitempty"`
}

func (req ruleRequest) toInput(clinicID uuid.UUID) (notifications.RuleInput, error) {
	input := notifications.RuleInput{
		ClinicID:            clinicID,
		TitleTemplate:       req.TitleTemplate,
		MessageTemplate:     req.MessageTemplate,
		ActionURLTemplate:   req.ActionURLTemplate,
		RequiresAck:         req.RequiresAck,
		ExpiresAfterSeconds: req.ExpiresAfterSeconds,
		IsActive:            true,
	}
	if req.IsActive != nil {
		input.IsActive = *req.IsActive
	}

	source, err := enums.ParseModule(req.SourceModule)
	if err != nil {
		return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid source module")
	}
	input.SourceModule = source

	for _, raw := range req.TargetModules {
		module, err := enums.ParseModule(raw)
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target module")
		}
		input.TargetModules = append(input.TargetModules, module)
	}

	trigger, err := enums.ParseSystemEventType(req.TriggerEvent)
	if err != nil {
		return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid trigger event")
	}
	input.TriggerEvent = trigger

	priority, err := enums.ParseNotificationPriority(req.Priority)
	if err != nil {
		return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid priority")
	}
	input.Priority = priority

	for _, raw := range req.RecipientRoles {
		role, err := enums.ParseUserRole(raw)
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid recipient role")
		}
		input.RecipientRoles = append(input.RecipientRoles, role)
	}
	for _, raw := range req.RecipientUserIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid recipient user id")
		}
		input.RecipientUserIDs = append(input.RecipientUserIDs, id)
	}
	return input, nil
}

// RuleCreate adds a notification rule for the active clinic.
func RuleCreate(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req ruleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput(clinicID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rule, err := svc.CreateRule(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, rule)
	}
}

// RuleUpdate replaces a notification rule's writable fields.
func RuleUpdate(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ruleID, err := pathUUID(r, "ruleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req ruleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput(clinicID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rule, err := svc.UpdateRule(r.Context(), clinicID, ruleID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rule)
	}
}

// RuleDelete removes a notification rule.
func RuleDelete(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ruleID, err := pathUUID(r, "ruleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteRule(r.Context(), clinicID, ruleID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

// RuleGet returns one notification rule.
func RuleGet(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ruleID, err := pathUUID(r, "ruleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rule, err := svc.GetRule(r.Context(), clinicID, ruleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rule)
	}
}

// RuleList returns every notification rule for the active clinic.
func RuleList(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rules, err := svc.ListRules(r.Context(), clinicID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rules)
	}
}
