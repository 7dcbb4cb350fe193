package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fisiohub/clinic-backend/api/responses"
	"github.com/fisiohub/clinic-backend/api/validators"
	"github.com/fisiohub/clinic-backend/internal/appointments"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

type appointmentScheduleRequest struct {
	PatientID   uuid.UUID `json:"patient_id" validate:"required"`
	TherapistID uuid.UUID `json:"therapist_id" validate:"required"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	EndsAt      time.Time `json:"ends_at" validate:"required"`
	Notes       *string   `json:"notes,omitempty"`
}

type appointmentRescheduleRequest struct {
	StartsAt time.Time `json:"starts_at" validate:"required"`
	EndsAt   time.Time `json:"ends_at" validate:"required"`
}

// AppointmentSchedule books a therapist slot for a patient.
func AppointmentSchedule(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID, err := actorIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req appointmentScheduleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		appointment, err := svc.Schedule(r.Context(), appointments.ScheduleInput{
			ClinicID:    clinicID,
			PatientID:   req.PatientID,
			TherapistID: req.TherapistID,
			ActorUserID: actorID,
			StartsAt:    req.StartsAt,
			EndsAt:      req.EndsAt,
			Notes:       req.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, appointment)
	}
}

// AppointmentReschedule moves an appointment to a new slot.
func AppointmentReschedule(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID, err := actorIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		appointmentID, err := pathUUID(r, "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req appointmentRescheduleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		appointment, err := svc.Reschedule(r.Context(), appointments.RescheduleInput{
			ClinicID:      clinicID,
			AppointmentID: appointmentID,
			ActorUserID:   actorID,
			StartsAt:      req.StartsAt,
			EndsAt:        req.EndsAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, appointment)
	}
}

type appointmentTransition func(svc appointments.Service, r *http.Request, clinicID, appointmentID, actorID uuid.UUID) (*models.Appointment, error)

func appointmentAction(svc appointments.Service, logg *logger.Logger, do appointmentTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID, err := actorIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		appointmentID, err := pathUUID(r, "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		appointment, err := do(svc, r, clinicID, appointmentID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, appointment)
	}
}

// AppointmentCancel releases a scheduled slot.
func AppointmentCancel(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return appointmentAction(svc, logg, func(svc appointments.Service, r *http.Request, clinicID, appointmentID, actorID uuid.UUID) (*models.Appointment, error) {
		return svc.Cancel(r.Context(), clinicID, appointmentID, actorID)
	})
}

// AppointmentComplete marks a session as delivered.
func AppointmentComplete(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return appointmentAction(svc, logg, func(svc appointments.Service, r *http.Request, clinicID, appointmentID, actorID uuid.UUID) (*models.Appointment, error) {
		return svc.Complete(r.Context(), clinicID, appointmentID, actorID)
	})
}

// AppointmentNoShow records a missed session.
func AppointmentNoShow(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return appointmentAction(svc, logg, func(svc appointments.Service, r *http.Request, clinicID, appointmentID, actorID uuid.UUID) (*models.Appointment, error) {
		return svc.MarkNoShow(r.Context(), clinicID, appointmentID, actorID)
	})
}

// AppointmentGet returns a single appointment scoped to the active clinic.
func AppointmentGet(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		appointmentID, err := pathUUID(r, "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		appointment, err := svc.GetByID(r.Context(), clinicID, appointmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, appointment)
	}
}

// AppointmentList returns paginated appointments with optional filters.
func AppointmentList(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patientID, err := validators.ParseQueryUUID(r, "patientId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		therapistID, err := validators.ParseQueryUUID(r, "therapistId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		from, err := validators.ParseQueryTime(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryTime(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := appointments.ListParams{
			ClinicID:    clinicID,
			PatientID:   patientID,
			TherapistID: therapistID,
			Status:      strings.TrimSpace(r.URL.Query().Get("status")),
			From:        from,
			To:          to,
			Limit:       limit,
			Cursor:      strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
