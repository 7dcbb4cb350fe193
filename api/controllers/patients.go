package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/fisiohub/clinic-backend/api/responses"
	"github.com/fisiohub/clinic-backend/api/validators"
	"github.com/fisiohub/clinic-backend/internal/patients"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

type patientCreateRequest struct {
	FullName  string     `json:"full_name" validate:"required,max=200"`
	Email     *string    `json:"email,omitempty" validate:"omitempty,email"`
	Phone     *string    `json:"phone,omitempty" validate:"omitempty,max=30"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Diagnosis *string    `json:"diagnosis,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
}

type patientUpdateRequest struct {
	FullName  *string    `json:"full_name,omitempty" validate:"omitempty,max=200"`
	Email     *string    `json:"email,omitempty" validate:"omitempty,email"`
	Phone     *string    `json:"phone,omitempty" validate:"omitempty,max=30"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Diagnosis *string    `json:"diagnosis,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
	Status    *string    `json:"status,omitempty"`
}

// PatientCreate registers a new patient for the active clinic.
func PatientCreate(svc patients.Service, logg *logger.Logger) http.HandlerFunc {
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
		var req patientCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patient, err := svc.Create(r.Context(), patients.CreateInput{
			ClinicID:  clinicID,
			CreatedBy: actorID,
			FullName:  req.FullName,
			Email:     req.Email,
			Phone:     req.Phone,
			BirthDate: req.BirthDate,
			Diagnosis: req.Diagnosis,
			Notes:     req.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, patient)
	}
}

// PatientUpdate applies partial changes to a patient record.
func PatientUpdate(svc patients.Service, logg *logger.Logger) http.HandlerFunc {
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
		patientID, err := pathUUID(r, "patientId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req patientUpdateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := patients.UpdateInput{
			ClinicID:    clinicID,
			PatientID:   patientID,
			ActorUserID: actorID,
			FullName:    req.FullName,
			Email:       req.Email,
			Phone:       req.Phone,
			BirthDate:   req.BirthDate,
			Diagnosis:   req.Diagnosis,
			Notes:       req.Notes,
		}
		if req.Status != nil {
			status, err := enums.ParsePatientStatus(*req.Status)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			input.Status = &status
		}
		patient, err := svc.Update(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, patient)
	}
}

// PatientArchive soft-retires a patient without deleting history.
func PatientArchive(svc patients.Service, logg *logger.Logger) http.HandlerFunc {
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
		patientID, err := pathUUID(r, "patientId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patient, err := svc.Archive(r.Context(), clinicID, patientID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, patient)
	}
}

// PatientGet returns a single patient scoped to the active clinic.
func PatientGet(svc patients.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patientID, err := pathUUID(r, "patientId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patient, err := svc.GetByID(r.Context(), clinicID, patientID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, patient)
	}
}

// PatientList returns paginated patients with optional status and search filters.
func PatientList(svc patients.Service, logg *logger.Logger) http.HandlerFunc {
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
		params := patients.ListParams{
			ClinicID: clinicID,
			Status:   strings.TrimSpace(r.URL.Query().Get("status")),
			Search:   validators.SanitizeString(r.URL.Query().Get("search"), 120),
			Limit:    limit,
			Cursor:   strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
