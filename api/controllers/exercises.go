package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fisiohub/clinic-backend/api/responses"
	"github.com/fisiohub/clinic-backend/api/validators"
	"github.com/fisiohub/clinic-backend/internal/exercises"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

type exerciseRequest struct {
	Name        string   `json:"name" validate:"required,max=200"`
	Description *string  `json:"description,omitempty"`
	BodyRegions []string `json:"body_regions,omitempty"`
	VideoURL    *string  `json:"video_url,omitempty" validate:"omitempty,url"`
}

type prescribeRequest struct {
	PatientID    uuid.UUID  `json:"patient_id" validate:"required"`
	ExerciseID   uuid.UUID  `json:"exercise_id" validate:"required"`
	Sets         int        `json:"sets" validate:"required,min=1"`
	Reps         int        `json:"reps" validate:"required,min=1"`
	Frequency    string     `json:"frequency" validate:"required,max=100"`
	Instructions *string    `json:"instructions,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
}

// ExerciseCreate adds an exercise to the clinic library.
func ExerciseCreate(svc exercises.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req exerciseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		exercise, err := svc.CreateExercise(r.Context(), exercises.ExerciseInput{
			ClinicID:    clinicID,
			Name:        req.Name,
			Description: req.Description,
			BodyRegions: req.BodyRegions,
			VideoURL:    req.VideoURL,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, exercise)
	}
}

// ExerciseUpdate replaces the writable fields of a library exercise.
func ExerciseUpdate(svc exercises.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		exerciseID, err := pathUUID(r, "exerciseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req exerciseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		exercise, err := svc.UpdateExercise(r.Context(), exerciseID, exercises.ExerciseInput{
			ClinicID:    clinicID,
			Name:        req.Name,
			Description: req.Description,
			BodyRegions: req.BodyRegions,
			VideoURL:    req.VideoURL,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, exercise)
	}
}

// ExerciseGet returns a single library exercise.
func ExerciseGet(svc exercises.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := clinicIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		exerciseID, err := pathUUID(r, "exerciseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		exercise, err := svc.GetExercise(r.Context(), clinicID, exerciseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, exercise)
	}
}

// ExerciseList returns paginated library exercises with optional filters.
func ExerciseList(svc exercises.Service, logg *logger.Logger) http.HandlerFunc {
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
		params := exercises.ListParams{
			ClinicID:   clinicID,
			Search:     validators.SanitizeString(r.URL.Query().Get("search"), 120),
			BodyRegion: validators.SanitizeString(r.URL.Query().Get("bodyRegion"), 60),
			Limit:      limit,
			Cursor:     strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		result, err := svc.ListExercises(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PrescriptionCreate assigns an exercise to a patient with dosage parameters.
func PrescriptionCreate(svc exercises.Service, logg *logger.Logger) http.HandlerFunc {
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
		var req prescribeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		prescription, err := svc.Prescribe(r.Context(), exercises.PrescribeInput{
			ClinicID:     clinicID,
			PatientID:    req.PatientID,
			ExerciseID:   req.ExerciseID,
			PrescribedBy: actorID,
			Sets:         req.Sets,
			Reps:         req.Reps,
			Frequency:    req.Frequency,
			Instructions: req.Instructions,
			EndsAt:       req.EndsAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, prescription)
	}
}

// PrescriptionEnd closes an active prescription.
func PrescriptionEnd(svc exercises.Service, logg *logger.Logger) http.HandlerFunc {
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
		prescriptionID, err := pathUUID(r, "prescriptionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		prescription, err := svc.EndPrescription(r.Context(), clinicID, prescriptionID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, prescription)
	}
}

// PrescriptionList returns a patient's prescriptions, newest first.
func PrescriptionList(svc exercises.Service, logg *logger.Logger) http.HandlerFunc {
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
		prescriptions, err := svc.ListPrescriptions(r.Context(), clinicID, patientID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, prescriptions)
	}
}
