package controllers

import (
	"net/http"
	"strings"

	"github.com/fisiohub/clinic-backend/api/responses"
	"github.com/fisiohub/clinic-backend/api/validators"
	"github.com/fisiohub/clinic-backend/internal/audit"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

// AuditList returns paginated audit entries for the active clinic.
func AuditList(svc audit.Service, logg *logger.Logger) http.HandlerFunc {
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
		params := audit.ListParams{
			ClinicID: clinicID,
			Module:   strings.TrimSpace(r.URL.Query().Get("module")),
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
