package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

// Entry describes one auditable mutation.
type Entry struct {
	ClinicID     uuid.UUID
	ActorUserID  *uuid.UUID
	Module       enums.Module
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Metadata     map[string]any
}

// ListParams configures audit log pagination.
type ListParams struct {
	ClinicID uuid.UUID
	Module   string
	Limit    int
	Cursor   string
}

// ListResult wraps entries and the next-page cursor.
type ListResult struct {
	Items  []models.AuditLog `json:"items"`
	Cursor string            `json:"cursor"`
}

// Service records and lists audit trail entries.
type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, params ListParams) (*ListResult, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService wires the audit service.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "audit repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{repo: repo, logg: logg}, nil
}

// Record appends an entry. Failures are surfaced but callers typically log
// and continue, the audit trail must not abort the domain write.
func (s *service) Record(ctx context.Context, entry Entry) error {
	if entry.ClinicID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	if entry.Action == "" || entry.ResourceType == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "action and resource type required")
	}
	if !entry.Module.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid module %q", entry.Module))
	}

	var metadata json.RawMessage
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode audit metadata")
		}
		metadata = encoded
	}

	row := models.AuditLog{
		ClinicID:     entry.ClinicID,
		ActorUserID:  entry.ActorUserID,
		Module:       entry.Module,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Metadata:     metadata,
	}
	if err := s.repo.Create(ctx, &row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit entry")
	}
	return nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}

	query := listParams{
		ClinicID: params.ClinicID,
		Module:   params.Module,
		Limit:    params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit entries")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete audit entries")
	}
	return count, nil
}
