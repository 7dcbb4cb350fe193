package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
)

// UserRepository persists identity records.
type UserRepository interface {
	WithTx(tx *gorm.DB) UserRepository
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ClinicRepository persists tenant records.
type ClinicRepository interface {
	WithTx(tx *gorm.DB) ClinicRepository
	Create(ctx context.Context, clinic *models.Clinic) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Clinic, error)
	TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

type userRepositoryImpl struct {
	db *gorm.DB
}

// NewUserRepository returns a user repository bound to the provided database.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepositoryImpl{db: db}
}

func (r *userRepositoryImpl) WithTx(tx *gorm.DB) UserRepository {
	if tx == nil {
		return r
	}
	return &userRepositoryImpl{db: tx}
}

func (r *userRepositoryImpl) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepositoryImpl) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		First(&user, "lower(email) = ?", strings.ToLower(email)).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepositoryImpl) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("last_login_at", at).Error
}

type clinicRepositoryImpl struct {
	db *gorm.DB
}

// NewClinicRepository returns a clinic repository bound to the provided database.
func NewClinicRepository(db *gorm.DB) ClinicRepository {
	return &clinicRepositoryImpl{db: db}
}

func (r *clinicRepositoryImpl) WithTx(tx *gorm.DB) ClinicRepository {
	if tx == nil {
		return r
	}
	return &clinicRepositoryImpl{db: tx}
}

func (r *clinicRepositoryImpl) Create(ctx context.Context, clinic *models.Clinic) error {
	return r.db.WithContext(ctx).Create(clinic).Error
}

func (r *clinicRepositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Clinic, error) {
	var clinic models.Clinic
	err := r.db.WithContext(ctx).First(&clinic, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &clinic, nil
}

func (r *clinicRepositoryImpl) TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Clinic{}).
		Where("id = ?", id).
		UpdateColumn("last_active_at", at).Error
}

func (r *clinicRepositoryImpl) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Clinic{}).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}
