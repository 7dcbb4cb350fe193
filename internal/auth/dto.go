package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
)

// LoginRequest captures the user credentials sent to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest contains the payload for onboarding a clinic with its admin.
type RegisterRequest struct {
	ClinicName string  `json:"clinic_name" validate:"required"`
	LegalName  *string `json:"legal_name,omitempty"`
	FullName   string  `json:"full_name" validate:"required"`
	Email      string  `json:"email" validate:"required,email"`
	Password   string  `json:"password" validate:"required,min=8"`
	Phone      *string `json:"phone,omitempty"`
}

// UserDTO is the public user shape returned by auth endpoints.
type UserDTO struct {
	ID          uuid.UUID      `json:"id"`
	Email       string         `json:"email"`
	FullName    string         `json:"full_name"`
	Phone       *string        `json:"phone,omitempty"`
	Role        enums.UserRole `json:"role"`
	ClinicIDs   []uuid.UUID    `json:"clinic_ids"`
	LastLoginAt *time.Time     `json:"last_login_at,omitempty"`
}

// LoginResponse contains the token and user produced by a successful login.
type LoginResponse struct {
	AccessToken    string     `json:"access_token"`
	ActiveClinicID *uuid.UUID `json:"active_clinic_id,omitempty"`
	User           *UserDTO   `json:"user"`
}

// RegisterResponse returns the created tenant alongside an authenticated session.
type RegisterResponse struct {
	ClinicID uuid.UUID `json:"clinic_id"`
	LoginResponse
}

// UserFromModel maps the persisted user onto the public DTO.
func UserFromModel(user *models.User) *UserDTO {
	if user == nil {
		return nil
	}
	return &UserDTO{
		ID:          user.ID,
		Email:       user.Email,
		FullName:    user.FullName,
		Phone:       user.Phone,
		Role:        user.Role,
		ClinicIDs:   user.ClinicIDs,
		LastLoginAt: user.LastLoginAt,
	}
}
