package auth

import (
	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID         uuid.UUID
	ActiveClinicID *uuid.UUID
	Role           enums.UserRole
	JTI            string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID         uuid.UUID      `json:"user_id"`
	ActiveClinicID *uuid.UUID     `json:"active_clinic_id,omitempty"`
	Role           enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}
