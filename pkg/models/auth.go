package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims are the claims carried by bearer tokens on write and admin routes.
type JWTClaims struct {
	Subject string `json:"sub_id"`
	Role    string `json:"role"` // rater, admin
	jwt.RegisteredClaims
}

// TokenRequest is the body of POST /admin/tokens.
type TokenRequest struct {
	Subject string `json:"subject" binding:"required"`
	Role    string `json:"role" binding:"required,oneof=rater admin"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}
