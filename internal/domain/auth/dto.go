package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/reward"
	"github.com/craftzone/craftzone-api/internal/domain/user"
)

// RegisterRequest for POST /auth/register
type RegisterRequest struct {
	Email        string `json:"email" validate:"required,email,max=255"`
	Username     string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password     string `json:"password" validate:"required,min=8,max=128"`
	ReferralCode string `json:"referral_code" validate:"omitempty,referral_code"`
}

// LoginRequest for POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest for POST /auth/refresh and /auth/logout
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=128"`
}

// AuthResponse returned after login/register
type AuthResponse struct {
	User   UserResponse   `json:"user"`
	Tokens TokensResponse `json:"tokens"`

	// Set on registration with a referral code. A failed referral does not
	// fail the registration; ReferralError carries the reason instead.
	Referral      *reward.ReferralResult `json:"referral,omitempty"`
	ReferralError string                 `json:"referral_error,omitempty"`
}

// UserResponse represents user in API response
type UserResponse struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	Role          string    `json:"role"`
	CoinBalance   int64     `json:"coin_balance"`
	ReferralCode  string    `json:"referral_code"`
	ReferralCount int       `json:"referral_count"`
	CreatedAt     string    `json:"created_at"`
}

// TokensResponse represents tokens in API response
type TokensResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"` // seconds until access token expires
	TokenType    string `json:"token_type"`
}

func NewUserResponse(u *user.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		Role:          u.Role,
		CoinBalance:   u.CoinBalance,
		ReferralCode:  u.ReferralCode,
		ReferralCount: u.ReferralCount,
		CreatedAt:     u.CreatedAt.Format(time.RFC3339),
	}
}
