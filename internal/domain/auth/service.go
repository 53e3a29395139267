package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/abuse"
	"github.com/craftzone/craftzone-api/internal/domain/reward"
	"github.com/craftzone/craftzone-api/internal/domain/user"
	"github.com/craftzone/craftzone-api/internal/pkg/cache"
	"github.com/craftzone/craftzone-api/internal/pkg/jwt"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
	"github.com/craftzone/craftzone-api/internal/pkg/password"
)

const (
	ResetTokenTTL = 1 * time.Hour

	keyPrefixRefresh = "refresh:"
	keyPrefixReset   = "reset:"

	referralCodeAttempts = 5
)

// Users is the subset of user.Repository auth needs.
type Users interface {
	Create(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

// Referrals applies a referral code for a freshly registered user.
type Referrals interface {
	ApplyReferral(ctx context.Context, newUserID uuid.UUID, code, networkAddr string) (reward.ReferralResult, error)
}

// ResetMailer is implemented by email.Service.
type ResetMailer interface {
	SendPasswordReset(to, userName, resetURL string)
}

type Config struct {
	RefreshTTL  time.Duration
	FrontendURL string
	ResetPolicy abuse.Policy
}

// Service handles authentication business logic
type Service struct {
	users     Users
	jwt       *jwt.Service
	tokens    cache.Cache
	referrals Referrals
	guard     abuse.Guard
	mailer    ResetMailer
	cfg       Config
}

// NewService creates auth service. tokens holds refresh and reset tokens;
// it is Redis backed in production.
func NewService(users Users, jwtService *jwt.Service, tokens cache.Cache, referrals Referrals, guard abuse.Guard, mailer ResetMailer, cfg Config) *Service {
	cfg.ResetPolicy.Class = abuse.ClassPasswordReset
	return &Service{
		users:     users,
		jwt:       jwtService,
		tokens:    tokens,
		referrals: referrals,
		guard:     guard,
		mailer:    mailer,
		cfg:       cfg,
	}
}

// Register creates the account and, when a referral code is given, applies
// it. A failed referral is reported in the response and does not undo the
// registration.
func (s *Service) Register(ctx context.Context, req *RegisterRequest, networkAddr string) (*AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)

	existing, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyExists
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	u := &user.User{
		ID:           uuid.New(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
		Role:         user.RoleUser,
	}
	if err := s.createWithReferralCode(ctx, u); err != nil {
		return nil, err
	}

	resp, err := s.generateTokens(ctx, u)
	if err != nil {
		return nil, err
	}

	if req.ReferralCode != "" {
		res, err := s.referrals.ApplyReferral(ctx, u.ID, req.ReferralCode, networkAddr)
		if err != nil {
			logger.FromContext(ctx).Warn().Err(err).
				Str("user_id", u.ID.String()).
				Msg("Referral on registration failed")
			resp.ReferralError = referralErrorCode(err)
		} else {
			resp.Referral = &res
			resp.User.CoinBalance = res.Balance
		}
	}

	logger.FromContext(ctx).Info().Str("user_id", u.ID.String()).Msg("User registered")
	return resp, nil
}

// createWithReferralCode retries on the rare referral code collision.
func (s *Service) createWithReferralCode(ctx context.Context, u *user.User) error {
	for i := 0; i < referralCodeAttempts; i++ {
		code, err := user.NewReferralCode()
		if err != nil {
			return err
		}
		u.ReferralCode = code

		err = s.users.Create(ctx, u)
		switch {
		case errors.Is(err, user.ErrReferralCodeTaken):
			continue
		case errors.Is(err, user.ErrEmailAlreadyExists):
			return ErrEmailAlreadyExists
		default:
			return err
		}
	}
	return fmt.Errorf("register: %w", user.ErrReferralCodeTaken)
}

func referralErrorCode(err error) string {
	switch {
	case errors.Is(err, reward.ErrInvalidCode):
		return "INVALID_CODE"
	case errors.Is(err, reward.ErrSelfReferral):
		return "SELF_REFERRAL"
	case errors.Is(err, reward.ErrAlreadyApplied):
		return "ALREADY_APPLIED"
	case errors.Is(err, abuse.ErrRateLimited):
		return "RATE_LIMITED"
	default:
		return "STORE_UNAVAILABLE"
	}
}

// Login authenticates user
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)

	u, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil || u == nil {
		return nil, ErrInvalidCredentials
	}
	if !password.Verify(req.Password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if u.IsBanned {
		return nil, ErrUserBanned
	}

	return s.generateTokens(ctx, u)
}

// Refresh rotates a refresh token and issues a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	if refreshToken == "" {
		return nil, ErrRefreshTokenRequired
	}

	key := keyPrefixRefresh + hashToken(refreshToken)
	var userID uuid.UUID
	ok, err := s.tokens.Get(ctx, key, &userID)
	if err != nil || !ok {
		return nil, ErrInvalidRefreshToken
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil || u == nil {
		return nil, ErrUserNotFound
	}
	if u.IsBanned {
		return nil, ErrUserBanned
	}

	_ = s.tokens.Delete(ctx, key)
	return s.generateTokens(ctx, u)
}

// Logout invalidates refresh token
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.tokens.Delete(ctx, keyPrefixRefresh+hashToken(refreshToken))
}

// Me returns the current user.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*UserResponse, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	resp := NewUserResponse(u)
	return &resp, nil
}

// RequestPasswordReset mails a reset link. Unknown addresses get the same
// answer as known ones; only the abuse guard can refuse.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	l := logger.FromContext(ctx)

	if _, err := s.guard.CheckAndRecord(ctx, "email:"+email, s.cfg.ResetPolicy); err != nil {
		if errors.Is(err, abuse.ErrRateLimited) {
			l.Warn().Dur("retry_after", abuse.RetryAfter(err)).Msg("Password reset rate limited")
		}
		return err
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		l.Info().Msg("Password reset for unknown email")
		return nil
	}

	token, err := generateSecureToken(32)
	if err != nil {
		return err
	}
	if err := s.tokens.Set(ctx, keyPrefixReset+hashToken(token), u.ID, ResetTokenTTL); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.FrontendURL, url.QueryEscape(token))
	s.mailer.SendPasswordReset(u.Email, u.Username, resetURL)
	l.Info().Str("user_id", u.ID.String()).Msg("Password reset requested")
	return nil
}

// ResetPassword consumes a reset token. Each token works once.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	key := keyPrefixReset + hashToken(token)
	var userID uuid.UUID
	ok, err := s.tokens.Get(ctx, key, &userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidResetToken
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.tokens.Delete(ctx, key); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Reset token delete failed")
	}
	logger.FromContext(ctx).Info().Str("user_id", userID.String()).Msg("Password reset")
	return nil
}

func (s *Service) generateTokens(ctx context.Context, u *user.User) (*AuthResponse, error) {
	accessToken, err := s.jwt.GenerateAccessToken(u.ID, u.Role, u.IsBanned)
	if err != nil {
		return nil, err
	}

	refreshToken, err := generateSecureToken(32)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Set(ctx, keyPrefixRefresh+hashToken(refreshToken), u.ID, s.cfg.RefreshTTL); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &AuthResponse{
		User: NewUserResponse(u),
		Tokens: TokensResponse{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresIn:    int(s.jwt.AccessTTL().Seconds()),
			TokenType:    "Bearer",
		},
	}, nil
}
