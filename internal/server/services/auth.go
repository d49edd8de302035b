// Package services contains server-side business logic. This file implements
// AuthService: registration, login, refresh-token rotation, status reporting
// for the client watchdog, and server-side revocation on logout.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskhive/taskhive/internal/common"
	"github.com/taskhive/taskhive/internal/server/auth"
	"github.com/taskhive/taskhive/internal/server/config"
	"github.com/taskhive/taskhive/internal/server/models"
	"github.com/taskhive/taskhive/internal/server/repositories/refreshtokens"
	"github.com/taskhive/taskhive/internal/server/repositories/users"
)

// dummyHash is compared against when the email is unknown, so login takes
// the same time for missing and existing accounts.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("taskhive-timing-pad"), bcrypt.DefaultCost)

// RegisterInput carries validated registration fields. bcrypt truncates
// passwords beyond 72 bytes, hence the upper bound.
type RegisterInput struct {
	FirstName string `validate:"required,max=64"`
	LastName  string `validate:"required,max=64"`
	Email     string `validate:"required,email"`
	Password  string `validate:"required,min=8,max=72"`
}

// Session bundles the authenticated user with the freshly minted tokens.
// The raw refresh token leaves the server exactly once, inside this struct,
// on its way into the HttpOnly cookie.
type Session struct {
	User             *models.User
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RefreshResult is the outcome of one rotation-protocol run. RefreshToken
// is non-empty only when the token was actually rotated.
type RefreshResult struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	Rotated          bool
}

// Status is the authoritative answer for the client's polling query.
type Status struct {
	IsValid         bool
	TimeRemaining   int
	IsAboutToExpire bool
}

// AuthService implements the session-continuity operations.
type AuthService struct {
	users         users.Repository
	tokens        refreshtokens.Repository
	issuer        *auth.Issuer
	warnThreshold time.Duration
	validate      *validator.Validate
	now           func() time.Time
}

// NewAuthService constructs an AuthService from repositories and config.
func NewAuthService(u users.Repository, t refreshtokens.Repository, cfg *config.Config) *AuthService {
	issuer := auth.NewIssuer([]byte(cfg.SecretKey),
		cfg.AccessTokenValidityDuration, cfg.RefreshTokenValidityDuration)
	return &AuthService{
		users:         u,
		tokens:        t,
		issuer:        issuer,
		warnThreshold: cfg.ExpiryWarningThreshold,
		validate:      validator.New(),
		now:           time.Now,
	}
}

// Register validates input, hashes the password, creates the user and opens
// a session. A duplicate email yields common.ErrorAlreadyExists.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, common.ErrorInternal
	}

	user := &models.User{
		PublicID:     uuid.NewString(),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         "member",
	}
	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, common.ErrorInternal
	}

	return s.openSession(ctx, created)
}

// Login verifies credentials and opens a session. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// burn the same bcrypt cost as the happy path
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, common.ErrInvalidCredentials
		}
		return nil, common.ErrorInternal
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, common.ErrInvalidCredentials
	}

	return s.openSession(ctx, user)
}

// Refresh runs the token rotation protocol for a presented raw refresh
// token:
//
//  1. verify signature and decode {userId, tokenId}
//  2. look up the stored record and compare hashes
//  3. reject expired records with common.ErrTokenExpired
//  4. always mint a new access token
//  5. rotate the refresh token when extend is set or the remaining lifetime
//     is below the warning threshold; otherwise leave it untouched
//
// Signature, lookup, and hash failures all map to common.ErrInvalidToken:
// the presented token cannot be trusted and the client must log out.
func (s *AuthService) Refresh(ctx context.Context, rawToken string, extend bool) (*RefreshResult, error) {
	claims, err := s.issuer.ParseRefreshToken(rawToken)
	if err != nil {
		return nil, err
	}

	record, err := s.tokens.Find(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, common.ErrorInternal
	}

	if !auth.HashEqual(auth.HashRefreshToken(rawToken), record.TokenHash) {
		return nil, common.ErrInvalidToken
	}

	now := s.now()
	if !now.Before(record.ExpiresAt) {
		return nil, common.ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, common.ErrorInternal
	}

	accessToken, err := s.issuer.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, common.ErrorInternal
	}

	result := &RefreshResult{AccessToken: accessToken}

	remaining := record.ExpiresAt.Sub(now)
	if extend || remaining < s.warnThreshold {
		tokenID, signed, err := s.issuer.IssueRefreshToken(user.ID)
		if err != nil {
			return nil, common.ErrorInternal
		}
		next := &models.RefreshToken{
			TokenID:   tokenID,
			UserID:    user.ID,
			TokenHash: auth.HashRefreshToken(signed),
			ExpiresAt: now.Add(s.issuer.RefreshTTL()),
		}
		if err := s.tokens.Rotate(ctx, record.TokenID, next); err != nil {
			return nil, common.ErrorInternal
		}
		result.RefreshToken = signed
		result.RefreshExpiresAt = next.ExpiresAt
		result.Rotated = true
	}

	return result, nil
}

// RefreshStatus reports the remaining server-side lifetime of the presented
// refresh token. Any signature, lookup, hash, or expiry problem comes back
// as a non-error "not valid" status: this endpoint is polled continuously
// and an untrusted token here is an answer, not a failure.
func (s *AuthService) RefreshStatus(ctx context.Context, rawToken string) (*Status, error) {
	invalid := &Status{IsValid: false, TimeRemaining: 0, IsAboutToExpire: true}

	claims, err := s.issuer.ParseRefreshToken(rawToken)
	if err != nil {
		return invalid, nil
	}

	record, err := s.tokens.Find(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return invalid, nil
		}
		return nil, common.ErrorInternal
	}

	if !auth.HashEqual(auth.HashRefreshToken(rawToken), record.TokenHash) {
		return invalid, nil
	}

	remaining := record.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return invalid, nil
	}

	return &Status{
		IsValid:         true,
		TimeRemaining:   int(remaining.Seconds()),
		IsAboutToExpire: remaining <= s.warnThreshold,
	}, nil
}

// Logout revokes the presented refresh token server-side. It is idempotent:
// an invalid or already-deleted token is not an error.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	claims, err := s.issuer.ParseRefreshToken(rawToken)
	if err != nil {
		return nil
	}
	if err := s.tokens.Delete(ctx, claims.TokenID); err != nil {
		return common.ErrorInternal
	}
	return nil
}

// LogoutAll revokes every refresh token the user holds, killing all of
// their sessions on every device at once.
func (s *AuthService) LogoutAll(ctx context.Context, userID int64) error {
	if err := s.tokens.DeleteByUser(ctx, userID); err != nil {
		return common.ErrorInternal
	}
	return nil
}

// VerifyAccess checks an access token for the API middleware.
func (s *AuthService) VerifyAccess(tokenString string) (*auth.AccessClaims, error) {
	return s.issuer.ParseAccessToken(tokenString)
}

func (s *AuthService) openSession(ctx context.Context, user *models.User) (*Session, error) {
	accessToken, err := s.issuer.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, common.ErrorInternal
	}

	tokenID, signed, err := s.issuer.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, common.ErrorInternal
	}

	expiresAt := s.now().Add(s.issuer.RefreshTTL())
	record := &models.RefreshToken{
		TokenID:   tokenID,
		UserID:    user.ID,
		TokenHash: auth.HashRefreshToken(signed),
		ExpiresAt: expiresAt,
	}
	if err := s.tokens.Save(ctx, record); err != nil {
		return nil, common.ErrorInternal
	}

	return &Session{
		User:             user,
		AccessToken:      accessToken,
		RefreshToken:     signed,
		RefreshExpiresAt: expiresAt,
	}, nil
}
