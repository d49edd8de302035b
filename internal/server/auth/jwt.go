// Package auth mints and verifies the two signed JWT kinds used for session
// continuity: short-lived access tokens and long-lived refresh tokens bound
// to a per-login random token id.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/taskhive/taskhive/internal/common"
)

// Token type discriminators embedded in the claims, so an access token can
// never be replayed as a refresh token or vice versa.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// AccessClaims is the payload of an access token. Access tokens are never
// stored server-side; validity is purely cryptographic plus TTL.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID    int64  `json:"uid"`
	Email     string `json:"email"`
	TokenType string `json:"typ"`
}

// RefreshClaims is the payload of a refresh token. TokenID links the token
// to its stored hash record for rotation and revocation checks.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID    int64  `json:"uid"`
	TokenID   string `json:"tid"`
	TokenType string `json:"typ"`
}

// Issuer signs and verifies tokens with a shared HMAC secret (HS256).
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewIssuer constructs an Issuer. The secret must be non-empty; that is
// enforced at startup by config validation, not here.
func NewIssuer(secret []byte, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// RefreshTTL reports the configured refresh-token lifetime.
func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// IssueAccessToken signs an access token for the user.
func (i *Issuer) IssueAccessToken(userID int64, email string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
		UserID:    userID,
		Email:     email,
		TokenType: TokenTypeAccess,
	})
	return token.SignedString(i.secret)
}

// IssueRefreshToken generates a fresh random token id and signs a refresh
// token bound to it. It returns the token id along with the signed string;
// the caller stores the hash of the signed string under that id.
func (i *Issuer) IssueRefreshToken(userID int64) (tokenID string, signed string, err error) {
	tokenID = uuid.NewString()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
		},
		UserID:    userID,
		TokenID:   tokenID,
		TokenType: TokenTypeRefresh,
	})
	signed, err = token.SignedString(i.secret)
	if err != nil {
		return "", "", err
	}
	return tokenID, signed, nil
}

// ParseAccessToken verifies signature, expiry and token type.
func (i *Issuer) ParseAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// ParseRefreshToken verifies signature, expiry and token type.
func (i *Issuer) ParseRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return common.ErrTokenExpired
		}
		return common.ErrInvalidToken
	}
	if !token.Valid {
		return common.ErrInvalidToken
	}
	return nil
}
