package models

import "time"

// RefreshToken is one outstanding refresh token. Only the SHA-256 hash of
// the signed token is stored; the raw token is handed to the client once.
// A record is trusted iff the presented token's hash matches TokenHash and
// the current time is before ExpiresAt.
type RefreshToken struct {
	TokenID   string
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
