// Package common contains shared constants and sentinel errors used across
// TaskHive components.
package common

// RefreshTokenCookieName is the name of the HttpOnly cookie carrying the
// signed refresh token between client and server. The refresh token never
// appears in request or response bodies.
const RefreshTokenCookieName = "refresh_token"

// AuthHeaderName and BearerPrefix describe how the access token is carried
// on authorized API calls.
const (
	AuthHeaderName = "Authorization"
	BearerPrefix   = "Bearer "
)
