package common

import "errors"

// Sentinel errors shared by client and server layers. Callers should match
// them with errors.Is.
var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Credential errors. Deliberately the same for unknown email and wrong
	// password so login does not leak account existence.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Token errors. ErrInvalidToken covers signature and stored-hash
	// mismatches and means the session cannot be trusted; ErrTokenExpired is
	// the normal end of a token's life. Neither is retryable.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// ErrUnavailable means the server could not be reached. Background
	// callers retry on their next scheduled tick instead of logging out.
	ErrUnavailable = errors.New("server unavailable")

	// ErrConfiguration is fatal at process start and never recovered at
	// runtime.
	ErrConfiguration = errors.New("configuration error")

	// Validation errors on register/login input.
	ErrorValidation = errors.New("validation error")
)
