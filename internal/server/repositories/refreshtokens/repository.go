// Package refreshtokens declares the server-side repository contract for
// persisted refresh-token records.
package refreshtokens

import (
	"context"

	"github.com/taskhive/taskhive/internal/server/models"
)

// Repository stores one record per outstanding refresh token, keyed by the
// random per-login token id. Only a one-way hash of the signed token is
// kept.
type Repository interface {
	// Save inserts a new record.
	Save(ctx context.Context, token *models.RefreshToken) error

	// Find looks up a record by token id, returning common.ErrorNotFound
	// when absent. Expiry and hash checks are the caller's job.
	Find(ctx context.Context, tokenID string) (*models.RefreshToken, error)

	// Delete removes a record by token id. Deleting a non-existent record
	// is not an error.
	Delete(ctx context.Context, tokenID string) error

	// DeleteByUser removes every record belonging to the user, revoking
	// all of their outstanding sessions at once.
	DeleteByUser(ctx context.Context, userID int64) error

	// Rotate replaces the record identified by oldTokenID with next.
	// Rotation is a replace, not an additive grant: after a successful call
	// the session has exactly one live record. Implementations that cannot
	// delete and insert atomically may leave a brief window where both
	// exist; the superseded token's hash is unknown to any other holder, so
	// the window is harmless.
	Rotate(ctx context.Context, oldTokenID string, next *models.RefreshToken) error
}
