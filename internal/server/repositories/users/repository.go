// Package users declares the server-side repository contract for identity
// records.
package users

import (
	"context"

	"github.com/taskhive/taskhive/internal/server/models"
)

// Repository defines operations over user records.
type Repository interface {
	// Create inserts a new user and returns it with its assigned id.
	// A duplicate email yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByEmail looks up a user by email, returning common.ErrorNotFound
	// when absent.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByID looks up a user by numeric id, returning common.ErrorNotFound
	// when absent.
	GetByID(ctx context.Context, id int64) (*models.User, error)
}
