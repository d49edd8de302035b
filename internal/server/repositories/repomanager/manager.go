// Package repomanager wires concrete repositories to their storage backend
// and owns schema provisioning.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/taskhive/taskhive/internal/server/repositories/refreshtokens"
	"github.com/taskhive/taskhive/internal/server/repositories/users"
)

// RepositoryManager hands out repository instances bound to a shared
// storage backend.
type RepositoryManager interface {
	Conn() *sql.DB
	Users() users.Repository
	RefreshTokens() refreshtokens.Repository
	RunMigrations(ctx context.Context) error
	Close() error
}
