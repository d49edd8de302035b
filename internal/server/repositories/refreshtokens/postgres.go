package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/taskhive/taskhive/internal/common"
	"github.com/taskhive/taskhive/internal/dbx"
	"github.com/taskhive/taskhive/internal/server/models"
)

// PostgresRepository persists refresh-token records in PostgreSQL. It holds
// a *sql.DB (not a bare DBTX) because Rotate needs to open its own
// transaction.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository constructs a repository bound to the given database.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, token *models.RefreshToken) error {
	return save(ctx, r.db, token)
}

func (r *PostgresRepository) Find(ctx context.Context, tokenID string) (*models.RefreshToken, error) {
	query := `
		SELECT token_id, user_id, token_hash, expires_at, created_at
		FROM refresh_tokens
		WHERE token_id = $1
	`
	token := &models.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, tokenID).Scan(
		&token.TokenID, &token.UserID, &token.TokenHash, &token.ExpiresAt, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tokenID string) error {
	return del(ctx, r.db, tokenID)
}

// DeleteByUser drops every record the user owns, served by the user_id
// index.
func (r *PostgresRepository) DeleteByUser(ctx context.Context, userID int64) error {
	query := `
		DELETE FROM refresh_tokens
		WHERE user_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Rotate deletes the superseded record and inserts the replacement inside a
// single transaction, so two concurrent rotations of the same token cannot
// both leave a record behind.
func (r *PostgresRepository) Rotate(ctx context.Context, oldTokenID string, next *models.RefreshToken) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := del(ctx, tx, oldTokenID); err != nil {
			return err
		}
		return save(ctx, tx, next)
	})
}

func save(ctx context.Context, db dbx.DBTX, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token_id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := db.ExecContext(ctx, query,
		token.TokenID, token.UserID, token.TokenHash, token.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func del(ctx context.Context, db dbx.DBTX, tokenID string) error {
	query := `
		DELETE FROM refresh_tokens
		WHERE token_id = $1
	`
	if _, err := db.ExecContext(ctx, query, tokenID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
