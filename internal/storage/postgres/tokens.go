package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hongminglow/accounts/internal/models"
	"github.com/hongminglow/accounts/internal/storage"
)

type tokenRepo repositories

func (r tokenRepo) Create(ctx context.Context, token *models.Token) error {
	const query = `
		INSERT INTO auth_tokens (id, user_id, digest, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`

	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = repositories(r).stamp()
	}
	if _, err := r.db.Exec(ctx, query, token.ID, token.UserID, token.Digest, token.CreatedAt, token.ExpiresAt); err != nil {
		return fmt.Errorf("insert token: %w", mapError(err))
	}
	return nil
}

func (r tokenRepo) GetByDigest(ctx context.Context, digest string) (models.Token, error) {
	const query = `SELECT id, user_id, digest, created_at, expires_at FROM auth_tokens WHERE digest = $1`

	var t models.Token
	if err := r.db.QueryRow(ctx, query, digest).Scan(&t.ID, &t.UserID, &t.Digest, &t.CreatedAt, &t.ExpiresAt); err != nil {
		return models.Token{}, mapError(err)
	}
	return t, nil
}

func (r tokenRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM auth_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r tokenRepo) DeleteByUser(ctx context.Context, userID, keep uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM auth_tokens WHERE user_id = $1 AND id <> $2`, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete user tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r tokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM auth_tokens WHERE expires_at IS NOT NULL AND expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
