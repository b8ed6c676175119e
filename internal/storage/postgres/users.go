package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/accounts/internal/models"
	"github.com/hongminglow/accounts/internal/storage"
)

const userColumns = `id, email, password_hash, first_name, last_name, phone_number, gender, is_active, last_login, created_at, updated_at`

type userRepo repositories

// Create inserts a new user row.
func (r userRepo) Create(ctx context.Context, user *models.User) error {
	const query = `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Touch(repositories(r).stamp())
	_, err := r.db.Exec(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.PhoneNumber,
		int16(user.Gender), user.IsActive, user.LastLogin, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", mapError(err))
	}
	return nil
}

// GetByID fetches a user by primary key.
func (r userRepo) GetByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetByEmail fetches a user by email address.
func (r userRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

// LockByID fetches a user and locks its row for the rest of the transaction.
func (r userRepo) LockByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r userRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) (time.Time, error) {
	const query = `
		UPDATE users
		SET last_login = GREATEST(COALESCE(last_login, $2), $2), updated_at = $3
		WHERE id = $1
		RETURNING last_login`

	var stored time.Time
	if err := r.db.QueryRow(ctx, query, id, at.UTC(), repositories(r).stamp()).Scan(&stored); err != nil {
		return time.Time{}, mapError(err)
	}
	return stored, nil
}

func (r userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, passwordHash, repositories(r).stamp())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var (
		user   models.User
		gender int16
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.PhoneNumber,
		&gender, &user.IsActive, &user.LastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return models.User{}, mapError(err)
	}
	user.Gender = models.Gender(gender)
	return user, nil
}
