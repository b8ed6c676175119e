package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hongminglow/accounts/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// UserRepository persists accounts. Every mutating call touches updated_at.
type UserRepository interface {
	// Create inserts the user, filling ID and audit fields when unset.
	// Returns ErrAlreadyExists when the email is taken.
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	// LockByID loads the user and holds a row lock until the surrounding
	// transaction ends. Outside a transaction it behaves like GetByID.
	LockByID(ctx context.Context, id uuid.UUID) (models.User, error)
	// UpdateLastLogin moves last_login forward to at and returns the stored value.
	// It never moves the timestamp backwards.
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) (time.Time, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

// TokenRepository persists bearer token records.
type TokenRepository interface {
	Create(ctx context.Context, token *models.Token) error
	GetByDigest(ctx context.Context, digest string) (models.Token, error)
	// Delete removes a single token. Returns ErrNotFound when it is already gone.
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteByUser removes every token of the user except keep.
	DeleteByUser(ctx context.Context, userID, keep uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ReceiptRepository persists email receipts.
type ReceiptRepository interface {
	// Create returns ErrAlreadyExists when a receipt for the same user and type exists.
	Create(ctx context.Context, receipt *models.EmailReceipt) error
	Exists(ctx context.Context, userID uuid.UUID, emailType models.EmailType) (bool, error)
}

// Repositories vends repositories bound to a single connection or transaction.
type Repositories interface {
	Users() UserRepository
	Tokens() TokenRepository
	Receipts() ReceiptRepository
}

// TxFunc runs inside a transaction. Returning an error rolls it back.
type TxFunc func(ctx context.Context, repos Repositories) error

// Store is the transactional persistence boundary used by the services.
type Store interface {
	Repositories
	// WithTx commits when fn returns nil and rolls back on error or panic.
	WithTx(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close()
}
