package models

import (
	"time"

	"github.com/google/uuid"
)

// Token is the persisted half of a bearer credential. Only the digest of the
// secret handed to the client is kept.
type Token struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Digest    string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Expired reports whether the token is past its expiry at now. Tokens without
// an expiry never expire.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}
