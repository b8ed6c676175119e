package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hongminglow/accounts/internal/models"
	"github.com/hongminglow/accounts/internal/storage"
)

// ErrUnauthenticated covers missing, malformed, expired and revoked credentials.
var ErrUnauthenticated = errors.New("invalid or missing authentication token")

const keyBytes = 32

// TokenIssuer issues signed bearer tokens backed by revocable token records.
// The bearer string is an HS256 JWT whose jti is a random key; only the
// SHA-256 digest of that key is persisted.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer with the provided secret, issuer, and lifetime.
// A zero ttl issues tokens that never expire.
func NewTokenIssuer(secret, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock overrides the time source.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

// Issue persists a new token record for user and returns it with the bearer
// string. The bearer string cannot be recovered later.
func (t *TokenIssuer) Issue(ctx context.Context, repos storage.Repositories, user models.User) (models.Token, string, error) {
	key, err := randomKey()
	if err != nil {
		return models.Token{}, "", fmt.Errorf("generate token key: %w", err)
	}

	now := t.now().UTC()
	record := models.Token{
		ID:        uuid.New(),
		UserID:    user.ID,
		Digest:    Digest(key),
		CreatedAt: now,
	}
	claims := jwt.RegisteredClaims{
		ID:       key,
		Issuer:   t.issuer,
		Subject:  user.ID.String(),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if t.ttl > 0 {
		exp := now.Add(t.ttl)
		record.ExpiresAt = &exp
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return models.Token{}, "", fmt.Errorf("sign token: %w", err)
	}
	if err := repos.Tokens().Create(ctx, &record); err != nil {
		return models.Token{}, "", fmt.Errorf("store token: %w", err)
	}
	return record, signed, nil
}

// Validate resolves bearer to its active owner and token record.
func (t *TokenIssuer) Validate(ctx context.Context, repos storage.Repositories, bearer string) (models.User, models.Token, error) {
	record, claims, err := t.lookup(ctx, repos, bearer)
	if err != nil {
		return models.User{}, models.Token{}, err
	}
	if record.UserID.String() != claims.Subject {
		return models.User{}, models.Token{}, ErrUnauthenticated
	}

	user, err := repos.Users().GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.User{}, models.Token{}, ErrUnauthenticated
		}
		return models.User{}, models.Token{}, fmt.Errorf("load token owner: %w", err)
	}
	if !user.IsActive {
		return models.User{}, models.Token{}, ErrUnauthenticated
	}
	return user, record, nil
}

// Revoke deletes the record behind bearer. A token that is already gone
// yields ErrUnauthenticated.
func (t *TokenIssuer) Revoke(ctx context.Context, repos storage.Repositories, bearer string) error {
	record, _, err := t.lookup(ctx, repos, bearer)
	if err != nil {
		return err
	}
	if err := repos.Tokens().Delete(ctx, record.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// PurgeExpired removes every expired token record.
func (t *TokenIssuer) PurgeExpired(ctx context.Context, repos storage.Repositories) (int64, error) {
	return repos.Tokens().DeleteExpired(ctx, t.now())
}

// lookup resolves bearer to its stored record. An expired record is deleted
// before ErrUnauthenticated is returned.
func (t *TokenIssuer) lookup(ctx context.Context, repos storage.Repositories, bearer string) (models.Token, *jwt.RegisteredClaims, error) {
	claims, err := t.parse(bearer)
	if err != nil {
		return models.Token{}, nil, ErrUnauthenticated
	}
	record, err := repos.Tokens().GetByDigest(ctx, Digest(claims.ID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Token{}, nil, ErrUnauthenticated
		}
		return models.Token{}, nil, fmt.Errorf("load token: %w", err)
	}
	if record.Expired(t.now()) {
		if err := repos.Tokens().Delete(ctx, record.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return models.Token{}, nil, fmt.Errorf("delete expired token: %w", err)
		}
		return models.Token{}, nil, ErrUnauthenticated
	}
	return record, claims, nil
}

// parse verifies the signature, algorithm and issuer of bearer. Expiry is
// left to the stored record so an expired token can still be located and
// removed.
func (t *TokenIssuer) parse(bearer string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(bearer), claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Issuer != t.issuer {
		return nil, errors.New("token issuer mismatch")
	}
	if len(claims.ID) != 2*keyBytes {
		return nil, errors.New("token key has unexpected length")
	}
	return claims, nil
}

// Digest is the hex SHA-256 of a token key.
func Digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func randomKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
