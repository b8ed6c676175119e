package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/accounts/internal/models"
	"github.com/hongminglow/accounts/internal/storage"
	"github.com/hongminglow/accounts/internal/storage/memory"
)

const testSecret = "test-secret"

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func setup(t *testing.T, ttl time.Duration) (*TokenIssuer, *memory.Store, models.User, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.New().WithClock(c.Now)
	user := models.User{Email: "a@x.com", IsActive: true}
	require.NoError(t, store.Users().Create(context.Background(), &user))
	issuer := NewTokenIssuer(testSecret, "accounts-test", ttl).WithClock(c.Now)
	return issuer, store, user, c
}

func TestIssueAndValidate(t *testing.T) {
	issuer, store, user, _ := setup(t, time.Hour)
	ctx := context.Background()

	record, bearer, err := issuer.Issue(ctx, store, user)
	require.NoError(t, err)
	assert.Equal(t, user.ID, record.UserID)
	require.NotNil(t, record.ExpiresAt)
	assert.Len(t, record.Digest, 64)

	stored, err := store.Tokens().GetByDigest(ctx, record.Digest)
	require.NoError(t, err)
	assert.Equal(t, record.ID, stored.ID)

	gotUser, gotToken, err := issuer.Validate(ctx, store, bearer)
	require.NoError(t, err)
	assert.Equal(t, user.ID, gotUser.ID)
	assert.Equal(t, record.ID, gotToken.ID)
}

func TestIssueProducesDistinctTokens(t *testing.T) {
	issuer, store, user, _ := setup(t, 0)
	ctx := context.Background()

	seen := map[string]bool{}
	for range 5 {
		record, bearer, err := issuer.Issue(ctx, store, user)
		require.NoError(t, err)
		assert.Nil(t, record.ExpiresAt)
		assert.False(t, seen[bearer], "bearer reused")
		seen[bearer] = true
	}
	_, tokens, _ := store.Len()
	assert.Equal(t, 5, tokens)
}

func TestValidateRejects(t *testing.T) {
	issuer, store, user, _ := setup(t, time.Hour)
	ctx := context.Background()
	_, bearer, err := issuer.Issue(ctx, store, user)
	require.NoError(t, err)

	other := NewTokenIssuer("other-secret", "accounts-test", time.Hour)
	_, forged, err := other.Issue(ctx, store, user)
	require.NoError(t, err)

	parts := strings.Split(bearer, ".")
	require.Len(t, parts, 3)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"tampered":     parts[0] + "." + parts[1] + ".invalidsig",
		"wrong secret": forged,
	}
	for name, candidate := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := issuer.Validate(ctx, store, candidate)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestValidateRejectsUnknownKey(t *testing.T) {
	issuer, store, user, c := setup(t, 0)

	key := strings.Repeat("ab", keyBytes)
	claims := jwt.RegisteredClaims{ID: key, Issuer: "accounts-test", Subject: user.ID.String(), IssuedAt: jwt.NewNumericDate(c.now)}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, _, err = issuer.Validate(context.Background(), store, signed)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestValidateExpired(t *testing.T) {
	issuer, store, user, c := setup(t, time.Minute)
	ctx := context.Background()
	_, bearer, err := issuer.Issue(ctx, store, user)
	require.NoError(t, err)

	c.now = c.now.Add(2 * time.Minute)
	_, _, err = issuer.Validate(ctx, store, bearer)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, tokens, _ := store.Len()
	assert.Zero(t, tokens, "expired record is removed when presented")

	n, err := issuer.PurgeExpired(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRevokeExpiredDeletesRecord(t *testing.T) {
	issuer, store, user, c := setup(t, time.Minute)
	ctx := context.Background()
	_, bearer, err := issuer.Issue(ctx, store, user)
	require.NoError(t, err)

	c.now = c.now.Add(time.Hour)
	assert.ErrorIs(t, issuer.Revoke(ctx, store, bearer), ErrUnauthenticated)

	_, tokens, _ := store.Len()
	assert.Zero(t, tokens)
}

func TestValidateRejectsForeignIssuer(t *testing.T) {
	issuer, store, user, c := setup(t, 0)

	claims := jwt.RegisteredClaims{ID: strings.Repeat("cd", keyBytes), Issuer: "someone-else", Subject: user.ID.String(), IssuedAt: jwt.NewNumericDate(c.now)}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, _, err = issuer.Validate(context.Background(), store, signed)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestValidateInactiveUser(t *testing.T) {
	issuer, store, _, _ := setup(t, 0)
	ctx := context.Background()
	inactive := models.User{Email: "b@x.com", IsActive: false}
	require.NoError(t, store.Users().Create(ctx, &inactive))

	_, bearer, err := issuer.Issue(ctx, store, inactive)
	require.NoError(t, err)
	_, _, err = issuer.Validate(ctx, store, bearer)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRevoke(t *testing.T) {
	issuer, store, user, _ := setup(t, 0)
	ctx := context.Background()

	_, first, err := issuer.Issue(ctx, store, user)
	require.NoError(t, err)
	_, second, err := issuer.Issue(ctx, store, user)
	require.NoError(t, err)

	require.NoError(t, issuer.Revoke(ctx, store, first))
	assert.ErrorIs(t, issuer.Revoke(ctx, store, first), ErrUnauthenticated)

	_, _, err = issuer.Validate(ctx, store, first)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, _, err = issuer.Validate(ctx, store, second)
	assert.NoError(t, err, "other sessions stay valid")
}

func TestIssueInsideRolledBackTx(t *testing.T) {
	issuer, store, user, _ := setup(t, 0)
	ctx := context.Background()

	var bearer string
	err := store.WithTx(ctx, func(ctx context.Context, r storage.Repositories) error {
		var err error
		_, bearer, err = issuer.Issue(ctx, r, user)
		if err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, _, err = issuer.Validate(ctx, store, bearer)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestIssueForUnknownUser(t *testing.T) {
	issuer, store, _, _ := setup(t, 0)
	_, _, err := issuer.Issue(context.Background(), store, models.User{ID: uuid.New()})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDigest(t *testing.T) {
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", Digest("hello"))
}
