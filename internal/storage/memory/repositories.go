package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hongminglow/accounts/internal/models"
	"github.com/hongminglow/accounts/internal/storage"
)

type userRepo struct{ repos }

func (r userRepo) Create(ctx context.Context, user *models.User) error {
	return r.view(ctx, func(st *state) error {
		if _, taken := st.emails[user.Email]; taken {
			return storage.ErrAlreadyExists
		}
		if user.ID == uuid.Nil {
			user.ID = uuid.New()
		}
		if _, taken := st.users[user.ID]; taken {
			return storage.ErrAlreadyExists
		}
		user.Touch(r.now())
		st.users[user.ID] = *user
		st.emails[user.Email] = user.ID
		return nil
	})
}

func (r userRepo) GetByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	var out models.User
	err := r.view(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		out = u
		return nil
	})
	return out, err
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	var out models.User
	err := r.view(ctx, func(st *state) error {
		id, ok := st.emails[email]
		if !ok {
			return storage.ErrNotFound
		}
		out = st.users[id]
		return nil
	})
	return out, err
}

// LockByID needs no extra locking: a transaction already holds the store lock.
func (r userRepo) LockByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	return r.GetByID(ctx, id)
}

func (r userRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) (time.Time, error) {
	at = at.UTC()
	var stored time.Time
	err := r.view(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		if u.LastLogin == nil || at.After(*u.LastLogin) {
			u.LastLogin = &at
		}
		u.Touch(r.now())
		st.users[id] = u
		stored = *u.LastLogin
		return nil
	})
	return stored, err
}

func (r userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.view(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		u.PasswordHash = passwordHash
		u.Touch(r.now())
		st.users[id] = u
		return nil
	})
}

type tokenRepo struct{ repos }

func (r tokenRepo) Create(ctx context.Context, token *models.Token) error {
	return r.view(ctx, func(st *state) error {
		if _, ok := st.users[token.UserID]; !ok {
			return storage.ErrNotFound
		}
		if _, taken := st.digests[token.Digest]; taken {
			return storage.ErrAlreadyExists
		}
		if token.ID == uuid.Nil {
			token.ID = uuid.New()
		}
		if token.CreatedAt.IsZero() {
			token.CreatedAt = r.now()
		}
		st.tokens[token.ID] = *token
		st.digests[token.Digest] = token.ID
		return nil
	})
}

func (r tokenRepo) GetByDigest(ctx context.Context, digest string) (models.Token, error) {
	var out models.Token
	err := r.view(ctx, func(st *state) error {
		id, ok := st.digests[digest]
		if !ok {
			return storage.ErrNotFound
		}
		out = st.tokens[id]
		return nil
	})
	return out, err
}

func (r tokenRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.view(ctx, func(st *state) error {
		t, ok := st.tokens[id]
		if !ok {
			return storage.ErrNotFound
		}
		st.remove(t)
		return nil
	})
}

func (r tokenRepo) DeleteByUser(ctx context.Context, userID, keep uuid.UUID) (int64, error) {
	var n int64
	err := r.view(ctx, func(st *state) error {
		for id, t := range st.tokens {
			if t.UserID == userID && id != keep {
				st.remove(t)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r tokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.view(ctx, func(st *state) error {
		for _, t := range st.tokens {
			if t.Expired(now) {
				st.remove(t)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (st *state) remove(t models.Token) {
	delete(st.tokens, t.ID)
	delete(st.digests, t.Digest)
}

type receiptRepo struct{ repos }

func (r receiptRepo) Create(ctx context.Context, receipt *models.EmailReceipt) error {
	return r.view(ctx, func(st *state) error {
		if _, ok := st.users[receipt.UserID]; !ok {
			return storage.ErrNotFound
		}
		key := receiptKey{userID: receipt.UserID, emailType: receipt.EmailType}
		if _, taken := st.receipts[key]; taken {
			return storage.ErrAlreadyExists
		}
		if receipt.ID == uuid.Nil {
			receipt.ID = uuid.New()
		}
		receipt.Touch(r.now())
		st.receipts[key] = *receipt
		return nil
	})
}

func (r receiptRepo) Exists(ctx context.Context, userID uuid.UUID, emailType models.EmailType) (bool, error) {
	var ok bool
	err := r.view(ctx, func(st *state) error {
		_, ok = st.receipts[receiptKey{userID: userID, emailType: emailType}]
		return nil
	})
	return ok, err
}
