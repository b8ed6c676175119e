// Package memory keeps accounts in process memory. It backs local runs and
// tests only: transactions are serialized behind a single lock, so slow work
// inside a transaction stalls every other request.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hongminglow/accounts/internal/models"
	"github.com/hongminglow/accounts/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is a mutex guarded in-memory implementation of storage.Store.
// A transaction holds the store lock for its whole duration and works on a
// copy of the state that replaces the live state on commit. Callers must use
// the repositories handed to the TxFunc, never the Store itself, from inside it.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

type receiptKey struct {
	userID    uuid.UUID
	emailType models.EmailType
}

type state struct {
	users    map[uuid.UUID]models.User
	emails   map[string]uuid.UUID
	tokens   map[uuid.UUID]models.Token
	digests  map[string]uuid.UUID
	receipts map[receiptKey]models.EmailReceipt
}

func newState() *state {
	return &state{
		users:    make(map[uuid.UUID]models.User),
		emails:   make(map[string]uuid.UUID),
		tokens:   make(map[uuid.UUID]models.Token),
		digests:  make(map[string]uuid.UUID),
		receipts: make(map[receiptKey]models.EmailReceipt),
	}
}

func (s *state) clone() *state {
	return &state{
		users:    maps.Clone(s.users),
		emails:   maps.Clone(s.emails),
		tokens:   maps.Clone(s.tokens),
		digests:  maps.Clone(s.digests),
		receipts: maps.Clone(s.receipts),
	}
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithClock overrides the time source used for audit fields.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Users() storage.UserRepository       { return userRepo{repos{s: s}} }
func (s *Store) Tokens() storage.TokenRepository     { return tokenRepo{repos{s: s}} }
func (s *Store) Receipts() storage.ReceiptRepository { return receiptRepo{repos{s: s}} }

// WithTx runs fn against a private copy of the state and publishes it on success.
func (s *Store) WithTx(ctx context.Context, fn storage.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.state.clone()
	if err := fn(ctx, repos{s: s, tx: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() {}

// Len reports how many users, tokens and receipts are stored.
func (s *Store) Len() (users, tokens, receipts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.users), len(s.state.tokens), len(s.state.receipts)
}

type repos struct {
	s  *Store
	tx *state
}

func (r repos) Users() storage.UserRepository       { return userRepo{r} }
func (r repos) Tokens() storage.TokenRepository     { return tokenRepo{r} }
func (r repos) Receipts() storage.ReceiptRepository { return receiptRepo{r} }

// view runs fn on the transaction state, or on the live state under the lock.
func (r repos) view(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.tx != nil {
		return fn(r.tx)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return fn(r.s.state)
}

func (r repos) now() time.Time { return r.s.now().UTC() }
