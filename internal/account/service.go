// Package account implements registration, login, logout and password changes.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hongminglow/accounts/internal/auth"
	"github.com/hongminglow/accounts/internal/logging"
	"github.com/hongminglow/accounts/internal/metrics"
	"github.com/hongminglow/accounts/internal/models"
	"github.com/hongminglow/accounts/internal/notify"
	"github.com/hongminglow/accounts/internal/storage"
	"github.com/hongminglow/accounts/internal/tasks"
	"github.com/hongminglow/accounts/internal/telemetry"
)

const enqueueTimeout = 5 * time.Second

var tracer = telemetry.Tracer("github.com/hongminglow/accounts/internal/account")

// PasswordValidator reports every rule a candidate password breaks.
type PasswordValidator interface {
	Check(password string, related ...string) []string
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
	CompareDummy(password string)
}

type RegisterInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
	Gender      models.Gender
}

type LoginInput struct {
	Email    string
	Password string
}

// ChangePasswordInput carries the form fields. An empty OldPassword skips the
// current password check.
type ChangePasswordInput struct {
	OldPassword             string
	NewPassword             string
	NewPasswordConfirmation string
}

// Result is returned by Register and Login. Token is the only copy of the bearer string.
type Result struct {
	User  models.User
	Token string
}

// Service orchestrates account operations over the store and token issuer.
type Service struct {
	store   storage.Store
	issuer  *auth.TokenIssuer
	hasher  PasswordHasher
	policy  PasswordValidator
	queue   tasks.Queue
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	revokeOnPasswordChange bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRevokeOnPasswordChange makes ChangePassword delete every other token of the user.
func WithRevokeOnPasswordChange(revoke bool) Option {
	return func(s *Service) { s.revokeOnPasswordChange = revoke }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the service. Every collaborator is required.
func NewService(store storage.Store, issuer *auth.TokenIssuer, hasher PasswordHasher, policy PasswordValidator, queue tasks.Queue, opts ...Option) *Service {
	s := &Service{
		store:  store,
		issuer: issuer,
		hasher: hasher,
		policy: policy,
		queue:  queue,
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the user and its first token in one transaction, then
// queues the welcome mail.
func (s *Service) Register(ctx context.Context, in RegisterInput) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "account.Register")
	defer func() { telemetry.End(span, err) }()

	in.normalize()
	if err := s.validateRegister(in); err != nil {
		s.metrics.Registration(metrics.ResultInvalid)
		return Result{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Result{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := models.User{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PhoneNumber:  in.PhoneNumber,
		Gender:       in.Gender,
		IsActive:     true,
		LastLogin:    &now,
	}
	var bearer string
	err = s.store.WithTx(ctx, func(ctx context.Context, repos storage.Repositories) error {
		if err := repos.Users().Create(ctx, &user); err != nil {
			return err
		}
		_, token, err := s.issuer.Issue(ctx, repos, user)
		if err != nil {
			return err
		}
		bearer = token
		return nil
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		s.metrics.Registration(metrics.ResultConflict)
		return Result{}, ErrConflict
	}
	if err != nil {
		s.metrics.Registration(metrics.ResultFailure)
		return Result{}, fmt.Errorf("register user: %w", err)
	}

	s.metrics.Registration(metrics.ResultSuccess)
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	s.enqueueWelcome(ctx, user)
	return Result{User: user, Token: bearer}, nil
}

// enqueueWelcome never fails the caller; the account already exists.
func (s *Service) enqueueWelcome(ctx context.Context, user models.User) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	handle, err := s.queue.Enqueue(ctx, notify.WelcomeTask, notify.WelcomePayload{UserID: user.ID})
	s.metrics.Enqueued(notify.WelcomeTask, err)
	if err != nil {
		s.logger.ErrorContext(ctx, "enqueue welcome mail failed", "user_id", user.ID, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "welcome mail queued", "user_id", user.ID, "task_id", handle.ID)
}

// Login checks the credentials and issues a new token. Every failure other
// than missing fields is reported as ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, in LoginInput) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "account.Login")
	defer func() { telemetry.End(span, err) }()

	in.Email = NormalizeEmail(in.Email)
	if err := validateLogin(in); err != nil {
		s.metrics.Login(metrics.ResultInvalid)
		return Result{}, err
	}

	user, err := s.store.Users().GetByEmail(ctx, in.Email)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.hasher.CompareDummy(in.Password)
		s.metrics.Login(metrics.ResultFailure)
		return Result{}, ErrInvalidCredentials
	case err != nil:
		return Result{}, fmt.Errorf("load user: %w", err)
	}
	if !s.hasher.Compare(user.PasswordHash, in.Password) || !user.IsActive {
		s.metrics.Login(metrics.ResultFailure)
		return Result{}, ErrInvalidCredentials
	}

	var bearer string
	err = s.store.WithTx(ctx, func(ctx context.Context, repos storage.Repositories) error {
		stored, err := repos.Users().UpdateLastLogin(ctx, user.ID, s.now())
		if err != nil {
			return fmt.Errorf("update last login: %w", err)
		}
		user.LastLogin = &stored
		_, token, err := s.issuer.Issue(ctx, repos, user)
		if err != nil {
			return err
		}
		bearer = token
		return nil
	})
	if err != nil {
		s.metrics.Login(metrics.ResultFailure)
		return Result{}, fmt.Errorf("login: %w", err)
	}

	s.metrics.Login(metrics.ResultSuccess)
	return Result{User: user, Token: bearer}, nil
}

// Authenticate resolves a bearer string to a session.
func (s *Service) Authenticate(ctx context.Context, bearer string) (auth.Session, error) {
	user, token, err := s.issuer.Validate(ctx, s.store, bearer)
	if err != nil {
		return auth.Session{}, err
	}
	return auth.Session{User: user, Token: token, Bearer: bearer}, nil
}

// Logout revokes exactly the presented token.
func (s *Service) Logout(ctx context.Context, bearer string) (err error) {
	ctx, span := tracer.Start(ctx, "account.Logout")
	defer func() { telemetry.End(span, err) }()

	return s.issuer.Revoke(ctx, s.store, bearer)
}

// ChangePassword replaces the password of the session's user.
func (s *Service) ChangePassword(ctx context.Context, session auth.Session, in ChangePasswordInput) (err error) {
	ctx, span := tracer.Start(ctx, "account.ChangePassword")
	defer func() { telemetry.End(span, err) }()

	if err := s.validateChangePassword(session.User, in); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, repos storage.Repositories) error {
		user, err := repos.Users().LockByID(ctx, session.User.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUnauthenticated
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if in.OldPassword != "" && !s.hasher.Compare(user.PasswordHash, in.OldPassword) {
			return fieldError("old_password", msgWrongPassword)
		}
		if err := repos.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if !s.revokeOnPasswordChange {
			return nil
		}
		n, err := repos.Tokens().DeleteByUser(ctx, user.ID, session.Token.ID)
		if err != nil {
			return fmt.Errorf("revoke tokens: %w", err)
		}
		s.logger.InfoContext(ctx, "revoked tokens after password change", "user_id", user.ID, "count", n)
		return nil
	})
	return err
}

// PurgeExpiredTokens deletes token records past their expiry.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	return s.issuer.PurgeExpired(ctx, s.store)
}
