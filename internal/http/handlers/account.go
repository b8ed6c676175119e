package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hongminglow/accounts/internal/account"
	"github.com/hongminglow/accounts/internal/auth"
	"github.com/hongminglow/accounts/internal/http/respond"
	"github.com/hongminglow/accounts/internal/models/dto"
)

// AccountService is the part of account.Service the handlers call.
type AccountService interface {
	Register(ctx context.Context, in account.RegisterInput) (account.Result, error)
	Login(ctx context.Context, in account.LoginInput) (account.Result, error)
	Logout(ctx context.Context, bearer string) error
	ChangePassword(ctx context.Context, session auth.Session, in account.ChangePasswordInput) error
}

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// AccountHandler owns the register, login, logout and change-password endpoints.
type AccountHandler struct {
	svc         AccountService
	logger      *slog.Logger
	throttle    Middleware
	requireAuth Middleware
}

// NewAccountHandler constructs the handler. throttle guards the anonymous
// endpoints and requireAuth the authenticated ones.
func NewAccountHandler(svc AccountService, logger *slog.Logger, throttle, requireAuth Middleware) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logger, throttle: throttle, requireAuth: requireAuth}
}

// Register attaches account routes to the mux.
func (h *AccountHandler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/register", h.throttle(http.HandlerFunc(h.handleRegister)))
	mux.Handle("POST /api/login", h.throttle(http.HandlerFunc(h.handleLogin)))
	mux.Handle("POST /api/logout", h.requireAuth(http.HandlerFunc(h.handleLogout)))
	mux.Handle("POST /api/change-password", h.requireAuth(http.HandlerFunc(h.handleChangePassword)))
}

func (h *AccountHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), account.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
		Gender:      req.Gender,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, dto.NewAccountResponse(res.User, res.Token))
}

func (h *AccountHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), account.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.NewAccountResponse(res.User, res.Token))
}

func (h *AccountHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		h.writeServiceError(w, r, account.ErrUnauthenticated)
		return
	}
	if err := h.svc.Logout(r.Context(), session.Bearer); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respond.NoContent(w)
}

func (h *AccountHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		h.writeServiceError(w, r, account.ErrUnauthenticated)
		return
	}
	var req dto.ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.svc.ChangePassword(r.Context(), session, account.ChangePasswordInput{
		OldPassword:             req.OldPassword,
		NewPassword:             req.NewPassword,
		NewPasswordConfirmation: req.NewPasswordConfirmation,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, struct{}{})
}
