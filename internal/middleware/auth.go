package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hongminglow/accounts/internal/auth"
	"github.com/hongminglow/accounts/internal/http/respond"
)

// Authenticator resolves a bearer string to a session.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (auth.Session, error)
}

// RequireAuth rejects requests without a valid token and stores the session
// on the request context.
func RequireAuth(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, err := auth.ParseAuthorization(r.Header.Get("Authorization"))
			if err != nil {
				unauthorized(w, "Authentication credentials were not provided.")
				return
			}
			session, err := authn.Authenticate(r.Context(), bearer)
			if err != nil {
				if !errors.Is(err, auth.ErrUnauthenticated) {
					logger.ErrorContext(r.Context(), "authenticate request", "error", err)
					respond.Error(w, http.StatusInternalServerError, "internal server error")
					return
				}
				unauthorized(w, "Invalid token.")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), session)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	respond.Error(w, http.StatusUnauthorized, message)
}
