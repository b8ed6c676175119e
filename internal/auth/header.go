package auth

import (
	"context"
	"strings"

	"github.com/hongminglow/accounts/internal/models"
)

// authorization schemes accepted in the Authorization header
var schemes = []string{"bearer", "token"}

// ParseAuthorization extracts the credential from an Authorization header.
func ParseAuthorization(header string) (string, error) {
	scheme, credential, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return "", ErrUnauthenticated
	}
	credential = strings.TrimSpace(credential)
	if credential == "" || strings.ContainsAny(credential, " \t") {
		return "", ErrUnauthenticated
	}
	for _, s := range schemes {
		if strings.EqualFold(scheme, s) {
			return credential, nil
		}
	}
	return "", ErrUnauthenticated
}

// Session is the authenticated caller attached to a request.
type Session struct {
	User   models.User
	Token  models.Token
	Bearer string
}

type sessionKey struct{}

// WithSession stores s on ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext extracts the session stored by WithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
