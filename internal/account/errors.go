package account

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hongminglow/accounts/internal/auth"
)

var (
	// ErrUnauthenticated is returned for a missing, unknown or revoked token.
	ErrUnauthenticated = auth.ErrUnauthenticated
	// ErrInvalidCredentials is returned by Login. It matches ErrUnauthenticated.
	ErrInvalidCredentials = fmt.Errorf("unable to log in with provided credentials: %w", auth.ErrUnauthenticated)
	// ErrConflict is returned when the email is already registered.
	ErrConflict = errors.New("user with this email already exists")
)

// Field validation messages.
const (
	msgRequired        = "This field is required."
	msgInvalidEmail    = "Enter a valid email address."
	msgInvalidPhone    = "Enter a valid phone number."
	msgPasswordsDiffer = "The two password fields didn't match."
	msgWrongPassword   = "Your old password was entered incorrectly. Please enter it again."
)

// ValidationError maps request fields to human readable problems.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	return "invalid input: " + strings.Join(keys, ", ")
}

// Add records msg against field.
func (e *ValidationError) Add(field string, msgs ...string) {
	if len(msgs) == 0 {
		return
	}
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msgs...)
}

// Err returns e when it holds at least one problem, nil otherwise.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func fieldError(field, msg string) error {
	v := &ValidationError{}
	v.Add(field, msg)
	return v
}
