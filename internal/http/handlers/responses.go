package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hongminglow/accounts/internal/account"
	"github.com/hongminglow/accounts/internal/http/respond"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads the body into dst and answers 400 when it is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

// writeServiceError maps account errors to HTTP responses. Anything
// unrecognised is logged and hidden behind a 500.
func (h *AccountHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *account.ValidationError
	switch {
	case errors.As(err, &verr):
		respond.Validation(w, "invalid input", verr.Fields)
	case errors.Is(err, account.ErrConflict):
		respond.JSON(w, http.StatusConflict, respond.ErrorBody{
			Error:  "user with this email already exists",
			Fields: map[string][]string{"email": {"user with this email already exists."}},
		})
	case errors.Is(err, account.ErrInvalidCredentials):
		respond.Error(w, http.StatusUnauthorized, "Unable to log in with provided credentials.")
	case errors.Is(err, account.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
		respond.Error(w, http.StatusUnauthorized, "Invalid token.")
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
