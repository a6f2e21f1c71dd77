package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"orgmesh.io/internal/auth"
	"orgmesh.io/internal/directory"
	"orgmesh.io/internal/token"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// handleDomainError maps service errors onto HTTP statuses. Spent and expired
// single-use tokens get 410 so clients can distinguish a dead link from a
// mistyped one.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, directory.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, directory.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, directory.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, token.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, token.ErrAlreadyUsed), errors.Is(err, token.ErrExpired):
		writeError(w, http.StatusGone, "token is no longer valid")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
