package auth

import "errors"

var (
	// ErrUnauthorized means no valid identity was presented (401 semantics).
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrForbidden means the identity is valid but lacks a required grant (403 semantics).
	ErrForbidden = errors.New("auth: forbidden")
	// ErrInvalidToken indicates a session token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
)
