package directory

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("directory: not found")
	ErrConflict           = errors.New("directory: already exists")
	ErrInvalidInput       = errors.New("directory: invalid input")
	ErrForbidden          = errors.New("directory: forbidden")
	ErrInvalidCredentials = errors.New("directory: invalid credentials")

	// ErrSelfConnection is an ErrInvalidInput: an organization cannot request
	// a connection with itself.
	ErrSelfConnection = fmt.Errorf("%w: organization cannot connect to itself", ErrInvalidInput)
)
