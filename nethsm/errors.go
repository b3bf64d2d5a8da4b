package nethsm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAuthExpired is returned when the NetHSM rejects the credentials
	// of a request. Callers may rebuild the credentials and retry once.
	ErrAuthExpired = errors.New("nethsm: authentication expired")

	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("nethsm: not found")
)

// APIError is a non successful answer from the NetHSM.
type APIError struct {
	Operation string
	Status    int
	Message   string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("nethsm: %s: status %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("nethsm: %s: status %d: %s", e.Operation, e.Status, e.Message)
}

// Unwrap lets errors.Is match ErrNotFound for 404 answers.
func (e *APIError) Unwrap() error {
	if e.Status == 404 {
		return ErrNotFound
	}
	return nil
}

// IsAuthExpired reports whether err was caused by rejected credentials.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// IsNotFound reports whether err was caused by a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
