// Package apperr defines the error taxonomy shared by the client sync layer
// and the API server.
//
// Plain conditions are sentinel errors compared with errors.Is. Conditions
// that carry data (which document failed to decrypt, which field was invalid,
// which network operation broke) are typed errors inspected with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthentication means there is no valid session or token.
	ErrAuthentication = errors.New("authentication required")
	// ErrAuthRequired is returned when sync is enabled without a session.
	ErrAuthRequired = errors.New("sync requires an authenticated session")
	// ErrSyncDisabled is returned by a sync request while sync is turned off.
	ErrSyncDisabled = errors.New("sync is disabled")
	// ErrConflict is returned when a resource already exists (duplicate email).
	ErrConflict = errors.New("already exists")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials is returned on a login with a wrong password or email.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrConfirmationRequired guards irreversible operations.
	ErrConfirmationRequired = errors.New("explicit confirmation required")
	// ErrMalformedCiphertext is returned when a payload fails the structural
	// envelope check before any decryption attempt.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

// DecryptionError reports a ciphertext that no known key could open.
type DecryptionError struct {
	// ID identifies the document, empty when unknown.
	ID string
	// Attempts is the number of keys tried.
	Attempts int
}

func (e *DecryptionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("decryption failed after %d key(s)", e.Attempts)
	}
	return fmt.Sprintf("decryption of %s failed after %d key(s)", e.ID, e.Attempts)
}

// NetworkError is a transient connectivity or backend failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError reports a malformed measurement or credential payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is a shorthand constructor for ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsDecryption reports whether err is a DecryptionError.
func IsDecryption(err error) bool {
	var d *DecryptionError
	return errors.As(err, &d)
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrAuthentication), errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
