package session

import (
	"errors"
	"fmt"

	"auth-service/internal/account"
)

var (
	// ErrEmailTakenByGoogle is errors.Is-compatible with
	// account.ErrDuplicateEmail but carries the redirect hint: the email is
	// owned by a google-backed account, so registering a password for it is
	// the wrong path.
	ErrEmailTakenByGoogle = fmt.Errorf("%w with google", account.ErrDuplicateEmail)

	// ErrMethodMismatch means a google sign-in hit an email owned by a
	// password account; the user must log in with their password.
	ErrMethodMismatch = errors.New("email is registered with a password")

	// ErrInvalidRefreshToken covers forged, expired, rotated-away and
	// orphaned refresh tokens alike. The cases are deliberately not
	// distinguished to the caller.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	ErrIncorrectPassword = errors.New("current password is incorrect")
)

// ValidationError reports malformed input, caught before any store access.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalidInput(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
