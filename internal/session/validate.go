package session

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9]{3,30}$`)
	emailRegex    = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
)

const (
	maxNameLength     = 50
	minPasswordLength = 6
	// bcrypt rejects inputs over 72 bytes, so longer passwords must fail
	// validation before they reach the hasher.
	maxPasswordLength = 72
)

func validateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return invalidInput("username must be 3-30 alphanumeric characters")
	}
	return nil
}

func validateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return invalidInput("please provide a valid email address")
	}
	return nil
}

// validatePassword requires at least one uppercase letter, one lowercase
// letter and one digit.
func validatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return invalidInput("password must be between %d and %d characters", minPasswordLength, maxPasswordLength)
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return invalidInput("password must contain at least one uppercase letter, one lowercase letter, and one number")
	}

	return nil
}

func validateName(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return invalidInput("%s is required", field)
	}
	if len(value) > maxNameLength {
		return invalidInput("%s cannot exceed %d characters", field, maxNameLength)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
