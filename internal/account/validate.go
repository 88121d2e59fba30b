package account

import (
	"errors"
	"strings"
)

var (
	ErrPasswordRequired = errors.New("password is required for local authentication")
	ErrGoogleIDRequired = errors.New("google id is required for google authentication")
	ErrEmailRequired    = errors.New("email is required")
	ErrNamesRequired    = errors.New("first name and last name are required")
)

// CheckFunc inspects or normalizes an account before it is persisted. Any
// returned error aborts the write.
type CheckFunc func(*Account) error

// PreSavePipeline is the ordered set of checks applied before every create.
// Order matters: method requirements run before normalization so errors refer
// to the caller's input.
func PreSavePipeline() []CheckFunc {
	return []CheckFunc{
		CheckMethodRequirements,
		NormalizeEmail,
		CheckRequiredFields,
	}
}

func Validate(acct *Account, checks ...CheckFunc) error {
	for _, check := range checks {
		if err := check(acct); err != nil {
			return err
		}
	}
	return nil
}

// CheckMethodRequirements enforces the auth-method invariant: local accounts
// carry a password hash, google accounts carry a google id and are always
// email-verified.
func CheckMethodRequirements(acct *Account) error {
	switch acct.AuthMethod {
	case AuthMethodLocal:
		if acct.PasswordHash == "" {
			return ErrPasswordRequired
		}
	case AuthMethodGoogle:
		if acct.GoogleID == "" {
			return ErrGoogleIDRequired
		}
		acct.EmailVerified = true
	default:
		return errors.New("unknown auth method: " + string(acct.AuthMethod))
	}
	return nil
}

func NormalizeEmail(acct *Account) error {
	acct.Email = strings.ToLower(strings.TrimSpace(acct.Email))
	if acct.Email == "" {
		return ErrEmailRequired
	}
	return nil
}

func CheckRequiredFields(acct *Account) error {
	if strings.TrimSpace(acct.FirstName) == "" || strings.TrimSpace(acct.LastName) == "" {
		return ErrNamesRequired
	}
	return nil
}
