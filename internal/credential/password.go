package credential

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"auth-service/internal/account"
)

// bcryptCost matches the work factor the stored hashes were created with.
const bcryptCost = 12

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func ComparePassword(hash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// PasswordVerifier checks a password against the account matched by email or
// username. It performs no writes.
type PasswordVerifier struct {
	store account.Store
}

func NewPasswordVerifier(store account.Store) *PasswordVerifier {
	return &PasswordVerifier{store: store}
}

// Verify returns the matched account on success. Absent accounts and hash
// mismatches both collapse to ErrInvalidCredentials so callers cannot
// enumerate accounts; google-backed accounts fail with ErrWrongAuthMethod so
// the boundary can point the user at the google sign-in path.
func (v *PasswordVerifier) Verify(ctx context.Context, identifier, password string) (*account.Account, error) {
	acct, err := v.store.FindByEmailOrUsername(ctx, identifier)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if acct.AuthMethod == account.AuthMethodGoogle {
		return nil, ErrWrongAuthMethod
	}
	if !acct.Active {
		return nil, ErrAccountDeactivated
	}
	if !ComparePassword(acct.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return acct, nil
}
