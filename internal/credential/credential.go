// Package credential validates presented credentials, either a password
// against the stored hash or a Google identity assertion against Google's
// published keys, and normalizes the result.
package credential

import (
	"context"
	"errors"

	"auth-service/internal/account"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrWrongAuthMethod     = errors.New("wrong authentication method for this account")
	ErrAccountDeactivated  = errors.New("account is deactivated")
	ErrInvalidAssertion    = errors.New("invalid identity assertion")
	ErrEmailUnverified     = errors.New("email not verified by provider")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// IdentityClaim is the normalized output of a successful verification. It is
// transient and never persisted.
type IdentityClaim struct {
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	Avatar        *string
	GoogleID      string
	Method        account.AuthMethod
}

// Federated verifies assertions from the federated identity provider. Both
// the pre-issued ID-token flow and the authorization-code flow normalize to
// the same claim shape.
type Federated interface {
	VerifyIDToken(ctx context.Context, idToken string) (*IdentityClaim, error)
	ExchangeCode(ctx context.Context, code string) (*IdentityClaim, error)
	AuthURL(state string) string
}
