package account

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrDuplicateEmail    = errors.New("email is already registered")
	ErrDuplicateUsername = errors.New("username is already taken")
	ErrDuplicateGoogleID = errors.New("google account is already linked")
)

// Store is the identity-store contract. Implementations must report a missing
// record as ErrNotFound, distinct from transport failures, and must enforce
// the uniqueness of email, username and google id at write time.
//
// Refresh-token references are passed as opaque hashes; callers hash the raw
// token before it reaches the store. Appends keep only the most recent
// MaxRefreshTokens references per account. RotateRefreshToken must be atomic:
// of N concurrent rotations presenting the same old hash, exactly one removes
// the reference, the rest observe ErrNotFound.
type Store interface {
	Create(ctx context.Context, acct *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByEmailOrUsername(ctx context.Context, identifier string) (*Account, error)
	FindByGoogleID(ctx context.Context, googleID string) (*Account, error)
	UpdateFields(ctx context.Context, id string, fields Fields) (*Account, error)

	AppendRefreshToken(ctx context.Context, id, tokenHash string) error
	RemoveRefreshToken(ctx context.Context, id, tokenHash string) error
	RotateRefreshToken(ctx context.Context, id, oldHash, newHash string) error
	FindByRefreshToken(ctx context.Context, tokenHash string) (*Account, error)
	PurgeRefreshTokens(ctx context.Context, id string) error
}

const (
	// MaxRefreshTokens bounds concurrent sessions per account.
	MaxRefreshTokens = 5
	// RefreshTokenRetention is how long a stored reference stays usable.
	RefreshTokenRetention = 7 * 24 * time.Hour
)
