// Package session orchestrates the credential and token lifecycle: it
// combines the credential verifiers with the token engine and the identity
// store, enforcing one identity method per account and single-use refresh
// rotation. The service holds no state between calls; the store carries all
// durable state and all correctness-critical atomicity.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"auth-service/internal/account"
	"auth-service/internal/credential"
	"auth-service/internal/token"
)

type Service struct {
	store     account.Store
	passwords *credential.PasswordVerifier
	google    credential.Federated
	tokens    *token.Engine
}

func NewService(store account.Store, google credential.Federated, tokens *token.Engine) *Service {
	return &Service{
		store:     store,
		passwords: credential.NewPasswordVerifier(store),
		google:    google,
		tokens:    tokens,
	}
}

// Session is the success payload of every authenticating operation. Created
// reports whether the operation created the account, derived from which
// branch of the create-or-update path ran.
type Session struct {
	Account *account.Account `json:"user"`
	token.Pair
	Created bool `json:"-"`
}

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a local account and signs it in.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = normalizeEmail(input.Email)

	if err := validateUsername(input.Username); err != nil {
		return nil, err
	}
	if err := validateEmail(input.Email); err != nil {
		return nil, err
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}
	if err := validateName("first name", input.FirstName); err != nil {
		return nil, err
	}
	if err := validateName("last name", input.LastName); err != nil {
		return nil, err
	}

	// Pre-check so a google-owned email gets the redirect message instead of
	// the generic duplicate. The unique index still backstops the race.
	existing, err := s.store.FindByEmail(ctx, input.Email)
	switch {
	case err == nil:
		if existing.AuthMethod == account.AuthMethodGoogle {
			return nil, ErrEmailTakenByGoogle
		}
		return nil, account.ErrDuplicateEmail
	case errors.Is(err, account.ErrNotFound):
	default:
		return nil, fmt.Errorf("check existing email: %w", err)
	}

	hash, err := credential.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate account id: %w", err)
	}

	acct := &account.Account{
		ID:           id.String(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Role:         account.RoleUser,
		Active:       true,
		AuthMethod:   account.AuthMethodLocal,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		return nil, err
	}

	return s.establish(ctx, acct, true)
}

// Login authenticates a local account by email-or-username and password. The
// password is compared exactly as presented; only the identifier is trimmed.
func (s *Service) Login(ctx context.Context, identifier, password string) (*Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, credential.ErrInvalidCredentials
	}

	acct, err := s.passwords.Verify(ctx, identifier, password)
	if err != nil {
		return nil, err
	}

	if acct, err = s.touchLogin(ctx, acct.ID, nil); err != nil {
		return nil, err
	}

	return s.establish(ctx, acct, false)
}

// GoogleLogin signs in with a pre-issued Google ID token.
func (s *Service) GoogleLogin(ctx context.Context, idToken string) (*Session, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, invalidInput("id token is required")
	}

	claim, err := s.google.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}

	return s.reconcileGoogle(ctx, claim)
}

// GoogleExchange signs in by exchanging an authorization code with Google.
func (s *Service) GoogleExchange(ctx context.Context, code string) (*Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, invalidInput("authorization code is required")
	}

	claim, err := s.google.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	return s.reconcileGoogle(ctx, claim)
}

// GoogleAuthURL returns the consent URL for the server-side flow.
func (s *Service) GoogleAuthURL(state string) string {
	return s.google.AuthURL(state)
}

// reconcileGoogle applies the cross-method conflict rules: a local account
// owning the email wins (the caller must use their password), an existing
// google account is refreshed, an unseen email creates a new account. A
// uniqueness violation on the insert means a concurrent first sign-in won the
// creation race; the lookup-then-update path is retried exactly once.
func (s *Service) reconcileGoogle(ctx context.Context, claim *credential.IdentityClaim) (*Session, error) {
	email := normalizeEmail(claim.Email)

	existing, err := s.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return s.googleSignIn(ctx, existing, claim)
	case errors.Is(err, account.ErrNotFound):
	default:
		return nil, fmt.Errorf("lookup google account: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate account id: %w", err)
	}

	acct := &account.Account{
		ID:            id.String(),
		Email:         email,
		FirstName:     claim.FirstName,
		LastName:      claim.LastName,
		Avatar:        claim.Avatar,
		Role:          account.RoleUser,
		Active:        true,
		EmailVerified: true,
		AuthMethod:    account.AuthMethodGoogle,
		GoogleID:      claim.GoogleID,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		if errors.Is(err, account.ErrDuplicateEmail) || errors.Is(err, account.ErrDuplicateGoogleID) {
			// Lost the creation race to a concurrent first sign-in. The winner
			// may hold the same subject under a different email, so look up by
			// whichever constraint fired.
			var existing *account.Account
			var retryErr error
			if errors.Is(err, account.ErrDuplicateGoogleID) {
				existing, retryErr = s.store.FindByGoogleID(ctx, claim.GoogleID)
			} else {
				existing, retryErr = s.store.FindByEmail(ctx, email)
			}
			if retryErr != nil {
				return nil, fmt.Errorf("relookup after creation race: %w", retryErr)
			}
			return s.googleSignIn(ctx, existing, claim)
		}
		return nil, err
	}

	return s.establish(ctx, acct, true)
}

func (s *Service) googleSignIn(ctx context.Context, acct *account.Account, claim *credential.IdentityClaim) (*Session, error) {
	if acct.AuthMethod == account.AuthMethodLocal {
		return nil, ErrMethodMismatch
	}
	if !acct.Active {
		return nil, credential.ErrAccountDeactivated
	}

	acct, err := s.touchLogin(ctx, acct.ID, claim.Avatar)
	if err != nil {
		return nil, err
	}

	return s.establish(ctx, acct, false)
}

// Refresh rotates a refresh token: the presented token is verified, matched
// against its stored reference, atomically swapped for a fresh one, and a new
// pair is returned. A replayed token always fails once rotation succeeded.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	oldHash := refreshTokenHash(refreshToken)
	acct, err := s.store.FindByRefreshToken(ctx, oldHash)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	// A token valid in isolation but held by a different account than its
	// subject claim has been revoked or reassigned.
	if acct.ID != claims.Subject {
		return nil, ErrInvalidRefreshToken
	}
	if !acct.Active {
		return nil, credential.ErrAccountDeactivated
	}

	pair, err := s.tokens.MintPair(acct.ID)
	if err != nil {
		return nil, err
	}

	err = s.store.RotateRefreshToken(ctx, acct.ID, oldHash, refreshTokenHash(pair.RefreshToken))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// A concurrent refresh consumed the reference first. Never retried:
			// the caller must re-authenticate.
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	return &Session{Account: acct.Scrub(), Pair: pair}, nil
}

// Logout removes the presented refresh-token reference. Idempotent: a missing
// or already-rotated token is not an error.
func (s *Service) Logout(ctx context.Context, accountID, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	err := s.store.RemoveRefreshToken(ctx, accountID, refreshTokenHash(refreshToken))
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		return fmt.Errorf("remove refresh token: %w", err)
	}

	return nil
}

// ChangePassword replaces the stored secret and purges every refresh-token
// reference, forcing re-authentication on all devices.
func (s *Service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	acct, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		return err
	}

	if acct.AuthMethod != account.AuthMethodLocal {
		return credential.ErrWrongAuthMethod
	}
	if !credential.ComparePassword(acct.PasswordHash, currentPassword) {
		return ErrIncorrectPassword
	}

	hash, err := credential.HashPassword(newPassword)
	if err != nil {
		return err
	}

	if _, err := s.store.UpdateFields(ctx, accountID, account.Fields{PasswordHash: &hash}); err != nil {
		return err
	}

	return s.store.PurgeRefreshTokens(ctx, accountID)
}

// ProfileUpdate is the allowed-field patch. Email, password, role and
// token references are not representable here, so they cannot be updated
// through this path no matter what the caller supplies.
type ProfileUpdate struct {
	Username  *string
	FirstName *string
	LastName  *string
	Avatar    *string
}

func (s *Service) UpdateProfile(ctx context.Context, accountID string, update ProfileUpdate) (*account.Account, error) {
	fields := account.Fields{Avatar: update.Avatar}

	if update.FirstName != nil {
		if err := validateName("first name", *update.FirstName); err != nil {
			return nil, err
		}
		fields.FirstName = update.FirstName
	}
	if update.LastName != nil {
		if err := validateName("last name", *update.LastName); err != nil {
			return nil, err
		}
		fields.LastName = update.LastName
	}
	if update.Username != nil {
		if err := validateUsername(*update.Username); err != nil {
			return nil, err
		}
		acct, err := s.store.FindByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if acct.AuthMethod != account.AuthMethodLocal {
			return nil, credential.ErrWrongAuthMethod
		}
		fields.Username = update.Username
	}

	acct, err := s.store.UpdateFields(ctx, accountID, fields)
	if err != nil {
		return nil, err
	}

	return acct.Scrub(), nil
}

func (s *Service) GetProfile(ctx context.Context, accountID string) (*account.Account, error) {
	acct, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return acct.Scrub(), nil
}

// Deactivate soft-deletes the account and revokes every session. The record
// itself is never hard-deleted.
func (s *Service) Deactivate(ctx context.Context, accountID string) error {
	inactive := false
	if _, err := s.store.UpdateFields(ctx, accountID, account.Fields{Active: &inactive}); err != nil {
		return err
	}
	return s.store.PurgeRefreshTokens(ctx, accountID)
}

// establish mints a pair for the account and stores the refresh reference.
func (s *Service) establish(ctx context.Context, acct *account.Account, created bool) (*Session, error) {
	pair, err := s.tokens.MintPair(acct.ID)
	if err != nil {
		return nil, err
	}

	if err := s.store.AppendRefreshToken(ctx, acct.ID, refreshTokenHash(pair.RefreshToken)); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &Session{Account: acct.Scrub(), Pair: pair, Created: created}, nil
}

func (s *Service) touchLogin(ctx context.Context, accountID string, avatar *string) (*account.Account, error) {
	now := time.Now().UTC()
	fields := account.Fields{LastLogin: &now}
	if avatar != nil {
		fields.Avatar = avatar
	}

	acct, err := s.store.UpdateFields(ctx, accountID, fields)
	if err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}

	return acct, nil
}

// refreshTokenHash is the stored form of a refresh token; raw tokens never
// reach the identity store.
func refreshTokenHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
