package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrExpired means the token was well formed and correctly signed but is
	// past its expiry. Callers can tell users to re-authenticate.
	ErrExpired = errors.New("token expired")
	// ErrInvalid covers every other verification failure: bad signature,
	// wrong issuer or audience, malformed input, wrong token class.
	ErrInvalid = errors.New("token invalid")
	// ErrWrongPurpose means a narrow-purpose token was presented for a
	// different use than it was minted for.
	ErrWrongPurpose = errors.New("token purpose mismatch")
)

type Purpose string

const (
	PurposeAccess            Purpose = "access"
	PurposeRefresh           Purpose = "refresh"
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailVerification Purpose = "email_verification"
)

const (
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 7 * 24 * time.Hour
	defaultResetTTL        = time.Hour
	defaultVerificationTTL = 24 * time.Hour
)

// Config carries the signing material and lifetimes. It is immutable once the
// engine is built; tests inject short-lived secrets and expiries directly.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type Claims struct {
	jwt.RegisteredClaims
	Purpose Purpose `json:"purpose"`
}

type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Engine mints and verifies the service's JWTs. Access and refresh tokens use
// distinct secrets so leaking one cannot forge the other; narrow-purpose
// tokens share the access secret but carry a purpose claim.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("issuer and audience are required")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}

	return &Engine{cfg: cfg}, nil
}

func (e *Engine) MintPair(accountID string) (Pair, error) {
	access, err := e.mint(accountID, PurposeAccess, e.cfg.AccessSecret, e.cfg.AccessTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("mint access token: %w", err)
	}

	refresh, err := e.mint(accountID, PurposeRefresh, e.cfg.RefreshSecret, e.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("mint refresh token: %w", err)
	}

	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(e.cfg.AccessTTL.Seconds()),
	}, nil
}

func (e *Engine) VerifyAccess(tokenStr string) (*Claims, error) {
	claims, err := e.verify(tokenStr, e.cfg.AccessSecret)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeAccess {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (e *Engine) VerifyRefresh(tokenStr string) (*Claims, error) {
	claims, err := e.verify(tokenStr, e.cfg.RefreshSecret)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeRefresh {
		return nil, ErrInvalid
	}
	return claims, nil
}

// MintPurposeToken issues a password-reset (1h) or email-verification (24h)
// token for the given account.
func (e *Engine) MintPurposeToken(accountID string, purpose Purpose) (string, error) {
	var ttl time.Duration
	switch purpose {
	case PurposePasswordReset:
		ttl = defaultResetTTL
	case PurposeEmailVerification:
		ttl = defaultVerificationTTL
	default:
		return "", fmt.Errorf("unsupported purpose %q", purpose)
	}

	return e.mint(accountID, purpose, e.cfg.AccessSecret, ttl)
}

func (e *Engine) VerifyPurposeToken(tokenStr string, purpose Purpose) (*Claims, error) {
	claims, err := e.verify(tokenStr, e.cfg.AccessSecret)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	return claims, nil
}

func (e *Engine) mint(accountID string, purpose Purpose, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			// The jti keeps tokens minted in the same second distinct, so
			// storing them by hash never collides.
			ID:        uuid.NewString(),
			Subject:   accountID,
			Issuer:    e.cfg.Issuer,
			Audience:  jwt.ClaimStrings{e.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Purpose: purpose,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	return signed, nil
}

// verify never panics on malformed input; every failure collapses to either
// ErrExpired or ErrInvalid.
func (e *Engine) verify(tokenStr string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(e.cfg.Issuer),
		jwt.WithAudience(e.cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if !parsed.Valid {
		return nil, ErrInvalid
	}

	return claims, nil
}
