package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"

	"auth-service/internal/account"
)

const (
	userinfoEndpoint       = "https://www.googleapis.com/oauth2/v2/userinfo"
	defaultProviderTimeout = 10 * time.Second
)

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Timeout bounds every call to Google; a hung provider surfaces as
	// ErrProviderUnavailable instead of blocking the caller.
	Timeout time.Duration
}

// GoogleVerifier implements Federated against Google's OAuth2 endpoints. The
// ID-token path validates signature and audience against Google's published
// JWKS; the code-exchange path trades an authorization code for provider
// tokens and reads the userinfo endpoint.
type GoogleVerifier struct {
	cfg      GoogleConfig
	oauth    *oauth2.Config
	validate func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

func NewGoogleVerifier(cfg GoogleConfig) (*GoogleVerifier, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("google client id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProviderTimeout
	}

	return &GoogleVerifier{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		},
		validate: idtoken.Validate,
	}, nil
}

func (g *GoogleVerifier) VerifyIDToken(ctx context.Context, rawIDToken string) (*IdentityClaim, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	payload, err := g.validate(ctx, rawIDToken, g.cfg.ClientID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, ErrProviderUnavailable
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}

	claim := &IdentityClaim{
		Email:         stringClaim(payload.Claims, "email"),
		EmailVerified: boolClaim(payload.Claims, "email_verified"),
		FirstName:     stringClaim(payload.Claims, "given_name"),
		LastName:      stringClaim(payload.Claims, "family_name"),
		GoogleID:      payload.Subject,
		Method:        account.AuthMethodGoogle,
	}
	if picture := stringClaim(payload.Claims, "picture"); picture != "" {
		claim.Avatar = &picture
	}

	return checkVerified(claim)
}

func (g *GoogleVerifier) ExchangeCode(ctx context.Context, code string) (*IdentityClaim, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	providerToken, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	claim, err := g.fetchUserinfo(ctx, providerToken)
	if err != nil {
		return nil, err
	}

	return checkVerified(claim)
}

// AuthURL builds the consent-screen URL for the server-side flow.
func (g *GoogleVerifier) AuthURL(state string) string {
	return g.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

func (g *GoogleVerifier) fetchUserinfo(ctx context.Context, providerToken *oauth2.Token) (*IdentityClaim, error) {
	resp, err := g.oauth.Client(ctx, providerToken).Get(userinfoEndpoint)
	if err != nil {
		return nil, ErrProviderUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, ErrProviderUnavailable
		}
		return nil, fmt.Errorf("%w: userinfo returned %d", ErrInvalidAssertion, resp.StatusCode)
	}

	var info struct {
		ID         string `json:"id"`
		Email      string `json:"email"`
		Verified   bool   `json:"verified_email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
		Picture    string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode userinfo: %v", ErrInvalidAssertion, err)
	}

	claim := &IdentityClaim{
		Email:         info.Email,
		EmailVerified: info.Verified,
		FirstName:     info.GivenName,
		LastName:      info.FamilyName,
		GoogleID:      info.ID,
		Method:        account.AuthMethodGoogle,
	}
	if info.Picture != "" {
		claim.Avatar = &info.Picture
	}

	return claim, nil
}

func checkVerified(claim *IdentityClaim) (*IdentityClaim, error) {
	if claim.GoogleID == "" || claim.Email == "" {
		return nil, ErrInvalidAssertion
	}
	if !claim.EmailVerified {
		return nil, ErrEmailUnverified
	}
	return claim, nil
}

func classifyExchangeError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrProviderUnavailable
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
		retrieveErr.Response.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w: code exchange rejected", ErrInvalidAssertion)
	}

	return ErrProviderUnavailable
}

func stringClaim(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return value
}

func boolClaim(claims map[string]any, key string) bool {
	switch value := claims[key].(type) {
	case bool:
		return value
	case string:
		return value == "true"
	default:
		return false
	}
}
