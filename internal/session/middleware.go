package session

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"auth-service/internal/account"
	"auth-service/internal/token"
)

type contextKey string

const accountIDKey contextKey = "session.accountID"

// AccountID returns the authenticated account id set by Middleware, or "".
func AccountID(ctx context.Context) string {
	id, _ := ctx.Value(accountIDKey).(string)
	return id
}

// Middleware authenticates requests with a Bearer access token. Refresh and
// narrow-purpose tokens are rejected here; only access tokens grant entry.
func Middleware(engine *token.Engine, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}

		claims, err := engine.VerifyAccess(tokenStr)
		if err != nil {
			if errors.Is(err, token.ErrExpired) {
				writeError(w, http.StatusUnauthorized, "access token has expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid access token")
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin loads the authenticated account and rejects non-admins. Wrap
// inside Middleware.
func RequireAdmin(store account.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := store.FindByID(r.Context(), AccountID(r.Context()))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "account not found")
			return
		}
		if !acct.Active || acct.Role != account.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	tokenStr := strings.TrimSpace(parts[1])
	return tokenStr, tokenStr != ""
}
