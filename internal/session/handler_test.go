package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-service/internal/account"
	"auth-service/internal/token"
)

type handlerFixture struct {
	mux    *http.ServeMux
	store  *memStore
	google *fakeGoogle
	engine *token.Engine
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store := newMemStore()
	google := &fakeGoogle{claim: googleClaim()}
	engine := testEngine(t)
	handler := NewHandler(NewService(store, google, engine))

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", http.HandlerFunc(handler.Register))
	mux.Handle("POST /auth/login", http.HandlerFunc(handler.Login))
	mux.Handle("POST /auth/google", http.HandlerFunc(handler.GoogleLogin))
	mux.Handle("POST /auth/refresh", http.HandlerFunc(handler.Refresh))
	mux.Handle("POST /auth/logout", Middleware(engine, http.HandlerFunc(handler.Logout)))
	mux.Handle("GET /auth/profile", Middleware(engine, http.HandlerFunc(handler.GetProfile)))
	mux.Handle("PATCH /auth/profile", Middleware(engine, http.HandlerFunc(handler.UpdateProfile)))
	mux.Handle("GET /admin/accounts/{id}", Middleware(engine, RequireAdmin(store, http.HandlerFunc(handler.AdminGetAccount))))

	return &handlerFixture{mux: mux, store: store, google: google, engine: engine}
}

func (f *handlerFixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func registerBody() map[string]string {
	return map[string]string{
		"username":  "alice",
		"email":     "a@x.com",
		"password":  "Abc123!!",
		"firstName": "Alice",
		"lastName":  "Smith",
	}
}

func TestHandlerRegisterAndLogin(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register", "", registerBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	payload := decodeResponse(t, rec)
	assert.NotEmpty(t, payload["accessToken"])
	assert.NotEmpty(t, payload["refreshToken"])
	user, ok := payload["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", user["email"])
	// The hash never leaves the service.
	assert.NotContains(t, rec.Body.String(), "password")

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"identifier": "alice",
		"password":   "Abc123!!",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"identifier": "alice",
		"password":   "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", decodeResponse(t, rec)["error"])
}

func TestHandlerRegisterRejectsBadBodies(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid json body", decodeResponse(t, rec)["error"])

	body := registerBody()
	rec = f.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username": body["username"], "email": body["email"], "password": body["password"],
		"firstName": body["firstName"], "lastName": body["lastName"],
		"unexpected": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerGoogleOwnedEmailMessage(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/google", "", map[string]string{"idToken": "id-token"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "account created successfully", decodeResponse(t, rec)["message"])

	// A repeat sign-in is a plain login.
	rec = f.do(t, http.MethodPost, "/auth/google", "", map[string]string{"idToken": "id-token"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "login successful", decodeResponse(t, rec)["message"])

	// Registering locally on the google-owned email gets the redirect message.
	body := registerBody()
	body["email"] = "grace@x.com"
	rec = f.do(t, http.MethodPost, "/auth/register", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t,
		"this email is already registered with google, please sign in with google instead",
		decodeResponse(t, rec)["error"])
}

func TestHandlerRefreshRotationAndReplay(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register", "", registerBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	refreshToken, _ := decodeResponse(t, rec)["refreshToken"].(string)
	require.NotEmpty(t, refreshToken)

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Replaying a consumed token fails.
	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid refresh token", decodeResponse(t, rec)["error"])
}

func TestHandlerAuthMiddleware(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register", "", registerBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	payload := decodeResponse(t, rec)
	accessToken, _ := payload["accessToken"].(string)
	refreshToken, _ := payload["refreshToken"].(string)

	rec = f.do(t, http.MethodGet, "/auth/profile", accessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user, ok := decodeResponse(t, rec)["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", user["username"])

	// No token, garbage token, and a refresh token used as an access token are
	// all rejected before the handler runs.
	rec = f.do(t, http.MethodGet, "/auth/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/auth/profile", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/auth/profile", refreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerUpdateProfile(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register", "", registerBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	accessToken, _ := decodeResponse(t, rec)["accessToken"].(string)

	rec = f.do(t, http.MethodPatch, "/auth/profile", accessToken, map[string]string{
		"firstName": "Alicia",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	user, ok := decodeResponse(t, rec)["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alicia", user["firstName"])
	assert.Equal(t, "Smith", user["lastName"])
}

func TestHandlerAdminRoute(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register", "", registerBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	payload := decodeResponse(t, rec)
	accessToken, _ := payload["accessToken"].(string)
	user, _ := payload["user"].(map[string]any)
	accountID, _ := user["id"].(string)
	require.NotEmpty(t, accountID)

	// Regular users are forbidden.
	rec = f.do(t, http.MethodGet, "/admin/accounts/"+accountID, accessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Promote and retry.
	f.store.mu.Lock()
	f.store.accounts[accountID].Role = account.RoleAdmin
	f.store.mu.Unlock()

	rec = f.do(t, http.MethodGet, "/admin/accounts/"+accountID, accessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/accounts/no-such-id", accessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerLogout(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register", "", registerBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	payload := decodeResponse(t, rec)
	accessToken, _ := payload["accessToken"].(string)
	refreshToken, _ := payload["refreshToken"].(string)

	rec = f.do(t, http.MethodPost, "/auth/logout", accessToken, map[string]string{"refreshToken": refreshToken})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
