package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"auth-service/internal/account"
	"auth-service/internal/credential"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type googleLoginRequest struct {
	IDToken string `json:"idToken"`
}

type googleCallbackRequest struct {
	Code string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type updateProfileRequest struct {
	Username  *string `json:"username"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Avatar    *string `json:"avatar"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeBody(w, r, &body) {
		return
	}

	sess, err := h.service.Register(r.Context(), RegisterInput{
		Username:  body.Username,
		Email:     body.Email,
		Password:  body.Password,
		FirstName: body.FirstName,
		LastName:  body.LastName,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeBody(w, r, &body) {
		return
	}

	sess, err := h.service.Login(r.Context(), body.Identifier, body.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var body googleLoginRequest
	if !decodeBody(w, r, &body) {
		return
	}

	sess, err := h.service.GoogleLogin(r.Context(), body.IDToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeGoogleSession(w, sess)
}

func (h *Handler) GoogleAuthURL(w http.ResponseWriter, r *http.Request) {
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	writeJSON(w, http.StatusOK, map[string]string{"authUrl": h.service.GoogleAuthURL(state)})
}

func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	var body googleCallbackRequest
	if !decodeBody(w, r, &body) {
		return
	}

	sess, err := h.service.GoogleExchange(r.Context(), body.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeGoogleSession(w, sess)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeBody(w, r, &body) {
		return
	}

	sess, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body logoutRequest
	if !decodeBody(w, r, &body) {
		return
	}

	if err := h.service.Logout(r.Context(), AccountID(r.Context()), body.RefreshToken); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	acct, err := h.service.GetProfile(r.Context(), AccountID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": acct})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body updateProfileRequest
	if !decodeBody(w, r, &body) {
		return
	}

	acct, err := h.service.UpdateProfile(r.Context(), AccountID(r.Context()), ProfileUpdate{
		Username:  body.Username,
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Avatar:    body.Avatar,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": acct})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var body changePasswordRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.CurrentPassword == "" || body.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current password and new password are required")
		return
	}

	err := h.service.ChangePassword(r.Context(), AccountID(r.Context()), body.CurrentPassword, body.NewPassword)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed, please login again"})
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Deactivate(r.Context(), AccountID(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AdminGetAccount lets an admin fetch any account by id.
func (h *Handler) AdminGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.service.GetProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": acct})
}

func writeGoogleSession(w http.ResponseWriter, sess *Session) {
	status := http.StatusOK
	message := "login successful"
	if sess.Created {
		status = http.StatusCreated
		message = "account created successfully"
	}

	writeJSON(w, status, map[string]any{
		"message":      message,
		"user":         sess.Account,
		"accessToken":  sess.AccessToken,
		"refreshToken": sess.RefreshToken,
		"expiresIn":    sess.ExpiresIn,
	})
}

// writeServiceError maps the domain error taxonomy to transport codes. Only
// unexpected failures reach Sentry; everything else is a typed result.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, ErrEmailTakenByGoogle):
		writeError(w, http.StatusBadRequest, "this email is already registered with google, please sign in with google instead")
	case errors.Is(err, account.ErrDuplicateEmail):
		writeError(w, http.StatusBadRequest, "email is already registered")
	case errors.Is(err, account.ErrDuplicateUsername):
		writeError(w, http.StatusBadRequest, "username is already taken")
	case errors.Is(err, ErrMethodMismatch):
		writeError(w, http.StatusBadRequest, "this email is already registered with a password, please sign in with your email and password instead")
	case errors.Is(err, credential.ErrWrongAuthMethod):
		writeError(w, http.StatusBadRequest, "this account was created with google, please sign in with google instead")
	case errors.Is(err, credential.ErrEmailUnverified):
		writeError(w, http.StatusBadRequest, "email not verified by google")
	case errors.Is(err, credential.ErrInvalidAssertion):
		writeError(w, http.StatusBadRequest, "invalid google token")
	case errors.Is(err, ErrIncorrectPassword):
		writeError(w, http.StatusBadRequest, "current password is incorrect")
	case errors.Is(err, credential.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, credential.ErrAccountDeactivated):
		writeError(w, http.StatusUnauthorized, "account is deactivated")
	case errors.Is(err, ErrInvalidRefreshToken):
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, account.ErrNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, credential.ErrProviderUnavailable):
		writeError(w, http.StatusServiceUnavailable, "identity provider unavailable")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
