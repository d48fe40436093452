package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/hussnainartilence/survey-backend/internal/models"
	pkgauth "github.com/hussnainartilence/survey-backend/pkg/auth"
	pkghttp "github.com/hussnainartilence/survey-backend/pkg/http"
)

const (
	msgInvalidCredentials = "Incorrect email or password. Please try again or reset your password."
	msgLockedOut          = "You have entered the wrong password too many times. Please try again later or reset your password."
)

// SessionServiceInterface defines the token issuing operations
type SessionServiceInterface interface {
	Login(ctx context.Context, identifier, password, clientIP string) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
}

// SessionHandler serves /token and /token/refresh
type SessionHandler struct {
	service  SessionServiceInterface
	ipConfig *pkghttp.IPConfig
}

func NewSessionHandler(service SessionServiceInterface, ipConfig *pkghttp.IPConfig) *SessionHandler {
	return &SessionHandler{service: service, ipConfig: ipConfig}
}

// LoginRequest accepts an account name or email in Username
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=320"`
	Password string `json:"password" validate:"required,max=1024"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Login handles POST /token. Both a JSON body and the OAuth2 password form
// encoding are accepted.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLoginRequest(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)

	pair, err := h.service.Login(r.Context(), req.Username, req.Password, clientIP)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, msgInvalidCredentials)
		case errors.Is(err, models.ErrAccountLocked):
			pkghttp.WriteLockedOut(w, msgLockedOut)
		case errors.Is(err, models.ErrUnsupportedAuthMode):
			pkghttp.WriteBadRequest(w, "Unknown auth mode")
		case errors.Is(err, models.ErrRateLimited):
			pkghttp.WriteTooManyRequests(w, "Too many login attempts. Please try again later.")
		default:
			writeServiceError(w, err)
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// Refresh handles POST /token/refresh
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

func decodeLoginRequest(r *http.Request) (LoginRequest, error) {
	var req LoginRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		return req, nil
	}

	err := json.NewDecoder(r.Body).Decode(&req)
	return req, err
}

// writeServiceError renders the errors shared by every handler
func writeServiceError(w http.ResponseWriter, err error) {
	var tokenErr *models.TokenError
	var validationErr *pkgauth.PasswordValidationError

	switch {
	case errors.As(err, &tokenErr):
		pkghttp.WriteTokenError(w, tokenErrorCode(tokenErr.Kind), tokenErr.Kind.Message())
	case errors.As(err, &validationErr):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "invalid_password", validationErr.Error(), "password")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Could not validate credentials")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "You are not allowed to perform this action")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrEmailInUse):
		pkghttp.WriteConflict(w, "Email already in use. Try logging in instead.")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "User already exists. Try logging in instead.")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func tokenErrorCode(kind models.TokenErrorKind) string {
	switch kind {
	case models.TokenMalformed:
		return "token_malformed"
	case models.TokenBadSignature:
		return "token_bad_signature"
	case models.TokenExpired:
		return "token_expired"
	case models.TokenVerificationFailed:
		return "token_verification_failed"
	case models.TokenUserNotFound:
		return "token_user_not_found"
	default:
		return "token_invalid"
	}
}
