package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hussnainartilence/survey-backend/internal/auth"
	"github.com/hussnainartilence/survey-backend/internal/models"
	"github.com/hussnainartilence/survey-backend/internal/services"
	pkghttp "github.com/hussnainartilence/survey-backend/pkg/http"
)

// AccountServiceInterface defines the account lifecycle operations
type AccountServiceInterface interface {
	Register(ctx context.Context, input services.RegisterInput, actorID int64) (*models.Account, error)
	VerifyEmail(ctx context.Context, email, token string) error
	Unlock(ctx context.Context, accountID, actorID int64) error
	Disable(ctx context.Context, accountID, actorID int64) error
	IssueAPIKey(ctx context.Context, accountID, actorID int64) (string, error)
}

// PasswordServiceInterface defines the credential rotation operations
type PasswordServiceInterface interface {
	ChangePassword(ctx context.Context, accountID int64, currentPassword, newPassword string) (*models.TokenPair, error)
}

// UserHandler serves the /users routes
type UserHandler struct {
	accounts  AccountServiceInterface
	passwords PasswordServiceInterface
	policy    auth.Policy
}

// NewUserHandler creates a UserHandler. policy decides whether a caller
// acting on another account counts as an admin.
func NewUserHandler(accounts AccountServiceInterface, passwords PasswordServiceInterface, policy auth.Policy) *UserHandler {
	return &UserHandler{accounts: accounts, passwords: passwords, policy: policy}
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// AccountResponse represents an account in HTTP responses
type AccountResponse struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Email         *string    `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	Enabled       bool       `json:"enabled"`
	AuthMode      string     `json:"auth_mode"`
	Roles         []string   `json:"roles"`
	LastAccess    *time.Time `json:"last_access,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toAccountResponse(a *models.Account) AccountResponse {
	roles := a.Roles
	if roles == nil {
		roles = []string{}
	}
	return AccountResponse{
		ID:            a.ID,
		Name:          a.Name,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		Enabled:       a.Enabled,
		AuthMode:      string(a.AuthMode),
		Roles:         roles,
		LastAccess:    a.LastAccess,
		CreatedAt:     a.CreatedAt,
	}
}

// CurrentUser handles GET /users/current_user
func (h *UserHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r.Context())
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, toAccountResponse(account))
}

// VerifyEmail handles GET /users/email/verification?email=&token=
func (h *UserHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	token := r.URL.Query().Get("token")
	if email == "" || token == "" {
		pkghttp.WriteBadRequest(w, "email and token are required")
		return
	}

	if err := h.accounts.VerifyEmail(r.Context(), email, token); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		case errors.Is(err, models.ErrVerificationExpired):
			pkghttp.WriteError(w, http.StatusGone, "verification_expired", "The verification link has expired.")
		default:
			writeServiceError(w, err)
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Verification successful"})
}

// Register handles POST /users/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	account, err := h.accounts.Register(r.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, toAccountResponse(account))
}

// ChangePassword handles PATCH /users/{id}/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := h.targetAccount(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.passwords.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrPasswordMismatch):
			pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "password_mismatch", "The current password is incorrect.", "current_password")
		case errors.Is(err, models.ErrPasswordReused):
			pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "password_reused",
				"The new password you entered is the same as one of your previous five passwords. Please enter a different password.",
				"new_password")
		case errors.Is(err, models.ErrUnsupportedAuthMode):
			pkghttp.WriteBadRequest(w, "Password changes are only available for local accounts")
		default:
			writeServiceError(w, err)
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// Unlock handles POST /users/{id}/unlock
func (h *UserHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAccountID(w, r)
	if !ok {
		return
	}

	if err := h.accounts.Unlock(r.Context(), id, actorID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Account unlocked"})
}

// Disable handles POST /users/{id}/disable
func (h *UserHandler) Disable(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAccountID(w, r)
	if !ok {
		return
	}

	if id == actorID(r) {
		pkghttp.WriteBadRequest(w, "You cannot disable your own account")
		return
	}

	if err := h.accounts.Disable(r.Context(), id, actorID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Account disabled"})
}

// IssueAPIKey handles POST /users/{id}/api_key. The key is only shown once.
func (h *UserHandler) IssueAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.targetAccount(w, r)
	if !ok {
		return
	}

	key, err := h.accounts.IssueAPIKey(r.Context(), id, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, map[string]string{"api_key": key})
}

// targetAccount parses {id} and allows the account itself or an admin
func (h *UserHandler) targetAccount(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := parseAccountID(w, r)
	if !ok {
		return 0, false
	}

	caller := auth.AccountFromContext(r.Context())
	if caller == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return 0, false
	}
	if caller.ID != id && !auth.Authorize(caller, []string{models.RoleAdmin}, h.policy) {
		pkghttp.WriteForbidden(w, "You are not allowed to modify this account")
		return 0, false
	}
	return id, true
}

func parseAccountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		pkghttp.WriteBadRequest(w, "Invalid account id")
		return 0, false
	}
	return id, true
}

// actorID is the id of the authenticated caller, or 0 for system key requests
func actorID(r *http.Request) int64 {
	if account := auth.AccountFromContext(r.Context()); account != nil {
		return account.ID
	}
	return 0
}
