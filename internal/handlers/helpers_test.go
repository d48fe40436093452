package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hussnainartilence/survey-backend/internal/auth"
	"github.com/hussnainartilence/survey-backend/internal/models"
	"github.com/hussnainartilence/survey-backend/internal/services"
	pkghttp "github.com/hussnainartilence/survey-backend/pkg/http"
)

type mockSessionService struct {
	LoginFunc   func(ctx context.Context, identifier, password, clientIP string) (*models.TokenPair, error)
	RefreshFunc func(ctx context.Context, refreshToken string) (*models.TokenPair, error)
}

func (m *mockSessionService) Login(ctx context.Context, identifier, password, clientIP string) (*models.TokenPair, error) {
	return m.LoginFunc(ctx, identifier, password, clientIP)
}

func (m *mockSessionService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	return m.RefreshFunc(ctx, refreshToken)
}

type mockAccountService struct {
	RegisterFunc    func(ctx context.Context, input services.RegisterInput, actorID int64) (*models.Account, error)
	VerifyEmailFunc func(ctx context.Context, email, token string) error
	UnlockFunc      func(ctx context.Context, accountID, actorID int64) error
	DisableFunc     func(ctx context.Context, accountID, actorID int64) error
	IssueAPIKeyFunc func(ctx context.Context, accountID, actorID int64) (string, error)
}

func (m *mockAccountService) Register(ctx context.Context, input services.RegisterInput, actorID int64) (*models.Account, error) {
	return m.RegisterFunc(ctx, input, actorID)
}

func (m *mockAccountService) VerifyEmail(ctx context.Context, email, token string) error {
	return m.VerifyEmailFunc(ctx, email, token)
}

func (m *mockAccountService) Unlock(ctx context.Context, accountID, actorID int64) error {
	return m.UnlockFunc(ctx, accountID, actorID)
}

func (m *mockAccountService) Disable(ctx context.Context, accountID, actorID int64) error {
	return m.DisableFunc(ctx, accountID, actorID)
}

func (m *mockAccountService) IssueAPIKey(ctx context.Context, accountID, actorID int64) (string, error) {
	return m.IssueAPIKeyFunc(ctx, accountID, actorID)
}

type mockPasswordService struct {
	ChangePasswordFunc func(ctx context.Context, accountID int64, currentPassword, newPassword string) (*models.TokenPair, error)
}

func (m *mockPasswordService) ChangePassword(ctx context.Context, accountID int64, currentPassword, newPassword string) (*models.TokenPair, error) {
	return m.ChangePasswordFunc(ctx, accountID, currentPassword, newPassword)
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.err
}

func newJSONRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func newFormRequest(url string, values map[string]string) *http.Request {
	form := make([]string, 0, len(values))
	for k, v := range values {
		form = append(form, k+"="+v)
	}
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(strings.Join(form, "&")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// withAccount places account in the request context as Authenticate would
func withAccount(req *http.Request, account *models.Account) *http.Request {
	return req.WithContext(auth.WithAccount(req.Context(), account))
}

// withURLParam sets a chi route parameter on the request
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func assertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	if target != nil {
		require.NoError(t, json.NewDecoder(w.Body).Decode(target))
	}
}

func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedCode string) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	assertJSONResponse(t, w, expectedStatus, &resp)
	assert.Equal(t, expectedCode, resp.Error)
	return resp
}

func strPtr(s string) *string {
	return &s
}
