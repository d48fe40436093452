package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hussnainartilence/survey-backend/internal/models"
)

var signingMethods = map[string]*jwt.SigningMethodHMAC{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
}

// SupportedAlgorithm reports whether alg can be used to sign tokens.
func SupportedAlgorithm(alg string) bool {
	_, ok := signingMethods[alg]
	return ok
}

// TokenManager signs and verifies access and refresh tokens with a single
// shared secret and algorithm. It holds no mutable state and is safe for
// concurrent use.
type TokenManager struct {
	secret             []byte
	method             *jwt.SigningMethodHMAC
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret, algorithm string, accessExpiry, refreshExpiry time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("token signing secret is not set")
	}
	method, ok := signingMethods[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}
	if accessExpiry <= 0 || refreshExpiry <= 0 {
		return nil, fmt.Errorf("token expiry must be positive")
	}
	return &TokenManager{
		secret:             []byte(secret),
		method:             method,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
	}, nil
}

func (tm *TokenManager) AccessTTL() time.Duration {
	return tm.accessTokenExpiry
}

func (tm *TokenManager) RefreshTTL() time.Duration {
	return tm.refreshTokenExpiry
}

// IssueAccess signs an access token for subject.
func (tm *TokenManager) IssueAccess(subject string, iat, exp time.Time) (string, error) {
	claims := &models.TokenClaims{
		Type: models.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(tm.method, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, nil
}

// IssueRefresh signs a refresh token that embeds refreshID.
func (tm *TokenManager) IssueRefresh(subject, refreshID string, iat, exp time.Time) (string, error) {
	claims := &models.TokenClaims{
		Type:      models.TokenTypeRefresh,
		RefreshID: refreshID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(tm.method, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return token, nil
}

// NewPair issues an access and refresh token that share issuedAt.
func (tm *TokenManager) NewPair(subject, refreshID string, issuedAt time.Time) (*models.TokenPair, error) {
	access, err := tm.IssueAccess(subject, issuedAt, issuedAt.Add(tm.accessTokenExpiry))
	if err != nil {
		return nil, err
	}
	refresh, err := tm.IssueRefresh(subject, refreshID, issuedAt, issuedAt.Add(tm.refreshTokenExpiry))
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    models.TokenTypeBearer,
	}, nil
}

// DecodeAccess verifies an access token and returns its claims. Failures are
// always *models.TokenError.
func (tm *TokenManager) DecodeAccess(tokenString string) (*models.TokenClaims, error) {
	return tm.decode(tokenString, models.TokenTypeAccess)
}

// DecodeRefresh verifies a refresh token and returns its claims. Failures
// are always *models.TokenError.
func (tm *TokenManager) DecodeRefresh(tokenString string) (*models.TokenClaims, error) {
	claims, err := tm.decode(tokenString, models.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	if claims.RefreshID == "" {
		return nil, models.NewTokenError(models.TokenVerificationFailed, errors.New("missing uid claim"))
	}
	return claims, nil
}

func (tm *TokenManager) decode(tokenString, wantType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return tm.secret, nil
		},
		jwt.WithValidMethods([]string{tm.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	if claims.IssuedAt == nil {
		return nil, models.NewTokenError(models.TokenVerificationFailed, errors.New("missing iat claim"))
	}
	if claims.Subject == "" {
		return nil, models.NewTokenError(models.TokenVerificationFailed, errors.New("missing sub claim"))
	}
	if claims.Type != wantType {
		return nil, models.NewTokenError(models.TokenVerificationFailed,
			fmt.Errorf("expected %s token, got %q", wantType, claims.Type))
	}

	return claims, nil
}

// classifyTokenError maps jwt parse errors onto the four decode kinds.
// Expiry is checked before the generic claims error because jwt joins both.
func classifyTokenError(err error) *models.TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return models.NewTokenError(models.TokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return models.NewTokenError(models.TokenBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.NewTokenError(models.TokenExpired, err)
	default:
		return models.NewTokenError(models.TokenVerificationFailed, err)
	}
}
