package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
	TokenTypeBearer  = "bearer"
)

// TokenClaims is the claim set carried by both access and refresh tokens.
// RefreshID is only populated for refresh tokens.
type TokenClaims struct {
	Type      string `json:"typ"`
	RefreshID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// IssuedAtTime returns the iat claim or the zero time.
func (c *TokenClaims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// TokenErrorKind classifies why a token was rejected.
type TokenErrorKind string

const (
	TokenMalformed          TokenErrorKind = "MALFORMED"
	TokenBadSignature       TokenErrorKind = "BAD_SIGNATURE"
	TokenExpired            TokenErrorKind = "EXPIRED"
	TokenVerificationFailed TokenErrorKind = "VERIFICATION_FAILED"
	TokenUserNotFound       TokenErrorKind = "USER_NOT_FOUND"
	TokenInvalid            TokenErrorKind = "INVALID"
)

var tokenMessages = map[TokenErrorKind]string{
	TokenMalformed:          "Token is malformed.",
	TokenBadSignature:       "The token signature is invalid.",
	TokenExpired:            "Token has expired.",
	TokenVerificationFailed: "Token signature verification failed.",
	TokenUserNotFound:       "The user corresponding to the refresh token was not found.",
	TokenInvalid:            "Token is invalid.",
}

// Message returns the stable user-facing text for the kind.
func (k TokenErrorKind) Message() string {
	if msg, ok := tokenMessages[k]; ok {
		return msg
	}
	return tokenMessages[TokenInvalid]
}

// TokenError is returned by token decoding and the refresh flow.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func NewTokenError(kind TokenErrorKind, err error) *TokenError {
	return &TokenError{Kind: kind, Err: err}
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return "token " + string(e.Kind) + ": " + e.Err.Error()
	}
	return "token " + string(e.Kind)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Is matches another *TokenError with the same kind, so errors.Is works
// against the sentinel values below.
func (e *TokenError) Is(target error) bool {
	t, ok := target.(*TokenError)
	return ok && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrTokenMalformed          = &TokenError{Kind: TokenMalformed}
	ErrTokenBadSignature       = &TokenError{Kind: TokenBadSignature}
	ErrTokenExpired            = &TokenError{Kind: TokenExpired}
	ErrTokenVerificationFailed = &TokenError{Kind: TokenVerificationFailed}
	ErrTokenUserNotFound       = &TokenError{Kind: TokenUserNotFound}
	ErrTokenInvalid            = &TokenError{Kind: TokenInvalid}
)
