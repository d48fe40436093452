package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Login outcomes
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountLocked       = errors.New("account is locked")
	ErrUnsupportedAuthMode = errors.New("unsupported auth mode")
	ErrRateLimited         = errors.New("rate limit exceeded")

	// Registration
	ErrEmailInUse = fmt.Errorf("email already in use: %w", ErrConflict)
	ErrNameInUse  = fmt.Errorf("account name already in use: %w", ErrConflict)

	// Password management
	ErrPasswordReused   = errors.New("password was used recently")
	ErrPasswordMismatch = errors.New("current password is incorrect")

	// Email verification
	ErrVerificationExpired = errors.New("verification token expired")
)
