package auth

import (
	"crypto/subtle"
	"slices"

	"github.com/hussnainartilence/survey-backend/internal/models"
)

// RoleAnonymous is the marker role that makes a resource visible to callers
// without an account.
const RoleAnonymous = "__NOT_A_USER__"

// CredentialSource selects which credential a route accepts.
type CredentialSource int

const (
	CredentialBearer CredentialSource = iota
	CredentialAPIKey
	CredentialEither
)

func (s CredentialSource) String() string {
	switch s {
	case CredentialBearer:
		return "bearer"
	case CredentialAPIKey:
		return "api_key"
	case CredentialEither:
		return "either"
	default:
		return "unknown"
	}
}

// Policy configures Authorize. Use DefaultPolicy and override fields.
type Policy struct {
	RequireEmailVerified bool
	AdminBypass          bool

	// AllowSystemKey lets a caller that presents SystemKey skip role checks.
	AllowSystemKey bool
	SystemKey      string
	PresentedKey   string
}

func DefaultPolicy() Policy {
	return Policy{
		RequireEmailVerified: true,
		AdminBypass:          true,
	}
}

// WithSystemKey returns a copy of p that accepts the configured system key.
func (p Policy) WithSystemKey(configured, presented string) Policy {
	p.AllowSystemKey = true
	p.SystemKey = configured
	p.PresentedKey = presented
	return p
}

// Authorize reports whether account may access a resource guarded by
// requiredRoles. A nil account is an anonymous caller.
func Authorize(account *models.Account, requiredRoles []string, p Policy) bool {
	if p.AllowSystemKey && systemKeyMatches(p.SystemKey, p.PresentedKey) {
		return true
	}

	if len(requiredRoles) == 0 {
		return true
	}

	if account == nil {
		return slices.Contains(requiredRoles, RoleAnonymous)
	}

	if p.RequireEmailVerified && !account.EmailVerified {
		return false
	}

	if len(account.Roles) == 0 {
		return false
	}

	if p.AdminBypass && account.IsAdmin() {
		return true
	}

	for _, role := range requiredRoles {
		if account.HasRole(role) {
			return true
		}
	}
	return false
}

// systemKeyMatches compares in constant time. An unset key never matches.
func systemKeyMatches(configured, presented string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

