package models

import (
	"slices"
	"time"
)

// AuthMode identifies how an account proves its identity.
type AuthMode string

const (
	AuthModeLocal     AuthMode = "LOCAL"
	AuthModeFederated AuthMode = "FEDERATED"
)

const (
	RoleAdmin        = "admin"
	RoleDataExplorer = "data_explorer"
)

// PasswordHistoryLimit is the number of previous credential hashes retained per account.
const PasswordHistoryLimit = 5

type Account struct {
	ID                  int64
	Name                string
	Email               *string
	EmailVerified       bool
	CredentialHash      *string // NULL for federated accounts
	AuthMode            AuthMode
	Enabled             bool
	FailedLoginAttempts int
	RefreshTokenID      string
	TokenIssuedAt       *time.Time // iat of the newest access token
	APIKeyHash          *string
	EmailTokenHash      *string
	EmailTokenIssuedAt  *time.Time
	LastAccess          *time.Time
	Roles               []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasRole reports whether the account belongs to the named role.
func (a *Account) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

func (a *Account) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// EmailAddress returns the account email or an empty string.
func (a *Account) EmailAddress() string {
	if a.Email == nil {
		return ""
	}
	return *a.Email
}

type PasswordHistoryEntry struct {
	ID             int64
	AccountID      int64
	CredentialHash string
	CreatedAt      time.Time
}

// SecurityUpdate carries the fields stamped on an account after a successful
// login, refresh or password rotation.
type SecurityUpdate struct {
	TokenIssuedAt  *time.Time
	RefreshTokenID string
	LastAccess     *time.Time
	CredentialHash *string // set only when the stored hash is upgraded
	ResetFailures  bool
}
