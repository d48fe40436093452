package repositories

import (
	"context"
	"time"

	"github.com/hussnainartilence/survey-backend/internal/models"
)

// AccountRepository defines the data access operations for accounts and their roles
type AccountRepository interface {
	// GetByNameOrEmail resolves a login identifier. A name match wins over an email match.
	GetByNameOrEmail(ctx context.Context, identifier string) (*models.Account, error)

	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByName(ctx context.Context, name string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByAPIKeyHash(ctx context.Context, keyHash string) (*models.Account, error)

	// LockByID and LockByName read the account with a row lock held until the
	// surrounding transaction ends. Only meaningful inside TransactionManager.Execute.
	LockByID(ctx context.Context, id int64) (*models.Account, error)
	LockByName(ctx context.Context, name string) (*models.Account, error)

	// Create inserts the account and fills in ID, CreatedAt and UpdatedAt.
	// A LOCAL account without a credential hash is rejected with ErrBadRequest.
	Create(ctx context.Context, account *models.Account) error

	// AssignRoles grants the named roles. Unknown role names are ignored.
	AssignRoles(ctx context.Context, id int64, roles []string) error

	// RecordFailedLogin increments the failure counter and disables the account
	// once the counter reaches threshold. Returns the new counter and enabled flag.
	RecordFailedLogin(ctx context.Context, id int64, threshold int) (int, bool, error)

	// UpdateSecurityFields stamps token issuance state after a login, refresh or password change
	UpdateSecurityFields(ctx context.Context, id int64, update models.SecurityUpdate) error

	SetCredential(ctx context.Context, id int64, credentialHash string) error

	// SetEnabled toggles the account. Enabling also clears the failure counter.
	SetEnabled(ctx context.Context, id int64, enabled bool) error

	// RevokeSessions rotates the refresh id and clears token_issued_at and the
	// api key hash so no outstanding credential resolves anymore.
	RevokeSessions(ctx context.Context, id int64, refreshTokenID string) error

	SetAPIKeyHash(ctx context.Context, id int64, keyHash string) error

	SetEmailToken(ctx context.Context, id int64, tokenHash string, issuedAt time.Time) error

	// MarkEmailVerified sets email_verified and clears the pending email token
	MarkEmailVerified(ctx context.Context, id int64) error

	// ClearExpiredEmailTokens drops pending verification tokens issued before the cutoff.
	// Returns the count of affected rows.
	ClearExpiredEmailTokens(ctx context.Context, before time.Time) (int64, error)
}
