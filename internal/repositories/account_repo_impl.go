package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hussnainartilence/survey-backend/internal/database"
	"github.com/hussnainartilence/survey-backend/internal/models"
)

// accountRepositoryImpl implements AccountRepository on top of any database.Querier,
// so the same statements run against the pool or inside a transaction.
type accountRepositoryImpl struct {
	db database.Querier
}

func NewAccountRepository(db database.Querier) AccountRepository {
	return &accountRepositoryImpl{db: db}
}

// roles arrive as a text array literal so pq.Array can parse them under pgx
const accountColumns = `
	a.id, a.name, a.email, a.email_verified, a.credential_hash, a.auth_mode, a.enabled,
	a.failed_login_attempts, a.refresh_token_id, a.token_issued_at, a.api_key_hash,
	a.email_token_hash, a.email_token_issued_at, a.last_access,
	COALESCE((
		SELECT array_agg(r.name ORDER BY r.name)
		FROM account_roles ar JOIN roles r ON r.id = ar.role_id
		WHERE ar.account_id = a.id
	), '{}')::text,
	a.created_at, a.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	var authMode string

	err := scanner.Scan(
		&account.ID, &account.Name, &account.Email, &account.EmailVerified,
		&account.CredentialHash, &authMode, &account.Enabled,
		&account.FailedLoginAttempts, &account.RefreshTokenID, &account.TokenIssuedAt,
		&account.APIKeyHash, &account.EmailTokenHash, &account.EmailTokenIssuedAt,
		&account.LastAccess, pq.Array(&account.Roles),
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	account.AuthMode = models.AuthMode(authMode)
	if account.Roles == nil {
		account.Roles = []string{}
	}
	return &account, nil
}

func (r *accountRepositoryImpl) getOne(ctx context.Context, where string, args ...any) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts a WHERE ` + where
	return scanAccountRow(r.db.QueryRow(ctx, query, args...))
}

func (r *accountRepositoryImpl) GetByNameOrEmail(ctx context.Context, identifier string) (*models.Account, error) {
	return r.getOne(ctx,
		`a.name = $1 OR LOWER(a.email) = LOWER($1) ORDER BY (a.name = $1) DESC LIMIT 1`,
		identifier)
}

func (r *accountRepositoryImpl) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.getOne(ctx, `a.id = $1`, id)
}

func (r *accountRepositoryImpl) GetByName(ctx context.Context, name string) (*models.Account, error) {
	return r.getOne(ctx, `a.name = $1`, name)
}

func (r *accountRepositoryImpl) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getOne(ctx, `LOWER(a.email) = LOWER($1)`, email)
}

func (r *accountRepositoryImpl) GetByAPIKeyHash(ctx context.Context, keyHash string) (*models.Account, error) {
	return r.getOne(ctx, `a.api_key_hash = $1`, keyHash)
}

func (r *accountRepositoryImpl) LockByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.getOne(ctx, `a.id = $1 FOR UPDATE OF a`, id)
}

func (r *accountRepositoryImpl) LockByName(ctx context.Context, name string) (*models.Account, error) {
	return r.getOne(ctx, `a.name = $1 FOR UPDATE OF a`, name)
}

func (r *accountRepositoryImpl) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (name, email, email_verified, credential_hash, auth_mode, enabled, refresh_token_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	authMode := account.AuthMode
	if authMode == "" {
		authMode = models.AuthModeLocal
	}

	err := r.db.QueryRow(ctx, query,
		account.Name, account.Email, account.EmailVerified, account.CredentialHash,
		string(authMode), account.Enabled, account.RefreshTokenID,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}

	account.AuthMode = authMode
	return nil
}

func (r *accountRepositoryImpl) AssignRoles(ctx context.Context, id int64, roles []string) error {
	if len(roles) == 0 {
		return nil
	}

	query := `
		INSERT INTO account_roles (account_id, role_id)
		SELECT $1, r.id FROM roles r WHERE r.name = ANY($2::text[])
		ON CONFLICT DO NOTHING
	`

	if _, err := r.db.Exec(ctx, query, id, roles); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

func (r *accountRepositoryImpl) RecordFailedLogin(ctx context.Context, id int64, threshold int) (int, bool, error) {
	// right-hand expressions see the pre-update row
	query := `
		UPDATE accounts
		SET failed_login_attempts = failed_login_attempts + 1,
		    enabled = CASE WHEN failed_login_attempts + 1 >= $2 THEN FALSE ELSE enabled END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, enabled
	`

	var attempts int
	var enabled bool
	if err := r.db.QueryRow(ctx, query, id, threshold).Scan(&attempts, &enabled); err != nil {
		return 0, false, database.MapPostgresError(err)
	}
	return attempts, enabled, nil
}

func (r *accountRepositoryImpl) UpdateSecurityFields(ctx context.Context, id int64, update models.SecurityUpdate) error {
	query := `
		UPDATE accounts
		SET token_issued_at = $2,
		    refresh_token_id = $3,
		    last_access = COALESCE($4, last_access),
		    credential_hash = COALESCE($5, credential_hash),
		    failed_login_attempts = CASE WHEN $6 THEN 0 ELSE failed_login_attempts END,
		    updated_at = NOW()
		WHERE id = $1
	`

	return r.execOne(ctx, query, id, update.TokenIssuedAt, update.RefreshTokenID,
		update.LastAccess, update.CredentialHash, update.ResetFailures)
}

func (r *accountRepositoryImpl) SetCredential(ctx context.Context, id int64, credentialHash string) error {
	return r.execOne(ctx,
		`UPDATE accounts SET credential_hash = $2, updated_at = NOW() WHERE id = $1`,
		id, credentialHash)
}

func (r *accountRepositoryImpl) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	query := `
		UPDATE accounts
		SET enabled = $2,
		    failed_login_attempts = CASE WHEN $2 THEN 0 ELSE failed_login_attempts END,
		    updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, enabled)
}

func (r *accountRepositoryImpl) RevokeSessions(ctx context.Context, id int64, refreshTokenID string) error {
	return r.execOne(ctx,
		`UPDATE accounts SET refresh_token_id = $2, token_issued_at = NULL, api_key_hash = NULL, updated_at = NOW() WHERE id = $1`,
		id, refreshTokenID)
}

func (r *accountRepositoryImpl) SetAPIKeyHash(ctx context.Context, id int64, keyHash string) error {
	return r.execOne(ctx,
		`UPDATE accounts SET api_key_hash = $2, updated_at = NOW() WHERE id = $1`,
		id, keyHash)
}

func (r *accountRepositoryImpl) SetEmailToken(ctx context.Context, id int64, tokenHash string, issuedAt time.Time) error {
	return r.execOne(ctx,
		`UPDATE accounts SET email_token_hash = $2, email_token_issued_at = $3, updated_at = NOW() WHERE id = $1`,
		id, tokenHash, issuedAt)
}

func (r *accountRepositoryImpl) MarkEmailVerified(ctx context.Context, id int64) error {
	query := `
		UPDATE accounts
		SET email_verified = TRUE, email_token_hash = NULL, email_token_issued_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id)
}

func (r *accountRepositoryImpl) ClearExpiredEmailTokens(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE accounts
		SET email_token_hash = NULL, email_token_issued_at = NULL
		WHERE email_token_hash IS NOT NULL AND email_token_issued_at < $1
	`

	tag, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired email tokens: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}

// execOne runs an update that must touch exactly one account
func (r *accountRepositoryImpl) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
