package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hussnainartilence/survey-backend/internal/database"
	"github.com/hussnainartilence/survey-backend/internal/models"
)

// PasswordHistoryRepository stores the previous credential hashes of an account
type PasswordHistoryRepository interface {
	// ListRecent returns up to limit entries, newest first
	ListRecent(ctx context.Context, accountID int64, limit int) ([]*models.PasswordHistoryEntry, error)

	Append(ctx context.Context, accountID int64, credentialHash string) error

	// EvictBeyond deletes everything but the newest keep entries. Returns the count removed.
	EvictBeyond(ctx context.Context, accountID int64, keep int) (int64, error)
}

type passwordHistoryRepositoryImpl struct {
	db database.Querier
}

func NewPasswordHistoryRepository(db database.Querier) PasswordHistoryRepository {
	return &passwordHistoryRepositoryImpl{db: db}
}

func (r *passwordHistoryRepositoryImpl) ListRecent(ctx context.Context, accountID int64, limit int) ([]*models.PasswordHistoryEntry, error) {
	query := `
		SELECT id, account_id, credential_hash, created_at
		FROM password_history
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.PasswordHistoryEntry, error) {
		var e models.PasswordHistoryEntry
		if err := row.Scan(&e.ID, &e.AccountID, &e.CredentialHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		return &e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan password history: %w", err)
	}
	return entries, nil
}

func (r *passwordHistoryRepositoryImpl) Append(ctx context.Context, accountID int64, credentialHash string) error {
	query := `INSERT INTO password_history (account_id, credential_hash) VALUES ($1, $2)`
	if _, err := r.db.Exec(ctx, query, accountID, credentialHash); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

func (r *passwordHistoryRepositoryImpl) EvictBeyond(ctx context.Context, accountID int64, keep int) (int64, error) {
	query := `
		DELETE FROM password_history
		WHERE account_id = $1
		  AND id NOT IN (
			SELECT id FROM password_history
			WHERE account_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		  )
	`

	tag, err := r.db.Exec(ctx, query, accountID, keep)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
