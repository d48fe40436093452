package repositories

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/hussnainartilence/survey-backend/internal/database"
)

// RepositoryFactory hands out repositories bound to one connection or transaction
type RepositoryFactory interface {
	Accounts() AccountRepository
	PasswordHistory() PasswordHistoryRepository
}

// TransactionManager runs a unit of work atomically
type TransactionManager interface {
	Execute(ctx context.Context, fn func(repos RepositoryFactory) error) error
}

type querierFactory struct {
	q database.Querier
}

// NewRepositoryFactory returns repositories that run directly on the pool
func NewRepositoryFactory(db *database.DB) RepositoryFactory {
	return &querierFactory{q: db.Pool}
}

func (f *querierFactory) Accounts() AccountRepository {
	return NewAccountRepository(f.q)
}

func (f *querierFactory) PasswordHistory() PasswordHistoryRepository {
	return NewPasswordHistoryRepository(f.q)
}

const txAttempts = 2

type pgxTransactionManager struct {
	db     *database.DB
	logger *slog.Logger
}

func NewTransactionManager(db *database.DB, logger *slog.Logger) TransactionManager {
	return &pgxTransactionManager{db: db, logger: logger}
}

// Execute runs fn in a transaction bound repository factory. A serialization
// failure or deadlock reruns fn once from the start, so fn must not have side
// effects outside the transaction.
func (tm *pgxTransactionManager) Execute(ctx context.Context, fn func(repos RepositoryFactory) error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = tm.db.WithTransaction(ctx, func(tx pgx.Tx) error {
			return fn(&querierFactory{q: tx})
		})
		if err == nil || !database.IsRetryable(err) {
			return err
		}
		tm.logger.Warn("retrying transaction", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return err
}
