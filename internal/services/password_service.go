package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hussnainartilence/survey-backend/internal/auth"
	"github.com/hussnainartilence/survey-backend/internal/models"
	"github.com/hussnainartilence/survey-backend/internal/repositories"
	pkgauth "github.com/hussnainartilence/survey-backend/pkg/auth"
	pkglogger "github.com/hussnainartilence/survey-backend/pkg/logger"
)

// PasswordService rotates credentials and enforces password history
type PasswordService struct {
	repos       repositories.RepositoryFactory
	tx          repositories.TransactionManager
	tm          *auth.TokenManager
	hasher      *pkgauth.Hasher
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

func NewPasswordService(
	repos repositories.RepositoryFactory,
	tx repositories.TransactionManager,
	tm *auth.TokenManager,
	hasher *pkgauth.Hasher,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *PasswordService {
	return &PasswordService{
		repos:       repos,
		tx:          tx,
		tm:          tm,
		hasher:      hasher,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// CheckPasswordHistory returns models.ErrPasswordReused when newPassword
// matches one of the account's recent credentials.
func (s *PasswordService) CheckPasswordHistory(ctx context.Context, accountID int64, newPassword string) error {
	entries, err := s.repos.PasswordHistory().ListRecent(ctx, accountID, models.PasswordHistoryLimit)
	if err != nil {
		s.logger.Error("failed to load password history", slog.Int64("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return s.checkEntries(ctx, entries, newPassword)
}

func (s *PasswordService) checkEntries(ctx context.Context, entries []*models.PasswordHistoryEntry, newPassword string) error {
	for _, entry := range entries {
		match, err := s.hasher.Verify(ctx, newPassword, entry.CredentialHash)
		if err != nil {
			return err
		}
		if match {
			return models.ErrPasswordReused
		}
	}
	return nil
}

// ChangePassword replaces the credential of a LOCAL account. Every session of
// the account is revoked and a fresh token pair is returned to the caller.
func (s *PasswordService) ChangePassword(ctx context.Context, accountID int64, currentPassword, newPassword string) (*models.TokenPair, error) {
	account, err := s.repos.Accounts().GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load account", slog.Int64("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if account.AuthMode != models.AuthModeLocal {
		return nil, models.ErrUnsupportedAuthMode
	}

	oldHash := ""
	if account.CredentialHash != nil {
		oldHash = *account.CredentialHash
	}
	ok, err := s.hasher.Verify(ctx, currentPassword, oldHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.auditLogger.LogPasswordChange(accountID, false, "current_password_mismatch")
		return nil, models.ErrPasswordMismatch
	}

	if err := pkgauth.ValidatePassword(newPassword, account.Name, account.EmailAddress()); err != nil {
		s.auditLogger.LogPasswordChange(accountID, false, "weak_password")
		return nil, err
	}

	// bcrypt work happens before the row lock is taken
	entries, err := s.repos.PasswordHistory().ListRecent(ctx, accountID, models.PasswordHistoryLimit)
	if err != nil {
		s.logger.Error("failed to load password history", slog.Int64("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if err := s.checkEntries(ctx, entries, newPassword); err != nil {
		if errors.Is(err, models.ErrPasswordReused) {
			s.auditLogger.LogPasswordChange(accountID, false, "password_reused")
		}
		return nil, err
	}

	newHash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	var pair *models.TokenPair
	err = s.tx.Execute(ctx, func(repos repositories.RepositoryFactory) error {
		locked, err := repos.Accounts().LockByID(ctx, accountID)
		if err != nil {
			return err
		}
		// a concurrent change committed first
		if locked.CredentialHash == nil || *locked.CredentialHash != oldHash {
			return models.ErrPasswordMismatch
		}

		if err := appendHistory(ctx, repos, accountID, newHash); err != nil {
			return err
		}

		pair, err = issuePair(ctx, repos, s.tm, locked, models.SecurityUpdate{
			CredentialHash: &newHash,
			ResetFailures:  true,
		}, s.now())
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrPasswordMismatch) {
			s.auditLogger.LogPasswordChange(accountID, false, "concurrent_change")
			return nil, err
		}
		s.logger.Error("failed to change password", slog.Int64("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogPasswordChange(accountID, true, "")
	return pair, nil
}

// appendHistory records a credential and trims the history to its limit
func appendHistory(ctx context.Context, repos repositories.RepositoryFactory, accountID int64, credentialHash string) error {
	if err := repos.PasswordHistory().Append(ctx, accountID, credentialHash); err != nil {
		return err
	}
	_, err := repos.PasswordHistory().EvictBeyond(ctx, accountID, models.PasswordHistoryLimit)
	return err
}
