package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hussnainartilence/survey-backend/internal/auth"
	"github.com/hussnainartilence/survey-backend/internal/models"
	"github.com/hussnainartilence/survey-backend/internal/repositories"
	pkgauth "github.com/hussnainartilence/survey-backend/pkg/auth"
	pkglogger "github.com/hussnainartilence/survey-backend/pkg/logger"
)

// DefaultEmailTokenExpiry bounds how long a verification link stays valid
const DefaultEmailTokenExpiry = 24 * time.Hour

// RegisterInput carries the fields of a new LOCAL account
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// AccountService handles the account lifecycle: registration, email
// verification and administrative lock state.
type AccountService struct {
	repos            repositories.RepositoryFactory
	tx               repositories.TransactionManager
	hasher           *pkgauth.Hasher
	notifier         *Notifier // nil skips verification emails
	emailTokenExpiry time.Duration
	logger           *slog.Logger
	auditLogger      *pkglogger.AuditLogger
	now              func() time.Time
}

func NewAccountService(
	repos repositories.RepositoryFactory,
	tx repositories.TransactionManager,
	hasher *pkgauth.Hasher,
	notifier *Notifier,
	emailTokenExpiry time.Duration,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AccountService {
	if emailTokenExpiry <= 0 {
		emailTokenExpiry = DefaultEmailTokenExpiry
	}
	return &AccountService{
		repos:            repos,
		tx:               tx,
		hasher:           hasher,
		notifier:         notifier,
		emailTokenExpiry: emailTokenExpiry,
		logger:           logger,
		auditLogger:      auditLogger,
		now:              time.Now,
	}
}

// Register creates a LOCAL account with the data_explorer role and sends a
// verification email once the account is committed.
func (s *AccountService) Register(ctx context.Context, input RegisterInput, actorID int64) (*models.Account, error) {
	account, token, err := s.create(ctx, input, []string{models.RoleDataExplorer}, false)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil && token != "" {
		s.notifier.SendVerification(account.EmailAddress(), account.Name, token, s.now().Add(s.emailTokenExpiry))
	}

	s.auditLogger.LogAccountAction("account_registered", account.ID, actorID, nil)
	return account, nil
}

// BootstrapAdmin creates the initial admin account unless an account with
// that name already exists. The email is treated as verified.
func (s *AccountService) BootstrapAdmin(ctx context.Context, input RegisterInput) (bool, error) {
	name := normalizeName(input.Name, input.Email)
	if _, err := s.repos.Accounts().GetByName(ctx, name); err == nil {
		return false, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return false, fmt.Errorf("failed to look up admin account: %w", err)
	}

	account, _, err := s.create(ctx, input, []string{models.RoleAdmin, models.RoleDataExplorer}, true)
	if err != nil {
		return false, err
	}

	s.auditLogger.LogAccountAction("admin_bootstrapped", account.ID, 0, nil)
	return true, nil
}

func (s *AccountService) create(ctx context.Context, input RegisterInput, roles []string, emailVerified bool) (*models.Account, string, error) {
	email := strings.TrimSpace(input.Email)
	name := normalizeName(input.Name, email)
	if name == "" {
		return nil, "", &pkgauth.PasswordValidationError{Errors: []string{"A user name or email is required."}}
	}

	if email != "" {
		if _, err := s.repos.Accounts().GetByEmail(ctx, email); err == nil {
			return nil, "", models.ErrEmailInUse
		} else if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to check email", slog.Any("error", err))
			return nil, "", models.ErrInternalServer
		}
	}
	if _, err := s.repos.Accounts().GetByName(ctx, name); err == nil {
		return nil, "", models.ErrNameInUse
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check account name", slog.Any("error", err))
		return nil, "", models.ErrInternalServer
	}

	if err := pkgauth.ValidatePassword(input.Password, name, email); err != nil {
		return nil, "", err
	}

	credentialHash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, "", models.ErrInternalServer
	}

	var plainToken, tokenHash string
	if email != "" && !emailVerified {
		plainToken, tokenHash, err = generateEmailToken()
		if err != nil {
			s.logger.Error("failed to generate email token", slog.Any("error", err))
			return nil, "", models.ErrInternalServer
		}
	}

	account := &models.Account{
		Name:           name,
		EmailVerified:  emailVerified,
		CredentialHash: &credentialHash,
		AuthMode:       models.AuthModeLocal,
		Enabled:        true,
		RefreshTokenID: uuid.NewString(),
	}
	if email != "" {
		account.Email = &email
	}

	err = s.tx.Execute(ctx, func(repos repositories.RepositoryFactory) error {
		if err := repos.Accounts().Create(ctx, account); err != nil {
			return err
		}
		if err := repos.Accounts().AssignRoles(ctx, account.ID, roles); err != nil {
			return err
		}
		if err := appendHistory(ctx, repos, account.ID, credentialHash); err != nil {
			return err
		}
		if tokenHash != "" {
			return repos.Accounts().SetEmailToken(ctx, account.ID, tokenHash, s.now())
		}
		return nil
	})
	if err != nil {
		// a concurrent registration won the unique index
		if errors.Is(err, models.ErrConflict) {
			return nil, "", models.ErrConflict
		}
		s.logger.Error("failed to create account", slog.Any("error", err))
		return nil, "", models.ErrInternalServer
	}

	account.Roles = roles
	s.logger.Info("account created", slog.Int64("account_id", account.ID))
	return account, plainToken, nil
}

// VerifyEmail marks the email of an account verified when token matches the
// pending verification token and has not expired.
func (s *AccountService) VerifyEmail(ctx context.Context, email, token string) error {
	account, err := s.repos.Accounts().GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load account for verification", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if account.EmailTokenHash == nil || !tokenHashMatches(*account.EmailTokenHash, token) {
		return models.ErrNotFound
	}
	if account.EmailTokenIssuedAt == nil || s.now().After(account.EmailTokenIssuedAt.Add(s.emailTokenExpiry)) {
		return models.ErrVerificationExpired
	}

	if err := s.repos.Accounts().MarkEmailVerified(ctx, account.ID); err != nil {
		s.logger.Error("failed to mark email verified", slog.Int64("account_id", account.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("email_verified", account.ID, account.ID, nil)
	return nil
}

// Unlock re-enables an account and clears its failure counter
func (s *AccountService) Unlock(ctx context.Context, accountID, actorID int64) error {
	err := s.tx.Execute(ctx, func(repos repositories.RepositoryFactory) error {
		return repos.Accounts().SetEnabled(ctx, accountID, true)
	})
	if err != nil {
		return s.mapWriteError(err, accountID, "unlock")
	}

	s.auditLogger.LogAccountAction("account_unlocked", accountID, actorID, nil)
	return nil
}

// Disable blocks logins and revokes every outstanding token of the account
func (s *AccountService) Disable(ctx context.Context, accountID, actorID int64) error {
	err := s.tx.Execute(ctx, func(repos repositories.RepositoryFactory) error {
		if _, err := repos.Accounts().LockByID(ctx, accountID); err != nil {
			return err
		}
		if err := repos.Accounts().SetEnabled(ctx, accountID, false); err != nil {
			return err
		}
		return repos.Accounts().RevokeSessions(ctx, accountID, uuid.NewString())
	})
	if err != nil {
		return s.mapWriteError(err, accountID, "disable")
	}

	s.auditLogger.LogAccountAction("account_disabled", accountID, actorID, nil)
	return nil
}

// IssueAPIKey replaces the access key of an account. The plaintext key is
// returned once and only its hash is stored.
func (s *AccountService) IssueAPIKey(ctx context.Context, accountID, actorID int64) (string, error) {
	plainKey, keyHash, err := auth.GenerateAPIKey()
	if err != nil {
		s.logger.Error("failed to generate api key", slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	if err := s.repos.Accounts().SetAPIKeyHash(ctx, accountID, keyHash); err != nil {
		return "", s.mapWriteError(err, accountID, "issue_api_key")
	}

	s.auditLogger.LogAccountAction("api_key_issued", accountID, actorID, nil)
	return plainKey, nil
}

func (s *AccountService) mapWriteError(err error, accountID int64, action string) error {
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrNotFound
	}
	s.logger.Error("account update failed",
		slog.String("action", action),
		slog.Int64("account_id", accountID),
		slog.Any("error", err))
	return models.ErrInternalServer
}

// normalizeName lowercases the name and falls back to the local part of the
// email when the two are identical.
func normalizeName(name, email string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == email {
		name, _, _ = strings.Cut(email, "@")
	}
	return strings.ToLower(name)
}

// generateEmailToken returns a URL-safe token and the SHA-256 hex digest stored for it
func generateEmailToken() (plain, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, hashEmailToken(plain), nil
}

func hashEmailToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenHashMatches(storedHash, token string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashEmailToken(token))) == 1
}
