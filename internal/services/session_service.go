package services

import (
	"context"
	"errors"
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

// DefaultMaxFailedLogins is the lockout threshold used when none is configured
const DefaultMaxFailedLogins = 10

// SessionConfig holds the optional collaborators of SessionService
type SessionConfig struct {
	MaxFailedLogins int
	Timing          *auth.TimingDelay // nil disables response padding
	Throttle        LoginThrottle     // nil disables the Redis throttle
}

// SessionService issues and rotates token pairs
type SessionService struct {
	repos           repositories.RepositoryFactory
	tx              repositories.TransactionManager
	tm              *auth.TokenManager
	hasher          *pkgauth.Hasher
	timing          *auth.TimingDelay
	throttle        LoginThrottle
	maxFailedLogins int
	logger          *slog.Logger
	auditLogger     *pkglogger.AuditLogger
	now             func() time.Time
}

func NewSessionService(
	repos repositories.RepositoryFactory,
	tx repositories.TransactionManager,
	tm *auth.TokenManager,
	hasher *pkgauth.Hasher,
	cfg SessionConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *SessionService {
	maxFailed := cfg.MaxFailedLogins
	if maxFailed <= 0 {
		maxFailed = DefaultMaxFailedLogins
	}
	return &SessionService{
		repos:           repos,
		tx:              tx,
		tm:              tm,
		hasher:          hasher,
		timing:          cfg.Timing,
		throttle:        cfg.Throttle,
		maxFailedLogins: maxFailed,
		logger:          logger,
		auditLogger:     auditLogger,
		now:             time.Now,
	}
}

// Login checks the password of a LOCAL account and issues a fresh token pair.
// Unknown identifiers and wrong passwords both return models.ErrInvalidCredentials.
func (s *SessionService) Login(ctx context.Context, identifier, password, clientIP string) (*models.TokenPair, error) {
	start := time.Now()
	identifier = strings.ToLower(strings.TrimSpace(identifier))

	if s.throttle != nil {
		if err := s.throttle.CheckLogin(ctx, identifier, clientIP); err != nil {
			s.audit("login", 0, clientIP, pkglogger.OutcomeRejected, "throttled")
			return nil, err
		}
	}

	pair, err := s.login(ctx, identifier, password, clientIP)
	if err != nil {
		if s.throttle != nil && (errors.Is(err, models.ErrInvalidCredentials) || errors.Is(err, models.ErrAccountLocked)) {
			s.throttle.RecordFailure(ctx, identifier, clientIP)
		}
		s.timing.WaitFrom(ctx, start, false)
		return nil, err
	}

	if s.throttle != nil {
		s.throttle.Reset(ctx, identifier, clientIP)
	}
	s.timing.WaitFrom(ctx, start, true)
	return pair, nil
}

func (s *SessionService) login(ctx context.Context, identifier, password, clientIP string) (*models.TokenPair, error) {
	if identifier == "" {
		s.burnVerification(ctx, password)
		return nil, models.ErrInvalidCredentials
	}

	account, err := s.repos.Accounts().GetByNameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.burnVerification(ctx, password)
			s.logger.Info("login failed: invalid credentials")
			s.audit("login", 0, clientIP, pkglogger.OutcomeRejected, "unknown_identifier")
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to look up account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !account.Enabled {
		s.audit("login", account.ID, clientIP, pkglogger.OutcomeLockedOut, "account_disabled")
		return nil, models.ErrAccountLocked
	}

	if account.AuthMode != models.AuthModeLocal {
		s.audit("login", account.ID, clientIP, pkglogger.OutcomeRejected, "unsupported_auth_mode")
		return nil, models.ErrUnsupportedAuthMode
	}

	// hash first, lock later: bcrypt never runs with the row locked
	verifiedHash := ""
	if account.CredentialHash != nil {
		verifiedHash = *account.CredentialHash
	}
	valid, err := s.hasher.Verify(ctx, password, verifiedHash)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, s.recordFailure(ctx, account, clientIP)
	}

	var pair *models.TokenPair
	err = s.tx.Execute(ctx, func(repos repositories.RepositoryFactory) error {
		locked, err := repos.Accounts().LockByID(ctx, account.ID)
		if err != nil {
			return err
		}
		// a lockout or password change that committed after verification wins
		if !locked.Enabled {
			return models.ErrAccountLocked
		}
		if locked.CredentialHash == nil || *locked.CredentialHash != verifiedHash {
			return models.ErrInvalidCredentials
		}

		pair, err = s.issue(ctx, repos, locked, models.SecurityUpdate{ResetFailures: true})
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAccountLocked):
			s.audit("login", account.ID, clientIP, pkglogger.OutcomeLockedOut, "account_disabled")
			return nil, err
		case errors.Is(err, models.ErrInvalidCredentials):
			s.audit("login", account.ID, clientIP, pkglogger.OutcomeRejected, "credential_changed")
			return nil, err
		}
		s.logger.Error("failed to issue session", slog.Int64("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// bcrypt cost changed since the hash was stored
	if s.hasher.NeedsRehash(verifiedHash) {
		s.upgradeHash(ctx, account.ID, password, verifiedHash)
	}

	s.logger.Info("account logged in", slog.Int64("account_id", account.ID))
	s.audit("login", account.ID, clientIP, pkglogger.OutcomeIssued, "")
	return pair, nil
}

// recordFailure bumps the persistent counter and reports whether this attempt
// crossed the lockout threshold.
func (s *SessionService) recordFailure(ctx context.Context, account *models.Account, clientIP string) error {
	var attempts int
	var enabled bool
	err := s.tx.Execute(ctx, func(repos repositories.RepositoryFactory) error {
		var err error
		attempts, enabled, err = repos.Accounts().RecordFailedLogin(ctx, account.ID, s.maxFailedLogins)
		return err
	})
	if err != nil {
		s.logger.Error("failed to record failed login", slog.Int64("account_id", account.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !enabled {
		s.logger.Warn("account locked after failed logins",
			slog.Int64("account_id", account.ID),
			slog.Int("failed_attempts", attempts))
		s.audit("login", account.ID, clientIP, pkglogger.OutcomeLockedOut, "too_many_failures")
		return models.ErrAccountLocked
	}

	s.logger.Info("login failed: invalid credentials", slog.Int64("account_id", account.ID))
	s.audit("login", account.ID, clientIP, pkglogger.OutcomeRejected, "invalid_credentials")
	return models.ErrInvalidCredentials
}

// Refresh exchanges a refresh token for a new pair. The presented token, and
// every pair issued before it, stop working.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := s.tm.DecodeRefresh(refreshToken)
	if err != nil {
		s.audit("refresh", 0, "", pkglogger.OutcomeRejected, tokenFailureReason(err))
		return nil, err
	}

	var accountID int64
	var pair *models.TokenPair
	err = s.tx.Execute(ctx, func(repos repositories.RepositoryFactory) error {
		account, err := repos.Accounts().LockByName(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.NewTokenError(models.TokenUserNotFound, err)
			}
			return err
		}
		accountID = account.ID

		if claims.RefreshID != account.RefreshTokenID {
			return models.NewTokenError(models.TokenInvalid, nil)
		}

		pair, err = s.issue(ctx, repos, account, models.SecurityUpdate{})
		return err
	})
	if err != nil {
		var tokenErr *models.TokenError
		if errors.As(err, &tokenErr) {
			s.audit("refresh", accountID, "", pkglogger.OutcomeRejected, tokenFailureReason(err))
			return nil, err
		}
		s.logger.Error("failed to refresh session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit("refresh", accountID, "", pkglogger.OutcomeIssued, "")
	return pair, nil
}

// issue rotates the refresh id, stamps token_issued_at and signs the pair.
// Must run inside a transaction holding the account row lock.
func (s *SessionService) issue(ctx context.Context, repos repositories.RepositoryFactory, account *models.Account, update models.SecurityUpdate) (*models.TokenPair, error) {
	return issuePair(ctx, repos, s.tm, account, update, s.now())
}

func issuePair(ctx context.Context, repos repositories.RepositoryFactory, tm *auth.TokenManager, account *models.Account, update models.SecurityUpdate, now time.Time) (*models.TokenPair, error) {
	// JWT NumericDate has second precision
	issuedAt := now.UTC().Truncate(time.Second)
	refreshID := uuid.NewString()

	pair, err := tm.NewPair(account.Name, refreshID, issuedAt)
	if err != nil {
		return nil, err
	}

	update.TokenIssuedAt = &issuedAt
	update.RefreshTokenID = refreshID
	update.LastAccess = &issuedAt
	if err := repos.Accounts().UpdateSecurityFields(ctx, account.ID, update); err != nil {
		return nil, err
	}
	return pair, nil
}

// upgradeHash re-hashes the password at the configured cost. Best effort: the
// swap only lands if nobody changed the credential in between.
func (s *SessionService) upgradeHash(ctx context.Context, accountID int64, password, oldHash string) {
	newHash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		s.logger.Warn("failed to rehash credential", slog.Int64("account_id", accountID), slog.Any("error", err))
		return
	}

	err = s.tx.Execute(ctx, func(repos repositories.RepositoryFactory) error {
		locked, err := repos.Accounts().LockByID(ctx, accountID)
		if err != nil {
			return err
		}
		if locked.CredentialHash == nil || *locked.CredentialHash != oldHash {
			return nil
		}
		return repos.Accounts().SetCredential(ctx, accountID, newHash)
	})
	if err != nil {
		s.logger.Warn("failed to store upgraded credential", slog.Int64("account_id", accountID), slog.Any("error", err))
	}
}

// burnVerification spends the same bcrypt work as a real check
func (s *SessionService) burnVerification(ctx context.Context, password string) {
	_, _ = s.hasher.Verify(ctx, password, s.hasher.DummyHash())
}

func (s *SessionService) audit(eventType string, accountID int64, clientIP, outcome, reason string) {
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     eventType,
		AccountID:     accountID,
		IPAddress:     clientIP,
		Outcome:       outcome,
		FailureReason: reason,
	})
}

func tokenFailureReason(err error) string {
	var tokenErr *models.TokenError
	if errors.As(err, &tokenErr) {
		return strings.ToLower(string(tokenErr.Kind))
	}
	return "error"
}
