package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hussnainartilence/survey-backend/internal/auth"
	"github.com/hussnainartilence/survey-backend/internal/models"
	"github.com/hussnainartilence/survey-backend/internal/repositories"
)

// AccessService resolves presented credentials to accounts. It implements
// auth.AccountResolver.
type AccessService struct {
	repos  repositories.RepositoryFactory
	tm     *auth.TokenManager
	logger *slog.Logger
}

func NewAccessService(repos repositories.RepositoryFactory, tm *auth.TokenManager, logger *slog.Logger) *AccessService {
	return &AccessService{repos: repos, tm: tm, logger: logger}
}

// Resolve returns the account an access token belongs to. The token is only
// accepted while its iat matches the account's token_issued_at, so any later
// login, refresh or revocation invalidates it.
func (s *AccessService) Resolve(ctx context.Context, bearerToken string) (*models.Account, error) {
	claims, err := s.tm.DecodeAccess(bearerToken)
	if err != nil {
		s.logger.Debug("access token rejected", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	account, err := s.repos.Accounts().GetByName(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to load account for token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if account.TokenIssuedAt == nil || account.TokenIssuedAt.Unix() != claims.IssuedAtTime().Unix() {
		s.logger.Debug("stale access token", slog.Int64("account_id", account.ID))
		return nil, models.ErrUnauthorized
	}

	return account, nil
}

// ResolveAPIKey returns the account owning a per-account access key. Keys of
// disabled accounts do not resolve.
func (s *AccessService) ResolveAPIKey(ctx context.Context, apiKey string) (*models.Account, error) {
	keyHash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	account, err := s.repos.Accounts().GetByAPIKeyHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to load account for api key", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// the lookup is an index hit on the hash; compare again in constant time
	if account.APIKeyHash == nil || !auth.ConstantTimeHashCompare(*account.APIKeyHash, keyHash) {
		return nil, models.ErrUnauthorized
	}
	if !account.Enabled {
		s.logger.Debug("api key of disabled account", slog.Int64("account_id", account.ID))
		return nil, models.ErrUnauthorized
	}
	return account, nil
}
