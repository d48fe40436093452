package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hussnainartilence/survey-backend/internal/models"
)

// LoginThrottle limits login attempts ahead of the persistent failure counter
type LoginThrottle interface {
	CheckLogin(ctx context.Context, identifier, ipAddress string) error
	RecordFailure(ctx context.Context, identifier, ipAddress string)
	Reset(ctx context.Context, identifier, ipAddress string)
}

// RateLimitConfig holds configuration for the login throttle
type RateLimitConfig struct {
	MaxAttempts int           // failures allowed per identifier and per IP inside one window
	Window      time.Duration // fixed window length, started by the first failure
}

// RateLimitService implements LoginThrottle with Redis fixed-window counters.
// Redis errors are logged and the attempt is allowed.
type RateLimitService struct {
	redis  redis.UniversalClient
	config RateLimitConfig
	logger *slog.Logger
}

func NewRateLimitService(client redis.UniversalClient, config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		redis:  client,
		config: config,
		logger: logger,
	}
}

// CheckLogin returns models.ErrRateLimited once either the identifier or the
// IP has exhausted its failure budget for the current window.
func (s *RateLimitService) CheckLogin(ctx context.Context, identifier, ipAddress string) error {
	for _, key := range s.keys(identifier, ipAddress) {
		count, err := s.redis.Get(ctx, key).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			s.logger.Error("login throttle unavailable", slog.Any("error", err))
			return nil
		}
		if count >= int64(s.config.MaxAttempts) {
			s.logger.Warn("login throttled", slog.String("key", key), slog.Int64("failures", count))
			return models.ErrRateLimited
		}
	}
	return nil
}

// RecordFailure counts a rejected login against the identifier and the IP
func (s *RateLimitService) RecordFailure(ctx context.Context, identifier, ipAddress string) {
	for _, key := range s.keys(identifier, ipAddress) {
		if _, err := s.incrementWithTTL(ctx, key); err != nil {
			s.logger.Error("failed to record login failure", slog.Any("error", err))
			return
		}
	}
}

// Reset clears the identifier counter after a successful login. The IP
// counter keeps running so one valid account cannot launder a spraying IP.
func (s *RateLimitService) Reset(ctx context.Context, identifier, _ string) {
	if err := s.redis.Del(ctx, identifierKey(identifier)).Err(); err != nil {
		s.logger.Error("failed to reset login throttle", slog.Any("error", err))
	}
}

func (s *RateLimitService) keys(identifier, ipAddress string) []string {
	keys := []string{identifierKey(identifier)}
	if ipAddress != "" {
		keys = append(keys, "login:ip:"+ipAddress)
	}
	return keys
}

func (s *RateLimitService) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}

	// the window starts with the first failure
	if count == 1 {
		if err := s.redis.Expire(ctx, key, s.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count, nil
}

// identifierKey hashes the identifier so Redis never holds emails in clear text
func identifierKey(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return fmt.Sprintf("login:id:%x", sum[:16])
}
