package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EmailTokenSweeper clears verification tokens issued before a cutoff.
// repositories.AccountRepository satisfies it.
type EmailTokenSweeper interface {
	ClearExpiredEmailTokens(ctx context.Context, before time.Time) (int64, error)
}

// CleanupManager periodically drops expired email verification tokens
type CleanupManager struct {
	sweeper  EmailTokenSweeper
	tokenTTL time.Duration
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(sweeper EmailTokenSweeper, tokenTTL time.Duration, logger *slog.Logger, interval time.Duration) *CleanupManager {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupManager{
		sweeper:  sweeper,
		tokenTTL: tokenTTL,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the periodic cleanup task and blocks until stopped
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cleared, err := cm.sweeper.ClearExpiredEmailTokens(cleanupCtx, cm.now().Add(-cm.tokenTTL))
	if err != nil {
		cm.logger.Error("failed to clear expired email tokens", slog.Any("error", err))
		return
	}

	if cleared > 0 {
		cm.logger.Info("expired email tokens cleared", slog.Int64("rows_updated", cleared))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
