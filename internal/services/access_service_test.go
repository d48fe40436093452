package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hussnainartilence/survey-backend/internal/models"
	"github.com/hussnainartilence/survey-backend/internal/services"
)

func TestResolve_RejectsStaleAndForeignTokens(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, "alice", "", alicePassword)
	ctx := context.Background()

	pair, err := f.sessions.Login(ctx, "alice", alicePassword, "")
	require.NoError(t, err)

	t.Run("refresh token is not an access token", func(t *testing.T) {
		_, err := f.access.Resolve(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := f.access.Resolve(ctx, "abc.def.ghi")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("unknown subject", func(t *testing.T) {
		now := time.Now()
		token, err := f.tm.IssueAccess("ghost", now, now.Add(time.Minute))
		require.NoError(t, err)

		_, err = f.access.Resolve(ctx, token)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("superseded by a later issue", func(t *testing.T) {
		later := time.Now().Add(5 * time.Second).UTC().Truncate(time.Second)
		require.NoError(t, f.store.Accounts().UpdateSecurityFields(ctx, alice.ID, models.SecurityUpdate{
			TokenIssuedAt:  &later,
			RefreshTokenID: "other",
		}))

		_, err := f.access.Resolve(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("store failure", func(t *testing.T) {
		f.store.FailFunc = func(op string) error { return errors.New("down") }
		defer func() { f.store.FailFunc = nil }()

		now := time.Now()
		token, err := f.tm.IssueAccess("alice", now, now.Add(time.Minute))
		require.NoError(t, err)

		_, err = f.access.Resolve(ctx, token)
		assert.ErrorIs(t, err, models.ErrInternalServer)
	})
}

func TestResolve_NeverIssuedAccount(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "alice", "", alicePassword)

	now := time.Now()
	token, err := f.tm.IssueAccess("alice", now, now.Add(time.Minute))
	require.NoError(t, err)

	_, err = f.access.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestResolveAPIKey_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.access.ResolveAPIKey(ctx, "not-a-key")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = f.access.ResolveAPIKey(ctx, "svy_"+"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestResolveAPIKey_LockedOutAccount(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, "alice", "", alicePassword)
	ctx := context.Background()

	key, err := f.accounts.IssueAPIKey(ctx, alice.ID, alice.ID)
	require.NoError(t, err)

	for i := 0; i < services.DefaultMaxFailedLogins; i++ {
		_, _ = f.sessions.Login(ctx, "alice", "wrong-password", "")
	}
	stored := f.store.account(alice.ID)
	require.False(t, stored.Enabled)
	require.NotNil(t, stored.APIKeyHash)

	_, err = f.access.ResolveAPIKey(ctx, key)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	require.NoError(t, f.accounts.Unlock(ctx, alice.ID, 1))
	resolved, err := f.access.ResolveAPIKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, resolved.ID)
}
