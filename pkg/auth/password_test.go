package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name          string
		password      string
		user          string
		email         string
		shouldFail    bool
		errorContains string
	}{
		{
			name:     "upper lower digit punctuation",
			password: "CorrectHorse1!",
		},
		{
			name:     "lower and digits only",
			password: "correcthorse12",
		},
		{
			name:     "lower and punctuation only",
			password: "correct.horse.battery",
		},
		{
			name:          "too short",
			password:      "Short1!",
			shouldFail:    true,
			errorContains: "at least 12",
		},
		{
			name:          "single character class",
			password:      "correcthorsebattery",
			shouldFail:    true,
			errorContains: "at least two",
		},
		{
			name:          "same as username",
			password:      "AliceWonder2024",
			user:          "AliceWonder2024",
			shouldFail:    true,
			errorContains: "username",
		},
		{
			name:          "same as email ignoring case",
			password:      "Alice@Example.com",
			email:         "alice@example.com",
			shouldFail:    true,
			errorContains: "email",
		},
		{
			name:          "longer than bcrypt accepts",
			password:      strings.Repeat("Ab1", 30),
			shouldFail:    true,
			errorContains: "at most 72",
		},
		{
			name:          "symbol outside the accepted punctuation set",
			password:      "correcthorse~~~~",
			shouldFail:    true,
			errorContains: "at least two",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password, tt.user, tt.email)
			if !tt.shouldFail {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestValidatePassword_CollectsEveryProblem(t *testing.T) {
	err := ValidatePassword("aaaa", "", "")
	require.Error(t, err)

	ve, ok := err.(*PasswordValidationError)
	require.True(t, ok)
	assert.Len(t, ve.Errors, 2)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("CorrectHorse1!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$12$"), "hash should be self-describing: %s", hash)
	assert.True(t, VerifyPassword("CorrectHorse1!", hash))
	assert.False(t, VerifyPassword("CorrectHorse2!", hash))

	_, err = HashPassword("")
	assert.Error(t, err)
}

func TestHashPassword_RandomSalt(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost, 2)
	require.NoError(t, err)

	first, err := h.Hash(context.Background(), "CorrectHorse1!")
	require.NoError(t, err)
	second, err := h.Hash(context.Background(), "CorrectHorse1!")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	for _, hash := range []string{"", "plaintext", "$2a$", "$argon2id$v=19$m=65536", "$2a$04$short"} {
		assert.False(t, VerifyPassword("CorrectHorse1!", hash), "hash %q", hash)
	}
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher(0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultBcryptCost, h.Cost())

	_, err = NewHasher(bcrypt.MaxCost+1, 1)
	assert.Error(t, err)
}

func TestHasher_VerifyAndRehash(t *testing.T) {
	ctx := context.Background()
	h, err := NewHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)

	hash, err := h.Hash(ctx, "CorrectHorse1!")
	require.NoError(t, err)

	ok, err := h.Verify(ctx, "CorrectHorse1!", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(ctx, "wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.False(t, h.NeedsRehash(hash))

	stronger, err := NewHasher(bcrypt.MinCost+1, 1)
	require.NoError(t, err)
	assert.True(t, stronger.NeedsRehash(hash))
	assert.False(t, stronger.NeedsRehash("not-a-hash"))
}

func TestHasher_DummyHashNeverMatchesEmptyPassword(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)

	assert.NotEmpty(t, h.DummyHash())
	assert.False(t, VerifyPassword("", h.DummyHash()))
}

func TestHasher_ContextCancelledWhileWaiting(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)

	// hold the only slot
	require.NoError(t, h.slots.Acquire(context.Background(), 1))
	defer h.slots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = h.Verify(ctx, "CorrectHorse1!", h.DummyHash())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = h.Hash(ctx, "CorrectHorse1!")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHasher_ConcurrentUse(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost, 2)
	require.NoError(t, err)

	hash, err := h.Hash(context.Background(), "CorrectHorse1!")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := h.Verify(context.Background(), "CorrectHorse1!", hash)
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
}
