package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 12
	// bcrypt rejects input longer than 72 bytes
	MaxPasswordLen = 72
)

// punctuation accepted by the special-character rule
const passwordPunctuation = `!@#$%^&*(),.?":{}|<>`

// PasswordValidationError lists every rule the password failed. Error()
// returns the first one, which is what users see.
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return e.Errors[0]
}

func HashPassword(password string) (string, error) {
	return hashWithCost(password, DefaultBcryptCost)
}

// VerifyPassword reports whether password matches hash. Malformed or empty
// hashes never match.
func VerifyPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func hashWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Hasher runs bcrypt with a fixed cost and caps how many hashes run at once,
// so a burst of logins cannot starve the rest of the process of CPU.
type Hasher struct {
	cost  int
	slots *semaphore.Weighted
	dummy string
}

// NewHasher creates a Hasher. A cost of 0 selects DefaultBcryptCost and a
// concurrency of 0 selects runtime.NumCPU().
func NewHasher(cost, concurrency int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d (got %d)", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	dummy, err := hashWithCost("survey-backend-dummy-password", cost)
	if err != nil {
		return nil, err
	}
	return &Hasher{
		cost:  cost,
		slots: semaphore.NewWeighted(int64(concurrency)),
		dummy: dummy,
	}, nil
}

func (h *Hasher) Cost() int {
	return h.cost
}

// Hash returns a self-describing bcrypt hash of password.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.slots.Release(1)
	return hashWithCost(password, h.cost)
}

// Verify compares password against hash. The only error it returns is the
// context error when ctx ends while waiting for a hashing slot.
func (h *Hasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.slots.Release(1)
	return VerifyPassword(password, hash), nil
}

// NeedsRehash reports whether hash was produced with a different cost than
// the one this Hasher is configured with.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost != h.cost
}

// DummyHash is compared against when an account does not exist so that
// unknown identifiers take as long as wrong passwords.
func (h *Hasher) DummyHash() string {
	return h.dummy
}

// ValidatePassword enforces the password policy: 12 to 72 characters, not
// equal to the account name or email, and at least two of upper case,
// lower case, digits and punctuation.
func ValidatePassword(password, name, email string) error {
	var problems []string

	length := utf8.RuneCountInString(password)
	if length < MinPasswordLen {
		problems = append(problems, fmt.Sprintf("Password must be at least %d characters long.", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		problems = append(problems, fmt.Sprintf("Password must be at most %d bytes long.", MaxPasswordLen))
	}

	if name != "" && password == name {
		problems = append(problems, "Password must not be the same as the username.")
	}
	if email != "" && strings.EqualFold(password, email) {
		problems = append(problems, "Password must not be the same as the email address.")
	}

	var hasUpper, hasLower, hasDigit, hasPunct bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordPunctuation, r):
			hasPunct = true
		}
	}

	classes := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasPunct} {
		if ok {
			classes++
		}
	}
	if classes < 2 {
		problems = append(problems, "Password must contain at least two of: upper case letters, lower case letters, digits, punctuation.")
	}

	if len(problems) > 0 {
		return &PasswordValidationError{Errors: problems}
	}
	return nil
}

// IsValidationError reports whether err came from ValidatePassword.
func IsValidationError(err error) bool {
	var ve *PasswordValidationError
	return errors.As(err, &ve)
}
