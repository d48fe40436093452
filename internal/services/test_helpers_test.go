package services_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hussnainartilence/survey-backend/internal/auth"
	"github.com/hussnainartilence/survey-backend/internal/models"
	"github.com/hussnainartilence/survey-backend/internal/repositories"
	"github.com/hussnainartilence/survey-backend/internal/services"
	pkgauth "github.com/hussnainartilence/survey-backend/pkg/auth"
	pkglogger "github.com/hussnainartilence/survey-backend/pkg/logger"
)

const testSecret = "test-secret-32-characters-long!!"

// memStore is an in-memory account store. Transactions are serialized on
// txMu, which stands in for the row lock, and roll back by restoring a
// snapshot taken at the start.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID     int64
	historySeq int64
	accounts   map[int64]*models.Account
	history    map[int64][]*models.PasswordHistoryEntry

	// FailFunc injects an error for the named repository operation
	FailFunc func(op string) error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[int64]*models.Account),
		history:  make(map[int64][]*models.PasswordHistoryEntry),
	}
}

func (s *memStore) fail(op string) error {
	if s.FailFunc != nil {
		return s.FailFunc(op)
	}
	return nil
}

func (s *memStore) Accounts() repositories.AccountRepository {
	return &memAccounts{s: s}
}

func (s *memStore) PasswordHistory() repositories.PasswordHistoryRepository {
	return &memHistory{s: s}
}

func (s *memStore) Execute(ctx context.Context, fn func(repos repositories.RepositoryFactory) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	accounts, history := s.snapshot()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.accounts, s.history = accounts, history
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) snapshot() (map[int64]*models.Account, map[int64][]*models.PasswordHistoryEntry) {
	accounts := make(map[int64]*models.Account, len(s.accounts))
	for id, a := range s.accounts {
		accounts[id] = cloneAccount(a)
	}
	history := make(map[int64][]*models.PasswordHistoryEntry, len(s.history))
	for id, entries := range s.history {
		history[id] = append([]*models.PasswordHistoryEntry(nil), entries...)
	}
	return accounts, history
}

// account returns a copy of the stored account, for assertions
func (s *memStore) account(id int64) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAccount(s.accounts[id])
}

func cloneAccount(a *models.Account) *models.Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Email = clonePtr(a.Email)
	c.CredentialHash = clonePtr(a.CredentialHash)
	c.TokenIssuedAt = clonePtr(a.TokenIssuedAt)
	c.APIKeyHash = clonePtr(a.APIKeyHash)
	c.EmailTokenHash = clonePtr(a.EmailTokenHash)
	c.EmailTokenIssuedAt = clonePtr(a.EmailTokenIssuedAt)
	c.LastAccess = clonePtr(a.LastAccess)
	c.Roles = append([]string{}, a.Roles...)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type memAccounts struct {
	s *memStore
}

func (r *memAccounts) find(op string, match func(a *models.Account) bool) (*models.Account, error) {
	if err := r.s.fail(op); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := make([]int64, 0, len(r.s.accounts))
	for id := range r.s.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if a := r.s.accounts[id]; match(a) {
			return cloneAccount(a), nil
		}
	}
	return nil, models.ErrNotFound
}

func emailEquals(a *models.Account, email string) bool {
	return a.Email != nil && strings.EqualFold(*a.Email, email)
}

func (r *memAccounts) GetByNameOrEmail(ctx context.Context, identifier string) (*models.Account, error) {
	if a, err := r.find("GetByNameOrEmail", func(a *models.Account) bool { return a.Name == identifier }); err == nil {
		return a, nil
	}
	return r.find("GetByNameOrEmail", func(a *models.Account) bool { return emailEquals(a, identifier) })
}

func (r *memAccounts) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.find("GetByID", func(a *models.Account) bool { return a.ID == id })
}

func (r *memAccounts) GetByName(ctx context.Context, name string) (*models.Account, error) {
	return r.find("GetByName", func(a *models.Account) bool { return a.Name == name })
}

func (r *memAccounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.find("GetByEmail", func(a *models.Account) bool { return emailEquals(a, email) })
}

func (r *memAccounts) GetByAPIKeyHash(ctx context.Context, keyHash string) (*models.Account, error) {
	return r.find("GetByAPIKeyHash", func(a *models.Account) bool { return a.APIKeyHash != nil && *a.APIKeyHash == keyHash })
}

func (r *memAccounts) LockByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.find("LockByID", func(a *models.Account) bool { return a.ID == id })
}

func (r *memAccounts) LockByName(ctx context.Context, name string) (*models.Account, error) {
	return r.find("LockByName", func(a *models.Account) bool { return a.Name == name })
}

func (r *memAccounts) Create(ctx context.Context, account *models.Account) error {
	if err := r.s.fail("Create"); err != nil {
		return err
	}
	if account.AuthMode != models.AuthModeFederated && account.CredentialHash == nil {
		return models.ErrBadRequest
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, a := range r.s.accounts {
		if a.Name == account.Name || (account.Email != nil && emailEquals(a, *account.Email)) {
			return models.ErrConflict
		}
	}
	r.s.nextID++
	account.ID = r.s.nextID
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	if account.AuthMode == "" {
		account.AuthMode = models.AuthModeLocal
	}
	r.s.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (r *memAccounts) update(op string, id int64, fn func(a *models.Account)) error {
	if err := r.s.fail(op); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	fn(a)
	a.UpdatedAt = time.Now()
	return nil
}

func (r *memAccounts) AssignRoles(ctx context.Context, id int64, roles []string) error {
	return r.update("AssignRoles", id, func(a *models.Account) {
		for _, role := range roles {
			if !a.HasRole(role) {
				a.Roles = append(a.Roles, role)
			}
		}
		sort.Strings(a.Roles)
	})
}

func (r *memAccounts) RecordFailedLogin(ctx context.Context, id int64, threshold int) (int, bool, error) {
	var attempts int
	var enabled bool
	err := r.update("RecordFailedLogin", id, func(a *models.Account) {
		a.FailedLoginAttempts++
		if a.FailedLoginAttempts >= threshold {
			a.Enabled = false
		}
		attempts, enabled = a.FailedLoginAttempts, a.Enabled
	})
	return attempts, enabled, err
}

func (r *memAccounts) UpdateSecurityFields(ctx context.Context, id int64, u models.SecurityUpdate) error {
	return r.update("UpdateSecurityFields", id, func(a *models.Account) {
		a.TokenIssuedAt = clonePtr(u.TokenIssuedAt)
		a.RefreshTokenID = u.RefreshTokenID
		if u.LastAccess != nil {
			a.LastAccess = clonePtr(u.LastAccess)
		}
		if u.CredentialHash != nil {
			a.CredentialHash = clonePtr(u.CredentialHash)
		}
		if u.ResetFailures {
			a.FailedLoginAttempts = 0
		}
	})
}

func (r *memAccounts) SetCredential(ctx context.Context, id int64, credentialHash string) error {
	return r.update("SetCredential", id, func(a *models.Account) { a.CredentialHash = &credentialHash })
}

func (r *memAccounts) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	return r.update("SetEnabled", id, func(a *models.Account) {
		a.Enabled = enabled
		if enabled {
			a.FailedLoginAttempts = 0
		}
	})
}

func (r *memAccounts) RevokeSessions(ctx context.Context, id int64, refreshTokenID string) error {
	return r.update("RevokeSessions", id, func(a *models.Account) {
		a.RefreshTokenID = refreshTokenID
		a.TokenIssuedAt = nil
		a.APIKeyHash = nil
	})
}

func (r *memAccounts) SetAPIKeyHash(ctx context.Context, id int64, keyHash string) error {
	return r.update("SetAPIKeyHash", id, func(a *models.Account) { a.APIKeyHash = &keyHash })
}

func (r *memAccounts) SetEmailToken(ctx context.Context, id int64, tokenHash string, issuedAt time.Time) error {
	return r.update("SetEmailToken", id, func(a *models.Account) {
		a.EmailTokenHash = &tokenHash
		a.EmailTokenIssuedAt = &issuedAt
	})
}

func (r *memAccounts) MarkEmailVerified(ctx context.Context, id int64) error {
	return r.update("MarkEmailVerified", id, func(a *models.Account) {
		a.EmailVerified = true
		a.EmailTokenHash = nil
		a.EmailTokenIssuedAt = nil
	})
}

func (r *memAccounts) ClearExpiredEmailTokens(ctx context.Context, before time.Time) (int64, error) {
	if err := r.s.fail("ClearExpiredEmailTokens"); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, a := range r.s.accounts {
		if a.EmailTokenHash != nil && a.EmailTokenIssuedAt != nil && a.EmailTokenIssuedAt.Before(before) {
			a.EmailTokenHash, a.EmailTokenIssuedAt = nil, nil
			n++
		}
	}
	return n, nil
}

type memHistory struct {
	s *memStore
}

func (r *memHistory) ListRecent(ctx context.Context, accountID int64, limit int) ([]*models.PasswordHistoryEntry, error) {
	if err := r.s.fail("ListRecent"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entries := r.s.history[accountID]
	out := make([]*models.PasswordHistoryEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := *entries[i]
		out = append(out, &e)
	}
	return out, nil
}

func (r *memHistory) Append(ctx context.Context, accountID int64, credentialHash string) error {
	if err := r.s.fail("Append"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.historySeq++
	r.s.history[accountID] = append(r.s.history[accountID], &models.PasswordHistoryEntry{
		ID:             r.s.historySeq,
		AccountID:      accountID,
		CredentialHash: credentialHash,
		CreatedAt:      time.Now(),
	})
	return nil
}

func (r *memHistory) EvictBeyond(ctx context.Context, accountID int64, keep int) (int64, error) {
	if err := r.s.fail("EvictBeyond"); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entries := r.s.history[accountID]
	if len(entries) <= keep {
		return 0, nil
	}
	removed := len(entries) - keep
	r.s.history[accountID] = append([]*models.PasswordHistoryEntry(nil), entries[removed:]...)
	return int64(removed), nil
}

func (s *memStore) historyLen(accountID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[accountID])
}

// fixture wires every service against one memStore
type fixture struct {
	store     *memStore
	tm        *auth.TokenManager
	hasher    *pkgauth.Hasher
	sessions  *services.SessionService
	access    *services.AccessService
	passwords *services.PasswordService
	accounts  *services.AccountService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, services.SessionConfig{})
}

func newFixtureWith(t *testing.T, cfg services.SessionConfig) *fixture {
	t.Helper()

	tm, err := auth.NewTokenManager(testSecret, "HS256", time.Hour, 24*time.Hour)
	require.NoError(t, err)

	hasher, err := pkgauth.NewHasher(4, 4)
	require.NoError(t, err)

	store := newMemStore()
	logger := discardLogger()
	audit := pkglogger.NewAuditLogger(logger)

	return &fixture{
		store:     store,
		tm:        tm,
		hasher:    hasher,
		sessions:  services.NewSessionService(store, store, tm, hasher, cfg, logger, audit),
		access:    services.NewAccessService(store, tm, logger),
		passwords: services.NewPasswordService(store, store, tm, hasher, logger, audit),
		accounts:  services.NewAccountService(store, store, hasher, nil, 0, logger, audit),
	}
}

// seedAccount inserts an enabled, verified LOCAL account
func (f *fixture) seedAccount(t *testing.T, name, email, password string, roles ...string) *models.Account {
	t.Helper()

	hash, err := f.hasher.Hash(context.Background(), password)
	require.NoError(t, err)

	account := &models.Account{
		Name:           name,
		EmailVerified:  true,
		CredentialHash: &hash,
		AuthMode:       models.AuthModeLocal,
		Enabled:        true,
		RefreshTokenID: "seed",
	}
	if email != "" {
		account.Email = &email
	}

	repos := f.store
	require.NoError(t, repos.Accounts().Create(context.Background(), account))
	require.NoError(t, repos.Accounts().AssignRoles(context.Background(), account.ID, roles))
	require.NoError(t, repos.PasswordHistory().Append(context.Background(), account.ID, hash))
	return account
}

// recordingSender captures verification emails
type recordingSender struct {
	mu    sync.Mutex
	sent  []sentEmail
	err   error
	delay time.Duration
}

type sentEmail struct {
	Email string
	Name  string
	Token string
}

func (s *recordingSender) SendVerificationEmail(ctx context.Context, email, name, token string, expiresAt time.Time) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentEmail{Email: email, Name: name, Token: token})
	return s.err
}

func (s *recordingSender) emails() []sentEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentEmail(nil), s.sent...)
}
