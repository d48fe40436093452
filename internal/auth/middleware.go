package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hussnainartilence/survey-backend/internal/models"
	pkghttp "github.com/hussnainartilence/survey-backend/pkg/http"
)

const (
	// APIKeyHeader carries a per-account access key.
	APIKeyHeader = "access_key"
	// SystemKeyHeader carries the shared machine-to-machine key.
	SystemKeyHeader = "x-api-key"
)

type contextKey string

const accountContextKey contextKey = "account"

// AccountResolver turns a presented credential into the account it belongs to.
type AccountResolver interface {
	Resolve(ctx context.Context, bearerToken string) (*models.Account, error)
	ResolveAPIKey(ctx context.Context, apiKey string) (*models.Account, error)
}

// Authenticate rejects requests that do not carry a valid credential of the
// given source and stores the resolved account in the request context.
func Authenticate(resolver AccountResolver, source CredentialSource, logger *slog.Logger) func(next http.Handler) http.Handler {
	return authenticate(resolver, source, false, logger)
}

// AuthenticateOptional behaves like Authenticate but lets requests without
// any credential through as anonymous callers. A credential that is present
// but invalid is still rejected.
func AuthenticateOptional(resolver AccountResolver, source CredentialSource, logger *slog.Logger) func(next http.Handler) http.Handler {
	return authenticate(resolver, source, true, logger)
}

func authenticate(resolver AccountResolver, source CredentialSource, optional bool, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, presented, err := resolveRequest(r, resolver, source)
			if err != nil {
				if !errors.Is(err, models.ErrUnauthorized) {
					logger.Error("failed to resolve credential",
						slog.String("source", source.String()),
						slog.Any("error", err))
					pkghttp.WriteInternalError(w, "Internal server error")
					return
				}
				pkghttp.WriteUnauthorized(w, "Could not validate credentials")
				return
			}

			if !presented {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				pkghttp.WriteUnauthorized(w, "Not authenticated")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}

// resolveRequest reports presented=false when the request carries no
// credential the source accepts.
func resolveRequest(r *http.Request, resolver AccountResolver, source CredentialSource) (*models.Account, bool, error) {
	if source == CredentialBearer || source == CredentialEither {
		if token, ok := pkghttp.BearerToken(r); ok {
			account, err := resolver.Resolve(r.Context(), token)
			return account, true, err
		}
	}

	if source == CredentialAPIKey || source == CredentialEither {
		if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
			account, err := resolver.ResolveAPIKey(r.Context(), key)
			return account, true, err
		}
	}

	return nil, false, nil
}

// RequireRoles evaluates Authorize against the account placed in the
// context by Authenticate. When systemKey is non-empty, callers presenting
// it in SystemKeyHeader pass without an account.
func RequireRoles(policy Policy, systemKey string, roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := policy
			if systemKey != "" {
				p = p.WithSystemKey(systemKey, r.Header.Get(SystemKeyHeader))
			}

			account := AccountFromContext(r.Context())
			if Authorize(account, roles, p) {
				next.ServeHTTP(w, r)
				return
			}

			if account == nil {
				pkghttp.WriteUnauthorized(w, "Not authenticated")
				return
			}
			pkghttp.WriteForbidden(w, "You do not have permission to perform this action")
		})
	}
}

func WithAccount(ctx context.Context, account *models.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}

// AccountFromContext returns the authenticated account or nil.
func AccountFromContext(ctx context.Context) *models.Account {
	account, ok := ctx.Value(accountContextKey).(*models.Account)
	if !ok {
		return nil
	}
	return account
}
