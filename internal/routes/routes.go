package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/hussnainartilence/survey-backend/internal/auth"
	"github.com/hussnainartilence/survey-backend/internal/handlers"
	"github.com/hussnainartilence/survey-backend/internal/middleware"
	"github.com/hussnainartilence/survey-backend/internal/models"
	pkghttp "github.com/hussnainartilence/survey-backend/pkg/http"
)

// Dependencies bundles what the router needs from main
type Dependencies struct {
	Sessions  *handlers.SessionHandler
	Users     *handlers.UserHandler
	Health    *handlers.HealthHandler
	Resolver  auth.AccountResolver
	Policy    auth.Policy
	SystemKey string

	LoginRateLimitPerMinute int
	IPConfig                *pkghttp.IPConfig
	Logger                  *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	limitConfig := middleware.RateLimitConfig{
		RequestsPerMinute: deps.LoginRateLimitPerMinute,
		IPConfig:          deps.IPConfig,
	}

	// Public routes. Login and refresh count against separate per-IP budgets.
	router.Get("/health", deps.Health.Health)
	router.With(middleware.RateLimitByIP(limitConfig)).Post("/token", deps.Sessions.Login)
	router.With(middleware.RateLimitByIP(limitConfig)).Post("/token/refresh", deps.Sessions.Refresh)
	router.Get("/users/email/verification", deps.Users.VerifyEmail)

	// Registration accepts an admin credential or the system key alone
	router.With(
		auth.AuthenticateOptional(deps.Resolver, auth.CredentialEither, deps.Logger),
		auth.RequireRoles(deps.Policy, deps.SystemKey, models.RoleAdmin),
	).Post("/users/register", deps.Users.Register)

	router.With(
		auth.Authenticate(deps.Resolver, auth.CredentialEither, deps.Logger),
	).Get("/users/current_user", deps.Users.CurrentUser)

	// Bearer-only routes
	router.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(deps.Resolver, auth.CredentialBearer, deps.Logger))

		// Self or admin, checked by the handler
		r.Patch("/users/{id}/password", deps.Users.ChangePassword)
		r.Post("/users/{id}/api_key", deps.Users.IssueAPIKey)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRoles(deps.Policy, "", models.RoleAdmin))
			r.Post("/users/{id}/unlock", deps.Users.Unlock)
			r.Post("/users/{id}/disable", deps.Users.Disable)
		})
	})
}
