package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/iudanet/authgate/internal/server/credentials"
	"github.com/iudanet/authgate/internal/server/handlers"
	"github.com/iudanet/authgate/internal/server/ledger"
	"github.com/iudanet/authgate/internal/server/metrics"
	"github.com/iudanet/authgate/internal/server/middleware"
)

// healthPath не пишется в access log
const healthPath = "/api/v1/health"

// RouterDeps зависимости NewRouter
type RouterDeps struct {
	Logger      *slog.Logger
	Issuer      handlers.AccessIssuer
	Credentials *credentials.Store
	Ledger      *ledger.Ledger
	Limiter     *middleware.SlidingWindowLimiter
	Storage     handlers.Pinger
	Metrics     metrics.Recorder
	Version     string
	CORSOrigins []string
	RateLimit   middleware.RateLimitConfig
}

// NewRouter собирает HTTP API.
//
// Порядок middleware:
//
//	RequestID → Logging → CORS → Recovery → RateLimit → [Auth для защищенных маршрутов]
//
// Rate limit применяется ко всем маршрутам, включая /auth/* и 404.
func NewRouter(deps RouterDeps) http.Handler {
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}

	authHandler := handlers.NewAuthHandler(deps.Logger, deps.Credentials, deps.Ledger, deps.Issuer, rec)
	accountHandler := handlers.NewAccountHandler(deps.Logger, deps.Credentials, deps.Ledger)
	healthHandler := handlers.NewHealthHandler(deps.Logger, deps.Storage, deps.Version)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.LoggingWithSkip(deps.Logger, rec, []string{healthPath}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSOrigins, deps.Logger))
	r.Use(middleware.RecoveryMiddleware(deps.Logger))
	r.Use(middleware.RateLimitMiddleware(deps.Limiter, deps.Issuer, deps.RateLimit, deps.Logger, rec))

	r.NotFound(middleware.NotFoundHandler(deps.Logger))
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler(deps.Logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		// --- Публичные маршруты ---
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			// allDevices проверяет access token внутри handler
			r.Post("/logout", authHandler.Logout)
		})

		// --- Защищенные маршруты ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(deps.Issuer, deps.Logger, rec))

			r.Get("/me", accountHandler.Me)
			r.Delete("/account", accountHandler.DeleteAccount)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", accountHandler.Sessions)
				r.Delete("/{id}", accountHandler.RevokeSession)
			})
		})
	})

	return r
}
