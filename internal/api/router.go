package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/classgate/classgate/internal/auth"
	"github.com/classgate/classgate/internal/invite"
	"github.com/classgate/classgate/internal/metrics"
	"github.com/classgate/classgate/internal/ratelimit"
	"github.com/classgate/classgate/internal/signup"
	"github.com/classgate/classgate/internal/user"
)

// Pinger is the health check's view of the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	UserStore         *user.Store
	InviteStore       *invite.Store
	Signup            *signup.Service
	Auth              *auth.Service
	Limiter           *ratelimit.Limiter
	Metrics           *metrics.Metrics
	DB                Pinger
	AllowedOrigins    []string
	TrustProxyHeaders bool
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(20, time.Hour)
	}

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(withRequestID)
	r.Use(securityHeaders)
	r.Use(cors(deps.AllowedOrigins))
	r.Use(deps.Metrics.Middleware)
	r.Use(slogRequestLogger)

	// Handlers.
	authH := newAuthHandler(deps.Signup, deps.Auth, deps.UserStore, deps.Metrics)
	invitesH := newInvitesHandler(deps.InviteStore, deps.Signup, deps.Metrics)
	usersH := newUsersHandler(deps.UserStore)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		dbState := "connected"
		if deps.DB != nil {
			if err := deps.DB.Ping(r.Context()); err != nil {
				dbState = "unavailable"
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": dbState,
		})
	})

	// Operational metrics summary.
	r.Get("/metrics", deps.Metrics.Handler())

	// Credential endpoints: public, rate limited per client IP.
	r.Group(func(cr chi.Router) {
		cr.Use(ratelimit.Middleware(deps.Limiter, deps.TrustProxyHeaders, func() {
			deps.Metrics.IncRateLimitRejection("credentials")
		}))

		cr.Post("/api/v1/auth/register", authH.Register)
		cr.Post("/api/v1/auth/login", authH.Login)
	})

	// Session routes (any non-blocked role).
	r.Group(func(sr chi.Router) {
		sr.Use(auth.RequireRoles(deps.Auth))

		sr.Get("/api/v1/auth/me", authH.Me)
		sr.Put("/api/v1/auth/me", authH.UpdateProfile)
		sr.Post("/api/v1/invite/verify", invitesH.Verify)
	})

	// Admin routes.
	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(auth.RequireRoles(deps.Auth, auth.AdminRoles...))

		ar.Get("/invites", invitesH.List)
		ar.Post("/invites", invitesH.Create)
		ar.Get("/invites/{id}", invitesH.Get)
		ar.Delete("/invites/{id}", invitesH.Revoke)

		ar.Get("/users", usersH.List)
		ar.Put("/users/{id}/role", usersH.UpdateRole)
	})

	return r
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}
