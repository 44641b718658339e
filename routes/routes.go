package routes

import (
	"net/http"
	"time"

	"github.com/aiclub/website-backend/app"
	appmw "github.com/aiclub/website-backend/middleware"
	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const requestTimeout = 60 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmw.RequestMeta)
	r.Use(appmw.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(appmw.SecurityHeaders(deps.Config.Server.TLS.Enabled || deps.Config.IsProduction()))

	// CORS middleware. Cookies are the primary credential, so origins are
	// listed explicitly.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// Session lifecycle endpoints
	r.Route("/auth", func(r chi.Router) {
		r.Post("/send-code", deps.AuthHandler.HandleSendCode)
		r.Post("/send-reset-code", deps.AuthHandler.HandleSendResetCode)
		r.Post("/signin", deps.AuthHandler.HandleSignIn)
		r.Post("/refresh", deps.AuthHandler.HandleRefresh)
		r.Post("/reset-key", deps.AuthHandler.HandleResetKey)
		r.Post("/logout", deps.AuthHandler.HandleLogout)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		// User profiles
		r.Route("/users", func(r chi.Router) {
			r.Get("/me", deps.UserHandler.HandleMe)
			r.Get("/{id}", deps.UserHandler.HandleGet)
			r.Patch("/{id}", deps.UserHandler.HandleUpdate)
		})

		// Audit logs (require admin role)
		r.Route("/audit", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireRole(models.RoleAdmin))
			r.Get("/logs", deps.AuditHandler.HandleList)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
