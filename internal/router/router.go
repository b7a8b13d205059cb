package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"survey-platform/internal/config"
	"survey-platform/internal/handler"
	"survey-platform/internal/middleware"
)

type Handlers struct {
	Auth  *handler.AuthHandler
	Trash *handler.TrashHandler
	Audit *handler.AuditHandler
}

func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	handlers Handlers,
	healthCheck http.HandlerFunc,
) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", healthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/login", handlers.Auth.Login)
			auth.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles("admin")).Post("/register", handlers.Auth.Register)
			auth.With(authMiddleware.RequireAuth).Get("/me", handlers.Auth.Me)
		})

		api.Route("/trash", func(trash chi.Router) {
			trash.Use(authMiddleware.RequireAuth, authMiddleware.RequireRoles("admin"))

			trash.Post("/accounts", handlers.Trash.MoveAccountToTrash)
			trash.Get("/accounts", handlers.Trash.ListAccountTrash)
			trash.Post("/accounts/{trash_id}/put-back", handlers.Trash.PutBackAccount)
			trash.Post("/accounts/{trash_id}/retry", handlers.Trash.RetryAccountPurge)

			trash.Post("/projects", handlers.Trash.MoveProjectsToTrash)
			trash.Get("/projects", handlers.Trash.ListProjectTrash)
			trash.Post("/projects/{trash_id}/put-back", handlers.Trash.PutBackProject)
			trash.Post("/projects/{trash_id}/retry", handlers.Trash.RetryProjectPurge)
		})

		api.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles("admin")).Get("/audit", handlers.Audit.List)
	})

	return r
}
