package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/ismistube/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Logger      *slog.Logger
	Credentials CredentialStore
	Sessions    SessionManager
	Uploads     UploadRegistry
	Assets      http.Handler
	Chat        http.Handler
	Health      Pinger

	Cookie         middleware.SessionCookie
	AuthLimiter    middleware.RateLimiter
	MaxUploadBytes int64
	CORSOrigins    []string
}

// NewRouter wires every endpoint behind request logging and session resolution.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(deps.Logger))

	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Use(middleware.Sessions(deps.Sessions, deps.Cookie))

	health := HealthHandler{DB: deps.Health}
	authHandler := AuthHandler{Credentials: deps.Credentials, Sessions: deps.Sessions, Cookie: deps.Cookie}
	uploadHandler := UploadHandler{Uploads: deps.Uploads, MaxBytes: deps.MaxUploadBytes}
	videos := VideoHandler{Uploads: deps.Uploads}

	r.Get("/healthz", health.Handle)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.AuthLimiter, "auth"))
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})
	r.Get("/logout", authHandler.Logout)

	r.Post("/upload", uploadHandler.Upload)
	r.Get("/videos", videos.List)

	if deps.Assets != nil {
		r.Handle("/uploads/*", http.StripPrefix("/uploads", deps.Assets))
	}
	if deps.Chat != nil {
		r.Get("/chat", deps.Chat.ServeHTTP)
	}

	return r
}
