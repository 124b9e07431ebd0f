package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/voxrelay/internal/api/handlers"
	"github.com/matiasleandrokruk/voxrelay/internal/api/middleware"
)

// Deps wires the router to the running services.
type Deps struct {
	Provider handlers.ProviderChecker
	// WS serves the websocket upgrade at /ws.
	WS http.Handler
	// Active reports open relay sessions for the readiness probe; optional.
	Active func() int
	// Journal is nil when the lifecycle journal is disabled.
	Journal handlers.JournalLister
	// StaticDir is served read-only under /. Empty disables static files.
	StaticDir string
	Logger    zerolog.Logger
}

// NewRouter creates and configures a new chi router with all routes.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on all routes)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)

	health := handlers.NewHealthHandler(deps.Provider, deps.Active)
	r.Get("/health", health.Live)
	r.Get("/health/ready", health.Ready)

	r.Handle("/ws", deps.WS)

	journalHandler := handlers.NewJournalHandler(deps.Journal)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/connections/{id}/events", journalHandler.ListEvents) // GET /api/v1/connections/{id}/events
	})

	if deps.StaticDir != "" {
		static := http.FileServer(http.Dir(deps.StaticDir))
		r.Method(http.MethodGet, "/*", static)
		r.Method(http.MethodHead, "/*", static)
	}

	return r
}
