package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/formpulse/formpulse/internal/config"
	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/credits"
	"github.com/formpulse/formpulse/internal/notify"
	"github.com/formpulse/formpulse/internal/server/handler"
	"github.com/formpulse/formpulse/internal/storage"
)

// NewRouter creates and configures a new HTTP router with middleware and API routes.
func NewRouter(
	cfg *config.Config,
	dispatcher core.JobDispatcher,
	store storage.Store,
	ledger *credits.Ledger,
	hub *notify.Hub,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Configure middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		eventHandler := handler.NewEventHandler(cfg, dispatcher, logger)
		runHandler := handler.NewRunHandler(store, hub, logger)
		creditHandler := handler.NewCreditHandler(ledger, logger)

		r.With(middleware.Timeout(60*time.Second)).Group(func(r chi.Router) {
			r.Post("/events", eventHandler.Handle)
			r.Get("/runs", runHandler.List)
			r.Get("/runs/{workUnitID}", runHandler.Latest)
			r.Get("/credits/{userID}", creditHandler.Remaining)
		})

		// The event stream stays open as long as the client listens, so it
		// is registered outside the request timeout group.
		r.Get("/runs/{workUnitID}/events", runHandler.Stream)
	})

	return r
}
