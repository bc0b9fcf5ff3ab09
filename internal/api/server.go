package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server serves the dashboard API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the analytics handlers behind the middleware stack.
func NewServer(cfg domain.ServerConfig, svc *analytics.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, defaultWindow int, version string) *Server {
	handler := NewHandler(svc, repo, cache, bus, defaultWindow, version)

	router := chi.NewRouter()
	router.Use(TracingMiddleware)
	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.StripSlashes)

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Group(func(r chi.Router) {
		// Bound query time so an abandoned dashboard does not hold connections
		if cfg.WriteTimeout > 0 {
			r.Use(middleware.Timeout(time.Duration(cfg.WriteTimeout) * time.Second))
		}
		r.Use(middleware.Compress(5, "application/json"))

		r.Get("/range", handler.DateRange)
		r.Get("/aggregate", handler.Aggregate)
		r.Get("/detail", handler.Detail)
		r.Get("/breakdown", handler.Breakdown)
		r.Get("/orders", handler.Orders)
		r.Get("/kpis", handler.KPIs)
		r.Get("/dashboard", handler.Dashboard)
	})

	router.Route("/cache", func(r chi.Router) {
		r.Post("/invalidate", handler.InvalidateCache)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the router to tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
