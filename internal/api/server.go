package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/blakemizelle/nationgate/internal/api/handler"
	mw "github.com/blakemizelle/nationgate/internal/api/middleware"
	"github.com/blakemizelle/nationgate/internal/api/session"
	"github.com/blakemizelle/nationgate/internal/config"
	"github.com/blakemizelle/nationgate/internal/core"
	"github.com/blakemizelle/nationgate/internal/nationbuilder"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	gateway  *nationbuilder.Client
	sessions *session.Store
	pool     *pgxpool.Pool
	cfg      *config.Config
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, cfg *config.Config) (*Server, error) {
	tokenKey, err := cfg.TokenKey()
	if err != nil {
		return nil, err
	}
	sessionKey, err := cfg.SessionKey()
	if err != nil {
		return nil, err
	}

	tokens := nationbuilder.NewTokenClient(cfg)
	services := core.NewServices(pool, tokens, cfg, tokenKey)
	gateway := nationbuilder.NewClient(services.Installation, tokens, cfg)

	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		gateway:  gateway,
		sessions: session.NewStore(sessionKey),
		pool:     pool,
		cfg:      cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	oauth := handler.NewOAuth(s.services.Auth, s.services.Installation, s.sessions)
	s.router.Get("/", oauth.Install)
	s.router.Get("/oauth/callback", oauth.Callback)
	s.router.Delete("/uninstall", oauth.Uninstall)

	dashboard := handler.NewDashboard(s.gateway, s.sessions)
	s.router.Get("/dashboard", dashboard.Show)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"checks": checks})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
