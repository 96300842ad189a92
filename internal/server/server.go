package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/handler"
	"github.com/toolboxhq/keygate/internal/metrics"
	"github.com/toolboxhq/keygate/internal/server/middleware"
	"github.com/toolboxhq/keygate/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	Version         string
	BaseURL         string // advertised in the OpenAPI document; may be empty

	// AuthRequired puts issuance, revocation, info and stats routes behind
	// admin authentication. Verification routes stay open.
	AuthRequired bool
	AdminKey     string
	JWTSecret    string

	// VerifyPerMinute rate-limits the verification routes per client IP.
	// Zero disables the limit.
	VerifyPerMinute int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20, // 1MB
		Version:         "dev",
		VerifyPerMinute: 120,
	}
}

// Server is the top-level HTTP server. It owns the Chi router and the
// services built over the store.
type Server struct {
	cfg        Config
	router     chi.Router
	store      config.Backend
	licenses   *service.LicenseService
	keys       *service.APIKeyService
	gate       *service.Gate
	authSvc    *service.AuthService
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. The caller owns store and closes it after shutdown.
// m may be nil to disable metrics.
func New(cfg Config, store config.Backend, opts service.Options, m *metrics.Metrics, logger *slog.Logger) *Server {
	opts.Logger = logger
	keys := service.NewAPIKeyService(store, opts)
	s := &Server{
		cfg:      cfg,
		store:    store,
		licenses: service.NewLicenseService(store, opts),
		keys:     keys,
		gate:     service.NewGate(store, opts.Now),
		authSvc:  service.NewAuthService(keys, cfg.AdminKey, cfg.JWTSecret),
		metrics:  m,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	r.Use(middleware.MaxBodySize(s.cfg.MaxBodySize))
	r.Use(s.metrics.Middleware)

	licenseHandler := handler.NewLicenseHandler(s.licenses, s.metrics)
	apiKeyHandler := handler.NewAPIKeyHandler(s.keys, s.metrics)
	sysHandler := handler.NewSystemHandler(s.store, s.store, s.gate, s.metrics, s.cfg.Version)

	// --- Public endpoints ---
	r.Get("/", sysHandler.Root)
	r.Get("/health", sysHandler.Health)
	r.Get("/limits", sysHandler.Limits)
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.Version, s.cfg.BaseURL).ServeSpec)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// --- Verification (rate limited, never authenticated) ---
	r.Group(func(r chi.Router) {
		if s.cfg.VerifyPerMinute > 0 {
			r.Use(middleware.RateLimit(s.cfg.VerifyPerMinute))
		}
		r.Post("/verify-license", licenseHandler.Verify)
		r.Post("/verify-api-key", apiKeyHandler.Verify)
	})

	// --- Issuance, revocation and record access ---
	r.Group(func(r chi.Router) {
		if s.cfg.AuthRequired {
			r.Use(middleware.Authenticate(s.authSvc))
			r.Use(middleware.RequireAdmin())
		}

		r.Post("/generate-license", licenseHandler.Generate)
		r.Get("/license-info/{key}", licenseHandler.Info)
		r.Post("/revoke-license", licenseHandler.Revoke)

		r.Post("/generate-api-key", apiKeyHandler.Generate)
		r.Get("/api-usage/{key}", apiKeyHandler.Usage)
		r.Post("/revoke-api-key", apiKeyHandler.Revoke)

		r.Get("/stats", sysHandler.Stats)
	})

	s.router = r
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "auth_required", s.cfg.AuthRequired)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// AuthService returns the admin authenticator, used to mint tokens.
func (s *Server) AuthService() *service.AuthService {
	return s.authSvc
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
