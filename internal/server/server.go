package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raakeshmj/licensegate/internal/audit"
	"github.com/raakeshmj/licensegate/internal/config"
	"github.com/raakeshmj/licensegate/internal/metrics"
	"github.com/raakeshmj/licensegate/internal/middleware"
	"github.com/raakeshmj/licensegate/internal/policy"
	"github.com/raakeshmj/licensegate/internal/service"
)

type Server struct {
	cfg          *config.Config
	router       *chi.Mux
	authService  *service.AuthService
	metrics      *metrics.Collector
	auditLogger  audit.Logger
	policyEngine *policy.Engine
	logger       *slog.Logger
	closers      []func() error
}

// New connects the configured backends and builds the server.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	deps, err := BuildDeps(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithDeps(cfg, deps, logger), nil
}

// NewWithDeps builds the server around already constructed collaborators.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}

	eng := policy.NewEngine()
	policies := cfg.Policies
	if len(policies) == 0 {
		policies = config.DefaultPolicies(cfg.Auth)
	}
	eng.LoadPolicies(policies)

	gate := service.NewPermissionGate(deps.Scopes)
	authSvc := service.NewAuthService(gate, deps.Accounts, deps.Signer, deps.Sessions, deps.Audit, logger).
		WithPasswordHashing(cfg.Auth.HashPasswords)

	s := &Server{
		cfg:          cfg,
		router:       chi.NewRouter(),
		authService:  authSvc,
		metrics:      deps.Metrics,
		auditLogger:  deps.Audit,
		policyEngine: eng,
		logger:       logger,
		closers:      deps.Closers,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Order: RequestID -> Metrics -> Audit -> Security -> Policy -> Token -> Handler
	s.router.Use(
		middleware.RequestID(),
		middleware.MetricsMiddleware(s.metrics),
		middleware.AuditMiddleware(s.logger, s.auditLogger),
		middleware.SecureHeaders(),
		middleware.PolicyEnforcer(s.policyEngine),
		middleware.Token(),
	)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/login", s.handleLogin)
		r.Post("/login", s.handleLogin)
		r.Get("/session", s.handleSession)
		r.Get("/categories/{category}/users", s.handleListUsers)
		r.Get("/categories/{category}/users/{username}", s.handleGetUser)
		r.Patch("/categories/{category}/users/{username}", s.handleUpdateUser)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errNotFound)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"}})
	})
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases backend connections.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              ":" + s.cfg.ServerPort,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: s.cfg.HTTP.ReadTimeout,
		WriteTimeout:      s.cfg.HTTP.WriteTimeout,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting", "port", s.cfg.ServerPort, "backend", s.cfg.Store.Backend)
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.logger.Info("shutdown started", "signal", sig.String())

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

// storeContext bounds a request's calls to the backing store.
func (s *Server) storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.HTTP.StoreTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.cfg.HTTP.StoreTimeout)
}

var startedAt = time.Now()
