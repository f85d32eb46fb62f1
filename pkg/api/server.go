// Package api provides the HTTP surface the agent runtime and review UI use
// to drive excella: task reconstruction, plan validation and execution,
// approval decisions, email proposals and tool calls.
package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/excella/pkg/config"
	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/plan"
	"github.com/odvcencio/excella/pkg/storage"
	"github.com/odvcencio/excella/pkg/telemetry"
	"github.com/odvcencio/excella/pkg/tool"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// Server is the excella API server.
type Server struct {
	bind      string
	authToken string

	registry  *tool.Registry
	engine    *plan.Engine
	validator *plan.Validator
	snapshots builtin.SnapshotProvider
	store     *storage.Store
	hub       *telemetry.Hub
	logger    *logging.Logger

	mu       sync.Mutex
	sessions map[string]*conversation.Conversation

	router     chi.Router
	httpServer *http.Server
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Server carries the bind address and bearer token.
	Server config.ServerConfig

	// Registry runs tool calls. Required for the session tool routes.
	Registry *tool.Registry

	// Engine and Validator back the stateless plan routes.
	Engine    *plan.Engine
	Validator *plan.Validator

	// Snapshots supplies fresh snapshots when a request carries none.
	Snapshots builtin.SnapshotProvider

	// Store persists turns, pending approvals and the audit log (optional).
	Store *storage.Store

	// Hub feeds the event stream (optional).
	Hub *telemetry.Hub

	Logger *logging.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	bind := strings.TrimSpace(cfg.Server.Bind)
	if bind == "" {
		bind = config.DefaultServerBind
	}
	validator := cfg.Validator
	if validator == nil {
		validator = plan.NewValidator(cfg.Logger)
	}

	s := &Server{
		bind:      bind,
		authToken: strings.TrimSpace(cfg.Server.AuthToken),
		registry:  cfg.Registry,
		engine:    cfg.Engine,
		validator: validator,
		snapshots: cfg.Snapshots,
		store:     cfg.Store,
		hub:       cfg.Hub,
		logger:    cfg.Logger,
		sessions:  make(map[string]*conversation.Conversation),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer)
	router.Use(s.securityHeadersMiddleware)
	router.Use(s.loggingMiddleware)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/readyz", s.handleReadyz)

	router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api", func(r chi.Router) {
			r.Get("/snapshot", s.handleSnapshot)
			r.Post("/todos/reconstruct", s.handleReconstructTodos)

			r.Route("/plan", func(r chi.Router) {
				r.Post("/validate", s.handleValidatePlan)
				r.Post("/execute", s.handleExecutePlan)
			})

			r.Route("/approvals", func(r chi.Router) {
				r.Get("/", s.handleListApprovals)
				r.Get("/{approvalID}", s.handleGetApproval)
				r.Post("/{approvalID}/decision", s.handleDecideApproval)
			})

			r.Get("/tools", s.handleListTools)
			r.Get("/stream", s.handleStream)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/history", s.handleSessionHistory)
					r.Post("/messages", s.handleAppendMessage)
					r.Get("/todos", s.handleSessionTodos)
					r.Get("/audit", s.handleSessionAudit)
					r.Post("/tools/{toolName}", s.handleCallTool)
					r.Post("/email/propose", s.handleProposeEmail)
					r.Post("/email/send", s.handleSendEmail)
				})
			})
		})
	})

	s.router = router
	s.httpServer = &http.Server{
		Addr:              bind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Proposal routes wait on a human reviewer.
		WriteTimeout: 35 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.bind
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info(logging.CategoryNetwork, "server_started", "listening on "+s.bind, map[string]any{
		"auth": s.authToken != "",
	})
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.registry == nil || s.engine == nil {
		respondStatusJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "tool registry or execution engine not configured",
		})
		return
	}
	respondJSON(w, map[string]string{"status": "ready"})
}
