// Package server is the composition root: it builds the kernel, the store,
// the chat client and the auth layer from configuration, mounts the
// handlers on a chi router and runs the HTTP server until its context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/notebook-server/internal/auth"
	"github.com/sakif/notebook-server/internal/config"
	"github.com/sakif/notebook-server/internal/handler"
	"github.com/sakif/notebook-server/internal/mcpserver"
	"github.com/sakif/notebook-server/internal/middleware"
	"github.com/sakif/notebook-server/internal/observability"
	"github.com/sakif/notebook-server/internal/repository"
	"github.com/sakif/notebook-server/internal/service"
)

// Deps are the long-lived components the routes are served from.
type Deps struct {
	Kernel  handler.Kernel
	Store   repository.NotebookRepository
	Chat    service.ChatStreamer // nil disables chat
	Auth    *auth.Authenticator
	Version string

	// closers run last-registered first after the HTTP server has stopped.
	closers []func(context.Context) error
}

// AddCloser registers fn to run on shutdown. Closers run in reverse order of
// registration, like deferred calls.
func (d *Deps) AddCloser(fn func(context.Context) error) {
	d.closers = append(d.closers, fn)
}

// Close runs the registered closers.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Server serves the API.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
}

// New mounts every route on a fresh router.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(s.cfg.Server.CORSOrigins))
	if s.cfg.Observability.Metrics.Enabled {
		r.Use(observability.MetricsMiddleware)
	}

	upgrader := handler.NewUpgrader(s.cfg.Server.CORSOrigins)

	notebooks := service.NewNotebookService(s.deps.Store, s.deps.Kernel, s.cfg.Storage.MaxNotebookBytes, s.logger)
	chatSvc := service.NewChatService(s.deps.Chat, s.cfg.Chat.SystemPrompt, s.logger)

	execH := handler.NewExecuteHandler(s.deps.Kernel, upgrader, s.logger)
	chatH := handler.NewChatHandler(chatSvc, upgrader, s.logger)
	nbH := handler.NewNotebookHandler(notebooks, s.logger)

	requireAuth := s.deps.Auth.RequireAuth

	r.Get("/", handler.HandleRoot)
	r.Get("/healthz", handler.HandleHealth)

	if s.cfg.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, s.cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(requireAuth)

		r.Post("/execute", execH.HandleExecute)
		r.Post("/restart_kernel", execH.HandleRestart)
		r.Get("/kernel_status", execH.HandleStatus)

		r.Post("/chat/stream", chatH.HandleChatStream)

		r.Route("/notebooks", func(r chi.Router) {
			r.Get("/", nbH.HandleList)
			r.Post("/", nbH.HandleUpload)
			r.Get("/{name}", nbH.HandleGet)
			r.Delete("/{name}", nbH.HandleDelete)
			r.Get("/{name}/cells", nbH.HandleCells)
			r.Get("/{name}/cells/{index}", nbH.HandleCell)
			r.Post("/{name}/cells/{index}/run", nbH.HandleRunCell)
		})
	})

	r.Route("/ws", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/execute", execH.HandleExecuteWS)
		r.Get("/chat", chatH.HandleChatWS)
	})

	if s.cfg.MCP.Enabled {
		mcp := mcpserver.New(s.deps.Kernel, s.deps.Version, s.logger)
		r.With(requireAuth).Handle(s.cfg.MCP.Path, mcpserver.Handler(mcp))
	}
}

// Run serves until ctx is cancelled, then shuts the HTTP server down and
// runs the registered closers.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(s.cfg.Server.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.cfg.Server.Port)),
			slog.String("storage", s.cfg.Storage.Type),
			slog.String("launcher", s.cfg.Kernel.Launcher),
			slog.String("auth", string(s.deps.Auth.Mode())),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = fmt.Errorf("graceful shutdown failed: %w", err)
		} else {
			s.logger.Info("server stopped gracefully")
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, s.deps.Close(closeCtx))
}
