package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/notebook-server/internal/auth"
	"github.com/sakif/notebook-server/internal/chat"
	"github.com/sakif/notebook-server/internal/config"
	"github.com/sakif/notebook-server/internal/kernel"
	"github.com/sakif/notebook-server/internal/kernel/docker"
	"github.com/sakif/notebook-server/internal/kernel/subprocess"
	"github.com/sakif/notebook-server/internal/repository"
	"github.com/sakif/notebook-server/internal/repository/local"
	"github.com/sakif/notebook-server/internal/repository/postgres"
	"github.com/sakif/notebook-server/internal/repository/sqlite"
)

// Build creates every component cfg asks for and starts the kernel. A kernel
// that does not come up is fatal. On error, whatever was already created is
// closed again.
func Build(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (deps Deps, err error) {
	deps.Version = version
	defer func() {
		if err != nil {
			deps.Close(context.WithoutCancel(ctx))
		}
	}()

	deps.Auth, err = NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return deps, err
	}

	store, err := NewStore(ctx, cfg.Storage, logger)
	if err != nil {
		return deps, err
	}
	deps.Store = store
	deps.AddCloser(func(context.Context) error { return store.Close() })

	launcher, closeLauncher, err := newLauncher(cfg.Kernel, logger)
	if err != nil {
		return deps, err
	}
	if closeLauncher != nil {
		deps.AddCloser(func(context.Context) error { return closeLauncher() })
	}

	ctrl := kernel.NewController(launcher, KernelConfig(cfg.Kernel), logger.With(slog.String("component", "kernel")))
	deps.AddCloser(ctrl.Close)
	if err := ctrl.Start(ctx); err != nil {
		return deps, fmt.Errorf("starting kernel: %w", err)
	}
	deps.Kernel = ctrl

	if cfg.ChatEnabled() {
		client := chat.NewClient(chat.Config{
			BaseURL:     cfg.Chat.BaseURL,
			APIKey:      cfg.Chat.APIKey,
			Model:       cfg.Chat.Model,
			Temperature: cfg.Chat.Temperature,
			MaxTokens:   cfg.Chat.MaxTokens,
			Timeout:     cfg.Chat.Timeout,
		})
		deps.Chat = client
		logger.Info("chat enabled", slog.String("model", client.Model()))
		deps.AddCloser(func(context.Context) error { return client.Close() })
	} else {
		logger.Warn("chat API key not set, chat endpoints will answer 503")
	}

	return deps, nil
}

// KernelConfig maps the kernel section onto kernel.Config.
func KernelConfig(c config.KernelConfig) kernel.Config {
	return kernel.Config{
		ExecutionTimeout: c.ExecutionTimeout,
		PollInterval:     c.PollInterval,
		DrainWindow:      c.DrainWindow,
		DrainPoll:        c.DrainPoll,
		PreambleTimeout:  c.PreambleTimeout,
		RestartDelay:     c.RestartDelay,
		StartupTimeout:   c.StartupTimeout,
		ShutdownTimeout:  c.ShutdownTimeout,
	}
}

// NewAuthenticator builds the auth layer for c.
func NewAuthenticator(c config.AuthConfig, logger *slog.Logger) (*auth.Authenticator, error) {
	var (
		tokens *auth.TokenService
		keys   *auth.KeyHasher
		err    error
	)
	switch auth.Mode(c.Type) {
	case auth.ModeJWT:
		if tokens, err = auth.NewTokenService(c.JWTSecret); err != nil {
			return nil, err
		}
	case auth.ModeAPIKey:
		if keys, err = auth.NewKeyHasher(c.APIKeyHashes); err != nil {
			return nil, err
		}
	}
	return auth.NewAuthenticator(auth.Mode(c.Type), tokens, keys, logger)
}

// NewStore opens the notebook store selected by c.Type.
func NewStore(ctx context.Context, c config.StorageConfig, logger *slog.Logger) (repository.NotebookRepository, error) {
	switch c.Type {
	case "local":
		store, err := local.New(c.Local.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening notebook directory: %w", err)
		}
		return store, nil

	case "sqlite":
		if dir := filepath.Dir(c.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqlite.New(c.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil

	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            c.Postgres.DSN,
			MaxConns:       c.Postgres.MaxConns,
			MigrateOnStart: c.Postgres.MigrateOnStart,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage type %q", c.Type)
}

// newLauncher returns the launcher selected by c.Launcher and, for docker,
// the function that releases its containers.
func newLauncher(c config.KernelConfig, logger *slog.Logger) (kernel.Launcher, func() error, error) {
	switch c.Launcher {
	case "local":
		sc := subprocess.DefaultConfig()
		sc.Python = c.Python
		sc.Dir = c.WorkDir
		return subprocess.New(sc, logger.With(slog.String("launcher", "local"))), nil, nil

	case "docker":
		dc := docker.DefaultConfig()
		dc.Image = c.Docker.Image
		if c.Python != "" {
			dc.Python = c.Python
		}
		if c.Docker.MemoryLimit > 0 {
			dc.MemoryLimit = c.Docker.MemoryLimit
		}
		if c.Docker.CPULimit > 0 {
			dc.CPULimit = c.Docker.CPULimit
		}
		dc.PoolSize = c.Docker.PoolSize
		l, err := docker.New(dc, logger.With(slog.String("launcher", "docker")))
		if err != nil {
			return nil, nil, fmt.Errorf("creating docker launcher: %w", err)
		}
		return l, l.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown kernel launcher %q", c.Launcher)
}
