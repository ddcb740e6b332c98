package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks the configuration, reporting every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Kernel.ExecutionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("kernel.execution_timeout must be > 0, got %s", c.Kernel.ExecutionTimeout))
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Kernel.ExecutionTimeout {
		errs = append(errs, fmt.Errorf("server.write_timeout (%s) must be longer than kernel.execution_timeout (%s)",
			c.Server.WriteTimeout, c.Kernel.ExecutionTimeout))
	}

	switch c.Kernel.Launcher {
	case "local":
		if c.Kernel.Python == "" {
			errs = append(errs, errors.New("kernel.python is required when kernel.launcher is \"local\""))
		}
	case "docker":
		if c.Kernel.Docker.Image == "" {
			errs = append(errs, errors.New("kernel.docker.image is required when kernel.launcher is \"docker\""))
		}
		if c.Kernel.Docker.PoolSize < 1 {
			errs = append(errs, fmt.Errorf("kernel.docker.pool_size must be >= 1, got %d", c.Kernel.Docker.PoolSize))
		}
	default:
		errs = append(errs, fmt.Errorf("kernel.launcher must be \"local\" or \"docker\", got %q", c.Kernel.Launcher))
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.Local.Dir == "" {
			errs = append(errs, errors.New("storage.local.dir is required when storage.type is \"local\""))
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, errors.New("storage.sqlite.path is required when storage.type is \"sqlite\""))
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"local\", \"sqlite\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.MaxNotebookBytes <= 0 {
		errs = append(errs, fmt.Errorf("storage.max_notebook_bytes must be > 0, got %d", c.Storage.MaxNotebookBytes))
	}

	if c.ChatEnabled() {
		if c.Chat.BaseURL == "" {
			errs = append(errs, errors.New("chat.base_url is required when chat.api_key is set"))
		}
		if c.Chat.Model == "" {
			errs = append(errs, errors.New("chat.model is required when chat.api_key is set"))
		}
		if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
			errs = append(errs, fmt.Errorf("chat.temperature must be between 0 and 2, got %g", c.Chat.Temperature))
		}
	}

	switch c.Auth.Type {
	case "none":
	case "jwt":
		if len(c.Auth.JWTSecret) < 16 {
			errs = append(errs, errors.New("auth.jwt_secret (or auth.jwt_secret_file) of at least 16 characters is required when auth.type is \"jwt\""))
		}
	case "apikey":
		if len(c.Auth.APIKeyHashes) == 0 {
			errs = append(errs, errors.New("auth.api_key_hashes must not be empty when auth.type is \"apikey\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"jwt\" or \"apikey\", got %q", c.Auth.Type))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with /, got %q", c.Observability.Metrics.Path))
	}
	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path must start with /, got %q", c.MCP.Path))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", l.Level)
	}
	return level, nil
}
