// Package config loads the server configuration in layers:
//  1. built-in defaults
//  2. a YAML file (explicit path, NOTEBOOK_CONFIG, ./config.yaml, /etc/notebook-server/config.yaml)
//  3. environment variable overrides
//  4. _file secret references
//  5. validation
package config

import "time"

// Config holds all configuration of the server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Kernel        KernelConfig        `yaml:"kernel"`
	Storage       StorageConfig       `yaml:"storage"`
	Chat          ChatConfig          `yaml:"chat"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	MCP           MCPConfig           `yaml:"mcp"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8000
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 330s, must outlast kernel.execution_timeout
	IdleTimeout     time.Duration `yaml:"idle_timeout"`     // default: 120s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 15s
	CORSOrigins     []string      `yaml:"cors_origins"`     // default: [http://localhost:3000]
}

// KernelConfig holds interpreter settings.
type KernelConfig struct {
	Launcher         string        `yaml:"launcher"` // "local" or "docker", default: "local"
	Python           string        `yaml:"python"`   // default: python3
	WorkDir          string        `yaml:"work_dir"` // local launcher only
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	DrainWindow      time.Duration `yaml:"drain_window"`
	DrainPoll        time.Duration `yaml:"drain_poll"`
	PreambleTimeout  time.Duration `yaml:"preamble_timeout"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	StartupTimeout   time.Duration `yaml:"startup_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	Docker           DockerConfig  `yaml:"docker"`
}

// DockerConfig holds settings of the docker launcher.
type DockerConfig struct {
	Image       string  `yaml:"image"`        // default: python:3.12-slim
	MemoryLimit int64   `yaml:"memory_limit"` // bytes, default: 512 MiB
	CPULimit    float64 `yaml:"cpu_limit"`    // default: 1
	PoolSize    int     `yaml:"pool_size"`    // default: 1
}

// StorageConfig holds notebook store settings.
type StorageConfig struct {
	Type             string         `yaml:"type"` // "local", "sqlite" or "postgres", default: "local"
	MaxNotebookBytes int64          `yaml:"max_notebook_bytes"`
	Local            LocalConfig    `yaml:"local"`
	SQLite           SQLiteConfig   `yaml:"sqlite"`
	Postgres         PostgresConfig `yaml:"postgres"`
}

// LocalConfig holds settings of the filesystem store.
type LocalConfig struct {
	Dir string `yaml:"dir"` // default: ./notebooks
}

// SQLiteConfig holds settings of the sqlite store.
type SQLiteConfig struct {
	Path string `yaml:"path"` // default: notebooks.db
}

// PostgresConfig holds settings of the postgres store.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// ChatConfig holds settings of the chat upstream. Chat is disabled when no
// API key is configured.
type ChatConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	APIKeyFile   string        `yaml:"api_key_file"`
	Model        string        `yaml:"model"`
	Temperature  float64       `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type          string   `yaml:"type"` // "none", "jwt" or "apikey", default: "none"
	JWTSecret     string   `yaml:"jwt_secret"`
	JWTSecretFile string   `yaml:"jwt_secret_file"`
	APIKeyHashes  []string `yaml:"api_key_hashes"` // bcrypt hashes, see the hash-key command
}

// ObservabilityConfig holds monitoring settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: /metrics
}

// MCPConfig holds Model Context Protocol endpoint settings.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: /mcp
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error; default: info
	Format string `yaml:"format"` // text or json; default: text
}

// ChatEnabled reports whether a chat upstream is configured.
func (c *Config) ChatEnabled() bool {
	return c.Chat.APIKey != ""
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    330 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000"},
		},
		Kernel: KernelConfig{
			Launcher:         "local",
			Python:           "python3",
			ExecutionTimeout: 300 * time.Second,
			PollInterval:     time.Second,
			DrainWindow:      2 * time.Second,
			DrainPoll:        100 * time.Millisecond,
			PreambleTimeout:  10 * time.Second,
			RestartDelay:     time.Second,
			StartupTimeout:   30 * time.Second,
			ShutdownTimeout:  5 * time.Second,
			Docker: DockerConfig{
				Image:       "python:3.12-slim",
				MemoryLimit: 512 << 20,
				CPULimit:    1,
				PoolSize:    1,
			},
		},
		Storage: StorageConfig{
			Type:             "local",
			MaxNotebookBytes: 10 << 20,
			Local:            LocalConfig{Dir: "notebooks"},
			SQLite:           SQLiteConfig{Path: "notebooks.db"},
			Postgres: PostgresConfig{
				MaxConns:       10,
				MigrateOnStart: true,
			},
		},
		Chat: ChatConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-3.5-turbo",
			Temperature: 0.7,
			MaxTokens:   2000,
			Timeout:     60 * time.Second,
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		},
		MCP: MCPConfig{Enabled: true, Path: "/mcp"},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}
