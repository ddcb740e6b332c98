package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, the config file, the
// environment and secret files, then validates it.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if filePath := discoverConfigFile(configPath); filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// discoverConfigFile returns the first of: configPath, $NOTEBOOK_CONFIG,
// ./config.yaml, /etc/notebook-server/config.yaml that applies, or "".
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("NOTEBOOK_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/notebook-server/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile merges the YAML file at path into cfg. Keys missing from the
// file keep their current values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables onto cfg. Values that do not
// parse are ignored.
func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
			}
		}
	}

	for _, k := range []string{"PORT", "NOTEBOOK_PORT"} {
		if v := os.Getenv(k); v != "" {
			if port, err := strconv.Atoi(v); err == nil {
				cfg.Server.Port = port
			}
		}
	}
	if v := os.Getenv("NOTEBOOK_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.CORSOrigins = origins
	}

	setString(&cfg.Kernel.Launcher, "NOTEBOOK_KERNEL_LAUNCHER")
	setString(&cfg.Kernel.Python, "NOTEBOOK_PYTHON")
	setString(&cfg.Kernel.Docker.Image, "NOTEBOOK_DOCKER_IMAGE")

	setString(&cfg.Storage.Type, "NOTEBOOK_STORAGE")
	setString(&cfg.Storage.Local.Dir, "NOTEBOOK_STORAGE_DIR")
	setString(&cfg.Storage.SQLite.Path, "NOTEBOOK_SQLITE_PATH")
	setString(&cfg.Storage.Postgres.DSN, "NOTEBOOK_POSTGRES_DSN")

	setString(&cfg.Chat.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Chat.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Chat.Model, "OPENAI_MODEL")

	setString(&cfg.Auth.Type, "NOTEBOOK_AUTH_TYPE")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")

	setString(&cfg.Log.Level, "NOTEBOOK_LOG_LEVEL")
	setString(&cfg.Log.Format, "NOTEBOOK_LOG_FORMAT")
}

// resolveFileReferences fills a secret from its _file field when the value
// itself is empty.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name string
		file string
		dst  *string
	}{
		{"chat.api_key_file", cfg.Chat.APIKeyFile, &cfg.Chat.APIKey},
		{"auth.jwt_secret_file", cfg.Auth.JWTSecretFile, &cfg.Auth.JWTSecret},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.dst != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.dst = val
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
