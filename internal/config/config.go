// Package config provides configuration loading and structs for kbase.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings
const (
	EnvConfigPath        = "KBASE_CONFIG"
	EnvDebug             = "KBASE_DEBUG"
	EnvDBPath            = "KBASE_DB_PATH"
	EnvEmbeddingProvider = "KBASE_EMBEDDING_PROVIDER"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvJinaAPIKey        = "JINA_API_KEY"
	EnvOllamaURL         = "KBASE_OLLAMA_URL"
	EnvVectorBackend     = "KBASE_VECTOR_BACKEND"
	EnvPostgresDSN       = "KBASE_POSTGRES_DSN"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Search    SearchConfig    `yaml:"search"`
	Context   ContextConfig   `yaml:"context"`
}

// StorageConfig holds the record store location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is auto, local, ollama (daemon), openai or jina (remote).
	Provider  string       `yaml:"provider"`
	CacheSize int          `yaml:"cache_size"`
	BatchSize int          `yaml:"batch_size"`
	OpenAI    RemoteConfig `yaml:"openai"`
	Jina      RemoteConfig `yaml:"jina"`
	Ollama    DaemonConfig `yaml:"ollama"`
	Local     LocalConfig  `yaml:"local"`
}

// RemoteConfig holds settings for a hosted embeddings API.
type RemoteConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// DaemonConfig holds settings for a local embedding daemon.
type DaemonConfig struct {
	URL        string `yaml:"url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// LocalConfig holds settings for the in-process model.
type LocalConfig struct {
	ModelName string `yaml:"model_name"`
	ModelDir  string `yaml:"model_dir"`
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	Backend     string `yaml:"backend"` // sqlite or pgvector
	PostgresDSN string `yaml:"postgres_dsn"`
}

// EnabledOrDefault returns whether the vector index is enabled; defaults to true when unset.
func (v *VectorConfig) EnabledOrDefault() bool {
	if v.Enabled != nil {
		return *v.Enabled
	}
	return true
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	DefaultMode  string `yaml:"default_mode"`
	DefaultLimit int    `yaml:"default_limit"`
	MaxLimit     int    `yaml:"max_limit"`
}

// ContextConfig holds context retrieval defaults.
type ContextConfig struct {
	MaxTokens int    `yaml:"max_tokens"`
	MaxItems  int    `yaml:"max_items"`
	Format    string `yaml:"format"`
}

// Load reads the config file at path, applies env overrides and defaults.
// A missing file is not an error: defaults are used instead.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	if path != "" {
		configDir := filepath.Dir(path)
		cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
		cfg.Embedding.Local.ModelDir = expandPath(cfg.Embedding.Local.ModelDir, configDir)
	}

	return &cfg, nil
}

// DefaultPath returns KBASE_CONFIG or ~/.kbase/config.yaml
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kbase", "config.yaml")
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvDebug); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		cfg.Embedding.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" && cfg.Embedding.OpenAI.APIKey == "" {
		cfg.Embedding.OpenAI.APIKey = v
	}
	if v := os.Getenv(EnvJinaAPIKey); v != "" && cfg.Embedding.Jina.APIKey == "" {
		cfg.Embedding.Jina.APIKey = v
	}
	if v := os.Getenv(EnvOllamaURL); v != "" {
		cfg.Embedding.Ollama.URL = v
	}
	if v := os.Getenv(EnvVectorBackend); v != "" {
		cfg.Vector.Backend = strings.ToLower(v)
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		cfg.Vector.PostgresDSN = v
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
