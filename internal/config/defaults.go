package config

import (
	"os"
	"path/filepath"
)

// Provider names accepted in embedding.provider
const (
	ProviderAuto   = "auto"
	ProviderLocal  = "local"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderJina   = "jina"
)

// Vector backends accepted in vector.backend
const (
	BackendSQLite   = "sqlite"
	BackendPGVector = "pgvector"
)

// Defaults for unset settings
const (
	DefaultCacheSize     = 10000
	DefaultBatchSize     = 50
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOllamaModel   = "nomic-embed-text"
	DefaultOpenAIBaseURL = "https://api.openai.com"
	DefaultOpenAIModel   = "text-embedding-3-small"
	DefaultJinaBaseURL   = "https://api.jina.ai"
	DefaultJinaModel     = "jina-embeddings-v3"
	DefaultLocalModel    = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultSearchMode    = "hybrid"
	DefaultSearchLimit   = 10
	DefaultMaxLimit      = 100
	DefaultMaxTokens     = 4000
	DefaultMaxItems      = 10
	DefaultContextFormat = "markup"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	home, _ := os.UserHomeDir()

	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(home, ".kbase", "kbase.db")
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderAuto
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = DefaultCacheSize
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = DefaultBatchSize
	}
	if cfg.Embedding.OpenAI.BaseURL == "" {
		cfg.Embedding.OpenAI.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Embedding.OpenAI.Model == "" {
		cfg.Embedding.OpenAI.Model = DefaultOpenAIModel
	}
	if cfg.Embedding.Jina.BaseURL == "" {
		cfg.Embedding.Jina.BaseURL = DefaultJinaBaseURL
	}
	if cfg.Embedding.Jina.Model == "" {
		cfg.Embedding.Jina.Model = DefaultJinaModel
	}
	if cfg.Embedding.Ollama.URL == "" {
		cfg.Embedding.Ollama.URL = DefaultOllamaURL
	}
	if cfg.Embedding.Ollama.Model == "" {
		cfg.Embedding.Ollama.Model = DefaultOllamaModel
	}
	if cfg.Embedding.Local.ModelName == "" {
		cfg.Embedding.Local.ModelName = DefaultLocalModel
	}
	if cfg.Embedding.Local.ModelDir == "" {
		cfg.Embedding.Local.ModelDir = filepath.Join(home, ".kbase", "models")
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = BackendSQLite
	}
	if cfg.Search.DefaultMode == "" {
		cfg.Search.DefaultMode = DefaultSearchMode
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = DefaultSearchLimit
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = DefaultMaxLimit
	}
	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = DefaultMaxTokens
	}
	if cfg.Context.MaxItems == 0 {
		cfg.Context.MaxItems = DefaultMaxItems
	}
	if cfg.Context.Format == "" {
		cfg.Context.Format = DefaultContextFormat
	}
}
