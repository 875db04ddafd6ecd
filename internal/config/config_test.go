package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		EnvDebug, EnvDBPath, EnvEmbeddingProvider, EnvOpenAIAPIKey,
		EnvJinaAPIKey, EnvOllamaURL, EnvVectorBackend, EnvPostgresDSN,
	} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ProviderAuto, cfg.Embedding.Provider)
	assert.Equal(t, DefaultCacheSize, cfg.Embedding.CacheSize)
	assert.Equal(t, DefaultBatchSize, cfg.Embedding.BatchSize)
	assert.Equal(t, DefaultOllamaURL, cfg.Embedding.Ollama.URL)
	assert.Equal(t, BackendSQLite, cfg.Vector.Backend)
	assert.True(t, cfg.Vector.EnabledOrDefault())
	assert.Equal(t, DefaultMaxTokens, cfg.Context.MaxTokens)
	assert.Equal(t, DefaultMaxItems, cfg.Context.MaxItems)
	assert.NotEmpty(t, cfg.Storage.DatabasePath)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
debug: true
storage:
  database_path: ./data/kb.db
embedding:
  provider: ollama
  batch_size: 16
  ollama:
    model: mxbai-embed-large
    dimensions: 1024
vector:
  enabled: false
context:
  max_tokens: 2000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, filepath.Join(dir, "data", "kb.db"), cfg.Storage.DatabasePath)
	assert.Equal(t, ProviderOllama, cfg.Embedding.Provider)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedding.Ollama.Model)
	assert.Equal(t, 1024, cfg.Embedding.Ollama.Dimensions)
	assert.Equal(t, DefaultOllamaURL, cfg.Embedding.Ollama.URL)
	assert.False(t, cfg.Vector.EnabledOrDefault())
	assert.Equal(t, 2000, cfg.Context.MaxTokens)
	assert.Equal(t, DefaultMaxItems, cfg.Context.MaxItems)
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEmbeddingProvider, "OpenAI")
	t.Setenv(EnvOpenAIAPIKey, "sk-test")
	t.Setenv(EnvDebug, "true")
	t.Setenv(EnvVectorBackend, "PGVector")
	t.Setenv(EnvPostgresDSN, "postgres://localhost/kb")

	var cfg Config
	cfg.Embedding.Jina.APIKey = "from-file"
	ApplyEnv(&cfg)

	assert.Equal(t, ProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, "sk-test", cfg.Embedding.OpenAI.APIKey)
	assert.Equal(t, "from-file", cfg.Embedding.Jina.APIKey)
	assert.True(t, cfg.Debug)
	assert.Equal(t, BackendPGVector, cfg.Vector.Backend)
	assert.Equal(t, "postgres://localhost/kb", cfg.Vector.PostgresDSN)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{}
	cfg.Embedding.Provider = ProviderLocal
	cfg.Storage.DatabasePath = "/tmp/kb.db"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, loaded.Embedding.Provider)
	assert.Equal(t, "/tmp/kb.db", loaded.Storage.DatabasePath)
}
