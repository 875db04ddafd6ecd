package embedder

import (
	"fmt"
	"strings"

	"github.com/dshills/kbase/internal/config"
)

// Factory constructs a provider by name. Construction must not perform I/O;
// connectivity is checked by IsAvailable and Initialize.
type Factory func(name string, cfg config.EmbeddingConfig, cache *Cache) (Embedder, error)

// NewProvider is the default Factory
func NewProvider(name string, cfg config.EmbeddingConfig, cache *Cache) (Embedder, error) {
	switch strings.ToLower(name) {
	case ProviderOpenAI:
		return NewRemoteProvider(ProviderOpenAI, cfg.OpenAI, cfg.BatchSize, cache)
	case ProviderJina:
		return NewRemoteProvider(ProviderJina, cfg.Jina, cfg.BatchSize, cache)
	case ProviderOllama:
		return NewOllamaProvider(cfg.Ollama, cache), nil
	case ProviderLocal:
		return NewLocalProvider(cfg.Local, cfg.BatchSize, cache), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
}

// AutoCandidates returns the providers tried by auto selection, in order:
// a remote API when a credential is configured, then the daemon, then the
// in-process model.
func AutoCandidates(cfg config.EmbeddingConfig) []string {
	candidates := make([]string, 0, 3)
	switch {
	case cfg.OpenAI.APIKey != "":
		candidates = append(candidates, ProviderOpenAI)
	case cfg.Jina.APIKey != "":
		candidates = append(candidates, ProviderJina)
	}
	return append(candidates, ProviderOllama, ProviderLocal)
}

// IsKnownProvider reports whether name is accepted in embedding.provider
func IsKnownProvider(name string) bool {
	switch strings.ToLower(name) {
	case config.ProviderAuto, ProviderOpenAI, ProviderJina, ProviderOllama, ProviderLocal:
		return true
	}
	return false
}
