// Package embedder turns text into vector embeddings for semantic search.
//
// Four providers implement the Embedder interface:
//
//   - openai and jina: hosted /v1/embeddings APIs with bearer credentials
//   - ollama: a local embedding daemon
//   - local: an in-process sentence-transformer loaded through hugot
//
// All providers share an LRU Cache keyed by the SHA-256 of provider, model and
// text, and retry transient API failures with exponential backoff.
//
// # Basic Usage
//
// Most callers use a Service, which picks a provider on first use:
//
//	svc, err := embedder.NewService(cfg.Embedding, embedder.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	vec, err := svc.Embed(ctx, "retry with exponential backoff")
//
// EmbedBatch returns vectors in input order, and element i always equals
// Embed(texts[i]).
//
// # Provider Selection
//
// With embedding.provider set to auto the Service tries, in order:
//
//  1. openai if OPENAI_API_KEY is set, else jina if JINA_API_KEY is set
//  2. ollama if the daemon answers within ProbeTimeout
//  3. local, which is always available once its model is downloaded
//
// A candidate that fails to initialize is logged and skipped. When none
// succeed the error wraps ErrNoProviderAvailable and lists what was tried.
//
// # Input Length
//
// Providers never truncate. MaxInputLength reports the size in characters
// beyond which quality degrades; callers cut text themselves.
//
// # Provider Comparison
//
// OpenAI text-embedding-3-small:
//   - Dimensions: 1536
//   - Cost: Pay per token
//
// Jina AI jina-embeddings-v3:
//   - Dimensions: 1024
//   - Cost: Free tier available
//
// Ollama nomic-embed-text:
//   - Dimensions: 768
//   - Cost: Free, needs a running daemon
//
// Local all-MiniLM-L6-v2:
//   - Dimensions: 384
//   - Cost: Free (CPU-based), ~90MB download on first use
package embedder
