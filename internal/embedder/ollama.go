package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/kbase/internal/config"
)

const (
	ollamaEmbedPath = "/api/embed"
	ollamaTagsPath  = "/api/tags"

	// OllamaConcurrency bounds in-flight requests against the local daemon
	OllamaConcurrency = 16

	// OllamaMaxInputLength matches the daemon's default 2048-token context
	OllamaMaxInputLength = 8000
)

// knownOllamaDimensions lists dimensions of common embedding models so
// Dimension is meaningful before the first call
var knownOllamaDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	"bge-m3":                 1024,
}

// OllamaProvider implements Embedder by calling a local Ollama daemon
type OllamaProvider struct {
	apiURL     string
	model      string
	httpClient *http.Client
	cache      *Cache

	mu          sync.RWMutex
	dimension   int
	reachable   bool // the tags endpoint answered
	initialized bool
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaProvider creates a daemon-backed embedder
func NewOllamaProvider(cfg config.DaemonConfig, cache *Cache) *OllamaProvider {
	apiURL := cfg.URL
	if apiURL == "" {
		apiURL = config.DefaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultOllamaModel
	}
	dimension := cfg.Dimensions
	if dimension == 0 {
		dimension = knownOllamaDimensions[strings.SplitN(model, ":", 2)[0]]
	}

	return &OllamaProvider{
		apiURL: strings.TrimRight(apiURL, "/"),
		model:  model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		cache:     cache,
		dimension: dimension,
	}
}

// Initialize checks the daemon unless IsAvailable already reached it. The
// model is only called when its dimension is not known up front.
func (o *OllamaProvider) Initialize(ctx context.Context) error {
	o.mu.RLock()
	done, reachable, dimension := o.initialized, o.reachable, o.dimension
	o.mu.RUnlock()
	if done {
		return nil
	}

	if !reachable && !o.IsAvailable(ctx) {
		return fmt.Errorf("%w: ollama daemon not reachable at %s", ErrProviderUnavailable, o.apiURL)
	}

	if dimension == 0 {
		vector, err := o.callAPI(ctx, "dimension check")
		if err != nil {
			return fmt.Errorf("%w: ollama model %s: %v", ErrProviderUnavailable, o.model, err)
		}
		dimension = len(vector)
	}

	o.mu.Lock()
	o.dimension = dimension
	o.initialized = true
	o.mu.Unlock()
	return nil
}

// IsAvailable reports whether the daemon answers within ProbeTimeout
func (o *OllamaProvider) IsAvailable(ctx context.Context) bool {
	tagsCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(tagsCtx, http.MethodGet, o.apiURL+ollamaTagsPath, nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	ok := resp.StatusCode == http.StatusOK
	o.mu.Lock()
	o.reachable = ok
	o.mu.Unlock()
	return ok
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	hash := ComputeHash(ProviderOllama, o.model, req.Text)
	if emb, ok := o.cache.Get(hash); ok {
		return emb, nil
	}

	vector, err := retryWithBackoff(ctx, DefaultRetryConfig(), func() ([]float32, error) {
		return o.callAPI(ctx, req.Text)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ollama: %w", ErrEmbeddingFailed, err)
	}

	o.mu.Lock()
	o.dimension = len(vector)
	o.mu.Unlock()

	emb := &Embedding{
		Vector:    vector,
		Dimension: len(vector),
		Provider:  ProviderOllama,
		Model:     o.model,
		Hash:      hash,
	}
	o.cache.Set(hash, emb)
	return emb, nil
}

// GenerateBatch issues single requests with at most OllamaConcurrency in flight
func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(OllamaConcurrency)
	for i, text := range req.Texts {
		g.Go(func() error {
			emb, err := o.GenerateEmbedding(gctx, EmbeddingRequest{Text: text})
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			embeddings[i] = emb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOllama,
		Model:      o.model,
	}, nil
}

func (o *OllamaProvider) callAPI(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: apiInput(text)})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL+ollamaEmbedPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Embeddings) == 0 || len(apiResp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return apiResp.Embeddings[0], nil
}

func (o *OllamaProvider) Dimension() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dimension
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.model
}

func (o *OllamaProvider) MaxInputLength() int {
	return OllamaMaxInputLength
}

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}
