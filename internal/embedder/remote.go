package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/kbase/internal/config"
)

// Provider names
const (
	ProviderJina   = config.ProviderJina
	ProviderOpenAI = config.ProviderOpenAI
	ProviderOllama = config.ProviderOllama
	ProviderLocal  = config.ProviderLocal

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536

	// Input limits in characters (roughly 8k tokens)
	RemoteMaxInputLength = 32000

	// Batch limits
	DefaultBatchSize = config.DefaultBatchSize
	MaxBatchSize     = 100

	// MaxConcurrentRequests bounds in-flight batch requests against a hosted API
	MaxConcurrentRequests = 8

	// Retry configuration
	MaxAttempts       = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// RemoteProvider implements Embedder against an OpenAI-compatible
// /v1/embeddings API. Both OpenAI and Jina AI speak this format.
type RemoteProvider struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	batchSize  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig

	mu          sync.RWMutex
	dimension   int
	initialized bool
}

// NewRemoteProvider creates a hosted-API embedder. name is openai or jina.
func NewRemoteProvider(name string, cfg config.RemoteConfig, batchSize int, cache *Cache) (*RemoteProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s API key not set", ErrProviderUnavailable, name)
	}

	dimension := cfg.Dimensions
	baseURL, model := cfg.BaseURL, cfg.Model
	switch name {
	case ProviderOpenAI:
		if dimension == 0 {
			dimension = OpenAIDimension
		}
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}
		if model == "" {
			model = config.DefaultOpenAIModel
		}
	case ProviderJina:
		if dimension == 0 {
			dimension = JinaDimension
		}
		if baseURL == "" {
			baseURL = config.DefaultJinaBaseURL
		}
		if model == "" {
			model = config.DefaultJinaModel
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	return &RemoteProvider{
		name:      name,
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		batchSize: batchSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:     cache,
		retry:     DefaultRetryConfig(),
		dimension: dimension,
	}, nil
}

// Initialize verifies the credential against the API. A successful
// IsAvailable already did that, so it is not repeated.
func (r *RemoteProvider) Initialize(ctx context.Context) error {
	r.mu.RLock()
	done := r.initialized
	r.mu.RUnlock()
	if done {
		return nil
	}

	if err := r.ping(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, r.name, err)
	}
	return nil
}

// IsAvailable reports whether the API answers an authenticated request
func (r *RemoteProvider) IsAvailable(ctx context.Context) bool {
	r.mu.RLock()
	done := r.initialized
	r.mu.RUnlock()
	if done {
		return true
	}
	return r.ping(ctx) == nil
}

// ping embeds one word and records the returned dimension
func (r *RemoteProvider) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	embeddings, err := r.callAPI(pingCtx, []string{"ping"})
	if err != nil {
		return err
	}

	r.mu.Lock()
	if len(embeddings) > 0 && len(embeddings[0].Vector) > 0 {
		r.dimension = len(embeddings[0].Vector)
	}
	r.initialized = true
	r.mu.Unlock()
	return nil
}

func (r *RemoteProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	resp, err := r.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrEmbeddingFailed)
	}
	return resp.Embeddings[0], nil
}

func (r *RemoteProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	missing := make([]int, 0, len(req.Texts))
	for i, text := range req.Texts {
		if emb, ok := r.cache.Get(ComputeHash(r.name, r.model, text)); ok {
			embeddings[i] = emb
			continue
		}
		missing = append(missing, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentRequests)
	for start := 0; start < len(missing); start += r.batchSize {
		end := start + r.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		indices := missing[start:end]
		g.Go(func() error {
			texts := make([]string, len(indices))
			for j, idx := range indices {
				texts[j] = req.Texts[idx]
			}
			result, err := retryWithBackoff(gctx, r.retry, func() ([]*Embedding, error) {
				return r.callAPI(gctx, texts)
			})
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrEmbeddingFailed, r.name, err)
			}
			if len(result) != len(texts) {
				return fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(texts), len(result))
			}
			for j, idx := range indices {
				emb := result[j]
				emb.Hash = ComputeHash(r.name, r.model, texts[j])
				r.cache.Set(emb.Hash, emb)
				embeddings[idx] = emb
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   r.name,
		Model:      r.model,
	}, nil
}

func (r *RemoteProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = apiInput(t)
	}
	reqBody := map[string]interface{}{
		"input": inputs,
		"model": r.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// The API may return items out of order
	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  r.name,
			Model:     r.model,
		}
	}

	return embeddings, nil
}

func (r *RemoteProvider) Dimension() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dimension
}

func (r *RemoteProvider) Provider() string {
	return r.name
}

func (r *RemoteProvider) Model() string {
	return r.model
}

func (r *RemoteProvider) MaxInputLength() int {
	return RemoteMaxInputLength
}

func (r *RemoteProvider) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}
