package embedder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"

	"github.com/dshills/kbase/internal/config"
)

const (
	// LocalDimension is the output size of all-MiniLM-L6-v2
	LocalDimension = 384

	// LocalMaxInputLength covers the model's 256 word-piece window
	LocalMaxInputLength = 1024

	localPipelineName = "kbase-embedder"
	localOnnxFile     = "onnx/model.onnx"
)

// LocalProvider runs a sentence-transformer in process through a hugot Go session.
// The model is downloaded into ModelDir on first Initialize.
type LocalProvider struct {
	modelName string
	modelDir  string
	batchSize int
	cache     *Cache

	mu        sync.Mutex
	session   *hugot.Session
	run       func(texts []string) ([][]float32, error)
	dimension int
}

// NewLocalProvider creates an in-process embedder. Nothing is loaded until Initialize.
func NewLocalProvider(cfg config.LocalConfig, batchSize int, cache *Cache) *LocalProvider {
	modelName := cfg.ModelName
	if modelName == "" {
		modelName = config.DefaultLocalModel
	}
	modelDir := cfg.ModelDir
	if modelDir == "" {
		modelDir = "./models"
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	dimension := 0
	if modelName == config.DefaultLocalModel {
		dimension = LocalDimension
	}

	return &LocalProvider{
		modelName: modelName,
		modelDir:  modelDir,
		batchSize: batchSize,
		cache:     cache,
		dimension: dimension,
	}
}

// prepareModel downloads the model if it doesn't exist and returns the model path
func (l *LocalProvider) prepareModel() (string, error) {
	modelPath := filepath.Join(l.modelDir, strings.ReplaceAll(l.modelName, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	}

	if err := os.MkdirAll(l.modelDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	downloadOptions := hugot.NewDownloadOptions()
	downloadOptions.OnnxFilePath = localOnnxFile
	downloadedPath, err := hugot.DownloadModel(l.modelName, l.modelDir, downloadOptions)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	return downloadedPath, nil
}

// Initialize loads the model, downloading it first if needed
func (l *LocalProvider) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.run != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	modelPath, err := l.prepareModel()
	if err != nil {
		return fmt.Errorf("%w: local model: %v", ErrProviderUnavailable, err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return fmt.Errorf("%w: failed to create hugot session: %v", ErrProviderUnavailable, err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      localPipelineName,
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return fmt.Errorf("%w: failed to create pipeline: %v (cleanup error: %v)", ErrProviderUnavailable, err, destroyErr)
		}
		return fmt.Errorf("%w: failed to create pipeline: %v", ErrProviderUnavailable, err)
	}

	l.session = session
	l.run = func(texts []string) ([][]float32, error) {
		result, err := pipeline.RunPipeline(texts)
		if err != nil {
			return nil, err
		}
		return result.Embeddings, nil
	}
	return nil
}

// IsAvailable is always true; the model has no external dependency once downloaded
func (l *LocalProvider) IsAvailable(ctx context.Context) bool {
	return true
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	resp, err := l.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch runs the pipeline over chunks of batchSize texts
func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	missing := make([]int, 0, len(req.Texts))
	for i, text := range req.Texts {
		if emb, ok := l.cache.Get(ComputeHash(ProviderLocal, l.modelName, text)); ok {
			embeddings[i] = emb
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		if err := l.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	// The pipeline is not safe for concurrent runs
	l.mu.Lock()
	defer l.mu.Unlock()
	for start := 0; start < len(missing); start += l.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+l.batchSize, len(missing))
		indices := missing[start:end]
		texts := make([]string, len(indices))
		for j, idx := range indices {
			texts[j] = req.Texts[idx]
		}

		vectors, err := l.run(texts)
		if err != nil {
			return nil, fmt.Errorf("%w: local: %v", ErrEmbeddingFailed, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(texts), len(vectors))
		}

		for j, idx := range indices {
			vector := NormalizeVector(vectors[j])
			l.dimension = len(vector)
			emb := &Embedding{
				Vector:    vector,
				Dimension: len(vector),
				Provider:  ProviderLocal,
				Model:     l.modelName,
				Hash:      ComputeHash(ProviderLocal, l.modelName, texts[j]),
			}
			l.cache.Set(emb.Hash, emb)
			embeddings[idx] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.modelName,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.modelName
}

func (l *LocalProvider) MaxInputLength() int {
	return LocalMaxInputLength
}

// Close destroys the hugot session
func (l *LocalProvider) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run = nil
	if l.session == nil {
		return nil
	}
	err := l.session.Destroy()
	l.session = nil
	return err
}
