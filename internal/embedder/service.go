package embedder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/kbase/internal/config"
	"github.com/dshills/kbase/internal/logging"
)

// InitTimeout bounds one provider selection, including a local model download
const InitTimeout = 5 * time.Minute

const noProviderHint = "set OPENAI_API_KEY or JINA_API_KEY, start an Ollama daemon, or allow the local model download"

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithFactory replaces the provider factory
func WithFactory(f Factory) ServiceOption {
	return func(s *Service) {
		s.factory = f
	}
}

// WithLogger sets the logger used for selection diagnostics
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logging.OrNop(l)
	}
}

// WithCache shares an existing embedding cache
func WithCache(c *Cache) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

// Service lazily selects and initializes one provider, then delegates to it.
// Concurrent first callers share a single initialization.
type Service struct {
	cfg     config.EmbeddingConfig
	factory Factory
	cache   *Cache
	logger  *zap.Logger

	group singleflight.Group

	mu       sync.RWMutex
	provider Embedder
}

// NewService validates the configured provider name. No provider is touched
// until the first call that needs one.
func NewService(cfg config.EmbeddingConfig, opts ...ServiceOption) (*Service, error) {
	if cfg.Provider == "" {
		cfg.Provider = config.ProviderAuto
	}
	cfg.Provider = strings.ToLower(cfg.Provider)
	if !IsKnownProvider(cfg.Provider) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}

	s := &Service{
		cfg:     cfg,
		factory: NewProvider,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewCache(cfg.CacheSize)
	}
	return s, nil
}

func (s *Service) current() Embedder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// Initialize selects and initializes the provider. After success it is a no-op.
// A failed attempt is not remembered; the next call tries again.
//
// The shared attempt is detached from any single caller: a caller whose ctx
// ends stops waiting, while the others keep theirs. InitTimeout bounds it.
func (s *Service) Initialize(ctx context.Context) error {
	if s.current() != nil {
		return nil
	}

	ch := s.group.DoChan("init", func() (interface{}, error) {
		if s.current() != nil {
			return nil, nil
		}
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), InitTimeout)
		defer cancel()

		p, err := s.selectProvider(initCtx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.provider = p
		s.mu.Unlock()
		s.logger.Info("embedding provider ready",
			zap.String("provider", p.Provider()),
			zap.String("model", p.Model()),
			zap.Int("dimensions", p.Dimension()))
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (s *Service) selectProvider(ctx context.Context) (Embedder, error) {
	if s.cfg.Provider != config.ProviderAuto {
		p, err := s.factory(s.cfg.Provider, s.cfg, s.cache)
		if err != nil {
			return nil, err
		}
		if err := p.Initialize(ctx); err != nil {
			_ = p.Close()
			return nil, err
		}
		return p, nil
	}

	var tried []string
	for _, name := range AutoCandidates(s.cfg) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := s.factory(name, s.cfg, s.cache)
		if err != nil {
			s.logger.Debug("embedding provider skipped", zap.String("provider", name), zap.Error(err))
			tried = append(tried, name+": "+err.Error())
			continue
		}
		if !p.IsAvailable(ctx) {
			s.logger.Debug("embedding provider not available", zap.String("provider", name))
			tried = append(tried, name+": not available")
			_ = p.Close()
			continue
		}
		if err := p.Initialize(ctx); err != nil {
			s.logger.Warn("embedding provider failed to initialize", zap.String("provider", name), zap.Error(err))
			tried = append(tried, name+": "+err.Error())
			_ = p.Close()
			continue
		}
		return p, nil
	}

	return nil, fmt.Errorf("%w (tried %s); %s", ErrNoProviderAvailable, strings.Join(tried, "; "), noProviderHint)
}

// Embed returns the vector for a single text, initializing on first use
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	emb, err := s.current().GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

// EmbedBatch returns one vector per text, in input order
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	resp, err := s.current().GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, err
	}
	return resp.Vectors(), nil
}

// Dimensions returns the active provider's vector size
func (s *Service) Dimensions() (int, error) {
	p := s.current()
	if p == nil {
		return 0, ErrServiceNotInitialized
	}
	return p.Dimension(), nil
}

// ProviderName returns the active provider name, or "" before initialization
func (s *Service) ProviderName() string {
	if p := s.current(); p != nil {
		return p.Provider()
	}
	return ""
}

// ModelName returns the active model name, or "" before initialization
func (s *Service) ModelName() string {
	if p := s.current(); p != nil {
		return p.Model()
	}
	return ""
}

// MaxInputLength returns the active provider's input limit, or 0 before initialization
func (s *Service) MaxInputLength() int {
	if p := s.current(); p != nil {
		return p.MaxInputLength()
	}
	return 0
}

func (s *Service) IsReady() bool {
	return s.current() != nil
}

// Close releases the active provider. A later call initializes again.
func (s *Service) Close() error {
	s.mu.Lock()
	p := s.provider
	s.provider = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}
