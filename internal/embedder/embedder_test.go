package embedder

import (
	"context"
	"errors"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kbase/internal/config"
)

func TestComputeHash(t *testing.T) {
	tests := []struct {
		name     string
		a, b     [3]string
		wantSame bool
	}{
		{
			name:     "same input produces same hash",
			a:        [3]string{"openai", "m", "hello world"},
			b:        [3]string{"openai", "m", "hello world"},
			wantSame: true,
		},
		{
			name: "different text",
			a:    [3]string{"openai", "m", "hello"},
			b:    [3]string{"openai", "m", "world"},
		},
		{
			name: "different provider",
			a:    [3]string{"openai", "m", "hello"},
			b:    [3]string{"jina", "m", "hello"},
		},
		{
			name: "different model",
			a:    [3]string{"ollama", "a", "hello"},
			b:    [3]string{"ollama", "b", "hello"},
		},
		{
			name: "separator prevents ambiguity",
			a:    [3]string{"ab", "c", "d"},
			b:    [3]string{"a", "bc", "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ha := ComputeHash(tt.a[0], tt.a[1], tt.a[2])
			hb := ComputeHash(tt.b[0], tt.b[1], tt.b[2])
			assert.Len(t, ha, 64)
			if tt.wantSame {
				assert.Equal(t, ha, hb)
			} else {
				assert.NotEqual(t, ha, hb)
			}
		})
	}
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     BatchEmbeddingRequest
		wantErr error
	}{
		{name: "valid", req: BatchEmbeddingRequest{Texts: []string{"a", "b"}}},
		{name: "empty strings allowed", req: BatchEmbeddingRequest{Texts: []string{"", ""}}},
		{name: "empty slice allowed", req: BatchEmbeddingRequest{Texts: []string{}}},
		{name: "nil texts", req: BatchEmbeddingRequest{}, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(tt.req)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCache(t *testing.T) {
	cache := NewCache(2)

	emb := &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3, Provider: "test", Model: "m", Hash: "h1"}
	cache.Set("h1", emb)

	got, ok := cache.Get("h1")
	require.True(t, ok)
	assert.Equal(t, emb.Vector, got.Vector)

	// Mutating either side must not leak into the cache
	got.Vector[0] = 99
	emb.Vector[1] = 99
	again, ok := cache.Get("h1")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, again.Vector)

	cache.Set("h2", &Embedding{Vector: []float32{1}})
	cache.Set("h3", &Embedding{Vector: []float32{2}})
	assert.Equal(t, 2, cache.Size())
	_, ok = cache.Get("h1")
	assert.False(t, ok, "oldest entry should be evicted")

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}

func TestNilCache(t *testing.T) {
	var cache *Cache
	cache.Set("h", &Embedding{Vector: []float32{1}})
	_, ok := cache.Get("h")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Size())
	cache.Clear()
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)

	zero := NormalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestAPIInput(t *testing.T) {
	assert.Equal(t, " ", apiInput(""))
	assert.Equal(t, "x", apiInput("x"))
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		got, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("connection reset")
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("reports attempts when exhausted", func(t *testing.T) {
		calls := 0
		boom := &APIError{StatusCode: http.StatusBadGateway, Body: "bad gateway"}
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "after 3 attempt(s)")
		assert.Equal(t, 3, calls)
	})

	t.Run("client errors fail on first attempt", func(t *testing.T) {
		for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
			calls := 0
			_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
				calls++
				return 0, &APIError{StatusCode: code}
			})
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, code, apiErr.StatusCode)
			assert.Equal(t, 1, calls, "status %d", code)
		}
	})

	t.Run("rate limits retry", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, &APIError{StatusCode: http.StatusTooManyRequests}
		})
		assert.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			calls++
			cancel()
			return 0, errors.New("boom")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts still calls once", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(context.Background(), RetryConfig{}, func() (int, error) {
			calls++
			return 0, errors.New("boom")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestLocalProviderDefaults(t *testing.T) {
	p := NewLocalProvider(config.LocalConfig{ModelDir: t.TempDir()}, 0, nil)
	assert.Equal(t, ProviderLocal, p.Provider())
	assert.Equal(t, LocalDimension, p.Dimension())
	assert.Equal(t, LocalMaxInputLength, p.MaxInputLength())
	assert.True(t, p.IsAvailable(context.Background()))
	assert.NoError(t, p.Close())
}
