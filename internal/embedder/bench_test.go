package embedder

import (
	"context"
	"fmt"
	"testing"

	"github.com/dshills/kbase/internal/config"
)

func BenchmarkComputeHash(b *testing.B) {
	texts := []string{
		"short",
		"medium length text for hashing",
		"Use strict mode in every TypeScript project. Enable noImplicitAny and strictNullChecks in tsconfig",
	}

	for _, text := range texts {
		b.Run(fmt.Sprintf("len=%d", len(text)), func(b *testing.B) {
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = ComputeHash(ProviderOpenAI, "bench", text)
			}
		})
	}
}

func BenchmarkCache(b *testing.B) {
	cache := NewCache(10000)
	emb := &Embedding{
		Vector:    make([]float32, 1024),
		Dimension: 1024,
		Provider:  ProviderJina,
		Model:     "test",
		Hash:      "test-hash",
	}

	b.Run("set", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			hash := fmt.Sprintf("hash-%d", i%1000)
			cache.Set(hash, emb)
		}
	})

	// Populate cache for get benchmark
	for i := 0; i < 1000; i++ {
		cache.Set(fmt.Sprintf("hash-%d", i), emb)
	}

	b.Run("get-hit", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			hash := fmt.Sprintf("hash-%d", i%1000)
			_, _ = cache.Get(hash)
		}
	})

	b.Run("get-miss", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			hash := fmt.Sprintf("nonexistent-%d", i)
			_, _ = cache.Get(hash)
		}
	})
}

func BenchmarkService(b *testing.B) {
	ff := &fakeFactory{providers: map[string]*fakeProvider{
		ProviderLocal: {name: ProviderLocal, available: true},
	}}
	svc, err := NewService(config.EmbeddingConfig{Provider: ProviderLocal}, WithFactory(ff.build))
	if err != nil {
		b.Fatalf("NewService() error = %v", err)
	}
	defer svc.Close()

	ctx := context.Background()

	b.Run("embed", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := svc.Embed(ctx, "retry with exponential backoff"); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("batch-50", func(b *testing.B) {
		texts := make([]string, 50)
		for i := range texts {
			texts[i] = fmt.Sprintf("knowledge entry %d with more content", i)
		}

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := svc.EmbedBatch(ctx, texts); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkNormalizeVector(b *testing.B) {
	sizes := []int{128, 384, 768, 1024, 1536}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("dim=%d", size), func(b *testing.B) {
			vec := make([]float32, size)
			for i := range vec {
				vec[i] = float32(i) / float32(size)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = NormalizeVector(vec)
			}
		})
	}
}

func BenchmarkValidation(b *testing.B) {
	b.Run("validate-batch", func(b *testing.B) {
		req := BatchEmbeddingRequest{
			Texts: []string{"text1", "text2", "text3", "text4", "text5"},
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = ValidateBatchRequest(req)
		}
	})
}

// BenchmarkConcurrentCache tests cache performance under concurrent load
func BenchmarkConcurrentCache(b *testing.B) {
	cache := NewCache(10000)
	emb := &Embedding{
		Vector:    make([]float32, 1024),
		Dimension: 1024,
		Provider:  ProviderJina,
		Model:     "test",
	}

	// Pre-populate
	for i := 0; i < 1000; i++ {
		cache.Set(fmt.Sprintf("hash-%d", i), emb)
	}

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			// Mix of reads and writes
			if i%3 == 0 {
				cache.Set(fmt.Sprintf("hash-%d", i%2000), emb)
			} else {
				_, _ = cache.Get(fmt.Sprintf("hash-%d", i%2000))
			}
			i++
		}
	})
}
