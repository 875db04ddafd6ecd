package searcher

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/dshills/kbase/pkg/types"
)

func setupSearchBenchmark(b *testing.B, entries int) *testEnv {
	b.Helper()
	env := setupEngine(b, &fakeEmbedder{})
	topics := []string{"TypeScript build", "Go concurrency", "golang modules", "SQL indexing"}
	for i := 0; i < entries; i++ {
		topic := topics[i%len(topics)]
		env.addEntry(b, fmt.Sprintf("%s %d", topic, i), "note",
			strings.Repeat(topic+" details and notes. ", 5), "bench")
	}
	return env
}

func benchmarkMode(b *testing.B, mode Mode) {
	env := setupSearchBenchmark(b, 500)
	req := SearchRequest{Query: "TypeScript build", Mode: mode, Limit: 10}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.Search(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkHybridSearch(b *testing.B)   { benchmarkMode(b, ModeHybrid) }
func BenchmarkSemanticSearch(b *testing.B) { benchmarkMode(b, ModeSemantic) }
func BenchmarkKeywordSearch(b *testing.B)  { benchmarkMode(b, ModeKeyword) }

// BenchmarkRRF measures fusion of two full candidate lists
func BenchmarkRRF(b *testing.B) {
	keyword := make([]types.SearchResult, 200)
	semantic := make([]types.SearchResult, 200)
	for i := range keyword {
		keyword[i] = types.SearchResult{Entry: &types.Entry{ID: fmt.Sprintf("k%d", i)}}
		semantic[i] = types.SearchResult{Entry: &types.Entry{ID: fmt.Sprintf("k%d", (i*7)%300)}}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = fuseRRF(keyword, semantic, 100)
	}
}

func BenchmarkEmbeddingText(b *testing.B) {
	entry := &types.Entry{
		Title:   "Deployment checklist",
		Content: "# Steps\n\n```sh\nmake release\n```\n\n" + strings.Repeat("Verify the canary before promoting. ", 50),
		Tags:    []string{"ops", "release"},
	}
	for i := 0; i < b.N; i++ {
		_ = EmbeddingText(entry, 8000)
	}
}
