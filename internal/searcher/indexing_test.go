package searcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/kbase/pkg/types"
)

func TestEmbeddingText(t *testing.T) {
	tests := []struct {
		name   string
		entry  types.Entry
		maxLen int
		want   string
	}{
		{
			name:  "summary preferred over content",
			entry: types.Entry{Title: "Title", Summary: "Short summary", Content: "Long body"},
			want:  "Title\n\nShort summary",
		},
		{
			name:  "first paragraph of content",
			entry: types.Entry{Title: "Title", Content: "First line\nsecond line\n\nLater paragraph"},
			want:  "Title\n\nFirst line second line",
		},
		{
			name: "headings and code fences skipped",
			entry: types.Entry{
				Title:   "Setup",
				Content: "# Heading\n\n```go\nfunc main() {}\n```\n\nInstall the tools first.\n\nThen run.",
			},
			want: "Setup\n\nInstall the tools first.",
		},
		{
			name:  "tags appended",
			entry: types.Entry{Title: "Title", Content: "Body", Tags: []string{"go", "sql"}},
			want:  "Title\n\nBody\n\nTags: go, sql",
		},
		{
			name:  "content of only headings",
			entry: types.Entry{Title: "Title", Content: "# One\n## Two"},
			want:  "Title",
		},
		{
			name:   "truncated to max length",
			entry:  types.Entry{Title: "Héllo wörld", Content: "Body"},
			maxLen: 5,
			want:   "Héllo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := tt.entry
			assert.Equal(t, tt.want, EmbeddingText(&entry, tt.maxLen))
		})
	}
}

func TestIndexEntryAndRemove(t *testing.T) {
	ctx := context.Background()
	env := setupEngine(t, &fakeEmbedder{})
	a, _ := env.seedTwoEntries(t)

	got, err := env.index.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, topicVector(EmbeddingText(a, 1000)), got)

	// Reindexing the same entry replaces its vector
	a.Title = "Go in TypeScript land"
	require.NoError(t, env.engine.IndexEntry(ctx, a))
	n, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, env.engine.RemoveEntry(ctx, a.ID))
	has, err := env.index.Has(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, has)

	// The record itself is untouched
	_, err = env.store.GetEntry(ctx, a.ID)
	assert.NoError(t, err)
}

func TestIndexEntryWithoutSemantic(t *testing.T) {
	ctx := context.Background()
	env := setupEngine(t, nil)

	entry := &types.Entry{ID: "x", Title: "T", Type: "note"}
	assert.NoError(t, env.engine.IndexEntry(ctx, entry))
	assert.NoError(t, env.engine.RemoveEntry(ctx, "x"))
	assert.Error(t, env.engine.IndexEntry(ctx, nil))
}

func TestIndexInBackground(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	emb := &fakeEmbedder{}
	env := setupEngine(t, emb, WithLogger(zap.New(core)))

	ok := &types.Entry{Title: "Background ok", Type: "note"}
	require.NoError(t, env.store.CreateEntry(context.Background(), ok))

	env.engine.IndexInBackground(ok)
	env.engine.Wait()

	has, err := env.index.Has(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.True(t, has)

	emb.embed = func(string) ([]float32, error) { return nil, errors.New("rate limited") }
	bad := &types.Entry{ID: "bad", Title: "Background bad", Type: "note"}
	env.engine.IndexInBackground(bad)
	env.engine.Wait()

	assert.Equal(t, 1, logs.FilterMessage("background indexing failed").Len())
}

func TestReindexAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{}
	core, logs := observer.New(zap.WarnLevel)
	env := setupEngine(t, emb, WithLogger(zap.New(core)))

	for i := 0; i < 50; i++ {
		entry := &types.Entry{Title: fmt.Sprintf("Entry %d", i), Type: "note", Content: "body"}
		require.NoError(t, env.store.CreateEntry(ctx, entry))
	}

	emb.embed = func(text string) ([]float32, error) {
		if strings.HasPrefix(text, "Entry 17\n") {
			return nil, errors.New("embedding rejected")
		}
		return topicVector(text), nil
	}

	var calls [][2]int
	count, err := env.engine.ReindexAll(ctx, func(done, total int) {
		calls = append(calls, [2]int{done, total})
	})
	require.NoError(t, err)
	assert.Equal(t, 49, count)

	require.Len(t, calls, 50)
	for i, c := range calls {
		assert.Equal(t, i+1, c[0], "done increases by one per entry")
		assert.Equal(t, 50, c[1])
	}

	n, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 49, n)
	assert.Equal(t, 1, logs.FilterMessage("failed to index entry").Len())
}

func TestReindexAllPagesThroughStore(t *testing.T) {
	ctx := context.Background()
	env := setupEngine(t, &fakeEmbedder{})

	// More entries than one store page
	for i := 0; i < 520; i++ {
		entry := &types.Entry{Title: fmt.Sprintf("Paged %d", i), Type: "note"}
		require.NoError(t, env.store.CreateEntry(ctx, entry))
	}

	count, err := env.engine.ReindexAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 520, count)
}

func TestReindexAllGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent run rejected", func(t *testing.T) {
		env := setupEngine(t, &fakeEmbedder{})
		require.True(t, env.engine.lock.TryAcquire())
		defer env.engine.lock.Release()

		assert.True(t, env.engine.Reindexing())
		_, err := env.engine.ReindexAll(ctx, nil)
		assert.ErrorIs(t, err, ErrReindexInProgress)
	})

	t.Run("semantic unavailable", func(t *testing.T) {
		env := setupEngine(t, nil)
		_, err := env.engine.ReindexAll(ctx, nil)
		assert.ErrorIs(t, err, ErrSemanticUnavailable)
		assert.False(t, env.engine.Reindexing(), "lock released after return")
	})

	t.Run("cancelled context stops the run", func(t *testing.T) {
		env := setupEngine(t, &fakeEmbedder{})
		for i := 0; i < 3; i++ {
			require.NoError(t, env.store.CreateEntry(ctx, &types.Entry{Title: fmt.Sprintf("E%d", i), Type: "note"}))
		}

		cctx, cancel := context.WithCancel(ctx)
		count, err := env.engine.ReindexAll(cctx, func(done, total int) {
			if done == 1 {
				cancel()
			}
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, count)
	})
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	assert.True(t, l.Held())
	l.Release()
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
}
