package searcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dshills/kbase/internal/storage"
	"github.com/dshills/kbase/pkg/types"
)

// backgroundIndexTimeout bounds one IndexInBackground run
const backgroundIndexTimeout = 2 * time.Minute

// ProgressFunc is called after each entry of a reindex run
type ProgressFunc func(done, total int)

// EmbeddingText derives the text embedded for an entry: title, then the
// summary or else the first meaningful paragraph of content, then tags.
// maxLen truncates the result in characters when positive.
func EmbeddingText(entry *types.Entry, maxLen int) string {
	parts := make([]string, 0, 3)
	if title := strings.TrimSpace(entry.Title); title != "" {
		parts = append(parts, title)
	}

	body := strings.TrimSpace(entry.Summary)
	if body == "" {
		body = firstParagraph(entry.Content)
	}
	if body != "" {
		parts = append(parts, body)
	}

	if len(entry.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(entry.Tags, ", "))
	}

	text := strings.Join(parts, "\n\n")
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		text = string([]rune(text)[:maxLen])
	}
	return text
}

// firstParagraph returns the first paragraph of markdown content that is
// neither a heading nor inside a code fence, with lines joined by spaces.
func firstParagraph(content string) string {
	var para []string
	inFence := false

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			if len(para) > 0 {
				break
			}
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			if len(para) > 0 {
				break
			}
			continue
		}
		para = append(para, trimmed)
	}

	return strings.Join(para, " ")
}

// IndexEntry embeds an entry and upserts its vector. It is a no-op when
// semantic search is unavailable.
func (e *Engine) IndexEntry(ctx context.Context, entry *types.Entry) error {
	if entry == nil {
		return fmt.Errorf("entry is required")
	}
	if !e.SemanticAvailable(ctx) {
		return nil
	}
	return e.indexOne(ctx, entry)
}

func (e *Engine) indexOne(ctx context.Context, entry *types.Entry) error {
	text := EmbeddingText(entry, e.embedder.MaxInputLength())
	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed entry %s: %w", entry.ID, err)
	}
	if err := e.index.Upsert(ctx, entry.ID, vector); err != nil {
		return fmt.Errorf("failed to store vector for entry %s: %w", entry.ID, err)
	}
	return nil
}

// IndexInBackground indexes entry on a tracked goroutine. Indexing after a
// write is best effort: failures are logged and never reach the caller.
// Wait blocks until every background run has finished.
func (e *Engine) IndexInBackground(entry *types.Entry) {
	if entry == nil {
		return
	}
	e.background.Add(1)
	go func() {
		defer e.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundIndexTimeout)
		defer cancel()

		if err := e.IndexEntry(ctx, entry); err != nil {
			e.logger.Warn("background indexing failed",
				zap.String("entry_id", entry.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until all IndexInBackground runs complete
func (e *Engine) Wait() {
	e.background.Wait()
}

// RemoveEntry deletes an entry's vector. Records are the store's concern.
func (e *Engine) RemoveEntry(ctx context.Context, entryID string) error {
	if e.index == nil {
		return nil
	}
	if err := e.index.Delete(ctx, entryID); err != nil {
		return fmt.Errorf("failed to remove vector for entry %s: %w", entryID, err)
	}
	return nil
}

// ReindexAll re-embeds every entry in the store, one at a time. A failing
// entry is logged and skipped. progress, if set, is called after every
// entry. It returns the number of entries indexed.
func (e *Engine) ReindexAll(ctx context.Context, progress ProgressFunc) (int, error) {
	if !e.lock.TryAcquire() {
		return 0, ErrReindexInProgress
	}
	defer e.lock.Release()

	if !e.SemanticAvailable(ctx) {
		return 0, ErrSemanticUnavailable
	}

	entries, err := e.allEntries(ctx)
	if err != nil {
		return 0, err
	}

	total := len(entries)
	indexed := 0
	startTime := time.Now()
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}

		if err := e.indexOne(ctx, entry); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return indexed, err
			}
			e.logger.Warn("failed to index entry",
				zap.String("entry_id", entry.ID), zap.Error(err))
		} else {
			indexed++
		}

		if progress != nil {
			progress(i+1, total)
		}
	}

	e.logger.Info("reindex complete",
		zap.Int("indexed", indexed),
		zap.Int("failed", total-indexed),
		zap.Duration("duration", time.Since(startTime)))
	return indexed, nil
}

// Reindexing reports whether a ReindexAll run is in progress
func (e *Engine) Reindexing() bool {
	return e.lock.Held()
}

func (e *Engine) allEntries(ctx context.Context) ([]*types.Entry, error) {
	var entries []*types.Entry
	page := storage.Page{Limit: storage.MaxPageSize}
	for {
		result, err := e.store.ListEntries(ctx, types.SearchFilters{}, page)
		if err != nil {
			return nil, fmt.Errorf("failed to list entries: %w", err)
		}
		entries = append(entries, result.Entries...)
		if !result.HasMore(page) || len(result.Entries) == 0 {
			return entries, nil
		}
		page.Offset += len(result.Entries)
	}
}
