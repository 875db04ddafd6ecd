// Package searcher implements hybrid knowledge search combining vector
// similarity and full-text matching.
//
// The engine provides three search modes:
//   - Hybrid: Keyword + semantic search fused with RRF (default)
//   - Semantic: Vector similarity only
//   - Keyword: FTS5 full-text search only
//
// # Basic Usage
//
//	engine := searcher.New(store, embeddingService, vectorIndex,
//	    searcher.WithLogger(logger))
//
//	resp, err := engine.Search(ctx, searcher.SearchRequest{
//	    Query: "typescript strict mode",
//	    Mode:  searcher.ModeHybrid,
//	    Limit: 10,
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("%.4f %s\n", r.Score, r.Entry.Title)
//	}
//
// # Degradation
//
// Semantic search needs both an embedder that initializes and an available
// vector index. Without them a semantic request runs as keyword search and
// the response carries a Warning. A hybrid request falls back to keyword
// search without a warning. Response.Mode always names the mode that ran.
//
// # Scores
//
// Keyword results are scored by rank: for N hits, the hit at 0-based rank i
// scores (N-i)/N. Semantic results are scored by cosine similarity. Hybrid
// results are Reciprocal Rank Fusion sums:
//
//	for each list, for each result at 0-based rank r:
//	    score[id] += 1 / (60 + r + 1)
//
// Each result keeps both components in its Breakdown; a component is zero
// when the entry did not appear in that list.
//
// The minimum score applies to the semantic component only. Defaults are
// 0 for keyword, 0.3 for semantic and 0.05 for hybrid.
//
// # Indexing
//
// IndexEntry embeds title, summary (or the first prose paragraph) and tags,
// then upserts the vector. IndexInBackground does the same off the request
// path and only logs failures. ReindexAll walks every stored entry in order,
// skipping entries that fail, and reports progress after each one.
package searcher
