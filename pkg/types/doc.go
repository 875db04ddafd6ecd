// Package types provides shared type definitions for the kbase knowledge engine.
//
// This package defines domain types used across the retrieval pipeline,
// including entries, projects, relations, search results and context bundles.
//
// # Core Types
//
// Entry is a stored knowledge record. The record store owns its lifecycle;
// the retrieval pipeline treats entries as read-only inputs:
//
//	entry := &types.Entry{
//	    Title:   "TypeScript strict mode",
//	    Type:    "decision",
//	    Status:  "active",
//	    Content: "We enable strict mode in every package...",
//	    Tags:    []string{"typescript", "tooling"},
//	}
//
// Relation links two entries and is used by context retrieval to pull
// neighbours of a matched entry.
//
// # Search Results
//
// SearchResult pairs an entry with its mode-dependent score and the
// per-signal breakdown:
//
//	result := types.SearchResult{
//	    Entry: entry,
//	    Score: 1.0/61 + 1.0/63,
//	    Breakdown: types.ScoreBreakdown{
//	        Semantic: 0.82,
//	        Keyword:  1.0,
//	    },
//	}
//
// Keyword scores are rank-normalized to [0, 1]. Semantic scores are raw
// cosine similarities. Hybrid scores are Reciprocal Rank Fusion sums.
//
// # Context Bundles
//
// ContextRetrievalResult is the token-bounded set of ContextItems produced
// for a language model. It is created per call and never persisted.
package types
