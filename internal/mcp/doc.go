// Package mcp implements the Model Context Protocol (MCP) server for kbase.
//
// The server exposes these tools to AI assistants:
//   - search_entries: Search the knowledge base in hybrid, semantic or keyword mode
//   - retrieve_context: Build a token-bounded context bundle for a query
//   - reindex_entries: Re-embed every entry into the vector index
//   - get_status: Report statistics, provider and vector index state
//   - create_entry, update_entry, delete_entry: Write entries and keep the
//     vector index in step
//
// MCP is JSON-RPC 2.0 over stdio. The server is started by the default
// command:
//
//	kbase
//
// # Tool: search_entries
//
//	Request:
//	{
//	  "name": "search_entries",
//	  "arguments": {
//	    "query": "typescript configuration",
//	    "mode": "hybrid",
//	    "limit": 10,
//	    "type": "decision"
//	  }
//	}
//
//	Response:
//	{
//	  "mode": "hybrid",
//	  "requested_mode": "hybrid",
//	  "total_results": 1,
//	  "results": [
//	    {
//	      "id": "0b6c...",
//	      "title": "TypeScript strict mode",
//	      "score": 0.0328,
//	      "score_breakdown": {"semantic": 0.91, "keyword": 1}
//	    }
//	  ]
//	}
//
// When no embedding provider or vector index is usable, hybrid requests run
// as keyword search and report mode "keyword". Semantic requests do the same
// but also carry a "warning".
//
// # Tool: retrieve_context
//
//	{
//	  "name": "retrieve_context",
//	  "arguments": {
//	    "query": "how do we configure typescript",
//	    "max_tokens": 2000,
//	    "include_related": true,
//	    "format": "prose"
//	  }
//	}
//
// The response carries the rendered "context" string together with
// items_count, total_tokens_estimate and truncated.
//
// # Entry writes
//
// create_entry requires title and type. update_entry takes an id and only
// changes the fields it is given. Both answer with the stored entry,
// including its version, once the record is committed; embedding runs in
// the background and a failure there is logged without failing the call.
// delete_entry removes the record and its vector.
//
// # Errors
//
// Handlers return *MCPError with JSON-RPC style codes:
//
//	-32602  Invalid parameters
//	-32603  Internal error
//	-32001  Entry not found
//	-32002  Reindex already running
//	-32004  Empty query
//	-32005  Semantic indexing unavailable
package mcp
