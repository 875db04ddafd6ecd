package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// filterProperties are the entry filters shared by search and retrieval
func filterProperties(props map[string]interface{}) map[string]interface{} {
	props["project"] = map[string]interface{}{
		"type":        "string",
		"description": "Only entries of this project ID",
	}
	props["type"] = map[string]interface{}{
		"type":        "string",
		"description": "Only entries of this type (note, decision, snippet, ...)",
	}
	props["status"] = map[string]interface{}{
		"type":        "string",
		"description": "Only entries with this status",
		"enum":        []string{"active", "archived", "deprecated"},
	}
	return props
}

// searchEntriesTool returns the tool definition for search_entries
func searchEntriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_entries",
		Description: "Search the knowledge base with natural language or keyword queries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: filterProperties(map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (semantic + keyword), semantic (vector only), or keyword (full-text only)",
					"enum":        []string{"hybrid", "semantic", "keyword"},
					"default":     "hybrid",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Minimum semantic similarity; overrides the mode default",
					"minimum":     -1.0,
					"maximum":     1.0,
				},
			}),
			Required: []string{"query"},
		},
	}
}

// retrieveContextTool returns the tool definition for retrieve_context
func retrieveContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "retrieve_context",
		Description: "Assemble a token-bounded bundle of relevant entries for use as LLM context",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: filterProperties(map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What the context is needed for",
				},
				"max_tokens": map[string]interface{}{
					"type":        "integer",
					"description": "Token budget, estimated at 4 characters per token",
					"default":     4000,
					"minimum":     1,
				},
				"max_items": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of entries",
					"default":     10,
					"minimum":     1,
					"maximum":     50,
				},
				"include_related": map[string]interface{}{
					"type":        "boolean",
					"description": "Also include entries linked to matched entries",
					"default":     false,
				},
				"format": map[string]interface{}{
					"type":        "string",
					"description": "Output shape: markup (tagged) or prose (markdown sections)",
					"enum":        []string{"markup", "prose"},
					"default":     "markup",
				},
			}),
			Required: []string{"query"},
		},
	}
}

// reindexEntriesTool returns the tool definition for reindex_entries
func reindexEntriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reindex_entries",
		Description: "Re-embed every entry and rebuild the vector index",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report knowledge base statistics, embedding provider and vector index state",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// entryProperties are the writable entry fields shared by create and update
func entryProperties(props map[string]interface{}) map[string]interface{} {
	props["title"] = map[string]interface{}{
		"type":        "string",
		"description": "Short title, searched and embedded",
	}
	props["type"] = map[string]interface{}{
		"type":        "string",
		"description": "Entry category (note, decision, snippet, ...)",
	}
	props["status"] = map[string]interface{}{
		"type":        "string",
		"description": "Lifecycle status",
		"enum":        []string{"active", "archived", "deprecated"},
		"default":     "active",
	}
	props["content"] = map[string]interface{}{
		"type":        "string",
		"description": "Markdown body",
	}
	props["summary"] = map[string]interface{}{
		"type":        "string",
		"description": "Optional summary, embedded in place of the content",
	}
	props["project"] = map[string]interface{}{
		"type":        "string",
		"description": "Owning project ID",
	}
	props["tags"] = map[string]interface{}{
		"type":        "array",
		"description": "Free-form tags",
		"items":       map[string]interface{}{"type": "string"},
	}
	return props
}

// createEntryTool returns the tool definition for create_entry
func createEntryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_entry",
		Description: "Store a new knowledge entry and index it for semantic search",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: entryProperties(map[string]interface{}{}),
			Required:   []string{"title", "type"},
		},
	}
}

// updateEntryTool returns the tool definition for update_entry
func updateEntryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "update_entry",
		Description: "Change fields of an existing entry; omitted fields are kept",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: entryProperties(map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "ID of the entry to update",
				},
			}),
			Required: []string{"id"},
		},
	}
}

// deleteEntryTool returns the tool definition for delete_entry
func deleteEntryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_entry",
		Description: "Delete an entry and its vector",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "ID of the entry to delete",
				},
			},
			Required: []string{"id"},
		},
	}
}
