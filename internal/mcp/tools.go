package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/kbase/internal/retriever"
	"github.com/dshills/kbase/internal/searcher"
	"github.com/dshills/kbase/internal/storage"
	"github.com/dshills/kbase/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodeEntryNotFound       = -32001 // No entry with the given ID
	ErrorCodeIndexingInProgress  = -32002 // Another reindex is already running
	ErrorCodeEmptyQuery          = -32004 // Query parameter is empty
	ErrorCodeSemanticUnavailable = -32005 // No embedding provider or vector index
)

const (
	maxContextItems = 50
	snippetLength   = 240
)

// handleSearchEntries handles the search_entries tool invocation
func (s *Server) handleSearchEntries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, err := requireQuery(args)
	if err != nil {
		return nil, err
	}

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode, err := searcher.ParseMode(getStringDefault(args, "mode", ""))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   args["mode"],
			"allowed": []string{"hybrid", "semantic", "keyword"},
		})
	}

	req := searcher.SearchRequest{
		Query:   query,
		Mode:    mode,
		Filters: parseFilters(args),
		Limit:   limit,
	}
	if v, ok := args["min_score"].(float64); ok {
		req.MinScore = &v
	}

	resp, err := s.app.Engine.Search(ctx, req)
	if errors.Is(err, searcher.ErrEmptyQuery) {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{
			"id":         r.Entry.ID,
			"title":      r.Entry.Title,
			"type":       r.Entry.Type,
			"status":     r.Entry.Status,
			"project_id": r.Entry.ProjectID,
			"tags":       r.Entry.Tags,
			"score":      r.Score,
			"score_breakdown": map[string]interface{}{
				"semantic": r.Breakdown.Semantic,
				"keyword":  r.Breakdown.Keyword,
			},
			"snippet":    snippet(r.Entry),
			"updated_at": r.Entry.UpdatedAt.Format(time.RFC3339),
		})
	}

	response := map[string]interface{}{
		"query":          query,
		"mode":           resp.Mode,
		"requested_mode": resp.RequestedMode,
		"total_results":  resp.TotalResults,
		"duration_ms":    resp.Duration.Milliseconds(),
		"results":        results,
	}
	if resp.Warning != "" {
		response["warning"] = resp.Warning
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRetrieveContext handles the retrieve_context tool invocation
func (s *Server) handleRetrieveContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, err := requireQuery(args)
	if err != nil {
		return nil, err
	}

	maxTokens := getIntDefault(args, "max_tokens", 0)
	if maxTokens < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "max_tokens must be positive", map[string]interface{}{
			"param": "max_tokens",
			"value": maxTokens,
		})
	}
	maxItems := getIntDefault(args, "max_items", 0)
	if maxItems < 0 || maxItems > maxContextItems {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("max_items must be between 1 and %d", maxContextItems), map[string]interface{}{
			"param": "max_items",
			"value": maxItems,
		})
	}

	format, err := retriever.ParseFormat(getStringDefault(args, "format", s.app.Config.Context.Format))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid format", map[string]interface{}{
			"param":   "format",
			"value":   args["format"],
			"allowed": []string{"markup", "prose"},
		})
	}

	result, err := s.app.Retriever.Retrieve(ctx, retriever.RetrieveRequest{
		Query:          query,
		MaxTokens:      maxTokens,
		MaxItems:       maxItems,
		Filters:        parseFilters(args),
		IncludeRelated: getBoolDefault(args, "include_related", false),
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "context retrieval failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"items_count":           len(result.Items),
		"total_tokens_estimate": result.TotalTokensEstimate,
		"truncated":             result.Truncated,
		"format":                format,
		"context":               retriever.FormatForLLM(result, format),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleReindexEntries handles the reindex_entries tool invocation
func (s *Server) handleReindexEntries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	startTime := time.Now()
	total := 0

	indexed, err := s.app.Engine.ReindexAll(ctx, func(done, n int) {
		total = n
		if done%100 == 0 {
			s.logger.Info("reindex progress", zap.Int("done", done), zap.Int("total", n))
		}
	})
	switch {
	case errors.Is(err, searcher.ErrReindexInProgress):
		return nil, newMCPError(ErrorCodeIndexingInProgress, "a reindex is already running", nil)
	case errors.Is(err, searcher.ErrSemanticUnavailable):
		return nil, newMCPError(ErrorCodeSemanticUnavailable, "semantic indexing unavailable: configure an embedding provider and enable the vector index", nil)
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "reindex failed", map[string]interface{}{
			"error":   err.Error(),
			"indexed": indexed,
		})
	}

	response := map[string]interface{}{
		"indexed":     indexed,
		"total":       total,
		"failed":      total - indexed,
		"provider":    s.app.Embeddings.ProviderName(),
		"duration_ms": time.Since(startTime).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.app.Store.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	vectors, err := s.app.Index.Count(ctx)
	if err != nil {
		s.logger.Warn("failed to count vectors", zap.Error(err))
	}
	state := s.app.Index.State(ctx)

	embedding := map[string]interface{}{
		"configured_provider": s.app.Config.Embedding.Provider,
		"ready":               s.app.Embeddings.IsReady(),
	}
	if s.app.Embeddings.IsReady() {
		embedding["provider"] = s.app.Embeddings.ProviderName()
		embedding["model"] = s.app.Embeddings.ModelName()
		if dims, err := s.app.Embeddings.Dimensions(); err == nil {
			embedding["dimensions"] = dims
		}
	}

	response := map[string]interface{}{
		"schema_version": status.SchemaVersion,
		"statistics": map[string]interface{}{
			"projects_count":  status.ProjectsCount,
			"entries_count":   status.EntriesCount,
			"relations_count": status.RelationsCount,
			"vectors_count":   vectors,
			"database_mb":     fmt.Sprintf("%.2f", status.DatabaseSizeMB),
		},
		"health": map[string]interface{}{
			"database_accessible": status.Health.DatabaseAccessible,
			"fts_index_built":     status.Health.FTSIndexBuilt,
			"vector_index":        state.String(),
			"reindexing":          s.app.Engine.Reindexing(),
		},
		"embedding": embedding,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCreateEntry handles the create_entry tool invocation
func (s *Server) handleCreateEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	entry := &types.Entry{}
	if err := applyEntryFields(entry, args); err != nil {
		return nil, err
	}
	if err := s.app.CreateEntry(ctx, entry); err != nil {
		return nil, entryWriteError("create", err)
	}

	s.logger.Info("entry created", zap.String("entry_id", entry.ID), zap.String("type", entry.Type))
	return mcp.NewToolResultText(formatJSON(entryJSON(entry))), nil
}

// handleUpdateEntry handles the update_entry tool invocation. Fields left
// out of the call keep their stored values.
func (s *Server) handleUpdateEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	id, err := requireID(args)
	if err != nil {
		return nil, err
	}

	entry, err := s.app.Store.GetEntry(ctx, id)
	if err != nil {
		return nil, entryWriteError("update", err)
	}
	if err := applyEntryFields(entry, args); err != nil {
		return nil, err
	}
	if err := s.app.UpdateEntry(ctx, entry); err != nil {
		return nil, entryWriteError("update", err)
	}

	s.logger.Info("entry updated", zap.String("entry_id", entry.ID), zap.Int("version", entry.Version))
	return mcp.NewToolResultText(formatJSON(entryJSON(entry))), nil
}

// handleDeleteEntry handles the delete_entry tool invocation
func (s *Server) handleDeleteEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	id, err := requireID(args)
	if err != nil {
		return nil, err
	}

	if err := s.app.DeleteEntry(ctx, id); err != nil {
		return nil, entryWriteError("delete", err)
	}

	s.logger.Info("entry deleted", zap.String("entry_id", id))
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":      id,
		"deleted": true,
	})), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// arguments returns the call arguments; a call without any is an empty map
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

func requireQuery(args map[string]interface{}) (string, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	return query, nil
}

func requireID(args map[string]interface{}) (string, error) {
	id, ok := args["id"].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "id parameter is required", map[string]interface{}{
			"param":  "id",
			"reason": "missing or empty",
		})
	}
	return id, nil
}

// applyEntryFields copies the writable fields present in args onto entry
func applyEntryFields(entry *types.Entry, args map[string]interface{}) error {
	for key, dst := range map[string]*string{
		"title":   &entry.Title,
		"type":    &entry.Type,
		"status":  &entry.Status,
		"content": &entry.Content,
		"summary": &entry.Summary,
		"project": &entry.ProjectID,
	} {
		raw, present := args[key]
		if !present {
			continue
		}
		val, ok := raw.(string)
		if !ok {
			return newMCPError(ErrorCodeInvalidParams, key+" must be a string", map[string]interface{}{
				"param": key,
				"value": raw,
			})
		}
		*dst = val
	}

	switch entry.Status {
	case "", types.StatusActive, types.StatusArchived, types.StatusDeprecated:
	default:
		return newMCPError(ErrorCodeInvalidParams, "invalid status", map[string]interface{}{
			"param":   "status",
			"value":   entry.Status,
			"allowed": []string{types.StatusActive, types.StatusArchived, types.StatusDeprecated},
		})
	}

	raw, present := args["tags"]
	if !present {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return newMCPError(ErrorCodeInvalidParams, "tags must be an array of strings", map[string]interface{}{"param": "tags"})
	}
	tags := make([]string, 0, len(list))
	for _, item := range list {
		tag, ok := item.(string)
		if !ok {
			return newMCPError(ErrorCodeInvalidParams, "tags must be an array of strings", map[string]interface{}{"param": "tags"})
		}
		tags = append(tags, tag)
	}
	entry.Tags = tags
	return nil
}

// entryWriteError maps record store failures onto MCP error codes
func entryWriteError(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return newMCPError(ErrorCodeEntryNotFound, "entry not found", nil)
	case errors.Is(err, types.ErrEmptyTitle),
		errors.Is(err, types.ErrEmptyType),
		errors.Is(err, types.ErrMissingEntryID),
		errors.Is(err, storage.ErrAlreadyExists):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	default:
		return newMCPError(ErrorCodeInternalError, "failed to "+op+" entry", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func entryJSON(e *types.Entry) map[string]interface{} {
	return map[string]interface{}{
		"id":         e.ID,
		"project_id": e.ProjectID,
		"title":      e.Title,
		"type":       e.Type,
		"status":     e.Status,
		"tags":       e.Tags,
		"version":    e.Version,
		"created_at": e.CreatedAt.Format(time.RFC3339),
		"updated_at": e.UpdatedAt.Format(time.RFC3339),
	}
}

func parseFilters(args map[string]interface{}) types.SearchFilters {
	return types.SearchFilters{
		ProjectID: getStringDefault(args, "project", ""),
		Type:      getStringDefault(args, "type", ""),
		Status:    getStringDefault(args, "status", ""),
	}
}

// snippet is the summary, or the head of the content
func snippet(e *types.Entry) string {
	text := e.Summary
	if text == "" {
		text = e.Content
	}
	runes := []rune(text)
	if len(runes) > snippetLength {
		return string(runes[:snippetLength]) + "..."
	}
	return text
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
