// Package tools registers the gateway's MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/requestspec"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/services"
)

// QueryToolDeps contains dependencies for the query tools.
type QueryToolDeps struct {
	Engine services.QueryEngine
	Logger *zap.Logger
}

// RegisterQueryTools registers list_queries and execute_query.
func RegisterQueryTools(s *server.MCPServer, deps *QueryToolDeps) {
	registerListQueriesTool(s, deps)
	registerExecuteQueryTool(s, deps)
}

type queryInfo struct {
	Key         string `json:"key"`
	Shape       string `json:"shape"`
	Parameters  string `json:"parameters,omitempty"`
	Description string `json:"description,omitempty"`
	ReturnsRows bool   `json:"returns_rows"`
}

type listQueriesResult struct {
	Queries []queryInfo `json:"queries"`
}

func registerListQueriesTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		"list_queries",
		mcp.WithDescription(
			"List the configured queries. Parameters are declared as name$Type entries; "+
				"pass matching names to execute_query.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queries, err := deps.Engine.ListQueries(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list queries: %w", err)
		}

		result := listQueriesResult{Queries: make([]queryInfo, len(queries))}
		for i, q := range queries {
			result.Queries[i] = queryInfo{
				Key:         q.Key,
				Shape:       q.Shape.String(),
				Parameters:  q.Parameters,
				Description: q.Description,
				ReturnsRows: q.Shape.ReturnsTable() || q.Shape.ReturnsSet(),
			}
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

func registerExecuteQueryTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		"execute_query",
		mcp.WithDescription(
			"Execute a configured query by key. Use list_queries first to see the available keys "+
				"and their parameters. Results are returned as JSON or CSV text.",
		),
		mcp.WithString(
			"key",
			mcp.Required(),
			mcp.Description("The query key (from list_queries)"),
		),
		mcp.WithObject(
			"parameters",
			mcp.Description("Field values as name/value pairs. Arrays of objects bind as tables."),
		),
		mcp.WithString(
			"format",
			mcp.Description("Output format: json (default) or csv"),
			mcp.Enum("json", "csv"),
		),
		mcp.WithString(
			"file_fields",
			mcp.Description("Optional: fields carrying base64 file content, e.g. \"upload=csv,scan=excel\""),
		),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return NewErrorResult("invalid_request", err.Error()), nil
		}

		output, err := models.ParseOutputShape(getOptionalString(req, "format"))
		if err != nil || (output != models.OutputJSON && output != models.OutputCSV) {
			return NewErrorResult("invalid_format", "format must be json or csv"), nil
		}

		fileFields, err := requestspec.ParseFileFields(getOptionalString(req, "file_fields"))
		if err != nil {
			return NewErrorResult("invalid_file_fields", err.Error()), nil
		}

		var body []byte
		if params, ok := getOptionalObject(req, "parameters"); ok {
			// encoding/json writes map keys sorted, which fixes the field order.
			if body, err = json.Marshal(params); err != nil {
				return NewErrorResult("invalid_request", fmt.Sprintf("invalid parameters: %v", err)), nil
			}
		}

		specs, err := requestspec.Extract(body, nil, requestspec.Options{FileFields: fileFields})
		if err != nil {
			return NewErrorResult("invalid_request", err.Error()), nil
		}

		start := time.Now()
		result, err := deps.Engine.Execute(ctx, key, specs, models.ShapeUnknown, output)
		if err != nil {
			deps.Logger.Debug("MCP query execution failed",
				zap.String("query_key", key),
				zap.Error(err))
			return engineErrorResult(err)
		}

		deps.Logger.Debug("MCP query executed",
			zap.String("query_key", key),
			zap.Bool("cached", result.Cached),
			zap.Duration("duration", time.Since(start)))
		return mcp.NewToolResultText(string(result.Body)), nil
	})
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	val, _ := args[key].(string)
	return val
}

// getOptionalObject extracts an optional object argument from the request.
func getOptionalObject(req mcp.CallToolRequest, key string) (map[string]any, bool) {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return nil, false
	}
	val, ok := args[key].(map[string]any)
	return val, ok
}
