package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/xeipuuv/gojsonschema"

	"github.com/i2y/mcpforge/internal/usecase"
)

// InvokerRouter picks the invoker serving a group.
type InvokerRouter interface {
	For(useMockData bool) usecase.ToolInvoker
}

// Registry resolves advertised tool names to loaded tools and executes
// calls against the live or the mock invoker.
type Registry struct {
	entries []Entry
	index   map[string]int
	router  InvokerRouter
	logger  *slog.Logger
}

// NewRegistry indexes entries by advertised name. Two entries advertising
// the same name are rejected.
func NewRegistry(entries []Entry, router InvokerRouter, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		entries: entries,
		index:   make(map[string]int, len(entries)),
		router:  router,
		logger:  logger.With("component", "tool_registry"),
	}
	for i, e := range entries {
		name := e.Name()
		if _, dup := r.index[name]; dup {
			return nil, fmt.Errorf("%w: %s", usecase.ErrDuplicateTool, name)
		}
		r.index[name] = i
	}
	return r, nil
}

// Len returns the number of loaded tools.
func (r *Registry) Len() int { return len(r.entries) }

// Has reports whether name is an advertised tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Tools lists the advertised definitions: the optimised variant when there
// is one, else the original, under the group prefix.
func (r *Registry) Tools() ([]mcp.Tool, error) {
	tools := make([]mcp.Tool, 0, len(r.entries))
	for _, e := range r.entries {
		schema, err := json.Marshal(e.Tool.EffectiveInputSchema())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal input schema of %s: %w", e.Name(), err)
		}
		tools = append(tools, mcp.NewToolWithRawSchema(e.Name(), e.Tool.EffectiveDescription(), schema))
	}
	return tools, nil
}

// Register adds every tool to s.
func (r *Registry) Register(s *server.MCPServer) error {
	tools, err := r.Tools()
	if err != nil {
		return err
	}
	for _, tool := range tools {
		s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return r.Call(ctx, req.Params.Name, req.GetArguments()), nil
		})
	}
	return nil
}

// Call executes the tool advertised as name. Failures, including an unknown
// name, come back as error results rather than Go errors.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	idx, ok := r.index[name]
	if !ok {
		r.logger.Warn("Call for unknown tool", slog.String("tool", name))
		return unknownToolResult(name)
	}
	e := r.entries[idx]
	log := r.logger.With(slog.String("tool", name), slog.String("api_id", e.ApiID))
	if args == nil {
		args = map[string]any{}
	}

	if err := validateArgs(e.Tool.EffectiveInputSchema(), args); err != nil {
		log.Warn("Rejected tool arguments", slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments for %s: %v", name, err))
	}

	callArgs := args
	if e.Tool.Optimised != nil {
		translated, err := e.Tool.Optimised.ToOriginal(args)
		if err != nil {
			log.Error("Failed to map optimised arguments", slog.Any("error", err))
			return mcp.NewToolResultError(fmt.Sprintf("Error mapping arguments for %s: %v", name, err))
		}
		callArgs = translated
	}

	result, err := r.router.For(e.UseMockData).Invoke(ctx, e.Tool, callArgs)
	if err != nil {
		log.Error("Tool invocation failed", slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("Error calling %s: %v", name, err))
	}
	log.Debug("Tool invocation succeeded")
	return textResult(result)
}

func validateArgs(schema any, args map[string]any) error {
	res, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("failed to validate arguments: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// unknownToolResult is the structured payload sent for a name no group
// advertises.
func unknownToolResult(name string) *mcp.CallToolResult {
	payload, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    "TOOL_NOT_FOUND",
			"message": fmt.Sprintf("Unknown tool: %s", name),
			"tool":    name,
		},
	})
	res := mcp.NewToolResultText(string(payload))
	res.IsError = true
	return res
}

func textResult(result any) *mcp.CallToolResult {
	if s, ok := result.(string); ok {
		return mcp.NewToolResultText(s)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}
