package usecase_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/internal/adapter/outbound/memrepo"
	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// byteCounter stands in for the tokenizer: one token per serialized byte.
type byteCounter struct{}

func (byteCounter) Count(payload any) int {
	if s, ok := payload.(string); ok {
		return len(s)
	}
	raw, _ := json.Marshal(payload)
	return len(raw)
}

// MockToolExtractor is a mock implementation of usecase.ToolExtractor.
type MockToolExtractor struct {
	mock.Mock
}

func (m *MockToolExtractor) Extract(ctx context.Context, api domain.ApiRecord, endpoints []domain.Endpoint) ([]domain.ToolDefinition, []domain.ToolFailure, error) {
	args := m.Called(ctx, api, endpoints)
	tools, _ := args.Get(0).([]domain.ToolDefinition)
	failures, _ := args.Get(1).([]domain.ToolFailure)
	return tools, failures, args.Error(2)
}

// MockSizePolicy is a mock implementation of usecase.SizePolicy.
type MockSizePolicy struct {
	mock.Mock
}

func (m *MockSizePolicy) ProposeSize(ctx context.Context, tool domain.ToolDefinition, targetBudget int) (domain.ToolTransform, error) {
	args := m.Called(ctx, tool, targetBudget)
	return args.Get(0).(domain.ToolTransform), args.Error(1)
}

// MockSelectionPolicy is a mock implementation of usecase.SelectionPolicy.
type MockSelectionPolicy struct {
	mock.Mock
}

func (m *MockSelectionPolicy) ProposeSelection(ctx context.Context, candidates []usecase.ToolCandidate, budget int) ([]string, error) {
	args := m.Called(ctx, candidates, budget)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

// MockMCPClient is a mock implementation of usecase.MCPClient.
type MockMCPClient struct {
	mock.Mock
}

func (m *MockMCPClient) ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	args := m.Called(ctx, request)
	res, _ := args.Get(0).(*mcp.ListToolsResult)
	return res, args.Error(1)
}

func (m *MockMCPClient) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := m.Called(ctx, request)
	res, _ := args.Get(0).(*mcp.CallToolResult)
	return res, args.Error(1)
}

func (m *MockMCPClient) ListPrompts(ctx context.Context, request mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error) {
	args := m.Called(ctx, request)
	res, _ := args.Get(0).(*mcp.ListPromptsResult)
	return res, args.Error(1)
}

func (m *MockMCPClient) GetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := m.Called(ctx, request)
	res, _ := args.Get(0).(*mcp.GetPromptResult)
	return res, args.Error(1)
}

func (m *MockMCPClient) ListResources(ctx context.Context, request mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error) {
	args := m.Called(ctx, request)
	res, _ := args.Get(0).(*mcp.ListResourcesResult)
	return res, args.Error(1)
}

func (m *MockMCPClient) ReadResource(ctx context.Context, request mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	args := m.Called(ctx, request)
	res, _ := args.Get(0).(*mcp.ReadResourceResult)
	return res, args.Error(1)
}

func (m *MockMCPClient) Close() error {
	return m.Called().Error(0)
}

// staticRegistry is a ServerRegistry over a fixed set of entries.
type staticRegistry struct {
	servers map[string]*usecase.RunningServer
}

func (r *staticRegistry) Get(id string) (*usecase.RunningServer, bool) {
	rs, ok := r.servers[id]
	return rs, ok
}

func (r *staticRegistry) StartInternal(ctx context.Context, record *domain.McpData) (*usecase.RunningServer, error) {
	rs := &usecase.RunningServer{ID: record.ID, Status: usecase.StatusRunning}
	r.servers[record.ID] = rs
	return rs, nil
}

func (r *staticRegistry) ConnectExternal(ctx context.Context, server domain.ExternalServer) (*usecase.RunningServer, error) {
	rs := &usecase.RunningServer{ID: server.ID, Status: usecase.StatusRunning, External: true}
	r.servers[server.ID] = rs
	return rs, nil
}

func (r *staticRegistry) Stop(ctx context.Context, id string) error {
	if _, ok := r.servers[id]; !ok {
		return usecase.ErrServerNotRunning
	}
	delete(r.servers, id)
	return nil
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Emit(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// seedMcp stores an MCP with one group and returns the repository.
func seedMcp(t *testing.T, groups map[string]*domain.ApiGroup) *memrepo.InMemoryRepository {
	t.Helper()
	repo := memrepo.NewInMemoryRepository(newTestLogger())
	require.NoError(t, repo.CreateMcp(context.Background(), &domain.McpData{ID: "m1", Name: "demo", ApiGroups: groups}))
	return repo
}

func searchTool() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:         "petstore-searchPets",
		Description:  "Search the pet catalogue using a structured filter object with many options.",
		Method:       "POST",
		PathTemplate: "/pets/search",
		Tags:         []string{"petstore-pets"},
		InputSchema: domain.ObjectSchema(map[string]any{
			"type":     "object",
			"required": []any{"filter"},
			"properties": map[string]any{
				"filter": map[string]any{
					"type":     "object",
					"required": []any{"query"},
					"properties": map[string]any{
						"query": map[string]any{"type": "string", "description": "Free text query matched against names and tags."},
						"limit": map[string]any{"type": "integer", "minimum": float64(1)},
					},
				},
			},
		}),
	}
}

// flatSearch is a valid reduced variant of searchTool.
func flatSearch() domain.ToolTransform {
	return domain.ToolTransform{
		Name:        "petstore-findPets",
		Description: "Find pets.",
		InputSchema: domain.ObjectSchema(map[string]any{
			"type":     "object",
			"required": []any{"q"},
			"properties": map[string]any{
				"q":     map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer", "minimum": float64(1)},
			},
		}),
		Mapping: &domain.ArgumentMapping{
			Fields: []domain.FieldMapping{
				{From: "q", To: []string{"filter", "query"}},
				{From: "limit", To: []string{"filter", "limit"}},
			},
			Ensure: [][]string{{"filter"}},
		},
	}
}
