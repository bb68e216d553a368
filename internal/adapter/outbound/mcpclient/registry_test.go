package mcpclient_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/internal/adapter/outbound/invoker"
	"github.com/i2y/mcpforge/internal/adapter/outbound/mcpclient"
	"github.com/i2y/mcpforge/internal/adapter/outbound/mockinvoker"
	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

func newRegistry() *mcpclient.Registry {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mock := mockinvoker.New(logger)
	return mcpclient.NewRegistry(invoker.NewRouter(mock, mock, logger), "mcpforge-test", "0.0.1", logger)
}

func demoRecord() *domain.McpData {
	return &domain.McpData{
		ID:   "m1",
		Name: "demo",
		ApiGroups: map[string]*domain.ApiGroup{
			"petstore": {
				Name:        "Petstore",
				ToolPrefix:  "ps_",
				UseMockData: true,
				Tools: []domain.ToolDefinition{{
					Name:         "petstore-getPet",
					Description:  "Get a pet.",
					Method:       "GET",
					PathTemplate: "/pets/{id}",
					InputSchema: domain.ObjectSchema(map[string]any{
						"type":       "object",
						"properties": map[string]any{"id": map[string]any{"type": "integer"}},
						"required":   []any{"id"},
					}),
					ResponseSchema: &domain.JSONSchema{Object: map[string]any{
						"type":       "object",
						"properties": map[string]any{"name": map[string]any{"type": "string"}},
					}},
				}},
			},
		},
	}
}

func TestRegistry_StartInternal(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()
	t.Cleanup(func() { reg.Close(ctx) })

	rs, err := reg.StartInternal(ctx, demoRecord())
	require.NoError(t, err)
	assert.Equal(t, usecase.StatusRunning, rs.Status)
	assert.False(t, rs.External)

	got, ok := reg.Get("m1")
	require.True(t, ok)
	assert.Same(t, rs, got)

	list, err := rs.Client.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "ps_petstore-getPet", list.Tools[0].Name)

	req := mcp.CallToolRequest{}
	req.Params.Name = "ps_petstore-getPet"
	req.Params.Arguments = map[string]any{"id": 7}
	res, err := rs.Client.CallTool(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"name"`)

	require.NoError(t, reg.Stop(ctx, "m1"))
	_, ok = reg.Get("m1")
	assert.False(t, ok)
	assert.ErrorIs(t, reg.Stop(ctx, "m1"), usecase.ErrServerNotRunning)
}

func TestRegistry_ConnectExternalFailures(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()

	tests := []struct {
		name   string
		server domain.ExternalServer
	}{
		{name: "missing url", server: domain.ExternalServer{ID: "a", Transport: domain.TransportStreamableHTTP}},
		{name: "missing command", server: domain.ExternalServer{ID: "b", Transport: domain.TransportStdio}},
		{name: "unknown transport", server: domain.ExternalServer{ID: "c", Transport: "carrier-pigeon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.ConnectExternal(ctx, tt.server)
			require.Error(t, err)
			rs, ok := reg.Get(tt.server.ID)
			require.True(t, ok)
			assert.Equal(t, usecase.StatusError, rs.Status)
			assert.True(t, rs.External)
			assert.Nil(t, rs.Client)
		})
	}
}
