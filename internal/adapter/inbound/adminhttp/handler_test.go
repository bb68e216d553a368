package adminhttp_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/internal/adapter/inbound/adminhttp"
	"github.com/i2y/mcpforge/internal/adapter/outbound/codegen"
	"github.com/i2y/mcpforge/internal/adapter/outbound/events"
	"github.com/i2y/mcpforge/internal/adapter/outbound/filewriter"
	"github.com/i2y/mcpforge/internal/adapter/outbound/invoker"
	"github.com/i2y/mcpforge/internal/adapter/outbound/mcpclient"
	"github.com/i2y/mcpforge/internal/adapter/outbound/memrepo"
	"github.com/i2y/mcpforge/internal/adapter/outbound/mockinvoker"
	"github.com/i2y/mcpforge/internal/adapter/outbound/openapi"
	"github.com/i2y/mcpforge/internal/adapter/outbound/policy"
	"github.com/i2y/mcpforge/internal/adapter/outbound/tokenizer"
	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

const petstoreYAML = `
openapi: 3.0.3
info:
  title: Petstore
  version: 1.0.0
paths:
  /pets:
    get:
      operationId: listPets
      tags: [pets]
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                type: array
                items:
                  type: object
                  properties:
                    name:
                      type: string
    post:
      operationId: createPet
      tags: [pets]
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                name:
                  type: string
      responses:
        "201":
          description: created
`

type fixture struct {
	server *httptest.Server
	bus    *events.Bus
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = io.WriteString(w, petstoreYAML)
	}))
	t.Cleanup(upstream.Close)

	repo := memrepo.NewInMemoryRepository(logger)
	locker := memrepo.NewKeyedLocker()
	counter := tokenizer.New("", logger)
	bus := events.NewBus(logger)
	sizePolicy := policy.NewHeuristicSize(counter, logger)
	mock := mockinvoker.New(logger)
	registry := mcpclient.NewRegistry(invoker.NewRouter(mock, mock, logger), "mcpforge-test", "0.0.1", logger)
	t.Cleanup(func() { registry.Close(context.Background()) })
	generator, err := codegen.New(logger)
	require.NoError(t, err)

	deps := adminhttp.Deps{
		Import: usecase.NewImportApiUseCase(openapi.NewSchemaFetcher(upstream.Client(), logger), repo, logger),
		Tools: usecase.NewManageToolsUseCase(repo, locker,
			usecase.NewGenerateToolsUseCase(repo, openapi.NewExtractor(logger), logger), bus, logger),
		Size:       usecase.NewOptimizeSizeUseCase(repo, locker, sizePolicy, counter, bus, nil, logger),
		Selection:  usecase.NewOptimizeSelectionUseCase(repo, policy.GreedySelection{}, counter, logger),
		Build:      usecase.NewBuildServerUseCase(repo, generator, filewriter.New(logger), logger),
		Lifecycle:  usecase.NewLifecycleUseCase(repo, registry, logger),
		Bridge:     usecase.NewRuntimeBridgeUseCase(registry, repo, repo, counter, sizePolicy, nil, logger),
		Counter:    counter,
		Events:     bus,
		OutputRoot: t.TempDir(),
	}
	server := httptest.NewServer(adminhttp.NewHandlers(deps, logger).Routes())
	t.Cleanup(server.Close)

	// Import through the API so the fixture exercises the fetcher.
	resp, body := do(t, server, http.MethodPost, "/apis", map[string]any{"id": "petstore", "url": upstream.URL + "/openapi.yaml"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	return fixture{server: server, bus: bus}
}

func do(t *testing.T, server *httptest.Server, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	switch p := payload.(type) {
	case nil:
	case string:
		body = strings.NewReader(p)
	default:
		data, err := json.Marshal(p)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, server.URL+path, body)
	require.NoError(t, err)
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func decodeInto[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func createMcp(t *testing.T, f fixture) string {
	t.Helper()
	resp, body := do(t, f.server, http.MethodPost, "/mcps", map[string]any{"name": "demo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	record := decodeInto[domain.McpData](t, body)
	require.NotEmpty(t, record.ID)

	resp, body = do(t, f.server, http.MethodPost, "/mcps/"+record.ID+"/tools", map[string]any{
		"petstore": map[string]any{"endpoints": []map[string]string{
			{"path": "/pets", "method": "GET"},
			{"path": "/pets", "method": "POST"},
		}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	return record.ID
}

func TestAdminAPI_ToolCuration(t *testing.T) {
	f := newFixture(t)

	resp, body := do(t, f.server, http.MethodGet, "/apis", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	apis := decodeInto[[]map[string]any](t, body)
	require.Len(t, apis, 1)
	assert.Equal(t, "Petstore", apis[0]["name"])

	mcpID := createMcp(t, f)

	resp, body = do(t, f.server, http.MethodGet, "/mcps/"+mcpID+"/tools", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tools := decodeInto[[]domain.ToolSummary](t, body)
	require.Len(t, tools, 2)
	assert.Equal(t, "Petstore-listPets", tools[0].Name)
	assert.Equal(t, "Petstore-createPet", tools[1].Name)

	resp, body = do(t, f.server, http.MethodPost, "/mcps/"+mcpID+"/groups/petstore/tools/Petstore-createPet/rename",
		map[string]string{"newName": "Petstore-addPet"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	renamed := decodeInto[domain.Result[usecase.RenamePair]](t, body)
	assert.Equal(t, usecase.RenamePair{OldName: "Petstore-createPet", NewName: "Petstore-addPet"}, renamed.Data)

	resp, body = do(t, f.server, http.MethodDelete, "/mcps/"+mcpID+"/groups/petstore/tools/ghost", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	failed := decodeInto[domain.Result[string]](t, body)
	assert.False(t, failed.Success)
	assert.Equal(t, "Tool ghost not found", failed.Message)

	resp, body = do(t, f.server, http.MethodPost, "/mcps/"+mcpID+"/selection", map[string]any{"contextBudget": 100000})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	selected := decodeInto[domain.Result[[]string]](t, body)
	assert.ElementsMatch(t, []string{"Petstore-listPets", "Petstore-addPet"}, selected.Data)

	resp, body = do(t, f.server, http.MethodPost, "/mcps/"+mcpID+"/build", map[string]any{"transport": "stdio"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	built := decodeInto[domain.Result[usecase.BuiltProject]](t, body)
	assert.Contains(t, built.Data.Files, "tools/petstore.json")

	resp, _ = do(t, f.server, http.MethodGet, "/mcps/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, f.server, http.MethodPost, "/mcps", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, f.server, http.MethodDelete, "/mcps/"+mcpID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAdminAPI_RuntimeBridge(t *testing.T) {
	f := newFixture(t)
	mcpID := createMcp(t, f)

	resp, _ := do(t, f.server, http.MethodGet, "/servers/"+mcpID+"/tools", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "server must be started first")

	resp, body := do(t, f.server, http.MethodPatch, "/mcps/"+mcpID+"/groups/petstore", map[string]any{"useMockData": true})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = do(t, f.server, http.MethodPost, "/servers/"+mcpID+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "running", decodeInto[map[string]any](t, body)["status"])

	resp, body = do(t, f.server, http.MethodGet, "/servers/"+mcpID+"/tools", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	bridged := decodeInto[[]map[string]any](t, body)
	require.Len(t, bridged, 2)
	names := []any{bridged[0]["name"], bridged[1]["name"]}
	assert.ElementsMatch(t, []any{"Petstore-listPets", "Petstore-createPet"}, names)
	assert.NotZero(t, bridged[0]["tokenCount"])

	resp, body = do(t, f.server, http.MethodPost, "/servers/"+mcpID+"/tools/call",
		map[string]any{"name": "Petstore-listPets", "arguments": map[string]any{}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	result := decodeInto[map[string]any](t, body)
	assert.NotEqual(t, true, result["isError"])

	resp, _ = do(t, f.server, http.MethodPost, "/servers/"+mcpID+"/stop", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = do(t, f.server, http.MethodGet, "/servers/"+mcpID+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stopped", decodeInto[map[string]any](t, body)["status"])
}

func TestAdminAPI_TokensAndHealth(t *testing.T) {
	f := newFixture(t)

	resp, body := do(t, f.server, http.MethodPost, "/tokens/count", map[string]any{"text": "hello world"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Positive(t, decodeInto[map[string]int](t, body)["tokens"])

	resp, _ = do(t, f.server, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminAPI_EventStream(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	f.bus.Emit(domain.Event{Type: domain.EventToolAdded, McpID: "m1", ToolName: "petstore-listPets"})

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			var e domain.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
			assert.Equal(t, domain.EventToolAdded, e.Type)
			assert.Equal(t, "petstore-listPets", e.ToolName)
			return
		}
	}
}
