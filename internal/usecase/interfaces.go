package usecase

import (
	"context"
	"errors"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
)

// Standard errors returned by use cases and adapters.
var (
	ErrToolNotFound      = errors.New("tool not found")
	ErrApiNotFound       = errors.New("api not found")
	ErrMcpNotFound       = errors.New("mcp not found")
	ErrServerNotRunning  = errors.New("mcp server is not running")
	ErrVersionConflict   = errors.New("mcp record was modified concurrently")
	ErrDuplicateTool     = errors.New("duplicate tool name")
	ErrOverrideNotFound  = errors.New("tool override not found")
	ErrInvalidToolFilter = errors.New("invalid tool filter")
)

// --- API document source ---

// SchemaSourceConfig represents a schema source with optional configuration.
type SchemaSourceConfig struct {
	ID      string
	Name    string
	URL     string
	Headers map[string]string
}

// SchemaFetcher loads and dereferences OpenAPI documents.
type SchemaFetcher interface {
	Fetch(ctx context.Context, source string) (domain.ApiRecord, error)
	FetchWithConfig(ctx context.Context, config SchemaSourceConfig) (domain.ApiRecord, error)
}

// ToolExtractor converts selected endpoints of a dereferenced API document
// into tool definitions. Endpoints that cannot be resolved or converted are
// reported as failures; the error return is reserved for unusable documents.
type ToolExtractor interface {
	Extract(ctx context.Context, api domain.ApiRecord, endpoints []domain.Endpoint) ([]domain.ToolDefinition, []domain.ToolFailure, error)
}

// --- Persistence ---

// ApiRepository stores imported API documents.
type ApiRepository interface {
	SaveApi(ctx context.Context, api domain.ApiRecord) error
	GetApiByID(ctx context.Context, id string) (domain.ApiRecord, error)
	ListApis(ctx context.Context) ([]domain.ApiRecord, error)
}

// McpRepository stores MCP records. UpdateMcp must reject a record whose
// Version differs from the stored one with ErrVersionConflict, and bump the
// version of the record it persists.
type McpRepository interface {
	CreateMcp(ctx context.Context, mcp *domain.McpData) error
	GetMcpByID(ctx context.Context, id string) (*domain.McpData, error)
	UpdateMcp(ctx context.Context, mcp *domain.McpData) error
	DeleteMcp(ctx context.Context, id string) error
	ListMcps(ctx context.Context) ([]*domain.McpData, error)
}

// OverrideRepository stores per-tool overrides of external MCP servers,
// keyed by server id and original tool name.
type OverrideRepository interface {
	GetOverrides(ctx context.Context, serverID string) (map[string]domain.ToolTransform, error)
	SaveOverride(ctx context.Context, serverID string, override domain.ToolTransform) error
	DeleteOverride(ctx context.Context, serverID, toolName string) error
}

// MutationLocker serializes read-modify-write cycles on one MCP record.
type MutationLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// --- Collaborators ---

// EventSink receives tool lifecycle events. Emit must not block.
type EventSink interface {
	Emit(event domain.Event)
}

// TokenCounter measures serialized payload size in model tokens.
type TokenCounter interface {
	Count(payload any) int
}

// SizePolicy proposes a reduced variant of a tool definition. The returned
// transform's mapping must translate every argument of its schema to the
// original schema.
type SizePolicy interface {
	ProposeSize(ctx context.Context, tool domain.ToolDefinition, targetBudget int) (domain.ToolTransform, error)
}

// ToolCandidate is one tool offered to a SelectionPolicy.
type ToolCandidate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TokenCount  int    `json:"tokenCount"`
}

// SelectionPolicy chooses a subset of candidate tools that fits a context
// budget. Implementations may be non-deterministic.
type SelectionPolicy interface {
	ProposeSelection(ctx context.Context, candidates []ToolCandidate, contextBudget int) ([]string, error)
}

// ProjectGenerator renders a standalone server project for an MCP.
type ProjectGenerator interface {
	Generate(mcp *domain.McpData, opts BuildOptions) (domain.GeneratedProject, error)
}

// ProjectWriter persists a generated project below dir.
type ProjectWriter interface {
	Write(ctx context.Context, dir string, project domain.GeneratedProject) error
}

// ToolInvoker executes a tool call against its upstream API.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool domain.ToolDefinition, args map[string]any) (any, error)
}

// --- Live servers ---

// MCPClient is the subset of an MCP protocol client the runtime bridge uses.
type MCPClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ListPrompts(ctx context.Context, request mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	ListResources(ctx context.Context, request mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ReadResource(ctx context.Context, request mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	Close() error
}

// ServerStatus is the lifecycle state of a registered server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusStopped  ServerStatus = "stopped"
	StatusError    ServerStatus = "error"
)

// RunningServer is one registry entry.
type RunningServer struct {
	ID       string
	Status   ServerStatus
	External bool
	Client   MCPClient
}

// ServerRegistry tracks live MCP servers and their protocol clients.
type ServerRegistry interface {
	Get(id string) (*RunningServer, bool)
	StartInternal(ctx context.Context, mcp *domain.McpData) (*RunningServer, error)
	ConnectExternal(ctx context.Context, server domain.ExternalServer) (*RunningServer, error)
	Stop(ctx context.Context, id string) error
}

// MetricsObserver records optimization and tool call outcomes.
type MetricsObserver interface {
	ObserveOptimization(originalTokens, optimisedTokens int)
	ObserveToolCall(serverID string, isError bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOptimization(int, int) {}
func (noopMetrics) ObserveToolCall(string, bool) {}
