package mcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
	"github.com/i2y/mcpforge/pkg/toolserver"
)

// Registry implements usecase.ServerRegistry. Internal MCPs are served by
// pkg/toolserver in-process; external servers are reached over their own
// transport.
type Registry struct {
	router        toolserver.InvokerRouter
	clientName    string
	clientVersion string
	logger        *slog.Logger

	mu      sync.RWMutex
	servers map[string]*usecase.RunningServer
}

// NewRegistry creates a registry whose internal servers call upstream APIs
// through router.
func NewRegistry(router toolserver.InvokerRouter, clientName, clientVersion string, logger *slog.Logger) *Registry {
	return &Registry{
		router:        router,
		clientName:    clientName,
		clientVersion: clientVersion,
		logger:        logger.With("component", "server_registry"),
		servers:       make(map[string]*usecase.RunningServer),
	}
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (*usecase.RunningServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.servers[id]
	return rs, ok
}

// List returns a snapshot of every entry.
func (r *Registry) List() []usecase.RunningServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]usecase.RunningServer, 0, len(r.servers))
	for _, rs := range r.servers {
		out = append(out, *rs)
	}
	return out
}

// StartInternal serves record's tools and connects an in-process client.
// A previous entry for the same id is replaced.
func (r *Registry) StartInternal(ctx context.Context, record *domain.McpData) (*usecase.RunningServer, error) {
	log := r.logger.With(slog.String("mcp_id", record.ID))
	entries := toolserver.EntriesFromFiles(toolserver.ToolFilesFromMcp(record), nil)
	tools, err := toolserver.NewRegistry(entries, r.router, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	srv, err := toolserver.NewServer(record.Name, r.clientVersion, tools, r.logger)
	if err != nil {
		return nil, err
	}
	c, err := client.NewInProcessClient(srv.MCPServer())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-process client: %w", err)
	}
	if err := r.connect(ctx, c, true); err != nil {
		return nil, err
	}
	log.Info("Internal MCP server started", slog.Int("tools", tools.Len()))
	return r.put(&usecase.RunningServer{ID: record.ID, Status: usecase.StatusRunning, Client: c}), nil
}

// ConnectExternal connects to server over its declared transport. A
// failed connection is recorded with StatusError.
func (r *Registry) ConnectExternal(ctx context.Context, server domain.ExternalServer) (*usecase.RunningServer, error) {
	log := r.logger.With(slog.String("server_id", server.ID), slog.String("transport", string(server.Transport)))

	c, selfStarted, err := newExternalClient(server)
	if err == nil {
		err = r.connect(ctx, c, !selfStarted)
	}
	if err != nil {
		log.Error("Failed to connect external MCP server", slog.Any("error", err))
		r.put(&usecase.RunningServer{ID: server.ID, Status: usecase.StatusError, External: true})
		return nil, err
	}
	log.Info("External MCP server connected")
	return r.put(&usecase.RunningServer{ID: server.ID, Status: usecase.StatusRunning, External: true, Client: c}), nil
}

// Stop closes the entry's client and forgets it.
func (r *Registry) Stop(_ context.Context, id string) error {
	r.mu.Lock()
	rs, ok := r.servers[id]
	delete(r.servers, id)
	r.mu.Unlock()
	if !ok {
		return usecase.ErrServerNotRunning
	}
	if rs.Client != nil {
		if err := rs.Client.Close(); err != nil {
			r.logger.Warn("Failed to close MCP client", slog.String("id", id), slog.Any("error", err))
		}
	}
	return nil
}

// Close stops every entry.
func (r *Registry) Close(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		_ = r.Stop(ctx, id)
	}
}

func (r *Registry) put(rs *usecase.RunningServer) *usecase.RunningServer {
	r.mu.Lock()
	prev := r.servers[rs.ID]
	r.servers[rs.ID] = rs
	r.mu.Unlock()
	if prev != nil && prev.Client != nil {
		_ = prev.Client.Close()
	}
	return rs
}

func (r *Registry) connect(ctx context.Context, c *client.Client, start bool) error {
	if start {
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return fmt.Errorf("failed to start client transport: %w", err)
		}
	}
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: r.clientName, Version: r.clientVersion}
	if _, err := c.Initialize(ctx, req); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}
	return nil
}

// newExternalClient reports whether the client's transport is already
// running, which is the case for stdio subprocesses.
func newExternalClient(server domain.ExternalServer) (*client.Client, bool, error) {
	switch server.Transport {
	case domain.TransportStreamableHTTP:
		if server.URL == "" {
			return nil, false, fmt.Errorf("external server %s has no url", server.ID)
		}
		c, err := client.NewStreamableHttpClient(server.URL, transport.WithHTTPHeaders(server.Headers))
		return c, false, err
	case domain.TransportWeb:
		if server.URL == "" {
			return nil, false, fmt.Errorf("external server %s has no url", server.ID)
		}
		c, err := client.NewSSEMCPClient(server.URL, transport.WithHeaders(server.Headers))
		return c, false, err
	case domain.TransportStdio:
		if server.Command == "" {
			return nil, false, fmt.Errorf("external server %s has no command", server.ID)
		}
		c, err := client.NewStdioMCPClient(server.Command, server.Env, server.Args...)
		return c, true, err
	default:
		return nil, false, fmt.Errorf("unsupported transport %q for external server %s", server.Transport, server.ID)
	}
}

var _ usecase.ServerRegistry = (*Registry)(nil)
