package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/i2y/mcpforge/internal/domain"
)

// LifecycleUseCase starts, connects and stops MCP servers through a
// ServerRegistry.
type LifecycleUseCase struct {
	repo     McpRepository
	registry ServerRegistry
	logger   *slog.Logger
}

// NewLifecycleUseCase creates a new LifecycleUseCase.
func NewLifecycleUseCase(repo McpRepository, registry ServerRegistry, logger *slog.Logger) *LifecycleUseCase {
	return &LifecycleUseCase{
		repo:     repo,
		registry: registry,
		logger:   logger.With("usecase", "Lifecycle"),
	}
}

// Start serves the stored MCP in-process. Starting a running MCP is a no-op.
func (uc *LifecycleUseCase) Start(ctx context.Context, mcpID string) (*RunningServer, error) {
	if rs, ok := uc.registry.Get(mcpID); ok && rs.Status == StatusRunning {
		return rs, nil
	}
	record, err := uc.repo.GetMcpByID(ctx, mcpID)
	if err != nil {
		return nil, err
	}
	rs, err := uc.registry.StartInternal(ctx, record)
	if err != nil {
		uc.logger.Error("Failed to start mcp", slog.String("mcp_id", mcpID), slog.Any("error", err))
		return nil, fmt.Errorf("failed to start mcp %s: %w", mcpID, err)
	}
	uc.logger.Info("Started mcp", slog.String("mcp_id", mcpID))
	return rs, nil
}

// ConnectExternal attaches to an MCP server managed elsewhere.
func (uc *LifecycleUseCase) ConnectExternal(ctx context.Context, server domain.ExternalServer) (*RunningServer, error) {
	if server.ID == "" {
		return nil, errors.New("external server id must not be empty")
	}
	rs, err := uc.registry.ConnectExternal(ctx, server)
	if err != nil {
		uc.logger.Error("Failed to connect external mcp", slog.String("server_id", server.ID), slog.Any("error", err))
		return nil, fmt.Errorf("failed to connect to %s: %w", server.ID, err)
	}
	uc.logger.Info("Connected external mcp", slog.String("server_id", server.ID), slog.String("transport", string(server.Transport)))
	return rs, nil
}

// Restart stops a running internal MCP and starts it again from the stored
// record, which picks up tool changes made since it was started.
func (uc *LifecycleUseCase) Restart(ctx context.Context, mcpID string) (*RunningServer, error) {
	if err := uc.Stop(ctx, mcpID); err != nil && !errors.Is(err, ErrServerNotRunning) {
		return nil, err
	}
	return uc.Start(ctx, mcpID)
}

// Stop closes the server's client and removes it from the registry.
func (uc *LifecycleUseCase) Stop(ctx context.Context, id string) error {
	if err := uc.registry.Stop(ctx, id); err != nil {
		return err
	}
	uc.logger.Info("Stopped mcp", slog.String("id", id))
	return nil
}

// Status reports the registry state of id; unknown ids are stopped.
func (uc *LifecycleUseCase) Status(id string) ServerStatus {
	if rs, ok := uc.registry.Get(id); ok {
		return rs.Status
	}
	return StatusStopped
}
