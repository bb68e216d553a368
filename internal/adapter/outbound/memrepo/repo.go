package memrepo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

// InMemoryRepository implements the API, MCP and override repositories in
// process memory. Records are copied on the way in and out.
// NOTE: This implementation is not persistent and data will be lost on restart.
type InMemoryRepository struct {
	mu        sync.RWMutex
	apis      map[string]domain.ApiRecord
	mcps      map[string]*domain.McpData
	overrides map[string]map[string]domain.ToolTransform
	logger    *slog.Logger
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository(logger *slog.Logger) *InMemoryRepository {
	return &InMemoryRepository{
		apis:      make(map[string]domain.ApiRecord),
		mcps:      make(map[string]*domain.McpData),
		overrides: make(map[string]map[string]domain.ToolTransform),
		logger:    logger.With("component", "mem_repo"),
	}
}

// SaveApi stores or replaces an API record.
func (r *InMemoryRepository) SaveApi(ctx context.Context, api domain.ApiRecord) error {
	if api.ID == "" {
		return fmt.Errorf("api record has no id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apis[api.ID] = api
	r.logger.Debug("Saved api", slog.String("api_id", api.ID))
	return nil
}

// GetApiByID returns the API record with the given id.
func (r *InMemoryRepository) GetApiByID(ctx context.Context, id string) (domain.ApiRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	api, ok := r.apis[id]
	if !ok {
		return domain.ApiRecord{}, fmt.Errorf("%w: %s", usecase.ErrApiNotFound, id)
	}
	return api, nil
}

// ListApis returns every API record ordered by id.
func (r *InMemoryRepository) ListApis(ctx context.Context) ([]domain.ApiRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]domain.ApiRecord, 0, len(r.apis))
	for _, api := range r.apis {
		list = append(list, api)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// CreateMcp stores a new MCP record at version 1.
func (r *InMemoryRepository) CreateMcp(ctx context.Context, mcp *domain.McpData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.mcps[mcp.ID]; exists {
		return fmt.Errorf("mcp %s already exists", mcp.ID)
	}
	stored := mcp.Clone()
	if stored.ApiGroups == nil {
		stored.ApiGroups = map[string]*domain.ApiGroup{}
	}
	stored.Version = 1
	stored.UpdatedAt = time.Now()
	r.mcps[mcp.ID] = stored
	mcp.Version = stored.Version
	mcp.UpdatedAt = stored.UpdatedAt
	return nil
}

// GetMcpByID returns a copy of the MCP record.
func (r *InMemoryRepository) GetMcpByID(ctx context.Context, id string) (*domain.McpData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mcp, ok := r.mcps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", usecase.ErrMcpNotFound, id)
	}
	return mcp.Clone(), nil
}

// UpdateMcp replaces the stored record if mcp.Version matches, bumping the
// version on both the stored record and mcp.
func (r *InMemoryRepository) UpdateMcp(ctx context.Context, mcp *domain.McpData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.mcps[mcp.ID]
	if !ok {
		return fmt.Errorf("%w: %s", usecase.ErrMcpNotFound, mcp.ID)
	}
	if current.Version != mcp.Version {
		r.logger.Warn("Rejected stale mcp write",
			slog.String("mcp_id", mcp.ID),
			slog.Int64("stored_version", current.Version),
			slog.Int64("write_version", mcp.Version))
		return usecase.ErrVersionConflict
	}
	stored := mcp.Clone()
	stored.Version++
	stored.UpdatedAt = time.Now()
	r.mcps[mcp.ID] = stored
	mcp.Version = stored.Version
	mcp.UpdatedAt = stored.UpdatedAt
	return nil
}

// DeleteMcp removes the MCP record.
func (r *InMemoryRepository) DeleteMcp(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mcps[id]; !ok {
		return fmt.Errorf("%w: %s", usecase.ErrMcpNotFound, id)
	}
	delete(r.mcps, id)
	return nil
}

// ListMcps returns copies of every MCP record ordered by id.
func (r *InMemoryRepository) ListMcps(ctx context.Context) ([]*domain.McpData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*domain.McpData, 0, len(r.mcps))
	for _, mcp := range r.mcps {
		list = append(list, mcp.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// GetOverrides returns the overrides of one external server keyed by
// original tool name.
func (r *InMemoryRepository) GetOverrides(ctx context.Context, serverID string) (map[string]domain.ToolTransform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.ToolTransform, len(r.overrides[serverID]))
	for name, o := range r.overrides[serverID] {
		o.InputSchema = o.InputSchema.Clone()
		out[name] = o
	}
	return out, nil
}

// SaveOverride stores or replaces the override of override.OriginalName.
func (r *InMemoryRepository) SaveOverride(ctx context.Context, serverID string, override domain.ToolTransform) error {
	if override.OriginalName == "" {
		return fmt.Errorf("override has no original tool name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overrides[serverID] == nil {
		r.overrides[serverID] = make(map[string]domain.ToolTransform)
	}
	override.InputSchema = override.InputSchema.Clone()
	r.overrides[serverID][override.OriginalName] = override
	return nil
}

// DeleteOverride removes the override of toolName.
func (r *InMemoryRepository) DeleteOverride(ctx context.Context, serverID, toolName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.overrides[serverID][toolName]; !ok {
		return fmt.Errorf("%w: %s/%s", usecase.ErrOverrideNotFound, serverID, toolName)
	}
	delete(r.overrides[serverID], toolName)
	return nil
}
