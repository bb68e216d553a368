package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/i2y/mcpforge/internal/domain"
)

var tracer = otel.Tracer("github.com/i2y/mcpforge/internal/usecase")

const maxMutationAttempts = 3

// mcpMutator runs read-modify-write cycles on one MCP record. Cycles on the
// same id are serialized by the locker, and a stale write detected by the
// repository is retried on a fresh copy.
type mcpMutator struct {
	repo   McpRepository
	locker MutationLocker
	logger *slog.Logger
}

// mutate loads the record, applies fn and persists the result. When fn
// returns an error nothing is written and the error is returned unchanged.
func (m mcpMutator) mutate(ctx context.Context, mcpID string, fn func(*domain.McpData) error) (*domain.McpData, error) {
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, mcpID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock mcp %s: %w", mcpID, err)
		}
		defer unlock()
	}

	var lastErr error
	for attempt := 1; attempt <= maxMutationAttempts; attempt++ {
		record, err := m.repo.GetMcpByID(ctx, mcpID)
		if err != nil {
			return nil, err
		}
		if record.ApiGroups == nil {
			record.ApiGroups = map[string]*domain.ApiGroup{}
		}
		if err := fn(record); err != nil {
			return nil, err
		}
		record.Prune()

		err = m.repo.UpdateMcp(ctx, record)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("failed to update mcp %s: %w", mcpID, err)
		}
		m.logger.Warn("Concurrent modification detected, retrying",
			slog.String("mcp_id", mcpID), slog.Int("attempt", attempt))
		lastErr = err
	}
	return nil, fmt.Errorf("failed to update mcp %s after %d attempts: %w", mcpID, maxMutationAttempts, lastErr)
}

// findTool locates a tool by its stored name inside one group.
func findTool(record *domain.McpData, apiID, toolName string) (*domain.ApiGroup, int, error) {
	group, ok := record.ApiGroups[apiID]
	if !ok || group == nil {
		return nil, -1, fmt.Errorf("%w: api group %s", ErrToolNotFound, apiID)
	}
	idx := group.FindTool(toolName)
	if idx < 0 {
		return nil, -1, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}
	return group, idx, nil
}

// nameTaken reports whether name is used by any tool of the record other
// than the one at (apiID, idx), either as stored or as optimised name.
func nameTaken(record *domain.McpData, name, apiID string, idx int) bool {
	for id, g := range record.ApiGroups {
		for i, t := range g.Tools {
			if id == apiID && i == idx {
				continue
			}
			if t.Name == name || t.EffectiveName() == name {
				return true
			}
		}
	}
	return false
}
