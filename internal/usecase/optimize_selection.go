package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/i2y/mcpforge/internal/domain"
)

// SelectionRequest asks for a subset of an MCP's tools that fits
// ContextBudget tokens. Candidates are advertised tool names; an empty
// list offers every tool of the MCP.
type SelectionRequest struct {
	McpID          string   `json:"mcpId"`
	ContextBudget  int      `json:"contextBudget"`
	CandidateTools []string `json:"candidateTools,omitempty"`
}

// OptimizeSelectionUseCase reduces a working set of tools to a context
// budget through a SelectionPolicy. Policies may be non-deterministic, so
// repeated calls can return different selections.
type OptimizeSelectionUseCase struct {
	repo    McpRepository
	policy  SelectionPolicy
	counter TokenCounter
	logger  *slog.Logger
}

// NewOptimizeSelectionUseCase creates a new OptimizeSelectionUseCase.
func NewOptimizeSelectionUseCase(repo McpRepository, policy SelectionPolicy, counter TokenCounter, logger *slog.Logger) *OptimizeSelectionUseCase {
	return &OptimizeSelectionUseCase{
		repo:    repo,
		policy:  policy,
		counter: counter,
		logger:  logger.With("usecase", "OptimizeSelection"),
	}
}

// Execute returns the selected advertised tool names. The result is always
// a subset of the candidates, in candidate order.
func (uc *OptimizeSelectionUseCase) Execute(ctx context.Context, req SelectionRequest) (domain.Result[[]string], error) {
	ctx, span := tracer.Start(ctx, "OptimizeToolSelection")
	defer span.End()

	if req.ContextBudget <= 0 {
		return domain.Fail[[]string]("Context budget must be positive"), nil
	}
	record, err := uc.repo.GetMcpByID(ctx, req.McpID)
	if err != nil {
		if errors.Is(err, ErrMcpNotFound) {
			return domain.Fail[[]string](fmt.Sprintf("MCP %s not found", req.McpID)), nil
		}
		return domain.Result[[]string]{}, err
	}

	all := AdvertisedTools(record)
	byName := make(map[string]domain.ToolSummary, len(all))
	order := make([]string, 0, len(all))
	for _, t := range all {
		byName[t.Name] = t
		order = append(order, t.Name)
	}
	if len(req.CandidateTools) > 0 {
		order = order[:0]
		seen := map[string]bool{}
		for _, name := range req.CandidateTools {
			if _, ok := byName[name]; !ok {
				uc.logger.Warn("Ignoring unknown candidate tool", slog.String("tool", name))
				continue
			}
			if !seen[name] {
				seen[name] = true
				order = append(order, name)
			}
		}
	}
	if len(order) == 0 {
		return domain.Ok("No candidate tools", []string{}), nil
	}

	candidates := make([]ToolCandidate, len(order))
	total := 0
	for i, name := range order {
		t := byName[name]
		candidates[i] = ToolCandidate{Name: name, Description: t.Description, TokenCount: uc.counter.Count(t)}
		total += candidates[i].TokenCount
	}
	if total <= req.ContextBudget {
		return domain.Ok(fmt.Sprintf("All %d tools fit the budget (%d tokens)", len(order), total), order), nil
	}

	proposed, err := uc.policy.ProposeSelection(ctx, candidates, req.ContextBudget)
	if err != nil {
		uc.logger.Warn("Selection policy failed", slog.String("mcp_id", req.McpID), slog.Any("error", err))
		return domain.Fail[[]string](fmt.Sprintf("Selection failed: %v", err)), nil
	}
	keep := make(map[string]bool, len(proposed))
	for _, name := range proposed {
		keep[name] = true
	}
	selected := make([]string, 0, len(proposed))
	used := 0
	for _, c := range candidates {
		if keep[c.Name] {
			selected = append(selected, c.Name)
			used += c.TokenCount
		}
	}
	uc.logger.Info("Selected tools",
		slog.String("mcp_id", req.McpID),
		slog.Int("candidates", len(candidates)),
		slog.Int("selected", len(selected)),
		slog.Int("tokens", used))
	return domain.Ok(fmt.Sprintf("Selected %d of %d tools (%d tokens)", len(selected), len(candidates), used), selected), nil
}

// AdvertisedTools returns the client-facing definitions of every tool of an
// MCP: the optimised variant when present, named with the group prefix.
// Groups are visited in api id order.
func AdvertisedTools(record *domain.McpData) []domain.ToolSummary {
	var out []domain.ToolSummary
	for _, id := range record.GroupIDs() {
		g := record.ApiGroups[id]
		for _, t := range g.Tools {
			out = append(out, domain.ToolSummary{
				Name:        domain.AdvertisedName(g.ToolPrefix, t.EffectiveName()),
				Description: t.EffectiveDescription(),
				InputSchema: t.EffectiveInputSchema(),
			})
		}
	}
	return out
}
