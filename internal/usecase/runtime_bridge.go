package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/i2y/mcpforge/internal/domain"
)

// BridgedTool is a tool listed by a live server, annotated with the
// optimization state stored for it.
type BridgedTool struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	InputSchema domain.JSONSchema `json:"inputSchema"`
	TokenCount  int               `json:"tokenCount"`
	ApiID       string            `json:"apiId,omitempty"`
	// OriginalName is the tool's name before optimization or override.
	OriginalName       string `json:"originalName,omitempty"`
	OriginalTokenCount int    `json:"originalTokenCount,omitempty"`
	Optimised          bool   `json:"optimised"`
	Overridden         bool   `json:"overridden,omitempty"`
	// OriginalDefinition is only set while the tool is optimised or overridden.
	OriginalDefinition *domain.ToolSummary `json:"originalDefinition,omitempty"`
	Diff               string              `json:"diff,omitempty"`
}

// RuntimeBridgeUseCase talks to running MCP servers through their protocol
// clients. Calls are proxied without retry or caching; client errors are
// returned unchanged.
type RuntimeBridgeUseCase struct {
	registry  ServerRegistry
	repo      McpRepository
	overrides OverrideRepository
	counter   TokenCounter
	policy    SizePolicy
	metrics   MetricsObserver
	logger    *slog.Logger
}

// NewRuntimeBridgeUseCase creates a new RuntimeBridgeUseCase. policy and
// metrics may be nil.
func NewRuntimeBridgeUseCase(
	registry ServerRegistry,
	repo McpRepository,
	overrides OverrideRepository,
	counter TokenCounter,
	policy SizePolicy,
	metrics MetricsObserver,
	logger *slog.Logger,
) *RuntimeBridgeUseCase {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &RuntimeBridgeUseCase{
		registry:  registry,
		repo:      repo,
		overrides: overrides,
		counter:   counter,
		policy:    policy,
		metrics:   metrics,
		logger:    logger.With("usecase", "RuntimeBridge"),
	}
}

func (uc *RuntimeBridgeUseCase) running(id string) (*RunningServer, error) {
	rs, ok := uc.registry.Get(id)
	if !ok || rs.Status != StatusRunning || rs.Client == nil {
		return nil, fmt.Errorf("%w: %s", ErrServerNotRunning, id)
	}
	return rs, nil
}

// GetTools lists the tools of a running server. Tools of an internal MCP
// carry their stored optimization state; tools of an external server are
// replaced by their override when one exists.
func (uc *RuntimeBridgeUseCase) GetTools(ctx context.Context, id string) ([]BridgedTool, error) {
	rs, err := uc.running(id)
	if err != nil {
		return nil, err
	}
	listed, err := rs.Client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.ToolSummary, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		s, err := summaryOf(t)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	if rs.External {
		return uc.annotateExternal(ctx, id, summaries)
	}
	return uc.annotateInternal(ctx, id, summaries)
}

func (uc *RuntimeBridgeUseCase) annotateInternal(ctx context.Context, mcpID string, listed []domain.ToolSummary) ([]BridgedTool, error) {
	record, err := uc.repo.GetMcpByID(ctx, mcpID)
	if err != nil {
		return nil, err
	}
	out := make([]BridgedTool, 0, len(listed))
	for _, s := range listed {
		bt := BridgedTool{Name: s.Name, Description: s.Description, InputSchema: s.InputSchema}
		apiID, tool, ok := lookupAdvertised(record, s.Name)
		if !ok {
			bt.TokenCount = uc.counter.Count(s)
			out = append(out, bt)
			continue
		}
		bt.ApiID = apiID
		bt.OriginalTokenCount = tool.OriginalTokenCount
		if bt.OriginalTokenCount == 0 {
			bt.OriginalTokenCount = uc.counter.Count(tool.Summary())
		}
		bt.TokenCount = bt.OriginalTokenCount
		if tool.IsOptimised() {
			orig := tool.Summary()
			orig.Name = domain.AdvertisedName(record.ApiGroups[apiID].ToolPrefix, tool.Name)
			bt.Optimised = true
			bt.OriginalName = tool.Name
			bt.OriginalDefinition = &orig
			bt.TokenCount = tool.OptimisedTokenCount
			if bt.TokenCount == 0 {
				bt.TokenCount = uc.counter.Count(tool.Optimised.Summary())
			}
		}
		out = append(out, bt)
	}
	return out, nil
}

func (uc *RuntimeBridgeUseCase) annotateExternal(ctx context.Context, serverID string, listed []domain.ToolSummary) ([]BridgedTool, error) {
	overrides, err := uc.overrides.GetOverrides(ctx, serverID)
	if err != nil {
		return nil, err
	}
	out := make([]BridgedTool, 0, len(listed))
	for _, s := range listed {
		o, ok := overrides[s.Name]
		if !ok {
			out = append(out, BridgedTool{Name: s.Name, Description: s.Description, InputSchema: s.InputSchema, TokenCount: uc.counter.Count(s)})
			continue
		}
		orig := s
		out = append(out, BridgedTool{
			Name:               o.Name,
			Description:        o.Description,
			InputSchema:        o.InputSchema,
			TokenCount:         uc.counter.Count(o.Summary()),
			OriginalName:       s.Name,
			OriginalTokenCount: uc.counter.Count(s),
			Overridden:         true,
			OriginalDefinition: &orig,
			Diff:               DefinitionDiff(s, o.Summary()),
		})
	}
	return out, nil
}

// CallTool invokes a tool of a running server. For an external server the
// overridden name and arguments are translated back to the original tool
// before the call is forwarded.
func (uc *RuntimeBridgeUseCase) CallTool(ctx context.Context, id, name string, args map[string]any) (*mcp.CallToolResult, error) {
	rs, err := uc.running(id)
	if err != nil {
		return nil, err
	}
	if rs.External {
		overrides, err := uc.overrides.GetOverrides(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, o := range overrides {
			if o.Name != name {
				continue
			}
			translated, err := o.ToOriginal(args)
			if err != nil {
				return nil, fmt.Errorf("failed to translate arguments of %s: %w", name, err)
			}
			uc.logger.Debug("Translated overridden tool call", slog.String("tool", name), slog.String("original", o.OriginalName))
			name, args = o.OriginalName, translated
			break
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := rs.Client.CallTool(ctx, req)
	uc.metrics.ObserveToolCall(id, err != nil || (res != nil && res.IsError))
	return res, err
}

// ListPrompts proxies prompts/list.
func (uc *RuntimeBridgeUseCase) ListPrompts(ctx context.Context, id string) (*mcp.ListPromptsResult, error) {
	rs, err := uc.running(id)
	if err != nil {
		return nil, err
	}
	return rs.Client.ListPrompts(ctx, mcp.ListPromptsRequest{})
}

// GetPrompt proxies prompts/get.
func (uc *RuntimeBridgeUseCase) GetPrompt(ctx context.Context, id, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	rs, err := uc.running(id)
	if err != nil {
		return nil, err
	}
	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return rs.Client.GetPrompt(ctx, req)
}

// ListResources proxies resources/list.
func (uc *RuntimeBridgeUseCase) ListResources(ctx context.Context, id string) (*mcp.ListResourcesResult, error) {
	rs, err := uc.running(id)
	if err != nil {
		return nil, err
	}
	return rs.Client.ListResources(ctx, mcp.ListResourcesRequest{})
}

// ReadResource proxies resources/read.
func (uc *RuntimeBridgeUseCase) ReadResource(ctx context.Context, id, uri string) (*mcp.ReadResourceResult, error) {
	rs, err := uc.running(id)
	if err != nil {
		return nil, err
	}
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return rs.Client.ReadResource(ctx, req)
}

// SetOverride stores an override for a tool of an external server. When the
// server is running, the override is checked against the listed tool.
func (uc *RuntimeBridgeUseCase) SetOverride(ctx context.Context, serverID string, override domain.ToolTransform) (domain.Result[domain.ToolTransform], error) {
	if override.Name == "" {
		override.Name = override.OriginalName
	}
	if err := override.Mapping.Validate(); err != nil {
		return domain.Fail[domain.ToolTransform](fmt.Sprintf("Override mapping is not invertible: %v", err)), nil
	}
	if original, err := uc.listedTool(ctx, serverID, override.OriginalName); err == nil {
		if err := CheckTransform(original.InputSchema, override); err != nil {
			return domain.Fail[domain.ToolTransform](fmt.Sprintf("Override is invalid: %v", err)), nil
		}
	} else if errors.Is(err, ErrToolNotFound) {
		return domain.Fail[domain.ToolTransform](fmt.Sprintf("Tool %s not found on %s", override.OriginalName, serverID)), nil
	}
	if err := uc.overrides.SaveOverride(ctx, serverID, override); err != nil {
		return domain.Result[domain.ToolTransform]{}, fmt.Errorf("failed to save override: %w", err)
	}
	return domain.Ok(fmt.Sprintf("Override saved for %s", override.OriginalName), override), nil
}

// RemoveOverride deletes an override. The returned pair lets callers
// migrate references from the overridden name back to the original one.
func (uc *RuntimeBridgeUseCase) RemoveOverride(ctx context.Context, serverID, toolName string) (domain.Result[RenamePair], error) {
	overrides, err := uc.overrides.GetOverrides(ctx, serverID)
	if err != nil {
		return domain.Result[RenamePair]{}, err
	}
	o, ok := overrides[toolName]
	if !ok {
		return domain.Fail[RenamePair](fmt.Sprintf("No override for %s", toolName)), nil
	}
	if err := uc.overrides.DeleteOverride(ctx, serverID, toolName); err != nil {
		return domain.Result[RenamePair]{}, err
	}
	return domain.Ok(fmt.Sprintf("Override removed for %s", toolName), RenamePair{OldName: o.Name, NewName: o.OriginalName}), nil
}

// OptimizeExternalTool asks the size policy for a reduced variant of a
// tool listed by an external server and stores it as the tool's override.
func (uc *RuntimeBridgeUseCase) OptimizeExternalTool(ctx context.Context, serverID, toolName string, targetBudget int) (domain.Result[domain.ToolTransform], error) {
	if uc.policy == nil {
		return domain.Fail[domain.ToolTransform]("No size policy configured"), nil
	}
	listed, err := uc.listedTool(ctx, serverID, toolName)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			return domain.Fail[domain.ToolTransform](fmt.Sprintf("Tool %s not found on %s", toolName, serverID)), nil
		}
		return domain.Result[domain.ToolTransform]{}, err
	}
	tool := domain.ToolDefinition{Name: listed.Name, Description: listed.Description, InputSchema: listed.InputSchema}
	proposal, err := uc.policy.ProposeSize(ctx, tool, targetBudget)
	if err != nil {
		return domain.Fail[domain.ToolTransform](fmt.Sprintf("Optimization failed: %v", err)), nil
	}
	proposal.OriginalName = listed.Name
	if proposal.Name == "" {
		proposal.Name = listed.Name
	}
	if err := CheckTransform(listed.InputSchema, proposal); err != nil {
		return domain.Fail[domain.ToolTransform](fmt.Sprintf("Optimised definition is invalid: %v", err)), nil
	}
	original, optimised := uc.counter.Count(listed), uc.counter.Count(proposal.Summary())
	if optimised >= original {
		return domain.Fail[domain.ToolTransform](fmt.Sprintf("Optimised definition is not smaller (%d >= %d tokens)", optimised, original)), nil
	}
	if err := uc.overrides.SaveOverride(ctx, serverID, proposal); err != nil {
		return domain.Result[domain.ToolTransform]{}, fmt.Errorf("failed to save override: %w", err)
	}
	uc.metrics.ObserveOptimization(original, optimised)
	return domain.Ok(fmt.Sprintf("Reduced %s from %d to %d tokens", toolName, original, optimised), proposal), nil
}

// listedTool returns the original definition of a tool of a running server.
func (uc *RuntimeBridgeUseCase) listedTool(ctx context.Context, serverID, name string) (domain.ToolSummary, error) {
	rs, err := uc.running(serverID)
	if err != nil {
		return domain.ToolSummary{}, err
	}
	listed, err := rs.Client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return domain.ToolSummary{}, err
	}
	for _, t := range listed.Tools {
		if t.Name == name {
			return summaryOf(t)
		}
	}
	return domain.ToolSummary{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

// lookupAdvertised finds the stored tool advertised under name.
func lookupAdvertised(record *domain.McpData, name string) (string, domain.ToolDefinition, bool) {
	for _, apiID := range record.GroupIDs() {
		g := record.ApiGroups[apiID]
		for _, t := range g.Tools {
			if domain.AdvertisedName(g.ToolPrefix, t.EffectiveName()) == name {
				return apiID, t, true
			}
		}
	}
	return "", domain.ToolDefinition{}, false
}

func summaryOf(t mcp.Tool) (domain.ToolSummary, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return domain.ToolSummary{}, fmt.Errorf("failed to encode tool %s: %w", t.Name, err)
	}
	var s domain.ToolSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.ToolSummary{}, fmt.Errorf("failed to decode tool %s: %w", t.Name, err)
	}
	return s, nil
}
