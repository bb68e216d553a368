package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/i2y/mcpforge/internal/domain"
)

// OptimizeSizeRequest selects the tool to optimize. A TargetBudget <= 0
// asks the policy for its smallest proposal.
type OptimizeSizeRequest struct {
	McpID        string `json:"mcpId"`
	ApiID        string `json:"apiId"`
	ToolName     string `json:"toolName"`
	TargetBudget int    `json:"targetBudget,omitempty"`
}

// OptimizedTool is the data of a successful optimization.
type OptimizedTool struct {
	Names               RenamePair           `json:"names"`
	OriginalTokenCount  int                  `json:"originalTokenCount"`
	OptimisedTokenCount int                  `json:"optimisedTokenCount"`
	Optimised           domain.ToolTransform `json:"optimised"`
	// Diff is a patch from the original to the optimised definition.
	Diff string `json:"diff"`
}

// OptimizeSizeUseCase moves tools between the original and the optimised
// state. Both directions are single writes of the MCP record.
type OptimizeSizeUseCase struct {
	mutator mcpMutator
	repo    McpRepository
	policy  SizePolicy
	counter TokenCounter
	events  EventSink
	metrics MetricsObserver
	logger  *slog.Logger
}

// NewOptimizeSizeUseCase creates a new OptimizeSizeUseCase. metrics may be nil.
func NewOptimizeSizeUseCase(
	repo McpRepository,
	locker MutationLocker,
	policy SizePolicy,
	counter TokenCounter,
	events EventSink,
	metrics MetricsObserver,
	logger *slog.Logger,
) *OptimizeSizeUseCase {
	logger = logger.With("usecase", "OptimizeSize")
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &OptimizeSizeUseCase{
		mutator: mcpMutator{repo: repo, locker: locker, logger: logger},
		repo:    repo,
		policy:  policy,
		counter: counter,
		events:  events,
		metrics: metrics,
		logger:  logger,
	}
}

// Optimize asks the size policy for a reduced definition and stores it on
// the tool. The proposal is rejected, and storage left untouched, unless
// its schema compiles, its mapping is invertible and reaches only
// arguments of the original schema, and it costs strictly fewer tokens.
func (uc *OptimizeSizeUseCase) Optimize(ctx context.Context, req OptimizeSizeRequest) (result domain.Result[OptimizedTool], err error) {
	ctx, span := tracer.Start(ctx, "OptimizeToolSize")
	defer span.End()
	span.SetAttributes(attribute.String("mcp.id", req.McpID), attribute.String("tool.name", req.ToolName))

	log := uc.logger.With(slog.String("mcp_id", req.McpID), slog.String("tool", req.ToolName))
	uc.emit(domain.Event{Type: domain.EventToolOptimizeStarted, McpID: req.McpID, ApiID: req.ApiID, ToolName: req.ToolName})
	defer func() {
		uc.emit(domain.Event{Type: domain.EventToolOptimizeEnded, McpID: req.McpID, ApiID: req.ApiID, ToolName: req.ToolName, Success: err == nil && result.Success})
	}()

	record, err := uc.repo.GetMcpByID(ctx, req.McpID)
	if err != nil {
		if errors.Is(err, ErrMcpNotFound) {
			return domain.Fail[OptimizedTool](fmt.Sprintf("MCP %s not found", req.McpID)), nil
		}
		return domain.Result[OptimizedTool]{}, err
	}
	group, idx, err := findTool(record, req.ApiID, req.ToolName)
	if err != nil {
		return domain.Fail[OptimizedTool](fmt.Sprintf("Tool %s not found", req.ToolName)), nil
	}
	tool := group.Tools[idx]
	if tool.IsOptimised() {
		return domain.Fail[OptimizedTool](fmt.Sprintf("Tool %s is already optimised", req.ToolName)), nil
	}

	proposal, err := uc.policy.ProposeSize(ctx, tool.Clone(), req.TargetBudget)
	if err != nil {
		log.Warn("Size policy failed", slog.Any("error", err))
		return domain.Fail[OptimizedTool](fmt.Sprintf("Optimization failed: %v", err)), nil
	}
	proposal.OriginalName = tool.Name
	if proposal.Name == "" {
		proposal.Name = tool.Name
	}
	if err := CheckTransform(tool.InputSchema, proposal); err != nil {
		log.Warn("Rejected optimization proposal", slog.Any("error", err))
		return domain.Fail[OptimizedTool](fmt.Sprintf("Optimised definition is invalid: %v", err)), nil
	}

	original := uc.counter.Count(tool.Summary())
	optimised := uc.counter.Count(proposal.Summary())
	if optimised >= original {
		log.Info("Optimization did not reduce size", slog.Int("original_tokens", original), slog.Int("optimised_tokens", optimised))
		return domain.Fail[OptimizedTool](fmt.Sprintf("Optimised definition is not smaller (%d >= %d tokens)", optimised, original)), nil
	}

	var data OptimizedTool
	_, err = uc.mutator.mutate(ctx, req.McpID, func(fresh *domain.McpData) error {
		g, i, err := findTool(fresh, req.ApiID, req.ToolName)
		if err != nil {
			return err
		}
		current := &g.Tools[i]
		if current.IsOptimised() {
			return errAlreadyOptimised
		}
		if proposal.Name != current.Name && nameTaken(fresh, proposal.Name, req.ApiID, i) {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, proposal.Name)
		}
		applied := proposal
		current.Optimised = &applied
		current.OriginalTokenCount = original
		current.OptimisedTokenCount = optimised
		data = OptimizedTool{
			Names: RenamePair{
				OldName: domain.AdvertisedName(g.ToolPrefix, current.Name),
				NewName: domain.AdvertisedName(g.ToolPrefix, proposal.Name),
			},
			OriginalTokenCount:  original,
			OptimisedTokenCount: optimised,
			Optimised:           proposal,
			Diff:                DefinitionDiff(current.Summary(), proposal.Summary()),
		}
		return nil
	})
	if errors.Is(err, errAlreadyOptimised) {
		return domain.Fail[OptimizedTool](fmt.Sprintf("Tool %s is already optimised", req.ToolName)), nil
	}
	if res, handled := routineFailure[OptimizedTool](err, req.McpID, req.ToolName); handled {
		return res, nil
	}
	if err != nil {
		span.RecordError(err)
		log.Error("Failed to store optimised tool", slog.Any("error", err))
		return domain.Result[OptimizedTool]{}, err
	}

	uc.metrics.ObserveOptimization(original, optimised)
	log.Info("Optimised tool", slog.Int("original_tokens", original), slog.Int("optimised_tokens", optimised))
	return domain.Ok(fmt.Sprintf("Reduced %s from %d to %d tokens", req.ToolName, original, optimised), data), nil
}

// Revert discards the optimised variant of a tool. The returned pair holds
// the advertised name before and after the revert.
func (uc *OptimizeSizeUseCase) Revert(ctx context.Context, mcpID, apiID, toolName string) (domain.Result[RenamePair], error) {
	var pair RenamePair
	_, err := uc.mutator.mutate(ctx, mcpID, func(record *domain.McpData) error {
		group, idx, err := findToolByAnyName(record, apiID, toolName)
		if err != nil {
			return err
		}
		tool := &group.Tools[idx]
		if !tool.IsOptimised() {
			return errNotOptimised
		}
		pair = RenamePair{
			OldName: domain.AdvertisedName(group.ToolPrefix, tool.EffectiveName()),
			NewName: domain.AdvertisedName(group.ToolPrefix, tool.Name),
		}
		tool.Optimised = nil
		tool.OptimisedTokenCount = 0
		return nil
	})
	if errors.Is(err, errNotOptimised) {
		return domain.Fail[RenamePair](fmt.Sprintf("Tool %s is not optimised", toolName)), nil
	}
	if res, handled := routineFailure[RenamePair](err, mcpID, toolName); handled {
		return res, nil
	}
	if err != nil {
		uc.logger.Error("Failed to revert tool", slog.String("mcp_id", mcpID), slog.String("tool", toolName), slog.Any("error", err))
		return domain.Result[RenamePair]{}, err
	}
	uc.emit(domain.Event{Type: domain.EventToolReverted, McpID: mcpID, ApiID: apiID, ToolName: pair.NewName, Success: true})
	return domain.Ok(fmt.Sprintf("Reverted %s", pair.NewName), pair), nil
}

func (uc *OptimizeSizeUseCase) emit(e domain.Event) {
	if uc.events != nil {
		uc.events.Emit(e)
	}
}

var (
	errAlreadyOptimised = errors.New("tool is already optimised")
	errNotOptimised     = errors.New("tool is not optimised")
)

// findToolByAnyName matches the stored or the optimised name.
func findToolByAnyName(record *domain.McpData, apiID, name string) (*domain.ApiGroup, int, error) {
	group, ok := record.ApiGroups[apiID]
	if !ok || group == nil {
		return nil, -1, fmt.Errorf("%w: api group %s", ErrToolNotFound, apiID)
	}
	for i, t := range group.Tools {
		if t.Name == name || t.EffectiveName() == name {
			return group, i, nil
		}
	}
	return nil, -1, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

// CheckTransform verifies that a transform can stand in for a tool whose
// input schema is original: its own schema compiles, its mapping is
// invertible, and every argument it declares lands on a property that
// exists in the original schema.
func CheckTransform(original domain.JSONSchema, t domain.ToolTransform) error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("name must not be empty")
	}
	if t.InputSchema.IsZero() {
		return errors.New("input schema must not be empty")
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.InputSchema)); err != nil {
		return fmt.Errorf("input schema does not compile: %w", err)
	}
	if err := t.Mapping.Validate(); err != nil {
		return fmt.Errorf("mapping is not invertible: %w", err)
	}
	if original.IsBool() || t.InputSchema.IsBool() {
		return nil
	}

	targets := map[string][]string{}
	if t.Mapping != nil {
		for _, f := range t.Mapping.Fields {
			targets[f.From] = f.To
		}
		for _, path := range t.Mapping.Ensure {
			if !hasPath(original.Object, path) {
				return fmt.Errorf("ensured path %q does not exist in the original schema", strings.Join(path, "."))
			}
		}
	}
	for _, name := range t.InputSchema.PropertyNames() {
		path, ok := targets[name]
		if !ok {
			path = []string{name}
		}
		if !hasPath(original.Object, path) {
			return fmt.Errorf("argument %q maps to %q, which the original schema does not declare", name, strings.Join(path, "."))
		}
	}
	return nil
}

func hasPath(schema map[string]any, path []string) bool {
	cur := schema
	for _, key := range path {
		props, ok := cur["properties"].(map[string]any)
		if !ok {
			return openObject(cur)
		}
		next, ok := props[key]
		if !ok {
			return openObject(cur)
		}
		sub, ok := next.(map[string]any)
		if !ok {
			return true
		}
		cur = sub
	}
	return true
}

func openObject(schema map[string]any) bool {
	ap, ok := schema["additionalProperties"]
	if !ok {
		return false
	}
	b, isBool := ap.(bool)
	return !isBool || b
}

// DefinitionDiff renders a patch between two tool definitions.
func DefinitionDiff(original, optimised domain.ToolSummary) string {
	a, _ := json.MarshalIndent(original, "", "  ")
	b, _ := json.MarshalIndent(optimised, "", "  ")
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(a), string(b), false)
	return dmp.PatchToText(dmp.PatchMake(string(a), diffs))
}
