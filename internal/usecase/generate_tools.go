package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/naming"
)

// Aggregation is the outcome of one tool generation run.
type Aggregation struct {
	// Tools holds the accepted tools per api id, in selection order.
	Tools map[string][]domain.ToolDefinition
	// GroupNames holds the group name each api's tools were namespaced with.
	GroupNames map[string]string
	Failures   []domain.ToolFailure
}

// Count returns the number of accepted tools.
func (a Aggregation) Count() int {
	n := 0
	for _, tools := range a.Tools {
		n += len(tools)
	}
	return n
}

// GenerateToolsUseCase extracts tools for the selected endpoints of several
// API groups and applies group naming, tag namespacing and security wiring.
type GenerateToolsUseCase struct {
	apis      ApiRepository
	extractor ToolExtractor
	logger    *slog.Logger
}

// NewGenerateToolsUseCase creates a new GenerateToolsUseCase.
func NewGenerateToolsUseCase(apis ApiRepository, extractor ToolExtractor, logger *slog.Logger) *GenerateToolsUseCase {
	return &GenerateToolsUseCase{
		apis:      apis,
		extractor: extractor,
		logger:    logger.With("usecase", "GenerateTools"),
	}
}

type groupResult struct {
	apiID    string
	name     string
	tools    []domain.ToolDefinition
	failures []domain.ToolFailure
}

// Execute extracts the pending endpoints of every group, keyed by api id.
// Groups are processed concurrently. A missing API document aborts the run;
// a tool whose final name is already in taken, or was produced earlier in
// the same run, is skipped and reported.
func (uc *GenerateToolsUseCase) Execute(ctx context.Context, groups map[string]*domain.ApiGroup, taken map[string]string) (Aggregation, error) {
	ctx, span := tracer.Start(ctx, "GenerateTools")
	defer span.End()
	span.SetAttributes(attribute.Int("groups", len(groups)))

	ids := make([]string, 0, len(groups))
	for id, g := range groups {
		if g != nil && len(g.Endpoints) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	results := make([]groupResult, len(ids))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, apiID := range ids {
		group := groups[apiID]
		eg.Go(func() error {
			res, err := uc.generateGroup(egCtx, apiID, group)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		return Aggregation{}, err
	}

	out := Aggregation{Tools: map[string][]domain.ToolDefinition{}, GroupNames: map[string]string{}}
	seen := make(map[string]string, len(taken))
	for name, owner := range taken {
		seen[name] = owner
	}
	for _, res := range results {
		out.GroupNames[res.apiID] = res.name
		out.Failures = append(out.Failures, res.failures...)
		for _, tool := range res.tools {
			if owner, dup := seen[tool.Name]; dup {
				uc.logger.Warn("Skipping duplicate tool",
					slog.String("tool", tool.Name),
					slog.String("api_id", res.apiID),
					slog.String("existing_api_id", owner))
				out.Failures = append(out.Failures, domain.ToolFailure{
					ApiID:    res.apiID,
					ToolName: tool.Name,
					Endpoint: tool.Method + " " + tool.PathTemplate,
					Reason:   fmt.Sprintf("%s: %s", ErrDuplicateTool, tool.Name),
				})
				continue
			}
			seen[tool.Name] = res.apiID
			out.Tools[res.apiID] = append(out.Tools[res.apiID], tool)
		}
	}

	uc.logger.Info("Generated tools",
		slog.Int("groups", len(ids)),
		slog.Int("tools", out.Count()),
		slog.Int("failures", len(out.Failures)))
	return out, nil
}

func (uc *GenerateToolsUseCase) generateGroup(ctx context.Context, apiID string, group *domain.ApiGroup) (groupResult, error) {
	api, err := uc.apis.GetApiByID(ctx, apiID)
	if err != nil {
		uc.logger.Error("Failed to load api document", slog.String("api_id", apiID), slog.Any("error", err))
		return groupResult{}, fmt.Errorf("failed to load api %s: %w", apiID, err)
	}
	name := group.Name
	if name == "" {
		name = api.Name
	}

	tools, failures, err := uc.extractor.Extract(ctx, api, group.Endpoints)
	if err != nil {
		return groupResult{}, fmt.Errorf("failed to extract tools for api %s: %w", apiID, err)
	}
	for i := range failures {
		failures[i].ApiID = apiID
	}
	scheme := SecuritySchemeFor(name, group.Auth)
	for i := range tools {
		tools[i] = ApplyGroup(tools[i], name, scheme)
	}
	return groupResult{apiID: apiID, name: name, tools: tools, failures: failures}, nil
}

// ApplyGroup renames a freshly extracted tool into its group's namespace and
// attaches the group's security wiring.
func ApplyGroup(tool domain.ToolDefinition, groupName string, scheme *domain.SecurityScheme) domain.ToolDefinition {
	tool.Name = GroupToolName(groupName, tool.Name)
	tags := make([]string, len(tool.Tags))
	for i, tag := range tool.Tags {
		tags[i] = naming.KebabCase(groupName + "-" + tag)
	}
	tool.Tags = tags
	if scheme != nil {
		tool.SecurityScheme = cloneScheme(scheme)
	}
	return tool
}

// GroupToolName is the stored name of an extracted tool inside a group. The
// group name is kept verbatim; only tags are kebab-cased.
func GroupToolName(groupName, extracted string) string {
	return groupName + "-" + extracted
}

// SecuritySchemeFor derives the environment variable wiring of a group.
func SecuritySchemeFor(groupName string, auth domain.Auth) *domain.SecurityScheme {
	scheme := &domain.SecurityScheme{BaseURLEnvVar: naming.EnvVarName(groupName, "API_BASE_URL")}
	switch auth.Type {
	case domain.AuthAPIKey:
		scheme.Schema = &domain.SecurityVariant{
			Type:      domain.AuthAPIKey,
			KeyEnvVar: naming.EnvVarName(groupName, "API_KEY"),
			In:        auth.In,
			Name:      auth.Name,
		}
	case domain.AuthBearerToken:
		scheme.Schema = &domain.SecurityVariant{
			Type:        domain.AuthBearerToken,
			TokenEnvVar: naming.EnvVarName(groupName, "BEARER_TOKEN"),
		}
	}
	return scheme
}
