package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/i2y/mcpforge/internal/domain"
)

// GroupSelection is a request to add endpoints of one API to an MCP. Name
// and Auth only apply when the MCP has no group for the API yet; Name
// defaults to the API document's title.
type GroupSelection struct {
	Name      string            `json:"name,omitempty"`
	Auth      domain.Auth       `json:"auth"`
	Endpoints []domain.Endpoint `json:"endpoints"`
}

// AddedTools is the data of a successful AddTools call.
type AddedTools struct {
	Added    []AddedTool          `json:"added"`
	Failures []domain.ToolFailure `json:"failures,omitempty"`
}

// AddedTool identifies one tool appended to an MCP.
type AddedTool struct {
	ApiID string             `json:"apiId"`
	Tool  domain.ToolSummary `json:"tool"`
}

// RenamePair carries the advertised name of a tool before and after an
// operation so callers can migrate references to it.
type RenamePair struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

// GroupSettings updates the non-tool configuration of a group. Nil fields
// are left unchanged.
type GroupSettings struct {
	ToolPrefix  *string      `json:"toolPrefix,omitempty"`
	UseMockData *bool        `json:"useMockData,omitempty"`
	Auth        *domain.Auth `json:"auth,omitempty"`
}

// ManageToolsUseCase curates the tools of MCP records.
type ManageToolsUseCase struct {
	mutator   mcpMutator
	repo      McpRepository
	generator *GenerateToolsUseCase
	events    EventSink
	logger    *slog.Logger
}

// NewManageToolsUseCase creates a new ManageToolsUseCase.
func NewManageToolsUseCase(
	repo McpRepository,
	locker MutationLocker,
	generator *GenerateToolsUseCase,
	events EventSink,
	logger *slog.Logger,
) *ManageToolsUseCase {
	logger = logger.With("usecase", "ManageTools")
	return &ManageToolsUseCase{
		mutator:   mcpMutator{repo: repo, locker: locker, logger: logger},
		repo:      repo,
		generator: generator,
		events:    events,
		logger:    logger,
	}
}

// CreateMcp persists a new, empty MCP record.
func (uc *ManageToolsUseCase) CreateMcp(ctx context.Context, name string, transport domain.TransportType, port int) (*domain.McpData, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("mcp name must not be empty")
	}
	if transport == "" {
		transport = domain.TransportStdio
	}
	record := &domain.McpData{
		ID:        uuid.NewString(),
		Name:      name,
		Transport: transport,
		Port:      port,
		ApiGroups: map[string]*domain.ApiGroup{},
	}
	if err := uc.repo.CreateMcp(ctx, record); err != nil {
		uc.logger.Error("Failed to create mcp", slog.String("name", name), slog.Any("error", err))
		return nil, fmt.Errorf("failed to create mcp: %w", err)
	}
	uc.logger.Info("Created mcp", slog.String("mcp_id", record.ID), slog.String("name", name))
	return record, nil
}

// GetMcp returns one MCP record.
func (uc *ManageToolsUseCase) GetMcp(ctx context.Context, id string) (*domain.McpData, error) {
	return uc.repo.GetMcpByID(ctx, id)
}

// ListMcps returns every MCP record.
func (uc *ManageToolsUseCase) ListMcps(ctx context.Context) ([]*domain.McpData, error) {
	return uc.repo.ListMcps(ctx)
}

// DeleteMcp removes an MCP record.
func (uc *ManageToolsUseCase) DeleteMcp(ctx context.Context, id string) error {
	if err := uc.repo.DeleteMcp(ctx, id); err != nil {
		return err
	}
	uc.logger.Info("Deleted mcp", slog.String("mcp_id", id))
	return nil
}

// AddTools extracts the selected endpoints and appends the resulting tools
// to the MCP. Tools of one group keep their selection order. Per-tool
// failures and duplicates are reported without aborting the call; a
// missing API document is returned as an error.
func (uc *ManageToolsUseCase) AddTools(ctx context.Context, mcpID string, selections map[string]GroupSelection) (domain.Result[AddedTools], error) {
	var data AddedTools
	_, err := uc.mutator.mutate(ctx, mcpID, func(record *domain.McpData) error {
		data = AddedTools{}
		pending := make(map[string]*domain.ApiGroup, len(selections))
		for apiID, sel := range selections {
			g := &domain.ApiGroup{Name: sel.Name, Auth: sel.Auth, Endpoints: sel.Endpoints}
			if existing, ok := record.ApiGroups[apiID]; ok {
				g.Name = existing.Name
				g.Auth = existing.Auth
			}
			pending[apiID] = g
		}

		agg, err := uc.generator.Execute(ctx, pending, record.ToolNames())
		if err != nil {
			return err
		}
		data.Failures = agg.Failures

		for _, apiID := range sortedGroupIDs(agg.Tools) {
			group, ok := record.ApiGroups[apiID]
			if !ok {
				group = &domain.ApiGroup{Name: agg.GroupNames[apiID], Auth: pending[apiID].Auth}
				if group.Auth.Type == "" {
					group.Auth.Type = domain.AuthNone
				}
				record.ApiGroups[apiID] = group
			}
			for _, tool := range agg.Tools[apiID] {
				group.Tools = append(group.Tools, tool)
				data.Added = append(data.Added, AddedTool{ApiID: apiID, Tool: tool.Summary()})
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrMcpNotFound) {
			return domain.Fail[AddedTools](fmt.Sprintf("MCP %s not found", mcpID)), nil
		}
		uc.logger.Error("Failed to add tools", slog.String("mcp_id", mcpID), slog.Any("error", err))
		return domain.Result[AddedTools]{}, err
	}

	for _, a := range data.Added {
		uc.emit(domain.Event{Type: domain.EventToolAdded, McpID: mcpID, ApiID: a.ApiID, ToolName: a.Tool.Name, Success: true})
	}
	msg := fmt.Sprintf("Added %d tool(s)", len(data.Added))
	if len(data.Failures) > 0 {
		msg += fmt.Sprintf(", %d failed", len(data.Failures))
	}
	if len(data.Added) == 0 && len(data.Failures) > 0 {
		return domain.Result[AddedTools]{Success: false, Message: msg, Data: data}, nil
	}
	return domain.Ok(msg, data), nil
}

// RemoveTool deletes a tool from its group. A group left without tools is
// removed from the MCP.
func (uc *ManageToolsUseCase) RemoveTool(ctx context.Context, mcpID, apiID, toolName string) (domain.Result[string], error) {
	_, err := uc.mutator.mutate(ctx, mcpID, func(record *domain.McpData) error {
		group, idx, err := findTool(record, apiID, toolName)
		if err != nil {
			return err
		}
		group.Tools = append(group.Tools[:idx], group.Tools[idx+1:]...)
		return nil
	})
	if res, handled := routineFailure[string](err, mcpID, toolName); handled {
		return res, nil
	}
	if err != nil {
		return domain.Result[string]{}, err
	}
	uc.emit(domain.Event{Type: domain.EventToolRemoved, McpID: mcpID, ApiID: apiID, ToolName: toolName, Success: true})
	uc.logger.Info("Removed tool", slog.String("mcp_id", mcpID), slog.String("tool", toolName))
	return domain.Ok(fmt.Sprintf("Removed tool %s", toolName), toolName), nil
}

// RenameTool changes the stored name of a tool. The new name must be unique
// across the MCP. An optimised variant that kept the old name follows the rename.
func (uc *ManageToolsUseCase) RenameTool(ctx context.Context, mcpID, apiID, oldName, newName string) (domain.Result[RenamePair], error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return domain.Fail[RenamePair]("New tool name must not be empty"), nil
	}
	var pair RenamePair
	_, err := uc.mutator.mutate(ctx, mcpID, func(record *domain.McpData) error {
		group, idx, err := findTool(record, apiID, oldName)
		if err != nil {
			return err
		}
		if newName == oldName {
			return nil
		}
		if nameTaken(record, newName, apiID, idx) {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, newName)
		}
		tool := &group.Tools[idx]
		pair = RenamePair{
			OldName: domain.AdvertisedName(group.ToolPrefix, tool.EffectiveName()),
		}
		tool.Name = newName
		if tool.Optimised != nil {
			if tool.Optimised.Name == oldName {
				tool.Optimised.Name = newName
			}
			tool.Optimised.OriginalName = newName
		}
		pair.NewName = domain.AdvertisedName(group.ToolPrefix, tool.EffectiveName())
		return nil
	})
	if res, handled := routineFailure[RenamePair](err, mcpID, oldName); handled {
		return res, nil
	}
	if err != nil {
		return domain.Result[RenamePair]{}, err
	}
	if pair.OldName == "" {
		return domain.Ok("Tool name unchanged", RenamePair{OldName: oldName, NewName: oldName}), nil
	}
	uc.emit(domain.Event{Type: domain.EventToolRenamed, McpID: mcpID, ApiID: apiID, ToolName: newName, Success: true})
	return domain.Ok(fmt.Sprintf("Renamed %s to %s", oldName, newName), pair), nil
}

// UpdateGroupSettings changes the prefix, mock flag or auth of a group.
// Changing the auth rewires the security scheme of every resident tool.
func (uc *ManageToolsUseCase) UpdateGroupSettings(ctx context.Context, mcpID, apiID string, settings GroupSettings) (domain.Result[*domain.ApiGroup], error) {
	if settings.Auth != nil {
		if err := validateAuth(*settings.Auth); err != nil {
			return domain.Fail[*domain.ApiGroup](err.Error()), nil
		}
	}
	var updated *domain.ApiGroup
	_, err := uc.mutator.mutate(ctx, mcpID, func(record *domain.McpData) error {
		group, ok := record.ApiGroups[apiID]
		if !ok {
			return fmt.Errorf("%w: api group %s", ErrToolNotFound, apiID)
		}
		if settings.ToolPrefix != nil {
			group.ToolPrefix = *settings.ToolPrefix
		}
		if settings.UseMockData != nil {
			group.UseMockData = *settings.UseMockData
		}
		if settings.Auth != nil {
			group.Auth = *settings.Auth
			scheme := SecuritySchemeFor(group.Name, group.Auth)
			for i := range group.Tools {
				group.Tools[i].SecurityScheme = cloneScheme(scheme)
			}
		}
		cp := *group
		updated = &cp
		return nil
	})
	if res, handled := routineFailure[*domain.ApiGroup](err, mcpID, apiID); handled {
		return res, nil
	}
	if err != nil {
		return domain.Result[*domain.ApiGroup]{}, err
	}
	return domain.Ok("Group settings updated", updated), nil
}

func (uc *ManageToolsUseCase) emit(e domain.Event) {
	if uc.events != nil {
		uc.events.Emit(e)
	}
}

// routineFailure converts the errors callers are expected to branch on into
// failed results.
func routineFailure[T any](err error, mcpID, subject string) (domain.Result[T], bool) {
	switch {
	case err == nil:
		return domain.Result[T]{}, false
	case errors.Is(err, ErrMcpNotFound):
		return domain.Fail[T](fmt.Sprintf("MCP %s not found", mcpID)), true
	case errors.Is(err, ErrToolNotFound):
		return domain.Fail[T](fmt.Sprintf("Tool %s not found", subject)), true
	case errors.Is(err, ErrDuplicateTool):
		return domain.Fail[T](err.Error()), true
	}
	return domain.Result[T]{}, false
}

func validateAuth(auth domain.Auth) error {
	switch auth.Type {
	case domain.AuthNone, domain.AuthBearerToken:
		return nil
	case domain.AuthAPIKey:
		if auth.In != "header" && auth.In != "query" {
			return fmt.Errorf("api key location must be header or query, got %q", auth.In)
		}
		if auth.Name == "" {
			return errors.New("api key name must not be empty")
		}
		return nil
	}
	return fmt.Errorf("unknown auth type %q", auth.Type)
}

func cloneScheme(s *domain.SecurityScheme) *domain.SecurityScheme {
	cp := *s
	if s.Schema != nil {
		v := *s.Schema
		cp.Schema = &v
	}
	return &cp
}

func sortedGroupIDs(m map[string][]domain.ToolDefinition) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
