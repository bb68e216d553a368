package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/i2y/mcpforge/internal/adapter/outbound/llm"
	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

// Completer is a chat model that answers with a JSON object.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const sizeSystemPrompt = `You shrink MCP tool definitions so they cost fewer tokens while staying callable.
Rules:
- Keep every validation keyword (type, enum, required, minimum, maximum, pattern, format, items).
- Shorten descriptions; drop titles and examples.
- You may rename or flatten arguments. Every argument of your schema must appear in "mapping.fields"
  with "from" (your argument name) and "to" (the path of the original argument as an array of keys),
  unless its name and position are unchanged.
- List original object arguments that must exist even when empty in "mapping.ensure".
Answer with one JSON object: {"name": string, "description": string, "inputSchema": object, "mapping": {"fields": [...], "ensure": [...]}}.`

const selectionSystemPrompt = `You choose which MCP tools an agent should keep so the tool list fits a token budget.
Prefer tools that cover distinct capabilities. The sum of tokenCount of the chosen tools must not exceed the budget.
Answer with one JSON object: {"selected": [tool names]}.`

// ModelSize implements usecase.SizePolicy by asking a model for the reduced
// definition. When the model fails, the fallback policy answers instead.
type ModelSize struct {
	model    Completer
	fallback usecase.SizePolicy
	logger   *slog.Logger
}

// NewModelSize creates a ModelSize policy. fallback may be nil.
func NewModelSize(model Completer, fallback usecase.SizePolicy, logger *slog.Logger) *ModelSize {
	return &ModelSize{model: model, fallback: fallback, logger: logger.With("component", "model_size_policy")}
}

type sizeAnswer struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	InputSchema domain.JSONSchema       `json:"inputSchema"`
	Mapping     *domain.ArgumentMapping `json:"mapping"`
}

// ProposeSize implements usecase.SizePolicy.
func (p *ModelSize) ProposeSize(ctx context.Context, tool domain.ToolDefinition, targetBudget int) (domain.ToolTransform, error) {
	prompt, err := json.Marshal(map[string]any{
		"targetTokenBudget": targetBudget,
		"tool":              tool.Summary(),
	})
	if err != nil {
		return domain.ToolTransform{}, fmt.Errorf("failed to encode prompt: %w", err)
	}

	transform, err := p.ask(ctx, tool, string(prompt))
	if err != nil {
		if p.fallback == nil {
			return domain.ToolTransform{}, err
		}
		p.logger.Warn("Model proposal failed, using fallback policy", slog.String("tool", tool.Name), slog.Any("error", err))
		return p.fallback.ProposeSize(ctx, tool, targetBudget)
	}
	return transform, nil
}

func (p *ModelSize) ask(ctx context.Context, tool domain.ToolDefinition, prompt string) (domain.ToolTransform, error) {
	reply, err := p.model.Complete(ctx, sizeSystemPrompt, prompt)
	if err != nil {
		return domain.ToolTransform{}, err
	}
	var answer sizeAnswer
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &answer); err != nil {
		return domain.ToolTransform{}, fmt.Errorf("model answer is not a tool definition: %w", err)
	}
	if answer.Name == "" {
		answer.Name = tool.Name
	}
	if answer.Mapping != nil && len(answer.Mapping.Fields) == 0 && len(answer.Mapping.Ensure) == 0 {
		answer.Mapping = nil
	}
	return domain.ToolTransform{
		OriginalName: tool.Name,
		Name:         answer.Name,
		Description:  answer.Description,
		InputSchema:  answer.InputSchema,
		Mapping:      answer.Mapping,
	}, nil
}

// ModelSelection implements usecase.SelectionPolicy by asking a model to
// rank the candidates. When the model fails, the fallback answers instead.
type ModelSelection struct {
	model    Completer
	fallback usecase.SelectionPolicy
	logger   *slog.Logger
}

// NewModelSelection creates a ModelSelection policy. fallback may be nil.
func NewModelSelection(model Completer, fallback usecase.SelectionPolicy, logger *slog.Logger) *ModelSelection {
	return &ModelSelection{model: model, fallback: fallback, logger: logger.With("component", "model_selection_policy")}
}

// ProposeSelection implements usecase.SelectionPolicy.
func (p *ModelSelection) ProposeSelection(ctx context.Context, candidates []usecase.ToolCandidate, contextBudget int) ([]string, error) {
	names, err := p.ask(ctx, candidates, contextBudget)
	if err != nil {
		if p.fallback == nil {
			return nil, err
		}
		p.logger.Warn("Model selection failed, using fallback policy", slog.Any("error", err))
		return p.fallback.ProposeSelection(ctx, candidates, contextBudget)
	}
	return names, nil
}

func (p *ModelSelection) ask(ctx context.Context, candidates []usecase.ToolCandidate, contextBudget int) ([]string, error) {
	prompt, err := json.Marshal(map[string]any{"budget": contextBudget, "tools": candidates})
	if err != nil {
		return nil, fmt.Errorf("failed to encode prompt: %w", err)
	}
	reply, err := p.model.Complete(ctx, selectionSystemPrompt, string(prompt))
	if err != nil {
		return nil, err
	}
	var answer struct {
		Selected []string `json:"selected"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &answer); err != nil {
		return nil, fmt.Errorf("model answer is not a selection: %w", err)
	}
	return answer.Selected, nil
}
