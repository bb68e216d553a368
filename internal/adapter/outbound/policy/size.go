// Package policy proposes size reductions and tool selections for the
// optimization use cases.
package policy

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

// Annotation keywords that carry no validation meaning.
var droppableKeywords = []string{"title", "examples", "example", "externalDocs", "discriminator", "deprecated", "readOnly", "writeOnly", "xml", "$comment"}

var spaceRun = regexp.MustCompile(`\s+`)

// HeuristicSize implements usecase.SizePolicy without a model. It escalates
// through increasingly aggressive rewrites until the definition fits the
// target budget or no rewrite is left:
//
//  1. drop annotation keywords and trim descriptions to their first sentence
//  2. drop property descriptions
//  3. flatten nested object arguments into prefixed top-level arguments
//
// Validation keywords (type, enum, required, bounds, patterns) are never removed.
type HeuristicSize struct {
	counter         usecase.TokenCounter
	maxDescription  int
	maxPropertyDesc int
	logger          *slog.Logger
}

// NewHeuristicSize creates a HeuristicSize policy.
func NewHeuristicSize(counter usecase.TokenCounter, logger *slog.Logger) *HeuristicSize {
	return &HeuristicSize{
		counter:         counter,
		maxDescription:  200,
		maxPropertyDesc: 80,
		logger:          logger.With("component", "heuristic_size_policy"),
	}
}

// ProposeSize implements usecase.SizePolicy. A targetBudget <= 0 applies
// every rewrite level.
func (p *HeuristicSize) ProposeSize(ctx context.Context, tool domain.ToolDefinition, targetBudget int) (domain.ToolTransform, error) {
	var proposal domain.ToolTransform
	for level := 1; level <= 3; level++ {
		if err := ctx.Err(); err != nil {
			return domain.ToolTransform{}, err
		}
		proposal = p.rewrite(tool, level)
		if targetBudget > 0 && p.counter.Count(proposal.Summary()) <= targetBudget {
			p.logger.Debug("Proposal fits budget", slog.String("tool", tool.Name), slog.Int("level", level))
			break
		}
	}
	return proposal, nil
}

func (p *HeuristicSize) rewrite(tool domain.ToolDefinition, level int) domain.ToolTransform {
	out := domain.ToolTransform{
		OriginalName: tool.Name,
		Name:         tool.Name,
		Description:  shorten(tool.Description, p.maxDescription),
	}
	if tool.InputSchema.IsBool() || tool.InputSchema.Object == nil {
		out.InputSchema = tool.InputSchema.Clone()
		return out
	}

	schema := tool.InputSchema.Clone().Object
	propLimit := p.maxPropertyDesc
	if level >= 2 {
		propLimit = 0
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, v := range props {
			if sub, ok := v.(map[string]any); ok {
				stripSchema(sub, propLimit)
			}
		}
	}
	for _, kw := range droppableKeywords {
		delete(schema, kw)
	}

	if level >= 3 {
		if mapping := flatten(schema); mapping != nil {
			out.Mapping = mapping
		}
	}
	out.InputSchema = domain.ObjectSchema(schema)
	return out
}

// stripSchema removes annotations from schema and every nested schema, and
// trims or drops descriptions. A limit of 0 drops descriptions.
func stripSchema(schema map[string]any, limit int) {
	for _, kw := range droppableKeywords {
		delete(schema, kw)
	}
	if d, ok := schema["description"].(string); ok {
		if limit == 0 {
			delete(schema, "description")
		} else {
			schema["description"] = shorten(d, limit)
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, v := range props {
			if sub, ok := v.(map[string]any); ok {
				stripSchema(sub, limit)
			}
		}
	}
	for _, kw := range []string{"items", "additionalProperties", "not"} {
		if sub, ok := schema[kw].(map[string]any); ok {
			stripSchema(sub, limit)
		}
	}
	for _, kw := range []string{"allOf", "anyOf", "oneOf"} {
		if list, ok := schema[kw].([]any); ok {
			for _, item := range list {
				if sub, ok := item.(map[string]any); ok {
					stripSchema(sub, limit)
				}
			}
		}
	}
}

// flatten lifts the properties of plain nested objects to the top level as
// "<parent>_<child>". A parent qualifies when it is a closed-form object
// (no composition, no property-count bounds, no open additionalProperties)
// and either is required itself or has no required children. Lifted
// children of a required parent keep their required flag, and the parent
// is recorded as a container that must exist after translation.
func flatten(schema map[string]any) *domain.ArgumentMapping {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	required := map[string]bool{}
	for _, r := range domain.StringList(schema["required"]) {
		required[r] = true
	}

	mapping := &domain.ArgumentMapping{}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, parent := range names {
		sub, ok := props[parent].(map[string]any)
		if !ok || !flattenable(sub) {
			continue
		}
		childProps := sub["properties"].(map[string]any)
		childRequired := domain.StringList(sub["required"])
		if !required[parent] && len(childRequired) > 0 {
			continue
		}
		if !allDeclared(childRequired, childProps) {
			continue
		}
		lifted := map[string]string{}
		clash := false
		for child := range childProps {
			flat := parent + "_" + child
			if _, exists := props[flat]; exists {
				clash = true
				break
			}
			lifted[child] = flat
		}
		if clash {
			continue
		}

		delete(props, parent)
		for child, flat := range lifted {
			props[flat] = childProps[child]
			mapping.Fields = append(mapping.Fields, domain.FieldMapping{From: flat, To: []string{parent, child}})
		}
		if required[parent] {
			delete(required, parent)
			mapping.Ensure = append(mapping.Ensure, []string{parent})
			for _, child := range childRequired {
				if flat, ok := lifted[child]; ok {
					required[flat] = true
				}
			}
		}
	}

	if len(mapping.Fields) == 0 && len(mapping.Ensure) == 0 {
		return nil
	}
	sort.Slice(mapping.Fields, func(i, j int) bool { return mapping.Fields[i].From < mapping.Fields[j].From })

	req := make([]string, 0, len(required))
	for name := range required {
		req = append(req, name)
	}
	sort.Strings(req)
	if len(req) > 0 {
		list := make([]any, len(req))
		for i, r := range req {
			list[i] = r
		}
		schema["required"] = list
	} else {
		delete(schema, "required")
	}
	return mapping
}

func flattenable(schema map[string]any) bool {
	if t, _ := schema["type"].(string); t != "object" {
		return false
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return false
	}
	for _, kw := range []string{"allOf", "anyOf", "oneOf", "not", "minProperties", "maxProperties", "patternProperties", "dependencies", "dependentRequired", "propertyNames", "if"} {
		if _, ok := schema[kw]; ok {
			return false
		}
	}
	if ap, ok := schema["additionalProperties"]; ok {
		if b, isBool := ap.(bool); !isBool || b {
			return false
		}
	}
	return true
}

func allDeclared(names []string, props map[string]any) bool {
	for _, n := range names {
		if _, ok := props[n]; !ok {
			return false
		}
	}
	return true
}

// shorten collapses whitespace, keeps the first sentence, and cuts the
// result to at most limit runes.
func shorten(s string, limit int) string {
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	if i := strings.Index(s, ". "); i > 0 {
		s = s[:i+1]
	}
	if limit > 0 && utf8.RuneCountInString(s) > limit {
		runes := []rune(s)
		s = strings.TrimSpace(string(runes[:limit-1])) + "…"
	}
	return s
}
