// Package mockinvoker answers tool calls with synthetic data shaped by the
// tool's response schema.
package mockinvoker

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/i2y/mcpforge/internal/domain"
)

const maxDepth = 6

var mockNamespace = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")

// Invoker implements usecase.ToolInvoker without network access. Output is
// deterministic for a given tool and schema.
type Invoker struct {
	logger *slog.Logger
}

// New creates a new mock Invoker.
func New(logger *slog.Logger) *Invoker {
	return &Invoker{logger: logger.With("component", "mock_invoker")}
}

// Invoke returns a value matching tool.ResponseSchema, or an echo of the
// call when the tool declares no response schema.
func (i *Invoker) Invoke(ctx context.Context, tool domain.ToolDefinition, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i.logger.Debug("Synthesizing mock response", slog.String("tool", tool.Name))
	if tool.ResponseSchema == nil || tool.ResponseSchema.IsBool() || len(tool.ResponseSchema.Object) == 0 {
		return map[string]any{
			"mock":      true,
			"tool":      tool.Name,
			"method":    tool.Method,
			"path":      tool.PathTemplate,
			"arguments": domain.DeepCopyArgs(args),
		}, nil
	}
	g := generator{seed: seed(tool.Name)}
	return g.value(tool.ResponseSchema.Object, "", 0), nil
}

type generator struct {
	seed uint32
}

func seed(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func (g generator) value(schema map[string]any, field string, depth int) any {
	if ex, ok := schema["examples"].([]any); ok && len(ex) > 0 {
		return ex[0]
	}
	if ex, ok := schema["example"]; ok {
		return ex
	}
	if def, ok := schema["default"]; ok {
		return def
	}
	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
		return enum[int(g.seed+seed(field))%len(enum)]
	}
	for _, kw := range []string{"oneOf", "anyOf", "allOf"} {
		if list, ok := schema[kw].([]any); ok && len(list) > 0 {
			if sub, ok := list[0].(map[string]any); ok {
				return g.value(sub, field, depth+1)
			}
		}
	}
	if depth >= maxDepth {
		return nil
	}

	switch schemaType(schema) {
	case "object":
		props, _ := schema["properties"].(map[string]any)
		out := make(map[string]any, len(props))
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if sub, ok := props[name].(map[string]any); ok {
				out[name] = g.value(sub, name, depth+1)
			}
		}
		return out
	case "array":
		items, _ := schema["items"].(map[string]any)
		if items == nil {
			return []any{}
		}
		return []any{g.value(items, field, depth+1)}
	case "integer":
		return float64(1 + (g.seed+seed(field))%100)
	case "number":
		return float64((g.seed+seed(field))%10000) / 100
	case "boolean":
		return (g.seed+seed(field))%2 == 0
	case "null":
		return nil
	default:
		return g.str(schema, field)
	}
}

func (g generator) str(schema map[string]any, field string) string {
	format, _ := schema["format"].(string)
	n := g.seed + seed(field)
	switch format {
	case "date-time":
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n%86400) * time.Second).Format(time.RFC3339)
	case "date":
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(n%365)).Format("2006-01-02")
	case "email":
		return fmt.Sprintf("user%d@example.com", n%1000)
	case "uuid":
		return uuid.NewSHA1(mockNamespace, []byte(fmt.Sprintf("%d/%s", g.seed, field))).String()
	case "uri", "url":
		return fmt.Sprintf("https://example.com/%s/%d", field, n%1000)
	}
	if field == "" {
		field = "value"
	}
	return fmt.Sprintf("%s-%d", field, n%1000)
}

func schemaType(schema map[string]any) string {
	switch t := schema["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return s
			}
		}
	}
	if _, ok := schema["properties"]; ok {
		return "object"
	}
	if _, ok := schema["items"]; ok {
		return "array"
	}
	return "string"
}
