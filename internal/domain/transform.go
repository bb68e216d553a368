package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ToolTransform is a reversible rewrite of a tool's client-facing definition.
// It backs both optimised internal tools and overrides of tools served by
// external MCPs.
type ToolTransform struct {
	// OriginalName is the name of the tool the transform applies to.
	OriginalName string           `json:"originalName"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	InputSchema  JSONSchema       `json:"inputSchema"`
	Mapping      *ArgumentMapping `json:"mapping,omitempty"`
}

// Summary returns the transformed client-facing triple.
func (t ToolTransform) Summary() ToolSummary {
	return ToolSummary{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
}

// ToOriginal translates arguments shaped for the transformed schema into
// arguments for the original schema. A nil mapping is the identity.
func (t ToolTransform) ToOriginal(args map[string]any) (map[string]any, error) {
	if t.Mapping == nil {
		return DeepCopyArgs(args), nil
	}
	return t.Mapping.ToOriginal(args)
}

// FieldMapping maps one transformed argument name to a path in the original
// argument object.
type FieldMapping struct {
	From string   `json:"from"`
	To   []string `json:"to"`
}

// ArgumentMapping is the invertible correspondence between transformed and
// original argument shapes. Arguments without a field mapping keep their name.
type ArgumentMapping struct {
	Fields []FieldMapping `json:"fields"`
	// Ensure lists original object paths that must exist (possibly empty)
	// after translation, such as required containers that were flattened away.
	Ensure [][]string `json:"ensure,omitempty"`
}

// Validate checks that the mapping is invertible: source names and target
// paths are unique and no target path is a prefix of another.
func (m *ArgumentMapping) Validate() error {
	if m == nil {
		return nil
	}
	from := make(map[string]struct{}, len(m.Fields))
	to := make(map[string]struct{}, len(m.Fields))
	for _, f := range m.Fields {
		if f.From == "" || len(f.To) == 0 {
			return errors.New("mapping entries need a source name and a target path")
		}
		if _, dup := from[f.From]; dup {
			return fmt.Errorf("argument %q is mapped twice", f.From)
		}
		from[f.From] = struct{}{}
		key := pathKey(f.To)
		if _, dup := to[key]; dup {
			return fmt.Errorf("target %q is mapped twice", strings.Join(f.To, "."))
		}
		to[key] = struct{}{}
	}
	for i, a := range m.Fields {
		for j, b := range m.Fields {
			if i != j && len(a.To) < len(b.To) && isPrefix(a.To, b.To) {
				return fmt.Errorf("target %q overlaps %q", strings.Join(a.To, "."), strings.Join(b.To, "."))
			}
		}
	}
	return nil
}

// ToOriginal translates transformed-shape arguments to original-shape arguments.
func (m *ArgumentMapping) ToOriginal(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	byFrom := make(map[string][]string, len(m.Fields))
	for _, f := range m.Fields {
		byFrom[f.From] = f.To
	}
	for _, path := range m.Ensure {
		if _, err := ensureObject(out, path); err != nil {
			return nil, err
		}
	}
	for name, value := range args {
		path, ok := byFrom[name]
		if !ok {
			path = []string{name}
		}
		if err := setPath(out, path, deepCopyValue(value)); err != nil {
			return nil, fmt.Errorf("failed to map argument %q: %w", name, err)
		}
	}
	return out, nil
}

// FromOriginal translates original-shape arguments to transformed-shape
// arguments. Mapped paths missing from args are skipped.
func (m *ArgumentMapping) FromOriginal(args map[string]any) map[string]any {
	out := DeepCopyArgs(args)
	if out == nil {
		out = map[string]any{}
	}
	for _, f := range m.Fields {
		if v, ok := getPath(out, f.To); ok {
			deletePath(out, f.To)
			out[f.From] = v
		}
	}
	for _, path := range m.Ensure {
		if obj, ok := getPath(out, path); ok {
			if mm, ok := obj.(map[string]any); ok && len(mm) == 0 {
				deletePath(out, path)
			}
		}
	}
	return out
}

func ensureObject(root map[string]any, path []string) (map[string]any, error) {
	cur := root
	for _, seg := range path {
		next, ok := cur[seg]
		if !ok {
			child := map[string]any{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path segment %q is not an object", seg)
		}
		cur = child
	}
	return cur, nil
}

func setPath(root map[string]any, path []string, value any) error {
	parent, err := ensureObject(root, path[:len(path)-1])
	if err != nil {
		return err
	}
	parent[path[len(path)-1]] = value
	return nil
}

func getPath(root map[string]any, path []string) (any, bool) {
	var cur any = root
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func deletePath(root map[string]any, path []string) {
	parentVal, ok := getPath(root, path[:len(path)-1])
	if !ok {
		return
	}
	if parent, ok := parentVal.(map[string]any); ok {
		delete(parent, path[len(path)-1])
		if len(path) > 1 && len(parent) == 0 {
			deletePath(root, path[:len(path)-1])
		}
	}
}

func isPrefix(prefix, path []string) bool {
	for i := range prefix {
		if prefix[i] != path[i] {
			return false
		}
	}
	return true
}

func pathKey(path []string) string {
	return strings.Join(path, "\x00")
}
