package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// JSONSchema holds a JSON Schema document. A schema is either an object or one
// of the booleans true ("no constraints") and false ("nothing validates").
// The zero value is the empty object schema.
type JSONSchema struct {
	Bool   *bool
	Object map[string]any
}

// BoolSchema returns the boolean schema b.
func BoolSchema(b bool) JSONSchema { return JSONSchema{Bool: &b} }

// ObjectSchema wraps m as an object schema.
func ObjectSchema(m map[string]any) JSONSchema { return JSONSchema{Object: m} }

// IsBool reports whether the schema is a boolean schema.
func (s JSONSchema) IsBool() bool { return s.Bool != nil }

// IsZero reports whether the schema carries no content at all.
func (s JSONSchema) IsZero() bool { return s.Bool == nil && len(s.Object) == 0 }

// MarshalJSON implements json.Marshaler.
func (s JSONSchema) MarshalJSON() ([]byte, error) {
	if s.Bool != nil {
		return json.Marshal(*s.Bool)
	}
	if s.Object == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.Object)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *JSONSchema) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true", "false":
		b := string(data) == "true"
		*s = JSONSchema{Bool: &b}
		return nil
	case "null":
		*s = JSONSchema{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("json schema must be an object or boolean: %w", err)
	}
	*s = JSONSchema{Object: m}
	return nil
}

// Clone returns a deep copy of the schema.
func (s JSONSchema) Clone() JSONSchema {
	if s.Bool != nil {
		return BoolSchema(*s.Bool)
	}
	if s.Object == nil {
		return JSONSchema{}
	}
	return JSONSchema{Object: deepCopyMap(s.Object)}
}

// Properties returns the "properties" map of an object schema, or nil.
func (s JSONSchema) Properties() map[string]any {
	if s.Object == nil {
		return nil
	}
	props, _ := s.Object["properties"].(map[string]any)
	return props
}

// Required returns the "required" list of an object schema.
func (s JSONSchema) Required() []string {
	if s.Object == nil {
		return nil
	}
	return StringList(s.Object["required"])
}

// PropertyNames returns the sorted property names of an object schema.
func (s JSONSchema) PropertyNames() []string {
	props := s.Properties()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StringList converts a decoded JSON array ([]any or []string) to []string,
// skipping non-string members.
func StringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}

// DeepCopyArgs returns a deep copy of a tool argument object.
func DeepCopyArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	return deepCopyMap(args)
}
