package domain

import (
	"sort"
	"time"
)

// AuthType discriminates the auth configuration of an API group.
type AuthType string

const (
	AuthNone        AuthType = "noAuth"
	AuthAPIKey      AuthType = "apiKey"
	AuthBearerToken AuthType = "bearerToken"
)

// Auth is the auth configuration of an API group. In and Name are only set
// for AuthAPIKey ("header" or "query", and the header/query parameter name).
type Auth struct {
	Type AuthType `json:"type"`
	In   string   `json:"in,omitempty"`
	Name string   `json:"name,omitempty"`
}

// TransportType selects how a generated or started server is reached.
type TransportType string

const (
	TransportStdio          TransportType = "stdio"
	TransportWeb            TransportType = "web"
	TransportStreamableHTTP TransportType = "streamable-http"
)

// ApiGroup is one imported API's configuration inside an MCP.
type ApiGroup struct {
	Name        string           `json:"name"`
	ToolPrefix  string           `json:"toolPrefix"`
	UseMockData bool             `json:"useMockData"`
	Auth        Auth             `json:"auth"`
	Tools       []ToolDefinition `json:"tools"`
	Endpoints   []Endpoint       `json:"endpoints,omitempty"`
}

// FindTool returns the index of the tool named name, or -1.
func (g *ApiGroup) FindTool(name string) int {
	for i := range g.Tools {
		if g.Tools[i].Name == name {
			return i
		}
	}
	return -1
}

// McpData is the persisted MCP aggregate. Version is bumped by the store on
// every successful write and used to reject stale writes.
type McpData struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Transport TransportType        `json:"transport"`
	Port      int                  `json:"port,omitempty"`
	ApiGroups map[string]*ApiGroup `json:"apiGroups"`
	Version   int64                `json:"version"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// GroupIDs returns the api ids of the MCP's groups in sorted order.
func (m *McpData) GroupIDs() []string {
	ids := make([]string, 0, len(m.ApiGroups))
	for id := range m.ApiGroups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ToolNames returns every name a tool answers to across all groups, both the
// stored name and the optimised one, keyed to the owning API id.
func (m *McpData) ToolNames() map[string]string {
	names := make(map[string]string)
	for apiID, g := range m.ApiGroups {
		for _, t := range g.Tools {
			names[t.Name] = apiID
			names[t.EffectiveName()] = apiID
		}
	}
	return names
}

// Categories returns the sorted, de-duplicated tags of every tool.
func (m *McpData) Categories() []string {
	seen := map[string]struct{}{}
	for _, g := range m.ApiGroups {
		for _, t := range g.Tools {
			for _, tag := range t.Tags {
				seen[tag] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Prune deletes every group that has no tools left.
func (m *McpData) Prune() {
	for id, g := range m.ApiGroups {
		if g == nil || len(g.Tools) == 0 {
			delete(m.ApiGroups, id)
		}
	}
}

// Clone returns a deep copy of the MCP record.
func (m *McpData) Clone() *McpData {
	if m == nil {
		return nil
	}
	out := *m
	out.ApiGroups = make(map[string]*ApiGroup, len(m.ApiGroups))
	for id, g := range m.ApiGroups {
		cp := *g
		cp.Tools = make([]ToolDefinition, len(g.Tools))
		for i, t := range g.Tools {
			cp.Tools[i] = t.Clone()
		}
		cp.Endpoints = append([]Endpoint(nil), g.Endpoints...)
		out.ApiGroups[id] = &cp
	}
	return &out
}

// Clone returns a deep copy of the tool definition.
func (t ToolDefinition) Clone() ToolDefinition {
	out := t
	out.InputSchema = t.InputSchema.Clone()
	if t.ResponseSchema != nil {
		rs := t.ResponseSchema.Clone()
		out.ResponseSchema = &rs
	}
	out.Parameters = make([]Parameter, len(t.Parameters))
	for i, p := range t.Parameters {
		p.Schema = p.Schema.Clone()
		out.Parameters[i] = p
	}
	out.ExecutionParameters = append([]ExecutionParameter(nil), t.ExecutionParameters...)
	out.Tags = append([]string(nil), t.Tags...)
	if t.SecurityScheme != nil {
		ss := *t.SecurityScheme
		if ss.Schema != nil {
			v := *ss.Schema
			ss.Schema = &v
		}
		out.SecurityScheme = &ss
	}
	if t.Optimised != nil {
		o := *t.Optimised
		o.InputSchema = o.InputSchema.Clone()
		if o.Mapping != nil {
			mp := *o.Mapping
			mp.Fields = append([]FieldMapping(nil), o.Mapping.Fields...)
			mp.Ensure = append([][]string(nil), o.Mapping.Ensure...)
			o.Mapping = &mp
		}
		out.Optimised = &o
	}
	return out
}

// ApiRecord is an imported API document. ParsedData holds the dereferenced
// document in the representation of the adapter that loaded it.
type ApiRecord struct {
	ID         string
	Name       string
	Source     string
	RawData    []byte
	ParsedData any
}

// ExternalServer describes an MCP server whose lifecycle is managed elsewhere.
type ExternalServer struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Transport TransportType     `json:"transport" yaml:"transport"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       []string          `json:"env,omitempty" yaml:"env,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Result is the discriminated outcome of operations that fail routinely.
type Result[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// Ok builds a successful result.
func Ok[T any](message string, data T) Result[T] {
	return Result[T]{Success: true, Message: message, Data: data}
}

// Fail builds a failed result.
func Fail[T any](message string) Result[T] {
	return Result[T]{Success: false, Message: message}
}

// GeneratedProject is a rendered server project: relative path to content.
type GeneratedProject struct {
	Files map[string][]byte
}

// Paths returns the project's file paths in sorted order.
func (p GeneratedProject) Paths() []string {
	paths := make([]string, 0, len(p.Files))
	for path := range p.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
