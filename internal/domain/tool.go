package domain

import "strings"

// Parameter locations used by OpenAPI parameters and execution parameters.
const (
	ParamInPath   = "path"
	ParamInQuery  = "query"
	ParamInHeader = "header"
	ParamInCookie = "cookie"
	// ParamInBody marks a top-level input field that belongs to the JSON request body.
	ParamInBody = "body"
	// ParamInBodyRoot marks the reserved input key that carries the whole request body.
	ParamInBodyRoot = "bodyRoot"
)

// RequestBodyKey is the reserved input field a request body is nested under
// when it cannot be flattened into the top-level input object.
const RequestBodyKey = "requestBody"

// ToolDefinition is one callable unit derived from an OpenAPI operation.
// Name is unique across every tool merged into one MCP.
type ToolDefinition struct {
	Name                   string                `json:"name"`
	Description            string                `json:"description"`
	InputSchema            JSONSchema            `json:"inputSchema"`
	Method                 string                `json:"method"`
	PathTemplate           string                `json:"pathTemplate"`
	Parameters             []Parameter           `json:"parameters,omitempty"`
	ExecutionParameters    []ExecutionParameter  `json:"executionParameters,omitempty"`
	RequestBodyContentType string                `json:"requestBodyContentType,omitempty"`
	ResponseSchema         *JSONSchema           `json:"responseSchema,omitempty"`
	SecurityRequirements   []map[string][]string `json:"securityRequirements,omitempty"`
	Tags                   []string              `json:"tags"`
	OperationID            string                `json:"operationId,omitempty"`
	SecurityScheme         *SecurityScheme       `json:"securityScheme,omitempty"`

	// Optimised is set while the tool is in the optimised state.
	Optimised           *ToolTransform `json:"optimised,omitempty"`
	OriginalTokenCount  int            `json:"originalTokenCount,omitempty"`
	OptimisedTokenCount int            `json:"optimisedTokenCount,omitempty"`
}

// Parameter is an OpenAPI parameter object reduced to what tools need.
type Parameter struct {
	Name        string     `json:"name"`
	In          string     `json:"in"`
	Description string     `json:"description,omitempty"`
	Required    bool       `json:"required,omitempty"`
	Schema      JSONSchema `json:"schema"`
}

// ExecutionParameter routes one input argument at call time.
type ExecutionParameter struct {
	Name string `json:"name"`
	In   string `json:"in"`
}

// SecurityScheme is the resolved env-var wiring of a tool's upstream API.
type SecurityScheme struct {
	BaseURLEnvVar string           `json:"baseUrlEnvVar"`
	Schema        *SecurityVariant `json:"schema,omitempty"`
}

// SecurityVariant is the discriminated auth part of a SecurityScheme.
type SecurityVariant struct {
	Type        AuthType `json:"type"`
	KeyEnvVar   string   `json:"keyEnvVar,omitempty"`
	In          string   `json:"in,omitempty"`
	Name        string   `json:"name,omitempty"`
	TokenEnvVar string   `json:"tokenEnvVar,omitempty"`
}

// EnvVars lists every environment variable the scheme reads.
func (s *SecurityScheme) EnvVars() []string {
	if s == nil {
		return nil
	}
	vars := []string{s.BaseURLEnvVar}
	if s.Schema != nil {
		switch s.Schema.Type {
		case AuthAPIKey:
			vars = append(vars, s.Schema.KeyEnvVar)
		case AuthBearerToken:
			vars = append(vars, s.Schema.TokenEnvVar)
		}
	}
	return vars
}

// EffectiveName is the name the tool is advertised under, before the group prefix.
func (t ToolDefinition) EffectiveName() string {
	if t.Optimised != nil && t.Optimised.Name != "" {
		return t.Optimised.Name
	}
	return t.Name
}

// EffectiveDescription is the advertised description.
func (t ToolDefinition) EffectiveDescription() string {
	if t.Optimised != nil {
		return t.Optimised.Description
	}
	return t.Description
}

// EffectiveInputSchema is the advertised input schema.
func (t ToolDefinition) EffectiveInputSchema() JSONSchema {
	if t.Optimised != nil {
		return t.Optimised.InputSchema
	}
	return t.InputSchema
}

// IsOptimised reports whether the tool carries an optimised variant.
func (t ToolDefinition) IsOptimised() bool { return t.Optimised != nil }

// Summary returns the client-facing triple of the tool's original definition.
func (t ToolDefinition) Summary() ToolSummary {
	return ToolSummary{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
}

// AdvertisedName joins a group tool prefix and a tool name.
func AdvertisedName(prefix, name string) string {
	return prefix + name
}

// HasTag reports whether the tool carries tag.
func (t ToolDefinition) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if strings.EqualFold(tg, tag) {
			return true
		}
	}
	return false
}

// ToolSummary is the MCP wire triple {name, description, inputSchema}.
type ToolSummary struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	InputSchema JSONSchema `json:"inputSchema"`
}

// Endpoint is a raw (path, method) selection pending extraction.
type Endpoint struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

// ToolFailure reports one tool that was skipped by a partial-failure operation.
type ToolFailure struct {
	ApiID    string `json:"apiId,omitempty"`
	ToolName string `json:"toolName,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Reason   string `json:"reason"`
}
