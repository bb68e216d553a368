package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/naming"
)

const defaultTag = "default"

// OperationEntry is one selected operation of a dereferenced document.
type OperationEntry struct {
	Path      string
	Method    string
	Operation *openapi3.Operation
	// PathParameters are the parameters declared on the path item; the
	// operation's own parameters take precedence over them.
	PathParameters openapi3.Parameters
	// DefaultSecurity is the document-level security applied when the
	// operation declares none.
	DefaultSecurity openapi3.SecurityRequirements
}

// Extractor implements usecase.ToolExtractor for OpenAPI 3 documents.
type Extractor struct {
	synthesize func(method, path string) string
	logger     *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithParamInfixNames makes synthesized names keep every path parameter,
// so operations that differ only in an intermediate parameter no longer
// collide.
func WithParamInfixNames() ExtractorOption {
	return func(e *Extractor) { e.synthesize = naming.SynthesizeOperationIDWithParams }
}

// NewExtractor creates a new OpenAPI tool extractor.
func NewExtractor(logger *slog.Logger, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		synthesize: naming.SynthesizeOperationID,
		logger:     logger.With("component", "openapi_extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract resolves the selected endpoints against api's document and converts
// them into tool definitions in selection order.
func (e *Extractor) Extract(ctx context.Context, api domain.ApiRecord, endpoints []domain.Endpoint) ([]domain.ToolDefinition, []domain.ToolFailure, error) {
	doc, ok := api.ParsedData.(*openapi3.T)
	if !ok || doc == nil {
		return nil, nil, fmt.Errorf("api %s has no parsed OpenAPI document", api.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	entries, failures := ResolveEndpoints(doc, endpoints)
	tools, convFailures := e.ExtractTools(entries)
	failures = append(failures, convFailures...)
	for i := range failures {
		failures[i].ApiID = api.ID
	}

	e.logger.Info("Extracted tools from OpenAPI document",
		slog.String("api_id", api.ID),
		slog.Int("tool_count", len(tools)),
		slog.Int("failure_count", len(failures)))
	return tools, failures, nil
}

// ResolveEndpoints looks up every (path, method) selection in doc.
func ResolveEndpoints(doc *openapi3.T, endpoints []domain.Endpoint) ([]OperationEntry, []domain.ToolFailure) {
	var entries []OperationEntry
	var failures []domain.ToolFailure
	var defaultSecurity openapi3.SecurityRequirements
	if doc.Security != nil {
		defaultSecurity = doc.Security
	}

	for _, ep := range endpoints {
		method := strings.ToUpper(ep.Method)
		var op *openapi3.Operation
		var item *openapi3.PathItem
		if doc.Paths != nil {
			item = doc.Paths.Find(ep.Path)
		}
		if item != nil {
			op = item.GetOperation(method)
		}
		if op == nil {
			failures = append(failures, domain.ToolFailure{
				Endpoint: method + " " + ep.Path,
				Reason:   "operation not found in document",
			})
			continue
		}
		entries = append(entries, OperationEntry{
			Path:            ep.Path,
			Method:          method,
			Operation:       op,
			PathParameters:  item.Parameters,
			DefaultSecurity: defaultSecurity,
		})
	}
	return entries, failures
}

// ExtractTools converts each entry into a tool definition. Entries that
// cannot be converted are reported and skipped.
func (e *Extractor) ExtractTools(entries []OperationEntry) ([]domain.ToolDefinition, []domain.ToolFailure) {
	tools := make([]domain.ToolDefinition, 0, len(entries))
	var failures []domain.ToolFailure
	for _, entry := range entries {
		tool, err := e.extractTool(entry)
		if err != nil {
			e.logger.Warn("Skipping operation",
				slog.String("method", entry.Method),
				slog.String("path", entry.Path),
				slog.Any("error", err))
			failures = append(failures, domain.ToolFailure{
				Endpoint: entry.Method + " " + entry.Path,
				Reason:   err.Error(),
			})
			continue
		}
		tools = append(tools, tool)
	}
	return tools, failures
}

func (e *Extractor) extractTool(entry OperationEntry) (domain.ToolDefinition, error) {
	op := entry.Operation
	method := strings.ToUpper(entry.Method)

	name := op.OperationID
	if name == "" {
		name = e.synthesize(method, entry.Path)
	}

	tool := domain.ToolDefinition{
		Name:         name,
		Description:  describe(method, entry.Path, op),
		Method:       method,
		PathTemplate: entry.Path,
		OperationID:  op.OperationID,
		Tags:         append([]string(nil), op.Tags...),
	}
	if len(tool.Tags) == 0 {
		tool.Tags = []string{defaultTag}
	}

	props := map[string]any{}
	var required []string

	for _, param := range mergeParameters(entry.PathParameters, op.Parameters) {
		schema := parameterSchema(param)
		if param.Description != "" {
			if _, ok := schema["description"]; !ok {
				schema["description"] = param.Description
			}
		}
		isRequired := param.Required || param.In == openapi3.ParameterInPath
		if _, dup := props[param.Name]; dup {
			return domain.ToolDefinition{}, fmt.Errorf("parameter %q is declared in more than one location", param.Name)
		}
		props[param.Name] = schema
		if isRequired {
			required = append(required, param.Name)
		}
		tool.Parameters = append(tool.Parameters, domain.Parameter{
			Name:        param.Name,
			In:          param.In,
			Description: param.Description,
			Required:    isRequired,
			Schema:      domain.ObjectSchema(normalize(schema)),
		})
		tool.ExecutionParameters = append(tool.ExecutionParameters, domain.ExecutionParameter{Name: param.Name, In: param.In})
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil && len(op.RequestBody.Value.Content) > 0 {
		body := op.RequestBody.Value
		contentType, media := pickContent(body.Content)
		tool.RequestBodyContentType = contentType

		var bodySchema map[string]any
		if media != nil && media.Schema != nil {
			bodySchema = schemaToMap(media.Schema, map[*openapi3.Schema]bool{})
		} else {
			bodySchema = map[string]any{}
		}

		if isJSONLike(contentType) && canFlatten(bodySchema, props) {
			bodyProps, _ := bodySchema["properties"].(map[string]any)
			for _, field := range sortedKeys(bodyProps) {
				props[field] = bodyProps[field]
				tool.ExecutionParameters = append(tool.ExecutionParameters, domain.ExecutionParameter{Name: field, In: domain.ParamInBody})
			}
			if body.Required {
				required = append(required, domain.StringList(bodySchema["required"])...)
			}
		} else {
			if _, dup := props[domain.RequestBodyKey]; dup {
				return domain.ToolDefinition{}, fmt.Errorf("cannot nest request body: %q is already used by a parameter", domain.RequestBodyKey)
			}
			if body.Description != "" {
				if _, ok := bodySchema["description"]; !ok {
					bodySchema["description"] = body.Description
				}
			}
			props[domain.RequestBodyKey] = bodySchema
			if body.Required {
				required = append(required, domain.RequestBodyKey)
			}
			tool.ExecutionParameters = append(tool.ExecutionParameters, domain.ExecutionParameter{Name: domain.RequestBodyKey, In: domain.ParamInBodyRoot})
		}
	}

	input := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if required = uniqueStrings(required); len(required) > 0 {
		input["required"] = required
	}
	tool.InputSchema = domain.ObjectSchema(normalize(input))

	if rs := responseSchema(op.Responses); rs != nil {
		s := domain.ObjectSchema(normalize(rs))
		tool.ResponseSchema = &s
	}

	security := entry.DefaultSecurity
	if op.Security != nil {
		security = *op.Security
	}
	for _, req := range security {
		cp := make(map[string][]string, len(req))
		for k, v := range req {
			cp[k] = append([]string{}, v...)
		}
		tool.SecurityRequirements = append(tool.SecurityRequirements, cp)
	}
	return tool, nil
}

func describe(method, path string, op *openapi3.Operation) string {
	switch {
	case strings.TrimSpace(op.Description) != "":
		return op.Description
	case strings.TrimSpace(op.Summary) != "":
		return op.Summary
	case op.OperationID != "":
		return op.OperationID
	default:
		return method + " " + path
	}
}

// mergeParameters overlays operation parameters on path-item parameters,
// keyed by (in, name), preserving declaration order.
func mergeParameters(pathParams, opParams openapi3.Parameters) []*openapi3.Parameter {
	type key struct{ in, name string }
	var out []*openapi3.Parameter
	index := map[key]int{}
	for _, list := range []openapi3.Parameters{pathParams, opParams} {
		for _, ref := range list {
			if ref == nil || ref.Value == nil {
				continue
			}
			k := key{ref.Value.In, ref.Value.Name}
			if i, ok := index[k]; ok {
				out[i] = ref.Value
				continue
			}
			index[k] = len(out)
			out = append(out, ref.Value)
		}
	}
	return out
}

func parameterSchema(param *openapi3.Parameter) map[string]any {
	visiting := map[*openapi3.Schema]bool{}
	if param.Schema != nil {
		return schemaToMap(param.Schema, visiting)
	}
	if _, media := pickContent(param.Content); media != nil && media.Schema != nil {
		return schemaToMap(media.Schema, visiting)
	}
	return map[string]any{"type": "string"}
}

// pickContent prefers application/json, then any JSON-like media type, then
// the alphabetically first one.
func pickContent(content openapi3.Content) (string, *openapi3.MediaType) {
	if len(content) == 0 {
		return "", nil
	}
	if mt, ok := content["application/json"]; ok {
		return "application/json", mt
	}
	types := sortedKeys(content)
	for _, ct := range types {
		if isJSONLike(ct) {
			return ct, content[ct]
		}
	}
	return types[0], content[types[0]]
}

func isJSONLike(contentType string) bool {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct == "application/json" || strings.HasSuffix(ct, "+json") || strings.HasSuffix(ct, "/json")
}

// canFlatten reports whether a body schema is a plain object whose fields can
// live next to the parameters without losing information.
func canFlatten(body map[string]any, params map[string]any) bool {
	if t, _ := body["type"].(string); t != "object" {
		return false
	}
	bodyProps, ok := body["properties"].(map[string]any)
	if !ok || len(bodyProps) == 0 {
		return false
	}
	for _, kw := range []string{"allOf", "oneOf", "anyOf", "not", "discriminator"} {
		if _, ok := body[kw]; ok {
			return false
		}
	}
	if ap, ok := body["additionalProperties"]; ok {
		if b, isBool := ap.(bool); !isBool || b {
			return false
		}
	}
	for field := range bodyProps {
		if _, clash := params[field]; clash || field == domain.RequestBodyKey {
			return false
		}
	}
	return true
}

func responseSchema(responses *openapi3.Responses) map[string]any {
	if responses == nil {
		return nil
	}
	all := responses.Map()
	codes := []string{"200", "201"}
	for _, code := range sortedKeys(all) {
		if strings.HasPrefix(code, "2") && code != "200" && code != "201" {
			codes = append(codes, code)
		}
	}
	for _, code := range codes {
		ref, ok := all[code]
		if !ok || ref == nil || ref.Value == nil {
			continue
		}
		ct, media := pickContent(ref.Value.Content)
		if media == nil || media.Schema == nil || !isJSONLike(ct) {
			continue
		}
		return schemaToMap(media.Schema, map[*openapi3.Schema]bool{})
	}
	return nil
}

// schemaToMap inlines a dereferenced schema into a plain JSON Schema object.
// A schema that refers back to one of its ancestors is emitted as {}.
func schemaToMap(ref *openapi3.SchemaRef, visiting map[*openapi3.Schema]bool) map[string]any {
	if ref == nil || ref.Value == nil {
		return map[string]any{}
	}
	s := ref.Value
	if visiting[s] {
		return map[string]any{}
	}
	visiting[s] = true
	defer delete(visiting, s)

	out := map[string]any{}
	var types []string
	if s.Type != nil {
		types = append(types, (*s.Type)...)
	}
	if s.Nullable && len(types) > 0 {
		types = append(types, "null")
	}
	switch len(types) {
	case 0:
	case 1:
		out["type"] = types[0]
	default:
		list := make([]any, len(types))
		for i, t := range types {
			list[i] = t
		}
		out["type"] = list
	}

	if s.Title != "" {
		out["title"] = s.Title
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if s.Format != "" {
		out["format"] = s.Format
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Default != nil {
		out["default"] = s.Default
	}
	if s.Example != nil {
		out["examples"] = []any{s.Example}
	}
	if s.ReadOnly {
		out["readOnly"] = true
	}
	if s.WriteOnly {
		out["writeOnly"] = true
	}
	if s.Deprecated {
		out["deprecated"] = true
	}

	if s.Min != nil {
		if s.ExclusiveMin {
			out["exclusiveMinimum"] = *s.Min
		} else {
			out["minimum"] = *s.Min
		}
	}
	if s.Max != nil {
		if s.ExclusiveMax {
			out["exclusiveMaximum"] = *s.Max
		} else {
			out["maximum"] = *s.Max
		}
	}
	if s.MultipleOf != nil {
		out["multipleOf"] = *s.MultipleOf
	}
	if s.MinLength != 0 {
		out["minLength"] = s.MinLength
	}
	if s.MaxLength != nil {
		out["maxLength"] = *s.MaxLength
	}
	if s.Pattern != "" {
		out["pattern"] = s.Pattern
	}
	if s.MinItems != 0 {
		out["minItems"] = s.MinItems
	}
	if s.MaxItems != nil {
		out["maxItems"] = *s.MaxItems
	}
	if s.UniqueItems {
		out["uniqueItems"] = true
	}
	if s.MinProps != 0 {
		out["minProperties"] = s.MinProps
	}
	if s.MaxProps != nil {
		out["maxProperties"] = *s.MaxProps
	}

	if s.Items != nil {
		out["items"] = schemaToMap(s.Items, visiting)
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = schemaToMap(p, visiting)
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = append([]string(nil), s.Required...)
	}
	if s.AdditionalProperties.Has != nil {
		out["additionalProperties"] = *s.AdditionalProperties.Has
	} else if s.AdditionalProperties.Schema != nil {
		out["additionalProperties"] = schemaToMap(s.AdditionalProperties.Schema, visiting)
	}

	for kw, refs := range map[string]openapi3.SchemaRefs{"allOf": s.AllOf, "oneOf": s.OneOf, "anyOf": s.AnyOf} {
		if len(refs) == 0 {
			continue
		}
		list := make([]any, 0, len(refs))
		for _, r := range refs {
			list = append(list, schemaToMap(r, visiting))
		}
		out[kw] = list
	}
	if s.Not != nil {
		out["not"] = schemaToMap(s.Not, visiting)
	}
	if s.Discriminator != nil {
		d := map[string]any{"propertyName": s.Discriminator.PropertyName}
		if len(s.Discriminator.Mapping) > 0 {
			d["mapping"] = s.Discriminator.Mapping
		}
		out["discriminator"] = d
	}
	return out
}

// normalize round-trips v through JSON so stored schemas contain only
// map[string]any, []any, string, float64, bool and nil.
func normalize(v map[string]any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func uniqueStrings(input []string) []string {
	seen := make(map[string]struct{}, len(input))
	out := input[:0]
	for _, v := range input {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
