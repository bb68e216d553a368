package httpinvoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/i2y/mcpforge/internal/domain"
)

// Invoker implements usecase.ToolInvoker against the tool's real upstream.
// The base URL and credentials are read from the environment variables named
// by the tool's security scheme.
type Invoker struct {
	client *http.Client
	getenv func(string) string
	logger *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithEnv replaces os.Getenv as the source of base URLs and credentials.
func WithEnv(getenv func(string) string) Option {
	return func(i *Invoker) { i.getenv = getenv }
}

// New creates a new HTTP Invoker.
func New(client *http.Client, logger *slog.Logger, opts ...Option) *Invoker {
	if client == nil {
		client = http.DefaultClient
	}
	i := &Invoker{
		client: client,
		getenv: os.Getenv,
		logger: logger.With("component", "http_invoker"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke executes one tool call. Arguments are routed by the tool's
// execution parameters; arguments with no route are ignored.
func (i *Invoker) Invoke(ctx context.Context, tool domain.ToolDefinition, args map[string]any) (any, error) {
	log := i.logger.With(
		slog.String("tool", tool.Name),
		slog.String("method", tool.Method),
		slog.String("path", tool.PathTemplate),
	)

	base, err := i.baseURL(tool)
	if err != nil {
		log.Error("Cannot resolve upstream base URL", slog.Any("error", err))
		return nil, err
	}

	path := tool.PathTemplate
	query := url.Values{}
	headers := http.Header{}
	var cookies []*http.Cookie
	bodyFields := map[string]any{}
	var bodyRoot any
	hasBodyRoot := false

	for _, ep := range tool.ExecutionParameters {
		v, ok := args[ep.Name]
		if !ok || v == nil {
			continue
		}
		switch ep.In {
		case domain.ParamInPath:
			path = strings.ReplaceAll(path, "{"+ep.Name+"}", url.PathEscape(scalar(v)))
		case domain.ParamInQuery:
			if list, isList := v.([]any); isList {
				for _, item := range list {
					query.Add(ep.Name, scalar(item))
				}
			} else {
				query.Add(ep.Name, scalar(v))
			}
		case domain.ParamInHeader:
			headers.Set(ep.Name, scalar(v))
		case domain.ParamInCookie:
			cookies = append(cookies, &http.Cookie{Name: ep.Name, Value: scalar(v)})
		case domain.ParamInBody:
			bodyFields[ep.Name] = v
		case domain.ParamInBodyRoot:
			bodyRoot = v
			hasBodyRoot = true
		}
	}
	if strings.Contains(path, "{") {
		log.Warn("Path template has unresolved parameters", slog.String("resolved_path", path))
		return nil, fmt.Errorf("missing path parameters for %s", tool.PathTemplate)
	}

	target, err := url.Parse(strings.TrimSuffix(base, "/") + path)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	var body io.Reader
	if hasBodyRoot || len(bodyFields) > 0 {
		payload := any(bodyFields)
		if hasBodyRoot {
			payload = bodyRoot
		}
		encoded, err := encodeBody(tool.RequestBodyContentType, payload)
		if err != nil {
			log.Error("Failed to encode request body", slog.Any("error", err))
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, tool.Method, target.String(), body)
	if err != nil {
		log.Error("Failed to create HTTP request", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	if body != nil {
		ct := tool.RequestBodyContentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	i.applyAuth(tool, req, query)
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}

	log = log.With(slog.String("url", req.URL.Redacted()))
	log.Debug("Executing HTTP request")
	resp, err := i.client.Do(req)
	if err != nil {
		log.Error("HTTP request failed", slog.Any("error", err))
		return nil, fmt.Errorf("request execution failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("Failed to read response body", slog.Any("error", err))
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log = log.With(slog.Int("status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("Received non-success status code")
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "json") && len(respBody) > 0 {
		var result any
		if err := json.Unmarshal(respBody, &result); err != nil {
			log.Warn("Failed to unmarshal JSON response, returning raw body as string", slog.Any("error", err))
			return string(respBody), nil
		}
		return result, nil
	}
	return string(respBody), nil
}

func (i *Invoker) baseURL(tool domain.ToolDefinition) (string, error) {
	if tool.SecurityScheme == nil || tool.SecurityScheme.BaseURLEnvVar == "" {
		return "", fmt.Errorf("tool %s has no base URL variable", tool.Name)
	}
	name := tool.SecurityScheme.BaseURLEnvVar
	base := i.getenv(name)
	if base == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return base, nil
}

func (i *Invoker) applyAuth(tool domain.ToolDefinition, req *http.Request, query url.Values) {
	if tool.SecurityScheme == nil || tool.SecurityScheme.Schema == nil {
		return
	}
	scheme := tool.SecurityScheme.Schema
	switch scheme.Type {
	case domain.AuthAPIKey:
		key := i.getenv(scheme.KeyEnvVar)
		if key == "" {
			i.logger.Warn("API key variable is not set", slog.String("variable", scheme.KeyEnvVar))
			return
		}
		if scheme.In == "query" {
			query.Set(scheme.Name, key)
		} else {
			req.Header.Set(scheme.Name, key)
		}
	case domain.AuthBearerToken:
		token := i.getenv(scheme.TokenEnvVar)
		if token == "" {
			i.logger.Warn("Bearer token variable is not set", slog.String("variable", scheme.TokenEnvVar))
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func encodeBody(contentType string, payload any) ([]byte, error) {
	ct := strings.ToLower(contentType)
	switch {
	case ct == "" || strings.Contains(ct, "json"):
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		return data, nil
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		fields, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("form body must be an object")
		}
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, scalar(v))
		}
		return []byte(form.Encode()), nil
	case strings.HasPrefix(ct, "text/"):
		return []byte(scalar(payload)), nil
	default:
		return nil, fmt.Errorf("cannot encode request body for Content-Type: %s", contentType)
	}
}

// scalar renders an argument for a URL, header or form position. Objects
// and arrays are sent as JSON.
func scalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case json.Number:
		return val.String()
	case map[string]any, []any:
		data, _ := json.Marshal(val)
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}
