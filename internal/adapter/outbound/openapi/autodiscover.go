package openapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Well-known document locations of common API frameworks.
var commonOpenAPIPaths = []string{
	"/openapi.json",
	"/openapi.yaml",
	"/docs/openapi.json",
	"/swagger.json",
	"/v3/api-docs",
	"/api-docs",
	"/api/openapi.json",
	"/api/v1/openapi.json",
	"/swagger/v1/swagger.json",
	"/_spec",
}

// AutoDiscoverer finds the API document behind a service base URL.
type AutoDiscoverer struct {
	client *http.Client
	logger *slog.Logger
}

// NewAutoDiscoverer creates a new AutoDiscoverer.
func NewAutoDiscoverer(client *http.Client, logger *slog.Logger) *AutoDiscoverer {
	return &AutoDiscoverer{
		client: client,
		logger: logger.With("component", "openapi_autodiscoverer"),
	}
}

// ResolveSchemaSource returns source unchanged when it already names a
// document (local path, *.json/*.yaml, or a URL mentioning openapi/swagger).
// Otherwise it probes the well-known paths below the base URL and falls back
// to source when nothing answers.
func (d *AutoDiscoverer) ResolveSchemaSource(ctx context.Context, source string, headers map[string]string) string {
	log := d.logger.With(slog.String("source", source))
	if looksLikeDocument(source) {
		log.Debug("Source appears to be a direct document location")
		return source
	}

	discovered, err := d.DiscoverSchema(ctx, source, headers)
	if err != nil {
		log.Warn("Auto-discovery failed, using original source", slog.Any("error", err))
		return source
	}
	log.Info("Auto-discovered OpenAPI document", slog.String("resolved_url", discovered))
	return discovered
}

// DiscoverSchema probes the well-known document paths below baseURL.
func (d *AutoDiscoverer) DiscoverSchema(ctx context.Context, baseURL string, headers map[string]string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("base URL must include scheme (http:// or https://)")
	}
	base := strings.TrimSuffix(parsed.String(), "/")

	for _, path := range commonOpenAPIPaths {
		candidate := base + path
		found, err := d.checkOpenAPIEndpoint(ctx, candidate, headers)
		if found {
			return candidate, nil
		}
		if err != nil {
			d.logger.Debug("Failed to probe endpoint", slog.String("url", candidate), slog.Any("error", err))
		}
	}
	return "", fmt.Errorf("could not find OpenAPI document at %s", baseURL)
}

func (d *AutoDiscoverer) checkOpenAPIEndpoint(ctx context.Context, candidate string, headers map[string]string) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, candidate, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json, application/yaml")
	req.Header.Set("User-Agent", "mcpforge/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	contentType := resp.Header.Get("Content-Type")
	return strings.Contains(contentType, "json") || strings.Contains(contentType, "yaml"), nil
}

func looksLikeDocument(source string) bool {
	u, err := url.ParseRequestURI(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return true
	}
	lower := strings.ToLower(u.Path)
	return strings.HasSuffix(lower, ".json") ||
		strings.HasSuffix(lower, ".yaml") ||
		strings.HasSuffix(lower, ".yml") ||
		strings.Contains(lower, "openapi") ||
		strings.Contains(lower, "swagger") ||
		strings.Contains(lower, "api-docs")
}
