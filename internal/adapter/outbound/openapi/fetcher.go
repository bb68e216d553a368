package openapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

// SchemaFetcher implements usecase.SchemaFetcher for OpenAPI 3 documents.
// The returned record's ParsedData is a fully loaded *openapi3.T.
type SchemaFetcher struct {
	httpClient     *http.Client
	logger         *slog.Logger
	autoDiscoverer *AutoDiscoverer
}

// NewSchemaFetcher creates a new OpenAPI SchemaFetcher.
func NewSchemaFetcher(client *http.Client, logger *slog.Logger) *SchemaFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &SchemaFetcher{
		httpClient:     client,
		logger:         logger.With("component", "openapi_fetcher"),
		autoDiscoverer: NewAutoDiscoverer(client, logger),
	}
}

// Fetch loads an OpenAPI document from a URL or local file path.
func (f *SchemaFetcher) Fetch(ctx context.Context, src string) (domain.ApiRecord, error) {
	return f.FetchWithConfig(ctx, usecase.SchemaSourceConfig{URL: src})
}

// FetchWithConfig loads an OpenAPI document, sending config.Headers on
// remote requests.
func (f *SchemaFetcher) FetchWithConfig(ctx context.Context, config usecase.SchemaSourceConfig) (domain.ApiRecord, error) {
	log := f.logger.With(slog.String("source", config.URL))
	log.Info("Fetching OpenAPI document", slog.Int("header_count", len(config.Headers)))

	resolved := f.autoDiscoverer.ResolveSchemaSource(ctx, config.URL, config.Headers)

	var raw []byte
	u, parseErr := url.ParseRequestURI(resolved)
	if parseErr == nil && (u.Scheme == "http" || u.Scheme == "https") {
		body, err := f.download(ctx, resolved, config.Headers)
		if err != nil {
			log.Error("Failed to fetch document from URL", slog.Any("error", err))
			return domain.ApiRecord{}, err
		}
		raw = body
	} else {
		body, err := os.ReadFile(resolved)
		if err != nil {
			log.Error("Failed to read document from file", slog.Any("error", err))
			return domain.ApiRecord{}, fmt.Errorf("failed to read OpenAPI document from file %s: %w", resolved, err)
		}
		raw = body
	}

	record, err := f.Parse(ctx, raw)
	if err != nil {
		log.Error("Failed to parse OpenAPI document", slog.Any("error", err))
		return domain.ApiRecord{}, fmt.Errorf("failed to parse OpenAPI document from %s: %w", config.URL, err)
	}
	record.Source = config.URL
	if config.ID != "" {
		record.ID = config.ID
	}
	if config.Name != "" {
		record.Name = config.Name
	}
	log.Info("Successfully fetched OpenAPI document", slog.String("api_id", record.ID), slog.String("api_name", record.Name))
	return record, nil
}

// Parse loads an in-memory OpenAPI document (JSON or YAML) and resolves its
// internal references. The record gets a fresh id and the document title as
// its name.
func (f *SchemaFetcher) Parse(ctx context.Context, raw []byte) (domain.ApiRecord, error) {
	loader := &openapi3.Loader{Context: ctx, IsExternalRefsAllowed: true}
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return domain.ApiRecord{}, err
	}
	if validateErr := doc.Validate(ctx); validateErr != nil {
		f.logger.Warn("OpenAPI document validation failed", slog.Any("validation_error", validateErr))
	}

	name := "api"
	if doc.Info != nil && doc.Info.Title != "" {
		name = doc.Info.Title
	}
	return domain.ApiRecord{
		ID:         uuid.NewString(),
		Name:       name,
		RawData:    raw,
		ParsedData: doc,
	}, nil
}

func (f *SchemaFetcher) download(ctx context.Context, src string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", src, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OpenAPI document from %s: %w", src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch OpenAPI document from %s: status %s", src, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", src, err)
	}
	return body, nil
}
