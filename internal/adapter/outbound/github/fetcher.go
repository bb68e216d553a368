package github

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

// DocumentParser turns raw OpenAPI bytes into an API record.
type DocumentParser interface {
	Parse(ctx context.Context, raw []byte) (domain.ApiRecord, error)
}

// Fetcher implements usecase.SchemaFetcher for github:// sources and hands
// every other source to the next fetcher.
type Fetcher struct {
	ghClient *GHClient
	parser   DocumentParser
	next     usecase.SchemaFetcher
	logger   *slog.Logger
}

// NewFetcher creates a new GitHub schema fetcher.
func NewFetcher(ghClient *GHClient, parser DocumentParser, next usecase.SchemaFetcher, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		ghClient: ghClient,
		parser:   parser,
		next:     next,
		logger:   logger.With("component", "github_fetcher"),
	}
}

// Fetch retrieves a schema from a GitHub repository or the next fetcher.
func (f *Fetcher) Fetch(ctx context.Context, source string) (domain.ApiRecord, error) {
	return f.FetchWithConfig(ctx, usecase.SchemaSourceConfig{URL: source})
}

// FetchWithConfig retrieves a schema. Headers are not sent for github://
// sources since gh carries its own credentials.
func (f *Fetcher) FetchWithConfig(ctx context.Context, config usecase.SchemaSourceConfig) (domain.ApiRecord, error) {
	if !IsGitHubURL(config.URL) {
		if f.next == nil {
			return domain.ApiRecord{}, fmt.Errorf("not a GitHub URL: %s", config.URL)
		}
		return f.next.FetchWithConfig(ctx, config)
	}

	log := f.logger.With(slog.String("source", config.URL))
	log.Info("Fetching OpenAPI document from GitHub")

	content, err := f.ghClient.FetchFile(ctx, config.URL)
	if err != nil {
		log.Error("Failed to fetch file from GitHub", slog.Any("error", err))
		return domain.ApiRecord{}, fmt.Errorf("failed to fetch file from GitHub: %w", err)
	}

	record, err := f.parser.Parse(ctx, content)
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

	log.Info("Successfully fetched OpenAPI document from GitHub", slog.String("api_id", record.ID))
	return record, nil
}

// OpenConfig opens a configuration file from either a github:// URL or the
// local filesystem.
func OpenConfig(ctx context.Context, client *GHClient, path string) (io.ReadCloser, error) {
	if IsGitHubURL(path) {
		content, err := client.FetchFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch config from GitHub: %w", err)
		}
		return io.NopCloser(bytes.NewReader(content)), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return file, nil
}
