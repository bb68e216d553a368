package github_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/internal/adapter/outbound/github"
	"github.com/i2y/mcpforge/internal/adapter/outbound/openapi"
	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

const billingYAML = `
openapi: 3.0.3
info:
  title: Billing
  version: 1.0.0
paths:
  /invoices:
    get:
      operationId: listInvoices
      responses:
        "200":
          description: ok
`

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, source string) (domain.ApiRecord, error) {
	args := m.Called(ctx, source)
	return args.Get(0).(domain.ApiRecord), args.Error(1)
}

func (m *mockFetcher) FetchWithConfig(ctx context.Context, config usecase.SchemaSourceConfig) (domain.ApiRecord, error) {
	args := m.Called(ctx, config)
	return args.Get(0).(domain.ApiRecord), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func staticGH(content string) *github.GHClient {
	return github.NewGHClient(func(context.Context, ...string) ([]byte, error) {
		return []byte(content), nil
	})
}

func TestFetcher_FetchWithConfig(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	parser := openapi.NewSchemaFetcher(nil, logger)

	t.Run("github source is parsed", func(t *testing.T) {
		next := &mockFetcher{}
		fetcher := github.NewFetcher(staticGH(billingYAML), parser, next, logger)

		record, err := fetcher.FetchWithConfig(ctx, usecase.SchemaSourceConfig{
			ID:  "billing",
			URL: "github://acme/apis/billing.yaml",
		})
		require.NoError(t, err)
		assert.Equal(t, "billing", record.ID)
		assert.Equal(t, "Billing", record.Name)
		assert.Equal(t, "github://acme/apis/billing.yaml", record.Source)
		assert.NotNil(t, record.ParsedData)
		next.AssertNotCalled(t, "FetchWithConfig", mock.Anything, mock.Anything)
	})

	t.Run("other sources go to the next fetcher", func(t *testing.T) {
		next := &mockFetcher{}
		cfg := usecase.SchemaSourceConfig{URL: "https://example.com/openapi.json"}
		next.On("FetchWithConfig", ctx, cfg).Return(domain.ApiRecord{ID: "remote"}, nil)
		fetcher := github.NewFetcher(staticGH(""), parser, next, logger)

		record, err := fetcher.Fetch(ctx, cfg.URL)
		require.NoError(t, err)
		assert.Equal(t, "remote", record.ID)
		next.AssertExpectations(t)
	})

	t.Run("without a next fetcher", func(t *testing.T) {
		fetcher := github.NewFetcher(staticGH(""), parser, nil, logger)
		_, err := fetcher.Fetch(ctx, "./openapi.yaml")
		assert.ErrorContains(t, err, "not a GitHub URL")
	})

	t.Run("unparseable document", func(t *testing.T) {
		fetcher := github.NewFetcher(staticGH("not: [openapi"), parser, nil, logger)
		_, err := fetcher.Fetch(ctx, "github://acme/apis/broken.yaml")
		assert.ErrorContains(t, err, "failed to parse OpenAPI document")
	})
}

func TestOpenConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("github", func(t *testing.T) {
		rc, err := github.OpenConfig(ctx, staticGH("listen_addr: :9000\n"), "github://acme/ops/mcpforge.yaml")
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "listen_addr: :9000\n", string(data))
	})

	t.Run("local file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))
		rc, err := github.OpenConfig(ctx, staticGH(""), path)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "log_level: debug\n", string(data))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := github.OpenConfig(ctx, staticGH(""), filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
