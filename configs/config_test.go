package configs_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/configs"
	"github.com/i2y/mcpforge/internal/adapter/outbound/github"
	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

const sampleYAML = `
api_sources:
  - https://petstore.example.com/openapi.json
  - id: billing
    name: Billing
    url: github://acme/apis/billing.yaml
    headers:
      Authorization: Bearer abc
  - name: no-url
  - 42
external_servers:
  - id: search
    name: Search
    url: http://localhost:9000/mcp
  - id: files
    transport: stdio
    command: mcp-files
    args: [--root, /tmp]
    env: [DEBUG=1]
  - name: anonymous
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcpforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noGH(t *testing.T) *github.GHClient {
	return github.NewGHClient(func(context.Context, ...string) ([]byte, error) {
		t.Fatal("gh must not be called")
		return nil, nil
	})
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("MCPFORGE_CONFIG_FILE", writeConfig(t, sampleYAML))
	t.Setenv("MCPFORGE_LISTEN_ADDR", ":9090")
	t.Setenv("MCPFORGE_SHUTDOWN_TIMEOUT", "2s")
	t.Setenv("MCPFORGE_DATABASE_DSN", "file:mcpforge.db")

	cfg, err := configs.LoadWith(context.Background(), noGH(t))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "file:mcpforge.db", cfg.DatabaseDSN)
	assert.Equal(t, "cl100k_base", cfg.TokenizerEncoding)
	assert.Equal(t, "build", cfg.BuildOutputDir)
	assert.Empty(t, cfg.RedisAddr)

	assert.Equal(t, []configs.APISource{
		{URL: "https://petstore.example.com/openapi.json"},
		{ID: "billing", Name: "Billing", URL: "github://acme/apis/billing.yaml", Headers: map[string]string{"Authorization": "Bearer abc"}},
	}, cfg.APISources)

	assert.Equal(t, []usecase.SchemaSourceConfig{
		{URL: "https://petstore.example.com/openapi.json"},
		{ID: "billing", Name: "Billing", URL: "github://acme/apis/billing.yaml", Headers: map[string]string{"Authorization": "Bearer abc"}},
	}, cfg.SchemaSources())

	require.Len(t, cfg.ExternalServers, 2)
	assert.Equal(t, domain.ExternalServer{
		ID: "search", Name: "Search", Transport: domain.TransportStreamableHTTP, URL: "http://localhost:9000/mcp",
	}, cfg.ExternalServers[0])
	assert.Equal(t, domain.TransportStdio, cfg.ExternalServers[1].Transport)
	assert.Equal(t, []string{"--root", "/tmp"}, cfg.ExternalServers[1].Args)
	assert.Equal(t, []string{"DEBUG=1"}, cfg.ExternalServers[1].Env)
}

func TestLoad_GitHubConfig(t *testing.T) {
	t.Setenv("MCPFORGE_CONFIG_FILE", "github://acme/ops/mcpforge.yaml")

	gh := github.NewGHClient(func(context.Context, ...string) ([]byte, error) {
		return []byte("api_sources:\n  - ./openapi.yaml\n"), nil
	})
	cfg, err := configs.LoadWith(context.Background(), gh)
	require.NoError(t, err)
	assert.Equal(t, []configs.APISource{{URL: "./openapi.yaml"}}, cfg.APISources)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Run("explicit path must exist", func(t *testing.T) {
		t.Setenv("MCPFORGE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
		_, err := configs.LoadWith(context.Background(), noGH(t))
		assert.Error(t, err)
	})

	t.Run("default path may be absent", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, err := configs.LoadWith(context.Background(), noGH(t))
		require.NoError(t, err)
		assert.Empty(t, cfg.APISources)
		assert.Empty(t, cfg.ExternalServers)
		assert.Equal(t, ":8080", cfg.ListenAddr)
	})
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Setenv("MCPFORGE_CONFIG_FILE", writeConfig(t, "api_sources: [unterminated"))
	_, err := configs.LoadWith(context.Background(), noGH(t))
	assert.ErrorContains(t, err, "failed to unmarshal")
}

func TestConfig_ParsedLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &configs.Config{LogLevel: tt.level}
			assert.Equal(t, tt.want, cfg.ParsedLogLevel())
		})
	}
}
