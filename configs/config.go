package configs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/i2y/mcpforge/internal/adapter/outbound/github"
	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

const (
	envPrefix         = "mcpforge"
	defaultConfigFile = "configs/mcpforge.yaml"
)

// APISource is an OpenAPI document imported on startup.
type APISource struct {
	ID      string            `yaml:"id,omitempty"`
	Name    string            `yaml:"name,omitempty"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// FileConfig defines the structure loaded from the YAML configuration file.
type FileConfig struct {
	APISources      []interface{}           `yaml:"api_sources"`
	ExternalServers []domain.ExternalServer `yaml:"external_servers"`
}

// Config holds the final application configuration, merged from file and
// environment variables. Environment variables carry the prefix "MCPFORGE_"
// and override file settings.
type Config struct {
	ConfigFilePath string `envconfig:"CONFIG_FILE" default:"configs/mcpforge.yaml"`

	// File-loaded fields
	APISources      []APISource
	ExternalServers []domain.ExternalServer

	ListenAddr         string        `envconfig:"LISTEN_ADDR" default:":8080"`
	HTTPClientTimeout  time.Duration `envconfig:"HTTP_CLIENT_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"5s"`
	ServerWriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"`
	ServerIdleTimeout  time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`

	// DatabaseDSN selects the sqlite store; empty keeps everything in memory.
	DatabaseDSN string `envconfig:"DATABASE_DSN"`
	// RedisAddr selects redis-backed mutation locks; empty uses in-process locks.
	RedisAddr    string        `envconfig:"REDIS_ADDR"`
	RedisLockTTL time.Duration `envconfig:"REDIS_LOCK_TTL" default:"30s"`

	TokenizerEncoding string `envconfig:"TOKENIZER_ENCODING" default:"cl100k_base"`
	// ParamInfixNames keeps intermediate path parameters in synthesized tool names.
	ParamInfixNames bool `envconfig:"PARAM_INFIX_NAMES"`

	// Optimizer model endpoint. An empty URL selects the heuristic policies.
	OptimizerURL    string `envconfig:"OPTIMIZER_URL"`
	OptimizerAPIKey string `envconfig:"OPTIMIZER_API_KEY"`
	OptimizerModel  string `envconfig:"OPTIMIZER_MODEL" default:"gpt-4o-mini"`

	BuildOutputDir string `envconfig:"BUILD_OUTPUT_DIR" default:"build"`
	RuntimeModule  string `envconfig:"RUNTIME_MODULE"`
	RuntimeVersion string `envconfig:"RUNTIME_VERSION"`

	OtelExporterOtlpEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpInsecure bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	LogLevel                 string `envconfig:"LOG_LEVEL" default:"info"`
}

// ParsedLogLevel returns the slog.Level based on the configured LogLevel string.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// SchemaSources converts the configured API sources for the import use case.
func (c *Config) SchemaSources() []usecase.SchemaSourceConfig {
	out := make([]usecase.SchemaSourceConfig, 0, len(c.APISources))
	for _, s := range c.APISources {
		out = append(out, usecase.SchemaSourceConfig{ID: s.ID, Name: s.Name, URL: s.URL, Headers: s.Headers})
	}
	return out
}

// Load reads configuration from the environment and the YAML file it names.
// The file may be a local path or a github:// URL. A missing file at the
// default path is not an error.
func Load() (*Config, error) {
	return LoadWith(context.Background(), github.NewGHClient(nil))
}

// LoadWith is Load with an explicit GitHub client for github:// config paths.
func LoadWith(ctx context.Context, gh *github.GHClient) (*Config, error) {
	// 1. Env first, primarily for the config file path
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process initial environment variables: %w", err)
	}

	// 2. YAML file
	fileCfg := FileConfig{}
	if cfg.ConfigFilePath != "" {
		rc, err := github.OpenConfig(ctx, gh, cfg.ConfigFilePath)
		switch {
		case err == nil:
			data, readErr := io.ReadAll(rc)
			rc.Close()
			if readErr != nil {
				return nil, fmt.Errorf("failed to read config file '%s': %w", cfg.ConfigFilePath, readErr)
			}
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", cfg.ConfigFilePath, err)
			}
			slog.Info("Loaded configuration file.", "path", cfg.ConfigFilePath)
		case cfg.ConfigFilePath == defaultConfigFile && errors.Is(err, fs.ErrNotExist):
			slog.Info("Default config file not found, using defaults/env vars only.", "path", cfg.ConfigFilePath)
		default:
			return nil, fmt.Errorf("failed to load config file '%s': %w", cfg.ConfigFilePath, err)
		}
	} else {
		slog.Info("No config file path specified (MCPFORGE_CONFIG_FILE), using defaults/env vars only.")
	}

	// 3. Merge file values
	cfg.APISources = parseAPISources(fileCfg.APISources)
	cfg.ExternalServers = make([]domain.ExternalServer, 0, len(fileCfg.ExternalServers))
	for _, srv := range fileCfg.ExternalServers {
		if srv.ID == "" {
			slog.Warn("External server without id, skipping", "name", srv.Name)
			continue
		}
		if srv.Transport == "" {
			srv.Transport = domain.TransportStreamableHTTP
		}
		cfg.ExternalServers = append(cfg.ExternalServers, srv)
	}

	// Env again so variables win over the file.
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process overriding environment variables: %w", err)
	}

	return &cfg, nil
}

// parseAPISources accepts both plain URL strings and {id,name,url,headers}
// objects.
func parseAPISources(raw []interface{}) []APISource {
	sources := make([]APISource, 0, len(raw))
	for _, source := range raw {
		switch v := source.(type) {
		case string:
			sources = append(sources, APISource{URL: v})
		case map[string]interface{}:
			s := APISource{}
			if url, ok := v["url"].(string); ok {
				s.URL = url
			}
			if id, ok := v["id"].(string); ok {
				s.ID = id
			}
			if name, ok := v["name"].(string); ok {
				s.Name = name
			}
			if headers, ok := v["headers"].(map[string]interface{}); ok {
				s.Headers = make(map[string]string)
				for k, val := range headers {
					if strVal, ok := val.(string); ok {
						s.Headers[k] = strVal
					}
				}
			}
			if s.URL == "" {
				slog.Warn("API source without url, skipping", "source", v)
				continue
			}
			sources = append(sources, s)
		default:
			slog.Warn("Ignoring invalid API source format", "source", source)
		}
	}
	return sources
}
