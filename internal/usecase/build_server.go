package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/naming"
)

// BuildOptions parameterizes a generated server project. Zero values are
// filled from the MCP record.
type BuildOptions struct {
	ServiceName    string               `json:"serviceName,omitempty"`
	ServiceVersion string               `json:"serviceVersion,omitempty"`
	Transport      domain.TransportType `json:"transport,omitempty"`
	Port           int                  `json:"port,omitempty"`
	// ModulePath is the Go module path of the generated project.
	ModulePath string `json:"modulePath,omitempty"`
}

const defaultServerPort = 3000

// BuiltProject is the data of a successful build.
type BuiltProject struct {
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
}

// BuildServerUseCase renders a standalone server project for an MCP and
// writes it below an output root.
type BuildServerUseCase struct {
	repo      McpRepository
	generator ProjectGenerator
	writer    ProjectWriter
	logger    *slog.Logger
}

// NewBuildServerUseCase creates a new BuildServerUseCase.
func NewBuildServerUseCase(repo McpRepository, generator ProjectGenerator, writer ProjectWriter, logger *slog.Logger) *BuildServerUseCase {
	return &BuildServerUseCase{
		repo:      repo,
		generator: generator,
		writer:    writer,
		logger:    logger.With("usecase", "BuildServer"),
	}
}

// Execute generates the project of mcpID into outputRoot/<service name>.
func (uc *BuildServerUseCase) Execute(ctx context.Context, mcpID, outputRoot string, opts BuildOptions) (domain.Result[BuiltProject], error) {
	ctx, span := tracer.Start(ctx, "BuildServer")
	defer span.End()

	record, err := uc.repo.GetMcpByID(ctx, mcpID)
	if err != nil {
		if errors.Is(err, ErrMcpNotFound) {
			return domain.Fail[BuiltProject](fmt.Sprintf("MCP %s not found", mcpID)), nil
		}
		return domain.Result[BuiltProject]{}, err
	}
	if len(record.ApiGroups) == 0 {
		return domain.Fail[BuiltProject](fmt.Sprintf("MCP %s has no tools", record.Name)), nil
	}
	opts = ResolveBuildOptions(record, opts)

	project, err := uc.generator.Generate(record, opts)
	if err != nil {
		uc.logger.Error("Failed to generate project", slog.String("mcp_id", mcpID), slog.Any("error", err))
		return domain.Result[BuiltProject]{}, fmt.Errorf("failed to generate project: %w", err)
	}
	dir := filepath.Join(outputRoot, opts.ServiceName)
	if err := uc.writer.Write(ctx, dir, project); err != nil {
		uc.logger.Error("Failed to write project", slog.String("dir", dir), slog.Any("error", err))
		return domain.Result[BuiltProject]{}, fmt.Errorf("failed to write project: %w", err)
	}

	files := project.Paths()
	uc.logger.Info("Built server project", slog.String("mcp_id", mcpID), slog.String("dir", dir), slog.Int("files", len(files)))
	return domain.Ok(fmt.Sprintf("Generated %d files in %s", len(files), dir), BuiltProject{Dir: dir, Files: files}), nil
}

// ResolveBuildOptions fills unset options from the MCP record.
func ResolveBuildOptions(record *domain.McpData, opts BuildOptions) BuildOptions {
	if opts.ServiceName == "" {
		opts.ServiceName = naming.KebabCase(record.Name)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "mcp-server"
	}
	if opts.ServiceVersion == "" {
		opts.ServiceVersion = "1.0.0"
	}
	if opts.Transport == "" {
		opts.Transport = record.Transport
	}
	if opts.Transport == "" {
		opts.Transport = domain.TransportStdio
	}
	if opts.Port == 0 {
		opts.Port = record.Port
	}
	if opts.Port == 0 {
		opts.Port = defaultServerPort
	}
	if opts.ModulePath == "" {
		opts.ModulePath = "example.com/" + opts.ServiceName
	}
	return opts
}
