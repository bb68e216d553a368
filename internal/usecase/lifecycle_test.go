package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

func TestLifecycleUseCase(t *testing.T) {
	ctx := context.Background()
	repo := seedMcp(t, nil)
	registry := &staticRegistry{servers: map[string]*usecase.RunningServer{}}
	uc := usecase.NewLifecycleUseCase(repo, registry, newTestLogger())

	assert.Equal(t, usecase.StatusStopped, uc.Status("m1"))

	rs, err := uc.Start(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, usecase.StatusRunning, rs.Status)
	assert.Equal(t, usecase.StatusRunning, uc.Status("m1"))

	again, err := uc.Start(ctx, "m1")
	require.NoError(t, err)
	assert.Same(t, rs, again)

	restarted, err := uc.Restart(ctx, "m1")
	require.NoError(t, err)
	assert.NotSame(t, rs, restarted)

	_, err = uc.Start(ctx, "missing")
	assert.ErrorIs(t, err, usecase.ErrMcpNotFound)

	ext, err := uc.ConnectExternal(ctx, domain.ExternalServer{ID: "ext", Transport: domain.TransportStreamableHTTP, URL: "http://localhost:9/mcp"})
	require.NoError(t, err)
	assert.True(t, ext.External)
	_, err = uc.ConnectExternal(ctx, domain.ExternalServer{})
	assert.Error(t, err)

	require.NoError(t, uc.Stop(ctx, "m1"))
	assert.ErrorIs(t, uc.Stop(ctx, "m1"), usecase.ErrServerNotRunning)
}

// MockProjectGenerator is a mock implementation of usecase.ProjectGenerator.
type MockProjectGenerator struct {
	mock.Mock
}

func (m *MockProjectGenerator) Generate(record *domain.McpData, opts usecase.BuildOptions) (domain.GeneratedProject, error) {
	args := m.Called(record, opts)
	return args.Get(0).(domain.GeneratedProject), args.Error(1)
}

// MockProjectWriter is a mock implementation of usecase.ProjectWriter.
type MockProjectWriter struct {
	mock.Mock
}

func (m *MockProjectWriter) Write(ctx context.Context, dir string, project domain.GeneratedProject) error {
	return m.Called(ctx, dir, project).Error(0)
}

func TestBuildServerUseCase_Execute(t *testing.T) {
	ctx := context.Background()
	repo := seedMcp(t, map[string]*domain.ApiGroup{
		"api": {Name: "petstore", Tools: []domain.ToolDefinition{searchTool()}},
	})
	project := domain.GeneratedProject{Files: map[string][]byte{"main.go": []byte("package main"), "go.mod": []byte("module x")}}

	generator := new(MockProjectGenerator)
	generator.On("Generate", mock.Anything, usecase.BuildOptions{
		ServiceName:    "demo",
		ServiceVersion: "1.0.0",
		Transport:      domain.TransportStdio,
		Port:           3000,
		ModulePath:     "example.com/demo",
	}).Return(project, nil).Once()
	writer := new(MockProjectWriter)
	writer.On("Write", mock.Anything, "/out/demo", project).Return(nil).Once()

	uc := usecase.NewBuildServerUseCase(repo, generator, writer, newTestLogger())
	res, err := uc.Execute(ctx, "m1", "/out", usecase.BuildOptions{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "/out/demo", res.Data.Dir)
	assert.Equal(t, []string{"go.mod", "main.go"}, res.Data.Files)

	missing, err := uc.Execute(ctx, "nope", "/out", usecase.BuildOptions{})
	require.NoError(t, err)
	assert.False(t, missing.Success)

	generator.AssertExpectations(t)
	writer.AssertExpectations(t)
}
