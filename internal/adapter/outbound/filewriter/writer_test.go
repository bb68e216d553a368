package filewriter_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/internal/adapter/outbound/filewriter"
	"github.com/i2y/mcpforge/internal/domain"
)

func newWriter() *filewriter.Writer {
	return filewriter.New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func TestWriter_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")
	w := newWriter()

	project := domain.GeneratedProject{Files: map[string][]byte{
		"main.go":                      []byte("package main\n"),
		"tools/petstore.json":          []byte("{}\n"),
		"docs/oauth2-configuration.md": []byte("# OAuth2\n"),
	}}
	require.NoError(t, w.Write(context.Background(), dir, project))

	for rel, want := range project.Files {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Rewriting replaces content.
	project.Files["main.go"] = []byte("package main\n\nfunc main() {}\n")
	require.NoError(t, w.Write(context.Background(), dir, project))
	got, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}\n", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".main.go.", "temporary files are cleaned up")
	}
}

func TestWriter_RejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	w := newWriter()

	for _, rel := range []string{"../outside.txt", "/etc/passwd", ""} {
		err := w.Write(context.Background(), dir, domain.GeneratedProject{Files: map[string][]byte{rel: []byte("x")}})
		assert.Error(t, err, rel)
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "outside.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newWriter().Write(ctx, t.TempDir(), domain.GeneratedProject{Files: map[string][]byte{"a": []byte("a")}})
	assert.ErrorIs(t, err, context.Canceled)
}
