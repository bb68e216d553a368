package filewriter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/i2y/mcpforge/internal/domain"
)

// Writer implements usecase.ProjectWriter on the local filesystem.
type Writer struct {
	logger *slog.Logger
}

// New creates a new Writer.
func New(logger *slog.Logger) *Writer {
	return &Writer{logger: logger.With("component", "file_writer")}
}

// Write stores every project file below dir, replacing files that already
// exist. Each file is written to a temporary name and renamed into place.
func (w *Writer) Write(ctx context.Context, dir string, project domain.GeneratedProject) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	for _, rel := range project.Paths() {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := resolve(root, rel)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", rel, err)
		}
		if err := writeAtomic(target, project.Files[rel]); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
		w.logger.Debug("Wrote file", slog.String("path", target))
	}
	w.logger.Info("Project written", slog.String("dir", root), slog.Int("files", len(project.Files)))
	return nil
}

// resolve joins rel onto root and rejects paths that leave root.
func resolve(root, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid project path %q", rel)
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("project path %q escapes the output directory", rel)
	}
	return target, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
