// Command mcpserve serves a built MCP project directory without compiling
// it. Flags after "--" are handed to the tool server unchanged, so
// "mcpserve -dir build/demo -- --tools=pets.read" behaves like the
// generated binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/pkg/toolserver"
)

// Config holds defaults loaded from MCPSERVE_ environment variables.
type Config struct {
	Dir             string        `envconfig:"DIR" default:"."`
	Name            string        `envconfig:"NAME"`
	Transport       string        `envconfig:"TRANSPORT" default:"stdio"`
	Port            int           `envconfig:"PORT" default:"3000"`
	LogFile         string        `envconfig:"LOG_FILE"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "mcpserve: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cfg Config
	if err := envconfig.Process("mcpserve", &cfg); err != nil {
		return fmt.Errorf("failed to process environment variables: %w", err)
	}

	fset := flag.NewFlagSet("mcpserve", flag.ContinueOnError)
	fset.StringVar(&cfg.Dir, "dir", cfg.Dir, "project directory containing tools/*.json")
	fset.StringVar(&cfg.Name, "name", cfg.Name, "server name (default: directory name)")
	fset.StringVar(&cfg.Transport, "transport", cfg.Transport, "stdio, web or streamable-http")
	fset.IntVar(&cfg.Port, "port", cfg.Port, "default listen port for HTTP transports")
	fset.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "write logs to this file instead of stderr")
	if err := fset.Parse(args); err != nil {
		return err
	}

	transport := domain.TransportType(cfg.Transport)
	switch transport {
	case domain.TransportStdio, domain.TransportWeb, domain.TransportStreamableHTTP:
	default:
		return fmt.Errorf("unsupported transport %q", cfg.Transport)
	}

	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", cfg.Dir, err)
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(abs)
	}
	root := os.DirFS(abs)

	all, err := toolserver.LoadTools(root, nil)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return fmt.Errorf("no tools found under %s", filepath.Join(abs, toolserver.ToolsDir))
	}

	return toolserver.Run(ctx, toolserver.Config{
		Name:            cfg.Name,
		Transport:       transport,
		Port:            cfg.Port,
		Categories:      categories(all),
		Args:            fset.Args(),
		Root:            root,
		LogFile:         cfg.LogFile,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
}

// categories returns the sorted, lowercased tag set of entries.
func categories(entries []toolserver.Entry) []string {
	seen := map[string]struct{}{}
	for _, e := range entries {
		for _, tag := range e.Tool.Tags {
			seen[strings.ToLower(tag)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
