package toolserver

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"

	"github.com/i2y/mcpforge/internal/adapter/outbound/httpinvoker"
	"github.com/i2y/mcpforge/internal/adapter/outbound/invoker"
	"github.com/i2y/mcpforge/internal/adapter/outbound/mockinvoker"
	"github.com/i2y/mcpforge/internal/domain"
)

// Config is what a generated main.go hands to Run.
type Config struct {
	Name       string
	Version    string
	Transport  domain.TransportType
	Port       int
	Categories []string

	// Args are the command-line arguments without the program name.
	Args []string
	// Root holds tools/ and public/. Defaults to the working directory.
	Root fs.FS
	// LogFile receives logs when set; stderr otherwise.
	LogFile string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	ShutdownTimeout time.Duration
}

// Run parses --tools, loads the tool files and serves until ctx is done.
// An invalid --tools value is returned before anything is served.
func Run(ctx context.Context, cfg Config) error {
	cfg = withDefaults(cfg)

	fset := flag.NewFlagSet(cfg.Name, flag.ContinueOnError)
	fset.SetOutput(cfg.Stderr)
	toolsArg := fset.String("tools", "", "comma separated category.permission filters (permission: all, create, read, update, delete)")
	port := fset.Int("port", cfg.Port, "listen port for HTTP transports")
	if err := fset.Parse(cfg.Args); err != nil {
		return err
	}

	var filter Filter
	toolsSet := false
	fset.Visit(func(f *flag.Flag) { toolsSet = toolsSet || f.Name == "tools" })
	if toolsSet {
		parsed, err := ParseToolsArg(*toolsArg, cfg.Categories)
		if err != nil {
			return err
		}
		filter = parsed
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	entries, err := LoadTools(cfg.Root, filter)
	if err != nil {
		return err
	}
	logger.Info("Loaded tools", slog.Int("count", len(entries)), slog.String("filter", *toolsArg))

	router := invoker.NewRouter(httpinvoker.New(nil, logger), mockinvoker.New(logger), logger)
	registry, err := NewRegistry(entries, router, logger)
	if err != nil {
		return err
	}
	srv, err := NewServer(cfg.Name, cfg.Version, registry, logger)
	if err != nil {
		return err
	}

	switch cfg.Transport {
	case domain.TransportStdio:
		return srv.ServeStdio(ctx, cfg.Stdin, cfg.Stdout)
	case domain.TransportWeb:
		addr := fmt.Sprintf(":%d", *port)
		sse := server.NewSSEServer(srv.MCPServer(), server.WithBaseURL(fmt.Sprintf("http://localhost:%d", *port)))
		r := newRouter(cfg.Root)
		r.Handle("/sse", sse.SSEHandler())
		r.Handle("/message", sse.MessageHandler())
		return serveHTTP(ctx, addr, r, cfg.ShutdownTimeout, logger, func(c context.Context) error {
			return sse.Shutdown(c)
		})
	case domain.TransportStreamableHTTP:
		addr := fmt.Sprintf(":%d", *port)
		handler, err := NewStreamableHandler(srv, logger)
		if err != nil {
			return err
		}
		r := newRouter(cfg.Root)
		r.Handle("/mcp", handler)
		return serveHTTP(ctx, addr, r, cfg.ShutdownTimeout, logger, func(context.Context) error {
			handler.Close()
			return nil
		})
	default:
		return fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Name == "" {
		cfg.Name = "mcp-server"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.Transport == "" {
		cfg.Transport = domain.TransportStdio
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.Root == nil {
		cfg.Root = os.DirFS(".")
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return cfg
}

func newLogger(cfg Config) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	if cfg.LogFile == "" {
		return slog.New(slog.NewTextHandler(cfg.Stderr, &slog.HandlerOptions{Level: level})), func() {}, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})), func() { _ = f.Close() }, nil
}

// newRouter serves public/ at the root when the project has one.
func newRouter(root fs.FS) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if public, err := fs.Sub(root, "public"); err == nil {
		if _, err := fs.Stat(public, "index.html"); err == nil {
			r.Handle("/*", http.FileServer(http.FS(public)))
		}
	}
	return r
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, timeout time.Duration, logger *slog.Logger, onShutdown func(context.Context) error) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("MCP HTTP server starting.", slog.String("address", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down MCP HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := onShutdown(shutdownCtx); err != nil {
		logger.Error("Transport shutdown failed", slog.Any("error", err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	logger.Info("MCP HTTP server shut down gracefully.")
	return nil
}
