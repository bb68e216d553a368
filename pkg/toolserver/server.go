package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/i2y/mcpforge/pkg/shared/mcpjsonrpc"
)

// Server is an MCP server exposing a Registry.
type Server struct {
	mcp      *server.MCPServer
	registry *Registry
	logger   *slog.Logger
}

// NewServer creates an mcp-go server named name and registers the
// registry's tools on it.
func NewServer(name, version string, registry *Registry, logger *slog.Logger) (*Server, error) {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	if err := registry.Register(s); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return &Server{
		mcp:      s,
		registry: registry,
		logger:   logger.With("component", "tool_server"),
	}, nil
}

// MCPServer exposes the underlying mcp-go server, e.g. for an in-process
// client.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Registry returns the tools the server advertises.
func (s *Server) Registry() *Registry { return s.registry }

// HandleMessage processes one JSON-RPC message and returns the response to
// send, or nil for notifications. tools/call for a name the registry does
// not know is answered with an error result instead of a protocol error.
func (s *Server) HandleMessage(ctx context.Context, raw json.RawMessage) any {
	var req mcpjsonrpc.Request
	if err := json.Unmarshal(raw, &req); err == nil && req.Method == string(mcp.MethodToolsCall) && !req.IsNotification() {
		var params mcpjsonrpc.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err == nil && !s.registry.Has(params.Name) {
			return mcpjsonrpc.NewResult(req.ID, s.registry.Call(ctx, params.Name, params.Arguments))
		}
	}
	resp := s.mcp.HandleMessage(ctx, raw)
	if resp == nil {
		return nil
	}
	return resp
}

// ServeStdio reads newline-delimited messages from in and writes responses
// and notifications to out until in is exhausted or ctx is done.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := newSession("stdio", nil)
	if err := s.mcp.RegisterSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to register stdio session: %w", err)
	}
	defer s.mcp.UnregisterSession(context.Background(), sess.SessionID())
	ctx = s.mcp.WithContext(ctx, sess)

	var mu sync.Mutex
	enc := json.NewEncoder(out)
	write := func(v any) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(v); err != nil {
			s.logger.Error("Failed to write stdio message", slog.Any("error", err))
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-sess.notifications:
				write(n)
			}
		}
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.logger.Info("Serving MCP over stdio", slog.Int("tools", s.registry.Len()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			return nil
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			if resp := s.HandleMessage(ctx, line); resp != nil {
				write(resp)
			}
		}
	}
}

// session is one client connection: a stdio pipe or a streamable HTTP
// session id.
type session struct {
	id            string
	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool
	done          chan struct{}
	closeOnce     sync.Once
	onClose       func(id string)
}

func newSession(id string, onClose func(id string)) *session {
	return &session{
		id:            id,
		notifications: make(chan mcp.JSONRPCNotification, 100),
		done:          make(chan struct{}),
		onClose:       onClose,
	}
}

func (s *session) SessionID() string { return s.id }

func (s *session) NotificationChannel() chan<- mcp.JSONRPCNotification { return s.notifications }

func (s *session) Initialize() { s.initialized.Store(true) }

func (s *session) Initialized() bool { return s.initialized.Load() }

// Close disposes the session once.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose(s.id)
		}
	})
}

var _ server.ClientSession = (*session)(nil)
