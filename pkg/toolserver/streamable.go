package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/i2y/mcpforge/pkg/shared/mcpjsonrpc"
)

// SessionHeader carries the server-issued session id.
const SessionHeader = "Mcp-Session-Id"

const maxMessageBytes = 4 << 20

const initializeRequestSchema = `{
  "type": "object",
  "required": ["jsonrpc", "id", "method", "params"],
  "properties": {
    "jsonrpc": {"const": "2.0"},
    "id": {"type": ["string", "integer"]},
    "method": {"const": "initialize"},
    "params": {
      "type": "object",
      "required": ["protocolVersion", "capabilities", "clientInfo"],
      "properties": {
        "protocolVersion": {"type": "string"},
        "capabilities": {"type": "object"},
        "clientInfo": {
          "type": "object",
          "required": ["name", "version"],
          "properties": {
            "name": {"type": "string"},
            "version": {"type": "string"}
          }
        }
      }
    }
  }
}`

// StreamableHandler serves the streamable HTTP transport. Sessions are
// created by an initialize request without a session header and disposed
// on DELETE or when their event stream connection closes.
type StreamableHandler struct {
	server     *Server
	initSchema *gojsonschema.Schema
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewStreamableHandler creates a handler for s.
func NewStreamableHandler(s *Server, logger *slog.Logger) (*StreamableHandler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(initializeRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile initialize request schema: %w", err)
	}
	return &StreamableHandler{
		server:     s,
		initSchema: schema,
		logger:     logger.With("component", "streamable_http"),
		sessions:   make(map[string]*session),
	}, nil
}

// ServeHTTP implements http.Handler.
func (h *StreamableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleStream(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *StreamableHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, mcpjsonrpc.CodeParseError, "Parse error: failed to read body")
		return
	}

	var sess *session
	if id := r.Header.Get(SessionHeader); id != "" {
		sess = h.lookup(id)
		if sess == nil {
			h.logger.Warn("Request for unknown session", slog.String("session_id", id))
			h.writeError(w, http.StatusBadRequest, mcpjsonrpc.CodeServerErrorSession, "Bad Request: No valid session ID provided")
			return
		}
	} else {
		if !h.isInitialize(body) {
			h.writeError(w, http.StatusBadRequest, mcpjsonrpc.CodeServerErrorSession, "Bad Request: No valid session ID provided")
			return
		}
		sess, err = h.open(r)
		if err != nil {
			h.logger.Error("Failed to open session", slog.Any("error", err))
			h.writeError(w, http.StatusInternalServerError, mcpjsonrpc.CodeInternalError, "Internal error: failed to open session")
			return
		}
	}

	ctx := h.server.mcp.WithContext(r.Context(), sess)
	resp := h.server.HandleMessage(ctx, body)
	w.Header().Set(SessionHeader, sess.id)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to write response", slog.Any("error", err))
	}
}

// handleStream delivers server notifications as server-sent events.
func (h *StreamableHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(r.Header.Get(SessionHeader))
	if sess == nil {
		h.writeError(w, http.StatusBadRequest, mcpjsonrpc.CodeServerErrorSession, "Bad Request: No valid session ID provided")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(SessionHeader, sess.id)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			sess.Close()
			return
		case <-sess.done:
			return
		case n := <-sess.notifications:
			data, err := json.Marshal(n)
			if err != nil {
				h.logger.Error("Failed to encode notification", slog.Any("error", err))
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (h *StreamableHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(r.Header.Get(SessionHeader))
	if sess == nil {
		h.writeError(w, http.StatusBadRequest, mcpjsonrpc.CodeServerErrorSession, "Bad Request: No valid session ID provided")
		return
	}
	sess.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (h *StreamableHandler) isInitialize(body []byte) bool {
	res, err := h.initSchema.Validate(gojsonschema.NewBytesLoader(body))
	return err == nil && res.Valid()
}

func (h *StreamableHandler) open(r *http.Request) (*session, error) {
	sess := newSession(uuid.NewString(), h.dispose)
	if err := h.server.mcp.RegisterSession(r.Context(), sess); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()
	h.logger.Info("Session opened", slog.String("session_id", sess.id))
	return sess, nil
}

func (h *StreamableHandler) lookup(id string) *session {
	if id == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

func (h *StreamableHandler) dispose(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
	h.server.mcp.UnregisterSession(context.Background(), id)
	h.logger.Info("Session closed", slog.String("session_id", id))
}

// SessionCount returns the number of live sessions.
func (h *StreamableHandler) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close disposes every live session.
func (h *StreamableHandler) Close() {
	h.mu.RLock()
	live := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	h.mu.RUnlock()
	for _, s := range live {
		s.Close()
	}
}

func (h *StreamableHandler) writeError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(mcpjsonrpc.NewError(nil, code, message)); err != nil {
		h.logger.Error("Failed to write error response", slog.Any("error", err))
	}
}
