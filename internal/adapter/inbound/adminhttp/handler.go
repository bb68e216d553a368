package adminhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

// EventSource streams lifecycle events to observers.
type EventSource interface {
	Subscribe() (<-chan domain.Event, func())
}

// Deps are the use cases behind the admin API.
type Deps struct {
	Import    *usecase.ImportApiUseCase
	Tools     *usecase.ManageToolsUseCase
	Size      *usecase.OptimizeSizeUseCase
	Selection *usecase.OptimizeSelectionUseCase
	Build     *usecase.BuildServerUseCase
	Lifecycle *usecase.LifecycleUseCase
	Bridge    *usecase.RuntimeBridgeUseCase
	Counter   usecase.TokenCounter
	Events    EventSource
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// OutputRoot is where built projects are written.
	OutputRoot string
}

// Handlers holds dependencies for the HTTP handlers.
type Handlers struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(deps Deps, logger *slog.Logger) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: logger.With("component", "adminhttp_handler"),
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeResult sends a routine outcome: 200 on success, 422 otherwise.
func writeResult[T any](w http.ResponseWriter, res domain.Result[T]) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		h.logger.Warn("Request rejected", slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, usecase.ErrMcpNotFound),
		errors.Is(err, usecase.ErrApiNotFound),
		errors.Is(err, usecase.ErrToolNotFound),
		errors.Is(err, usecase.ErrOverrideNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrServerNotRunning),
		errors.Is(err, usecase.ErrVersionConflict),
		errors.Is(err, usecase.ErrDuplicateTool):
		return http.StatusConflict
	case errors.Is(err, usecase.ErrInvalidToolFilter), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", errBadRequest, msg)
}
