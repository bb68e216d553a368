package adminhttp

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

type serverView struct {
	ID       string               `json:"id"`
	Status   usecase.ServerStatus `json:"status"`
	External bool                 `json:"external"`
}

func toServerView(rs *usecase.RunningServer) serverView {
	return serverView{ID: rs.ID, Status: rs.Status, External: rs.External}
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "serverID")
	writeJSON(w, http.StatusOK, serverView{ID: id, Status: h.deps.Lifecycle.Status(id)})
}

func (h *Handlers) handleStart(w http.ResponseWriter, r *http.Request) {
	rs, err := h.deps.Lifecycle.Start(r.Context(), chi.URLParam(r, "serverID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toServerView(rs))
}

func (h *Handlers) handleRestart(w http.ResponseWriter, r *http.Request) {
	rs, err := h.deps.Lifecycle.Restart(r.Context(), chi.URLParam(r, "serverID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toServerView(rs))
}

func (h *Handlers) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Lifecycle.Stop(r.Context(), chi.URLParam(r, "serverID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleConnectExternal(w http.ResponseWriter, r *http.Request) {
	var server domain.ExternalServer
	if err := decode(r, &server); err != nil {
		h.writeError(w, r, err)
		return
	}
	if server.ID == "" {
		h.writeError(w, r, badRequest("missing 'id' field in request body"))
		return
	}
	rs, err := h.deps.Lifecycle.ConnectExternal(r.Context(), server)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toServerView(rs))
}

func (h *Handlers) handleBridgeTools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.deps.Bridge.GetTools(r.Context(), chi.URLParam(r, "serverID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tools)
}

type callRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (h *Handlers) handleBridgeCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Name == "" {
		h.writeError(w, r, badRequest("missing 'name' field in request body"))
		return
	}
	res, err := h.deps.Bridge.CallTool(r.Context(), chi.URLParam(r, "serverID"), req.Name, req.Arguments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Bridge.ListPrompts(r.Context(), chi.URLParam(r, "serverID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type promptRequest struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

func (h *Handlers) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.deps.Bridge.GetPrompt(r.Context(), chi.URLParam(r, "serverID"), req.Name, req.Arguments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) handleListResources(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Bridge.ListResources(r.Context(), chi.URLParam(r, "serverID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resourceRequest struct {
	URI string `json:"uri"`
}

func (h *Handlers) handleReadResource(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.deps.Bridge.ReadResource(r.Context(), chi.URLParam(r, "serverID"), req.URI)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var override domain.ToolTransform
	if err := decode(r, &override); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.deps.Bridge.SetOverride(r.Context(), chi.URLParam(r, "serverID"), override)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (h *Handlers) handleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Bridge.RemoveOverride(r.Context(), chi.URLParam(r, "serverID"), chi.URLParam(r, "toolName"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (h *Handlers) handleOptimizeExternal(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.deps.Bridge.OptimizeExternalTool(r.Context(),
		chi.URLParam(r, "serverID"), chi.URLParam(r, "toolName"), req.TargetBudget)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleEvents streams lifecycle events as server-sent events until the
// client goes away.
func (h *Handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		http.Error(w, "event stream unavailable", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	events, cancel := h.deps.Events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}
