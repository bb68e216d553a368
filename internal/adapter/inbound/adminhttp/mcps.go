package adminhttp

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

type importApiRequest struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// apiView omits the parsed document.
type apiView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

func toApiView(a domain.ApiRecord) apiView {
	return apiView{ID: a.ID, Name: a.Name, Source: a.Source}
}

func (h *Handlers) handleListApis(w http.ResponseWriter, r *http.Request) {
	apis, err := h.deps.Import.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]apiView, len(apis))
	for i, a := range apis {
		out[i] = toApiView(a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) handleImportApi(w http.ResponseWriter, r *http.Request) {
	var req importApiRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.URL == "" {
		h.writeError(w, r, badRequest("missing 'url' field in request body"))
		return
	}
	h.logger.Info("Received import request", slog.String("url", req.URL))
	record, err := h.deps.Import.Execute(r.Context(), usecase.SchemaSourceConfig{
		ID: req.ID, Name: req.Name, URL: req.URL, Headers: req.Headers,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApiView(record))
}

type createMcpRequest struct {
	Name      string               `json:"name"`
	Transport domain.TransportType `json:"transport"`
	Port      int                  `json:"port"`
}

func (h *Handlers) handleCreateMcp(w http.ResponseWriter, r *http.Request) {
	var req createMcpRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Name == "" {
		h.writeError(w, r, badRequest("missing 'name' field in request body"))
		return
	}
	record, err := h.deps.Tools.CreateMcp(r.Context(), req.Name, req.Transport, req.Port)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *Handlers) handleListMcps(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.Tools.ListMcps(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handlers) handleGetMcp(w http.ResponseWriter, r *http.Request) {
	record, err := h.deps.Tools.GetMcp(r.Context(), chi.URLParam(r, "mcpID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handlers) handleDeleteMcp(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Tools.DeleteMcp(r.Context(), chi.URLParam(r, "mcpID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleAddTools(w http.ResponseWriter, r *http.Request) {
	var selections map[string]usecase.GroupSelection
	if err := decode(r, &selections); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(selections) == 0 {
		h.writeError(w, r, badRequest("no api groups selected"))
		return
	}
	res, err := h.deps.Tools.AddTools(r.Context(), chi.URLParam(r, "mcpID"), selections)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (h *Handlers) handleAdvertisedTools(w http.ResponseWriter, r *http.Request) {
	record, err := h.deps.Tools.GetMcp(r.Context(), chi.URLParam(r, "mcpID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usecase.AdvertisedTools(record))
}

func (h *Handlers) handleRemoveTool(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Tools.RemoveTool(r.Context(),
		chi.URLParam(r, "mcpID"), chi.URLParam(r, "apiID"), chi.URLParam(r, "toolName"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

type renameRequest struct {
	NewName string `json:"newName"`
}

func (h *Handlers) handleRenameTool(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.deps.Tools.RenameTool(r.Context(),
		chi.URLParam(r, "mcpID"), chi.URLParam(r, "apiID"), chi.URLParam(r, "toolName"), req.NewName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (h *Handlers) handleGroupSettings(w http.ResponseWriter, r *http.Request) {
	var settings usecase.GroupSettings
	if err := decode(r, &settings); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.deps.Tools.UpdateGroupSettings(r.Context(), chi.URLParam(r, "mcpID"), chi.URLParam(r, "apiID"), settings)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

type budgetRequest struct {
	TargetBudget int `json:"targetBudget"`
}

func (h *Handlers) handleOptimizeTool(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.deps.Size.Optimize(r.Context(), usecase.OptimizeSizeRequest{
		McpID:        chi.URLParam(r, "mcpID"),
		ApiID:        chi.URLParam(r, "apiID"),
		ToolName:     chi.URLParam(r, "toolName"),
		TargetBudget: req.TargetBudget,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (h *Handlers) handleRevertTool(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Size.Revert(r.Context(),
		chi.URLParam(r, "mcpID"), chi.URLParam(r, "apiID"), chi.URLParam(r, "toolName"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (h *Handlers) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req usecase.SelectionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.McpID = chi.URLParam(r, "mcpID")
	res, err := h.deps.Selection.Execute(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (h *Handlers) handleBuild(w http.ResponseWriter, r *http.Request) {
	var opts usecase.BuildOptions
	if err := decode(r, &opts); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.deps.Build.Execute(r.Context(), chi.URLParam(r, "mcpID"), h.deps.OutputRoot, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

type countRequest struct {
	Text  string `json:"text,omitempty"`
	Value any    `json:"value,omitempty"`
}

func (h *Handlers) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var payload any = req.Text
	if req.Value != nil {
		payload = req.Value
	}
	writeJSON(w, http.StatusOK, map[string]int{"tokens": h.deps.Counter.Count(payload)})
}
