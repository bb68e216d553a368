package adminhttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the admin API router.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.deps.Metrics != nil {
		r.Handle("/metrics", h.deps.Metrics)
	}
	r.Get("/events", h.handleEvents)
	r.Post("/tokens/count", h.handleCountTokens)

	r.Route("/apis", func(r chi.Router) {
		r.Get("/", h.handleListApis)
		r.Post("/", h.handleImportApi)
	})

	r.Route("/mcps", func(r chi.Router) {
		r.Get("/", h.handleListMcps)
		r.Post("/", h.handleCreateMcp)
		r.Route("/{mcpID}", func(r chi.Router) {
			r.Get("/", h.handleGetMcp)
			r.Delete("/", h.handleDeleteMcp)
			r.Post("/tools", h.handleAddTools)
			r.Get("/tools", h.handleAdvertisedTools)
			r.Post("/selection", h.handleSelection)
			r.Post("/build", h.handleBuild)
			r.Route("/groups/{apiID}", func(r chi.Router) {
				r.Patch("/", h.handleGroupSettings)
				r.Route("/tools/{toolName}", func(r chi.Router) {
					r.Delete("/", h.handleRemoveTool)
					r.Post("/rename", h.handleRenameTool)
					r.Post("/optimize", h.handleOptimizeTool)
					r.Post("/revert", h.handleRevertTool)
				})
			})
		})
	})

	r.Route("/servers", func(r chi.Router) {
		r.Post("/external", h.handleConnectExternal)
		r.Route("/{serverID}", func(r chi.Router) {
			r.Get("/status", h.handleStatus)
			r.Post("/start", h.handleStart)
			r.Post("/restart", h.handleRestart)
			r.Post("/stop", h.handleStop)
			r.Get("/tools", h.handleBridgeTools)
			r.Post("/tools/call", h.handleBridgeCall)
			r.Get("/prompts", h.handleListPrompts)
			r.Post("/prompts/get", h.handleGetPrompt)
			r.Get("/resources", h.handleListResources)
			r.Post("/resources/read", h.handleReadResource)
			r.Put("/overrides", h.handleSetOverride)
			r.Delete("/overrides/{toolName}", h.handleRemoveOverride)
			r.Post("/overrides/{toolName}/optimize", h.handleOptimizeExternal)
		})
	})
	return r
}
