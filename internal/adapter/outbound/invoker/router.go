package invoker

import (
	"context"
	"log/slog"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

// Router picks the live or the mock invoker for an API group.
type Router struct {
	live   usecase.ToolInvoker
	mock   usecase.ToolInvoker
	logger *slog.Logger
}

// NewRouter creates a new invoker router.
func NewRouter(live, mock usecase.ToolInvoker, logger *slog.Logger) *Router {
	return &Router{
		live:   live,
		mock:   mock,
		logger: logger.With("component", "invoker_router"),
	}
}

// For returns the invoker serving a group with the given mock setting.
func (r *Router) For(useMockData bool) usecase.ToolInvoker {
	return &bound{router: r, useMockData: useMockData}
}

type bound struct {
	router      *Router
	useMockData bool
}

func (b *bound) Invoke(ctx context.Context, tool domain.ToolDefinition, args map[string]any) (any, error) {
	target, mode := b.router.live, "live"
	if b.useMockData {
		target, mode = b.router.mock, "mock"
	}
	b.router.logger.Debug("Routing tool call", slog.String("tool", tool.Name), slog.String("mode", mode))
	return target.Invoke(ctx, tool, args)
}
