// Package events delivers tool lifecycle events to observers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/i2y/mcpforge/internal/domain"
	"github.com/i2y/mcpforge/internal/usecase"
)

const defaultBuffer = 64

// Bus fans events out to subscribers and sinks. Emit never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[int]chan domain.Event
	nextID int
	sinks  []usecase.EventSink
}

// NewBus creates a Bus that also forwards every event to sinks.
func NewBus(logger *slog.Logger, sinks ...usecase.EventSink) *Bus {
	return &Bus{
		logger: logger.With("component", "event_bus"),
		subs:   make(map[int]chan domain.Event),
		sinks:  sinks,
	}
}

// Emit implements usecase.EventSink.
func (b *Bus) Emit(event domain.Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	for _, sink := range b.sinks {
		sink.Emit(event)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug("Dropping event for slow subscriber", slog.Int("subscriber", id), slog.String("type", string(event.Type)))
		}
	}
}

// Subscribe registers a new observer. The returned cancel function closes
// the channel.
func (b *Bus) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, defaultBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// LogSink writes every event to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "event_log")}
}

// Emit implements usecase.EventSink.
func (s *LogSink) Emit(event domain.Event) {
	s.logger.Info("Tool event",
		slog.String("type", string(event.Type)),
		slog.String("mcp_id", event.McpID),
		slog.String("api_id", event.ApiID),
		slog.String("tool_name", event.ToolName),
		slog.Bool("success", event.Success))
}

// Discard drops every event.
type Discard struct{}

// Emit implements usecase.EventSink.
func (Discard) Emit(domain.Event) {}
