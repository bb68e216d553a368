package domain

import "time"

// EventType names a tool lifecycle event.
type EventType string

const (
	EventToolAdded           EventType = "ToolAdded"
	EventToolRemoved         EventType = "ToolRemoved"
	EventToolRenamed         EventType = "ToolRenamed"
	EventToolOptimizeStarted EventType = "ToolOptimizeStarted"
	EventToolOptimizeEnded   EventType = "ToolOptimizeEnded"
	EventToolReverted        EventType = "ToolReverted"
)

// Event is emitted by use cases for UI observers. Delivery is fire-and-forget.
type Event struct {
	Type     EventType `json:"type"`
	McpID    string    `json:"mcpId"`
	ApiID    string    `json:"apiId,omitempty"`
	ToolName string    `json:"toolName"`
	Success  bool      `json:"success,omitempty"`
	At       time.Time `json:"at"`
}
