// Package messenger implements the pluggable inter-agent message bus and
// shared-state publisher (spec.md §4.A), grounded on
// original_source/.agents/agile/agent_messenger.py and rabbitmq_messenger.py.
// Every backend — file, broker, mock — honors the same Messenger interface
// so the Supervisor and Orchestrator never know which is wired in.
package messenger

import "context"

// Priority mirrors card.Priority for message routing without importing
// the card package (messenger is a lower-level leaf component).
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Type is the message payload classification (spec.md §3).
type Type string

const (
	TypeDataUpdate   Type = "data_update"
	TypeRequest      Type = "request"
	TypeResponse     Type = "response"
	TypeNotification Type = "notification"
	TypeError        Type = "error"
)

// Broadcast is the sentinel to_agent value meaning "send to every agent".
const Broadcast = "all"

// ProtocolVersion is stamped onto every Message.
const ProtocolVersion = "1.0.0"

// Message is the wire format exchanged between agents (spec.md §3, §6).
type Message struct {
	ProtocolVersion string         `json:"protocol_version"`
	MessageID       string         `json:"message_id"`
	Timestamp       string         `json:"timestamp"`
	FromAgent       string         `json:"from_agent"`
	ToAgent         string         `json:"to_agent"`
	MessageType     Type           `json:"message_type"`
	CardID          string         `json:"card_id"`
	Priority        Priority       `json:"priority"`
	Data            map[string]any `json:"data"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ReadFilter narrows a Read call (spec.md §4.A).
type ReadFilter struct {
	Type     Type
	From     string
	Priority Priority
}

// Messenger is the capability set every backend must honor (spec.md §4.A).
type Messenger interface {
	// Send delivers a message to to_agent (or Broadcast) and returns its id.
	// Delivery is at-least-once; the mock backend is synchronous.
	Send(ctx context.Context, toAgent string, msgType Type, data map[string]any, cardID string, priority Priority, metadata map[string]any) (string, error)

	// Read returns messages matching filter. When consume is true, matched
	// messages are marked delivered and won't be returned again.
	Read(ctx context.Context, filter ReadFilter, consume bool) ([]Message, error)

	// UpdateSharedState merges updates into the shared document for cardID.
	UpdateSharedState(ctx context.Context, cardID string, updates map[string]any) error

	// GetSharedState returns the shared document, optionally filtered to
	// one card. An empty cardID returns the full document.
	GetSharedState(ctx context.Context, cardID string) (map[string]any, error)

	// RegisterAgent announces this agent's capabilities and status.
	RegisterAgent(ctx context.Context, capabilities []string, status string) error

	// Heartbeat refreshes this agent's last-seen timestamp in the registry.
	Heartbeat(ctx context.Context) error

	// Cleanup releases backend resources (e.g. old consumed messages).
	Cleanup(ctx context.Context) error

	// Type identifies the backend ("file", "broker", "mock").
	Type() string
}
