package messenger

import (
	"context"
	"sync"
)

// Bus is the shared in-memory backing store multiple Mock handles
// (one per agent) read and write to, emulating the shared filesystem the
// real File backend uses — tests construct one Bus and call As(agentName)
// for each collaborator, the in-memory analogue of multiple
// AgentMessenger instances pointed at the same message_dir.
type Bus struct {
	mu          sync.Mutex
	inboxes     map[string][]Message
	sharedState map[string]map[string]any
	registry    map[string]AgentRegistration
	sent        []Message
}

// NewBus returns a fresh shared in-memory message bus.
func NewBus() *Bus {
	return &Bus{
		inboxes:     make(map[string][]Message),
		sharedState: make(map[string]map[string]any),
		registry:    make(map[string]AgentRegistration),
	}
}

// AgentRegistration is the registry entry recorded by RegisterAgent.
type AgentRegistration struct {
	Capabilities []string
	Status       string
}

// Mock is a synchronous Messenger handle bound to one agent name over a
// shared Bus, the same role agent_messenger.py's test doubles play:
// deterministic, no I/O, safe to assert
// against directly in tests.
type Mock struct {
	agentName string
	bus       *Bus
}

// NewMock returns a standalone Mock messenger for agentName backed by its
// own private bus. Use NewBus + Bus.As to share a bus across agents.
func NewMock(agentName string) *Mock {
	return &Mock{agentName: agentName, bus: NewBus()}
}

// As returns a Mock handle for agentName sharing this Mock's underlying bus.
func (m *Mock) As(agentName string) *Mock {
	return &Mock{agentName: agentName, bus: m.bus}
}

// Sent returns every message sent through the shared bus so far, across
// all agent handles — the assertion surface tests use.
func (m *Mock) Sent() []Message {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	out := make([]Message, len(m.bus.sent))
	copy(out, m.bus.sent)
	return out
}

// Send implements Messenger.
func (m *Mock) Send(_ context.Context, toAgent string, msgType Type, data map[string]any, cardID string, priority Priority, metadata map[string]any) (string, error) {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()

	msg := Message{
		ProtocolVersion: ProtocolVersion,
		MessageID:       NewMessageID(m.agentName, data),
		FromAgent:       m.agentName,
		ToAgent:         toAgent,
		MessageType:     msgType,
		CardID:          cardID,
		Priority:        priority,
		Data:            data,
		Metadata:        metadata,
	}

	if toAgent == Broadcast {
		for agent := range m.bus.registry {
			if agent == m.agentName {
				continue
			}
			m.bus.inboxes[agent] = append(m.bus.inboxes[agent], msg)
		}
	} else {
		m.bus.inboxes[toAgent] = append(m.bus.inboxes[toAgent], msg)
	}
	m.bus.sent = append(m.bus.sent, msg)
	return msg.MessageID, nil
}

// Read implements Messenger.
func (m *Mock) Read(_ context.Context, filter ReadFilter, consume bool) ([]Message, error) {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()

	inbox := m.bus.inboxes[m.agentName]
	var matched []Message
	var remaining []Message

	for _, msg := range inbox {
		if matches(msg, filter) {
			matched = append(matched, msg)
		} else {
			remaining = append(remaining, msg)
		}
	}
	if consume {
		m.bus.inboxes[m.agentName] = remaining
	}
	return matched, nil
}

func matches(msg Message, f ReadFilter) bool {
	if f.Type != "" && msg.MessageType != f.Type {
		return false
	}
	if f.From != "" && msg.FromAgent != f.From {
		return false
	}
	if f.Priority != "" && msg.Priority != f.Priority {
		return false
	}
	return true
}

// UpdateSharedState implements Messenger.
func (m *Mock) UpdateSharedState(_ context.Context, cardID string, updates map[string]any) error {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()

	doc, ok := m.bus.sharedState[cardID]
	if !ok {
		doc = make(map[string]any)
		m.bus.sharedState[cardID] = doc
	}
	for k, v := range updates {
		doc[k] = v
	}
	return nil
}

// GetSharedState implements Messenger.
func (m *Mock) GetSharedState(_ context.Context, cardID string) (map[string]any, error) {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()

	if cardID == "" {
		merged := make(map[string]any)
		for _, doc := range m.bus.sharedState {
			for k, v := range doc {
				merged[k] = v
			}
		}
		return merged, nil
	}
	doc, ok := m.bus.sharedState[cardID]
	if !ok {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, nil
}

// RegisterAgent implements Messenger.
func (m *Mock) RegisterAgent(_ context.Context, capabilities []string, status string) error {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	m.bus.registry[m.agentName] = AgentRegistration{Capabilities: capabilities, Status: status}
	return nil
}

// Heartbeat implements Messenger.
func (m *Mock) Heartbeat(_ context.Context) error {
	return nil
}

// Cleanup implements Messenger.
func (m *Mock) Cleanup(_ context.Context) error {
	return nil
}

// Type implements Messenger.
func (m *Mock) Type() string { return "mock" }
