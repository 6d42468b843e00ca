package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// File is the directory-per-agent Messenger backend (spec.md §4.A, §6):
// one JSON document per message at
// {message_dir}/{to_agent}/{yyyymmddhhmmss}_{from}_to_{to}_{type}.json;
// consuming a message renames it to the ".json.read" suffix. Grounded
// directly on agent_messenger.py's AgentMessenger.
//
// Ordering under concurrent consumers is best-effort: the source relies
// on filename timestamps with second precision and two messages written
// in the same second race on readdir order (spec.md §9 Open Questions —
// deliberately not resolved beyond "best effort", per that open question).
type File struct {
	agentName  string
	messageDir string

	mu sync.Mutex
}

// NewFile returns a File messenger rooted at messageDir for agentName.
func NewFile(agentName, messageDir string) (*File, error) {
	if messageDir == "" {
		messageDir = "/tmp/artemis_messages"
	}
	f := &File{agentName: agentName, messageDir: messageDir}
	if err := os.MkdirAll(f.inboxDir(agentName), 0o755); err != nil {
		return nil, fmt.Errorf("messenger: create inbox: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(messageDir, "logs"), 0o755); err != nil {
		return nil, fmt.Errorf("messenger: create log dir: %w", err)
	}
	return f, nil
}

func (f *File) inboxDir(agent string) string {
	return filepath.Join(f.messageDir, agent)
}

func (f *File) registryPath() string {
	return filepath.Join(f.messageDir, "agent_registry.json")
}

// Send implements Messenger.
func (f *File) Send(_ context.Context, toAgent string, msgType Type, data map[string]any, cardID string, priority Priority, metadata map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg := Message{
		ProtocolVersion: ProtocolVersion,
		MessageID:       NewMessageID(f.agentName, data),
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		FromAgent:       f.agentName,
		ToAgent:         toAgent,
		MessageType:     msgType,
		CardID:          cardID,
		Priority:        priority,
		Data:            data,
		Metadata:        metadata,
	}

	if toAgent == Broadcast {
		agents, err := f.registeredAgents()
		if err != nil {
			return "", err
		}
		for _, agent := range agents {
			if agent == f.agentName {
				continue
			}
			if err := f.writeMessage(agent, msg); err != nil {
				return "", err
			}
		}
		return msg.MessageID, nil
	}

	if err := f.writeMessage(toAgent, msg); err != nil {
		return "", err
	}
	return msg.MessageID, nil
}

func (f *File) writeMessage(toAgent string, msg Message) error {
	dir := f.inboxDir(toAgent)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("messenger: create inbox %s: %w", toAgent, err)
	}
	filename := fmt.Sprintf("%s_%s_to_%s_%s.json",
		time.Now().UTC().Format("20060102150405"), f.agentName, toAgent, msg.MessageType)
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("messenger: marshal message: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, filename), data, 0o644)
}

// Read implements Messenger. Messages that fail to parse are quarantined
// (renamed with a ".bad" suffix) rather than blocking the rest of the
// inbox, per spec.md §4.A's failure semantics.
func (f *File) Read(_ context.Context, filter ReadFilter, consume bool) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.inboxDir(f.agentName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("messenger: read inbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var matched []Message
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = os.Rename(path, path+".bad")
			continue
		}
		if matches(msg, filter) {
			matched = append(matched, msg)
			if consume {
				_ = os.Rename(path, path+".read")
			}
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return priorityRank(matched[i].Priority) < priorityRank(matched[j].Priority)
	})
	return matched, nil
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// UpdateSharedState implements Messenger, storing one JSON document per
// card under {message_dir}/state/{card_id}.json.
func (f *File) UpdateSharedState(_ context.Context, cardID string, updates map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Join(f.messageDir, "state")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("messenger: create state dir: %w", err)
	}
	path := filepath.Join(dir, cardID+".json")

	doc := make(map[string]any)
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &doc)
	}
	for k, v := range updates {
		doc[k] = v
	}
	doc["last_updated"] = time.Now().UTC().Format(time.RFC3339Nano)
	doc["updated_by"] = f.agentName

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("messenger: marshal shared state: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// GetSharedState implements Messenger.
func (f *File) GetSharedState(_ context.Context, cardID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cardID == "" {
		return f.mergeAllState()
	}

	path := filepath.Join(f.messageDir, "state", cardID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("messenger: read shared state: %w", err)
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("messenger: parse shared state: %w", err)
	}
	return doc, nil
}

func (f *File) mergeAllState() (map[string]any, error) {
	dir := filepath.Join(f.messageDir, "state")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	merged := make(map[string]any)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		doc := make(map[string]any)
		if json.Unmarshal(data, &doc) == nil {
			merged[strings.TrimSuffix(e.Name(), ".json")] = doc
		}
	}
	return merged, nil
}

// RegisterAgent implements Messenger.
func (f *File) RegisterAgent(_ context.Context, capabilities []string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	registry, err := f.loadRegistry()
	if err != nil {
		return err
	}
	registry.Agents[f.agentName] = registryEntry{
		Status:          status,
		Capabilities:    capabilities,
		MessageEndpoint: f.inboxDir(f.agentName),
		LastHeartbeat:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	return f.saveRegistry(registry)
}

// Heartbeat implements Messenger.
func (f *File) Heartbeat(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	registry, err := f.loadRegistry()
	if err != nil {
		return err
	}
	entry, ok := registry.Agents[f.agentName]
	if !ok {
		return nil
	}
	entry.LastHeartbeat = time.Now().UTC().Format(time.RFC3339Nano)
	registry.Agents[f.agentName] = entry
	return f.saveRegistry(registry)
}

// Cleanup implements Messenger, removing consumed messages older than 7
// days, matching agent_messenger.py's cleanup_old_messages default.
func (f *File) Cleanup(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.inboxDir(f.agentName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json.read") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

// Type implements Messenger.
func (f *File) Type() string { return "file" }

type registryEntry struct {
	Status          string   `json:"status"`
	Capabilities    []string `json:"capabilities"`
	MessageEndpoint string   `json:"message_endpoint"`
	LastHeartbeat   string   `json:"last_heartbeat"`
}

type agentRegistry struct {
	Agents map[string]registryEntry `json:"agents"`
}

func (f *File) loadRegistry() (*agentRegistry, error) {
	data, err := os.ReadFile(f.registryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &agentRegistry{Agents: make(map[string]registryEntry)}, nil
		}
		return nil, fmt.Errorf("messenger: read registry: %w", err)
	}
	var reg agentRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("messenger: parse registry: %w", err)
	}
	if reg.Agents == nil {
		reg.Agents = make(map[string]registryEntry)
	}
	return &reg, nil
}

func (f *File) saveRegistry(reg *agentRegistry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("messenger: marshal registry: %w", err)
	}
	return os.WriteFile(f.registryPath(), data, 0o644)
}

func (f *File) registeredAgents() ([]string, error) {
	reg, err := f.loadRegistry()
	if err != nil {
		return nil, err
	}
	agents := make([]string, 0, len(reg.Agents))
	for name := range reg.Agents {
		agents = append(agents, name)
	}
	return agents, nil
}
