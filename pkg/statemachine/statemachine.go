// Package statemachine tracks pipeline and per-stage lifecycles, the
// bounded rollback history, and the closed issue-type registry (spec.md
// §4.E): thread-safe mutation via setter methods rather than direct
// field access, and
// pkg/session/manager.go (single owner of lifecycle transitions). Issue
// handling is wired to the Learning Engine through the narrow
// RecoveryConsultant interface so the orchestrator/supervisor/learning
// triangle never forms a cyclic import (design note in spec.md §9).
package statemachine

import (
	"sync"
	"time"
)

// PipelineState is the closed set of pipeline lifecycle states (spec.md §4.E).
type PipelineState string

const (
	PipelineIdle         PipelineState = "IDLE"
	PipelinePlanning     PipelineState = "PLANNING"
	PipelineStageRunning PipelineState = "STAGE_RUNNING"
	PipelineStageDone    PipelineState = "STAGE_COMPLETED"
	PipelineStageFailed  PipelineState = "STAGE_FAILED"
	PipelineRecovering   PipelineState = "RECOVERING"
	PipelineCompleted    PipelineState = "COMPLETED"
	PipelineFailed       PipelineState = "FAILED"
	PipelinePaused       PipelineState = "PAUSED"
)

// StageState is the closed set of per-stage lifecycle states (spec.md §4.E).
type StageState string

const (
	StagePending   StageState = "PENDING"
	StageRunning   StageState = "RUNNING"
	StageCompleted StageState = "COMPLETED"
	StageFailed    StageState = "FAILED"
	StageSkipped   StageState = "SKIPPED"
	StageRetrying  StageState = "RETRYING"
)

// IssueType is the closed set of recoverable issues (spec.md §4.E).
type IssueType string

const (
	IssueTimeout        IssueType = "TIMEOUT"
	IssueOOM            IssueType = "OOM"
	IssueLLMError       IssueType = "LLM_ERROR"
	IssueMergeConflict  IssueType = "MERGE_CONFLICT"
	IssueStageStuck     IssueType = "STAGE_STUCK"
	IssueBudgetExceeded IssueType = "BUDGET_EXCEEDED"
)

// Event is one pushed (state, payload) record.
type Event struct {
	State     PipelineState  `json:"state"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	// StageStates is a snapshot of every stage's state at the moment this
	// event was pushed, used to restore state on rollback.
	StageStates map[string]StageState `json:"stage_states"`
}

// Issue is one registered problem awaiting recovery.
type Issue struct {
	Type      IssueType      `json:"type"`
	CardID    string         `json:"card_id"`
	StageName string         `json:"stage_name,omitempty"`
	Message   string         `json:"message,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Resolved  bool           `json:"resolved"`
}

// RecoveryConsultant is the narrow view of the Learning Engine the state
// machine needs to handle a registered issue, breaking the
// orchestrator<->supervisor<->learning import cycle (spec.md §9).
type RecoveryConsultant interface {
	Resolve(cardID string, current PipelineState, expected []PipelineState, context map[string]any) (resolved bool, err error)
}

// defaultHistoryCapacity bounds the rollback history stack, mirroring the
// bounded ring-buffer history kept for lifecycle event replay.
const defaultHistoryCapacity = 256

// Machine is the pipeline/stage lifecycle tracker for a single card.
type Machine struct {
	mu         sync.RWMutex
	cardID     string
	state      PipelineState
	stages     map[string]StageState
	history    []Event
	capacity   int
	issues     []Issue
	consultant RecoveryConsultant
}

// New returns a Machine starting in PipelineIdle for cardID. consultant
// may be nil (issues are then left unresolved and surface to the caller).
func New(cardID string, consultant RecoveryConsultant) *Machine {
	return &Machine{
		cardID:     cardID,
		state:      PipelineIdle,
		stages:     make(map[string]StageState),
		capacity:   defaultHistoryCapacity,
		consultant: consultant,
	}
}

// State returns the current pipeline state.
func (m *Machine) State() PipelineState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// StageState returns the current state of a named stage, defaulting to
// StagePending when the stage has never been touched.
func (m *Machine) StageState(name string) StageState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.stages[name]; ok {
		return s
	}
	return StagePending
}

// PushState records a pipeline-level transition plus a snapshot of every
// stage's state, appending to the bounded history stack.
func (m *Machine) PushState(state PipelineState, payload map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state

	snapshot := make(map[string]StageState, len(m.stages))
	for k, v := range m.stages {
		snapshot[k] = v
	}
	m.history = append(m.history, Event{
		State:       state,
		Payload:     payload,
		Timestamp:   time.Now(),
		StageStates: snapshot,
	})
	if len(m.history) > m.capacity {
		m.history = m.history[len(m.history)-m.capacity:]
	}
}

// UpdateStageState sets a single stage's lifecycle state.
func (m *Machine) UpdateStageState(name string, state StageState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[name] = state
}

// History returns a snapshot of the recorded events, oldest first.
func (m *Machine) History() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out
}

// RollbackToState unwinds history to the most recent entry matching
// target, restoring stage states to the snapshot taken at that point
// (spec.md §4.E). Reports false if no matching entry exists.
func (m *Machine) RollbackToState(target PipelineState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].State != target {
			continue
		}
		m.state = target
		m.stages = make(map[string]StageState, len(m.history[i].StageStates))
		for k, v := range m.history[i].StageStates {
			m.stages[k] = v
		}
		m.history = m.history[:i+1]
		return true
	}
	return false
}

// RegisterIssue files an issue and, when a RecoveryConsultant is wired,
// immediately asks it to resolve the issue by driving a learned recovery
// workflow. On success the issue is cleared; on failure the pipeline
// transitions to PipelineFailed (spec.md §4.E).
func (m *Machine) RegisterIssue(issueType IssueType, stageName, message string, context map[string]any) (resolved bool, err error) {
	issue := Issue{Type: issueType, CardID: m.cardID, StageName: stageName, Message: message, Context: context}

	m.mu.Lock()
	m.issues = append(m.issues, issue)
	idx := len(m.issues) - 1
	consultant := m.consultant
	current := m.state
	m.mu.Unlock()

	if consultant == nil {
		return false, nil
	}

	expected := []PipelineState{PipelineStageRunning, PipelineStageDone}
	resolved, err = consultant.Resolve(m.cardID, current, expected, context)

	m.mu.Lock()
	defer m.mu.Unlock()
	if resolved {
		m.issues[idx].Resolved = true
	} else {
		m.state = PipelineFailed
	}
	return resolved, err
}

// Issues returns a snapshot of every issue filed so far.
func (m *Machine) Issues() []Issue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Issue, len(m.issues))
	copy(out, m.issues)
	return out
}

// IsTerminal reports whether state is one of the terminal pipeline states
// after which current_stage must be nil (spec.md §3 invariant).
func IsTerminal(s PipelineState) bool {
	switch s {
	case PipelineCompleted, PipelineFailed:
		return true
	default:
		return false
	}
}
