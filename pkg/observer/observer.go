// Package observer fans pipeline/stage lifecycle events out to registered
// observers synchronously in the publisher's goroutine (spec.md §4.L,
// §5): a closed event-type enum and a manager/publisher split, reworked
// from WebSocket fan-out to an in-process Observer interface, since
// Artemis has no remote subscriber to serve.
package observer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EventType is the closed set of pipeline/stage lifecycle events (spec.md §4.L).
type EventType string

const (
	EventPipelineStarted    EventType = "pipeline_started"
	EventPipelineCompleted  EventType = "pipeline_completed"
	EventPipelineFailed     EventType = "pipeline_failed"
	EventStageStarted       EventType = "stage_started"
	EventStageCompleted     EventType = "stage_completed"
	EventStageFailed        EventType = "stage_failed"
	EventDeveloperStarted   EventType = "developer_started"
	EventDeveloperCompleted EventType = "developer_completed"
	EventDeveloperFailed    EventType = "developer_failed"
	EventCodeReviewStarted  EventType = "code_review_started"
	EventCodeReviewComplete EventType = "code_review_completed"
	EventCodeReviewFailed   EventType = "code_review_failed"
)

// Event is one published lifecycle occurrence.
type Event struct {
	Type      EventType      `json:"type"`
	CardID    string         `json:"card_id"`
	StageName string         `json:"stage_name,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Observer receives published events. Implementations must not block
// (no I/O beyond logging) and must not mutate the Event they receive
// (spec.md §5).
type Observer interface {
	Handle(e Event)
}

// Hub dispatches events to every registered Observer, synchronously, in
// the publisher's own goroutine (spec.md §5: "The Observer Hub dispatches
// synchronously in the caller's thread").
type Hub struct {
	mu        sync.RWMutex
	observers []Observer
	now       func() time.Time
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{now: time.Now}
}

// Register attaches an Observer. Registration order is dispatch order.
func (h *Hub) Register(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

// Publish stamps e.Timestamp (if zero) and dispatches it to every
// registered observer in registration order.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = h.now()
	}

	h.mu.RLock()
	observers := make([]Observer, len(h.observers))
	copy(observers, h.observers)
	h.mu.RUnlock()

	for _, o := range observers {
		o.Handle(e)
	}
}

// LoggingObserver formats every event to a *slog.Logger, the
// structured-log-everywhere convention (spec.md's "formatted stdout").
type LoggingObserver struct {
	logger *slog.Logger
}

// NewLoggingObserver returns a LoggingObserver writing through logger.
func NewLoggingObserver(logger *slog.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

func (l *LoggingObserver) Handle(e Event) {
	l.logger.Info("pipeline event",
		slog.String("type", string(e.Type)),
		slog.String("card_id", e.CardID),
		slog.String("stage", e.StageName),
		slog.Time("timestamp", e.Timestamp),
	)
}

// MetricsObserver records event counts and stage durations through OTel
// instruments (spec.md's "counters and durations" metrics observer).
type MetricsObserver struct {
	eventCounter   metric.Int64Counter
	stageDuration  metric.Float64Histogram
	stageStartedAt sync.Map // stage key -> time.Time
}

// NewMetricsObserver builds a MetricsObserver instrumented through meter.
func NewMetricsObserver(meter metric.Meter) (*MetricsObserver, error) {
	counter, err := meter.Int64Counter("artemis_pipeline_events_total",
		metric.WithDescription("Count of pipeline/stage lifecycle events by type"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("artemis_stage_duration_seconds",
		metric.WithDescription("Stage execution duration in seconds"))
	if err != nil {
		return nil, err
	}
	return &MetricsObserver{eventCounter: counter, stageDuration: duration}, nil
}

func (m *MetricsObserver) Handle(e Event) {
	ctx := context.Background()
	m.eventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(e.Type))))

	key := e.CardID + "/" + e.StageName
	switch e.Type {
	case EventStageStarted:
		m.stageStartedAt.Store(key, e.Timestamp)
	case EventStageCompleted, EventStageFailed:
		if startedAt, ok := m.stageStartedAt.LoadAndDelete(key); ok {
			m.stageDuration.Record(ctx, e.Timestamp.Sub(startedAt.(time.Time)).Seconds())
		}
	}
}

// StateTrackingObserver keeps the latest known pipeline/stage state per
// card, exposed through GetState (spec.md's "exposes get_state()").
type StateTrackingObserver struct {
	mu    sync.RWMutex
	cards map[string]*CardState
}

// CardState is one card's latest observed lifecycle snapshot.
type CardState struct {
	Status       string            `json:"status"`
	CurrentStage string            `json:"current_stage,omitempty"`
	StageStatus  map[string]string `json:"stage_status"`
}

// NewStateTrackingObserver returns an empty StateTrackingObserver.
func NewStateTrackingObserver() *StateTrackingObserver {
	return &StateTrackingObserver{cards: make(map[string]*CardState)}
}

func (s *StateTrackingObserver) Handle(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.cards[e.CardID]
	if !ok {
		cs = &CardState{StageStatus: make(map[string]string)}
		s.cards[e.CardID] = cs
	}

	switch e.Type {
	case EventPipelineStarted:
		cs.Status = "running"
	case EventPipelineCompleted:
		cs.Status = "completed"
		cs.CurrentStage = ""
	case EventPipelineFailed:
		cs.Status = "failed"
	case EventStageStarted:
		cs.CurrentStage = e.StageName
		cs.StageStatus[e.StageName] = "running"
	case EventStageCompleted:
		cs.StageStatus[e.StageName] = "completed"
	case EventStageFailed:
		cs.StageStatus[e.StageName] = "failed"
	}
}

// GetState returns a snapshot of cardID's latest observed state, or
// (CardState{}, false) when no events have been observed for it.
func (s *StateTrackingObserver) GetState(cardID string) (CardState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.cards[cardID]
	if !ok {
		return CardState{}, false
	}
	statusCopy := make(map[string]string, len(cs.StageStatus))
	for k, v := range cs.StageStatus {
		statusCopy[k] = v
	}
	return CardState{Status: cs.Status, CurrentStage: cs.CurrentStage, StageStatus: statusCopy}, true
}
