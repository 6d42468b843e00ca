// Package persistence durably snapshots pipeline state and per-stage
// checkpoints so a crashed or paused run can be resumed (spec.md §4.M), a
// port of original_source/.agents/agile/persistence_store.py's
// PersistenceStoreInterface/SQLitePersistenceStore/JSONFilePersistenceStore
// trio into two Go backends behind one Store interface: SQLStore
// (database/sql over modernc.org/sqlite by default, or pgx/v5's stdlib
// adapter for Postgres) and JSONStore (plain files, the original's
// JSONFilePersistenceStore behavior preserved almost verbatim).
package persistence

import (
	"context"
	"time"
)

// PipelineStatus is the closed set of pipeline run statuses (spec.md §3).
type PipelineStatus string

const (
	StatusRunning   PipelineStatus = "running"
	StatusCompleted PipelineStatus = "completed"
	StatusFailed    PipelineStatus = "failed"
	StatusPaused    PipelineStatus = "paused"
)

// resumableStatuses are the statuses get_resumable_pipelines() returns
// (spec.md §4.M: "Resumable pipelines are those whose persisted status is
// in {running, failed, paused}").
var resumableStatuses = []PipelineStatus{StatusRunning, StatusFailed, StatusPaused}

// CheckpointStatus is the closed set of stage checkpoint statuses (spec.md §3).
type CheckpointStatus string

const (
	CheckpointStarted   CheckpointStatus = "started"
	CheckpointCompleted CheckpointStatus = "completed"
	CheckpointFailed    CheckpointStatus = "failed"
)

// PipelineState is the full snapshot persisted per card (spec.md §3).
type PipelineState struct {
	CardID           string
	Status           PipelineStatus
	CurrentStage     string
	StagesCompleted  []string
	StageResults     map[string]map[string]any
	DeveloperResults []map[string]any
	Metrics          map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	Error            string
}

// StageCheckpoint is one stage's recorded run (spec.md §3). Keyed by
// (card_id, stage_name, started_at) — reruns produce new checkpoints.
type StageCheckpoint struct {
	CardID      string
	StageName   string
	Status      CheckpointStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Result      map[string]any
	Error       string
}

// Store is the durable snapshot contract every backend implements (spec.md §4.M).
type Store interface {
	SavePipelineState(ctx context.Context, state PipelineState) error
	LoadPipelineState(ctx context.Context, cardID string) (*PipelineState, error)
	SaveStageCheckpoint(ctx context.Context, checkpoint StageCheckpoint) error
	LoadStageCheckpoints(ctx context.Context, cardID string) ([]StageCheckpoint, error)
	GetResumablePipelines(ctx context.Context) ([]string, error)
	CleanupOldStates(ctx context.Context, days int) error
	Close() error
}

func isResumable(status PipelineStatus) bool {
	for _, s := range resumableStatuses {
		if s == status {
			return true
		}
	}
	return false
}
