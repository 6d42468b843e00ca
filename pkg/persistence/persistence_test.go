package persistence_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-forge/artemis/pkg/persistence"
)

func newSQLiteStore(t *testing.T) *persistence.SQLStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artemis.db")
	store, err := persistence.NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleState(cardID string) persistence.PipelineState {
	now := time.Now()
	return persistence.PipelineState{
		CardID:          cardID,
		Status:          persistence.StatusRunning,
		CurrentStage:    "development",
		StagesCompleted: []string{"architecture", "dependencies"},
		StageResults:    map[string]map[string]any{"architecture": {"status": "SUCCESS"}},
		Metrics:         map[string]any{"total_cost": 1.5},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func testStoreLifecycle(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	state := sampleState("card-1")
	require.NoError(t, store.SavePipelineState(ctx, state))

	loaded, err := store.LoadPipelineState(ctx, "card-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, persistence.StatusRunning, loaded.Status)
	assert.Equal(t, "development", loaded.CurrentStage)
	assert.Equal(t, []string{"architecture", "dependencies"}, loaded.StagesCompleted)

	missing, err := store.LoadPipelineState(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	checkpoint := persistence.StageCheckpoint{
		CardID:    "card-1",
		StageName: "architecture",
		Status:    persistence.CheckpointCompleted,
		StartedAt: state.CreatedAt,
		Result:    map[string]any{"status": "SUCCESS"},
	}
	require.NoError(t, store.SaveStageCheckpoint(ctx, checkpoint))
	require.NoError(t, store.SaveStageCheckpoint(ctx, checkpoint))

	checkpoints, err := store.LoadStageCheckpoints(ctx, "card-1")
	require.NoError(t, err)
	assert.Len(t, checkpoints, 1, "saving the same checkpoint twice must replace, not duplicate")

	resumable, err := store.GetResumablePipelines(ctx)
	require.NoError(t, err)
	assert.Contains(t, resumable, "card-1")

	completed := sampleState("card-2")
	completed.Status = persistence.StatusCompleted
	completed.UpdatedAt = time.Now().AddDate(0, 0, -100)
	require.NoError(t, store.SavePipelineState(ctx, completed))

	require.NoError(t, store.CleanupOldStates(ctx, 30))

	resumableAfter, err := store.GetResumablePipelines(ctx)
	require.NoError(t, err)
	assert.Contains(t, resumableAfter, "card-1")

	goneState, err := store.LoadPipelineState(ctx, "card-2")
	require.NoError(t, err)
	assert.Nil(t, goneState)
}

func TestSQLStoreLifecycle(t *testing.T) {
	testStoreLifecycle(t, newSQLiteStore(t))
}

func TestSQLStoreSaveOverwritesExistingState(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	state := sampleState("card-1")
	require.NoError(t, store.SavePipelineState(ctx, state))

	state.Status = persistence.StatusCompleted
	state.CurrentStage = ""
	require.NoError(t, store.SavePipelineState(ctx, state))

	loaded, err := store.LoadPipelineState(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusCompleted, loaded.Status)
}

func TestJSONStoreLifecycle(t *testing.T) {
	store, err := persistence.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	testStoreLifecycle(t, store)
}

func testStoreReplacesCheckpointOnSameKey(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	startedAt := time.Now()

	require.NoError(t, store.SaveStageCheckpoint(ctx, persistence.StageCheckpoint{
		CardID:    "card-retry",
		StageName: "code_review",
		Status:    persistence.CheckpointStarted,
		StartedAt: startedAt,
	}))
	require.NoError(t, store.SaveStageCheckpoint(ctx, persistence.StageCheckpoint{
		CardID:    "card-retry",
		StageName: "code_review",
		Status:    persistence.CheckpointCompleted,
		StartedAt: startedAt,
		Result:    map[string]any{"status": "FAIL"},
	}))

	checkpoints, err := store.LoadStageCheckpoints(ctx, "card-retry")
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)
	assert.Equal(t, persistence.CheckpointCompleted, checkpoints[0].Status)
	assert.Equal(t, map[string]any{"status": "FAIL"}, checkpoints[0].Result)
}

func TestSQLStoreReplacesCheckpointOnSameKey(t *testing.T) {
	testStoreReplacesCheckpointOnSameKey(t, newSQLiteStore(t))
}

func TestJSONStoreReplacesCheckpointOnSameKey(t *testing.T) {
	store, err := persistence.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	testStoreReplacesCheckpointOnSameKey(t, store)
}
