package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-forge/artemis/pkg/card"
	"github.com/artemis-forge/artemis/pkg/messenger"
	"github.com/artemis-forge/artemis/pkg/observer"
	"github.com/artemis-forge/artemis/pkg/orchestrator"
	"github.com/artemis-forge/artemis/pkg/persistence"
	"github.com/artemis-forge/artemis/pkg/stage"
)

type fakeCardStore struct {
	cards map[string]*card.Card
}

func (f *fakeCardStore) FindCard(id string) (*card.Card, error) {
	c, ok := f.cards[id]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (f *fakeCardStore) MoveCard(id, toColumn, actor string) error         { return nil }
func (f *fakeCardStore) UpdateCard(id string, updates map[string]any) error { return nil }

func allEchoStages() map[string]stage.Stage {
	names := []string{"project_analysis", "architecture", "dependencies", "development",
		"code_review", "validation", "arbitration", "integration", "testing"}
	stages := make(map[string]stage.Stage, len(names))
	for _, name := range names {
		stages[name] = stage.NewEcho(name)
	}
	return stages
}

func TestRunPipelineSucceeds(t *testing.T) {
	cards := &fakeCardStore{cards: map[string]*card.Card{
		"card-1": {ID: "card-1", Title: "fix a small bug", Priority: card.PriorityLow, StoryPoints: 1},
	}}
	store, err := persistence.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	msg := messenger.NewMock("orchestrator")
	hub := observer.NewHub()

	o := orchestrator.New(
		orchestrator.WithCardStore(cards),
		orchestrator.WithStages(allEchoStages()),
		orchestrator.WithObserverHub(hub),
		orchestrator.WithPersistence(store),
		orchestrator.WithMessenger(msg),
	)

	report, err := o.RunPipeline(context.Background(), "card-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED_SUCCESSFULLY", string(report.Status))
	assert.NotEmpty(t, report.Stages)
	assert.NotEmpty(t, msg.Sent())

	state, err := store.LoadPipelineState(context.Background(), "card-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, persistence.StatusCompleted, state.Status)
}

func TestRunPipelineUnknownCardReturnsError(t *testing.T) {
	cards := &fakeCardStore{cards: map[string]*card.Card{}}
	o := orchestrator.New(
		orchestrator.WithCardStore(cards),
		orchestrator.WithStages(allEchoStages()),
	)

	_, err := o.RunPipeline(context.Background(), "missing")
	assert.Error(t, err)
}

func TestContinuePipelineSkipsCompletedStages(t *testing.T) {
	cards := &fakeCardStore{cards: map[string]*card.Card{
		"card-1": {ID: "card-1", Title: "fix a small bug", Priority: card.PriorityLow, StoryPoints: 1},
	}}
	store, err := persistence.NewJSONStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.SavePipelineState(ctx, persistence.PipelineState{
		CardID:          "card-1",
		Status:          persistence.StatusFailed,
		StagesCompleted: []string{"project_analysis", "architecture", "dependencies"},
		StageResults: map[string]map[string]any{
			"project_analysis": {"status": "SUCCESS"},
			"architecture":      {"status": "SUCCESS"},
			"dependencies":      {"status": "SUCCESS"},
		},
	}))

	o := orchestrator.New(
		orchestrator.WithCardStore(cards),
		orchestrator.WithStages(allEchoStages()),
		orchestrator.WithPersistence(store),
	)

	report, err := o.ContinuePipeline(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED_SUCCESSFULLY", string(report.Status))
	assert.Contains(t, report.ExecutionResult.Results, "project_analysis")
	assert.Contains(t, report.ExecutionResult.Results, "development")
}

func TestContinuePipelineAlreadyCompletedSkipsExecution(t *testing.T) {
	cards := &fakeCardStore{cards: map[string]*card.Card{
		"card-1": {ID: "card-1", Title: "fix a small bug", Priority: card.PriorityLow, StoryPoints: 1},
	}}
	store, err := persistence.NewJSONStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.SavePipelineState(ctx, persistence.PipelineState{
		CardID:          "card-1",
		Status:          persistence.StatusCompleted,
		StagesCompleted: []string{"project_analysis"},
	}))

	o := orchestrator.New(
		orchestrator.WithCardStore(cards),
		orchestrator.WithStages(allEchoStages()),
		orchestrator.WithPersistence(store),
	)

	report, err := o.ContinuePipeline(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED_SUCCESSFULLY", string(report.Status))
	assert.Equal(t, []string{"project_analysis"}, report.Stages)
}

func TestRunStageExecutesSingleStage(t *testing.T) {
	cards := &fakeCardStore{cards: map[string]*card.Card{
		"card-1": {ID: "card-1", Title: "fix a small bug", Priority: card.PriorityLow, StoryPoints: 1},
	}}
	o := orchestrator.New(
		orchestrator.WithCardStore(cards),
		orchestrator.WithStages(allEchoStages()),
	)

	report, err := o.RunStage(context.Background(), "card-1", "architecture")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED_SUCCESSFULLY", string(report.Status))
	assert.Equal(t, []string{"architecture"}, report.Stages)
}
