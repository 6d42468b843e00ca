package messenger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-forge/artemis/pkg/messenger"
)

func TestFile_SendRenamesToReadOnConsume(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sender, err := messenger.NewFile("architecture", dir)
	require.NoError(t, err)
	recipient, err := messenger.NewFile("dependencies", dir)
	require.NoError(t, err)

	_, err = sender.Send(ctx, "dependencies", messenger.TypeDataUpdate, map[string]any{"adr": "ADR-001"}, "card-1", messenger.PriorityMedium, nil)
	require.NoError(t, err)

	got, err := recipient.Read(ctx, messenger.ReadFilter{}, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "architecture", got[0].FromAgent)

	again, err := recipient.Read(ctx, messenger.ReadFilter{}, true)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestFile_SharedStatePersistsAcrossHandles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := messenger.NewFile("architecture", dir)
	require.NoError(t, err)
	b, err := messenger.NewFile("dependencies", dir)
	require.NoError(t, err)

	require.NoError(t, a.UpdateSharedState(ctx, "card-1", map[string]any{"adr_file": "ADR-001.md"}))

	state, err := b.GetSharedState(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, "ADR-001.md", state["adr_file"])
}

func TestFile_BroadcastSkipsUnregisteredAgentsGracefully(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sender, err := messenger.NewFile("orchestrator", dir)
	require.NoError(t, err)
	require.NoError(t, sender.RegisterAgent(ctx, nil, "active"))

	devA, err := messenger.NewFile("developer-a", dir)
	require.NoError(t, err)
	require.NoError(t, devA.RegisterAgent(ctx, nil, "active"))

	_, err = sender.Send(ctx, messenger.Broadcast, messenger.TypeNotification, map[string]any{"event": "pipeline_started"}, "card-1", messenger.PriorityLow, nil)
	require.NoError(t, err)

	got, err := devA.Read(ctx, messenger.ReadFilter{}, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
