package messenger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-forge/artemis/pkg/messenger"
)

func TestMock_SendAndRead(t *testing.T) {
	ctx := context.Background()
	shared := messenger.NewMock("architecture")
	dependencies := shared.As("dependencies")

	id, err := shared.Send(ctx, "dependencies", messenger.TypeDataUpdate, map[string]any{"adr": "ADR-001"}, "card-1", messenger.PriorityMedium, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := dependencies.Read(ctx, messenger.ReadFilter{}, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "architecture", got[0].FromAgent)
	assert.Equal(t, "ADR-001", got[0].Data["adr"])

	// consumed: a second read returns nothing
	again, err := dependencies.Read(ctx, messenger.ReadFilter{}, true)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMock_BroadcastDeliversToAllRegisteredAgentsExceptSender(t *testing.T) {
	ctx := context.Background()
	orchestrator := messenger.NewMock("orchestrator")
	devA := orchestrator.As("developer-a")
	devB := orchestrator.As("developer-b")
	require.NoError(t, devA.RegisterAgent(ctx, nil, "active"))
	require.NoError(t, devB.RegisterAgent(ctx, nil, "active"))
	require.NoError(t, orchestrator.RegisterAgent(ctx, nil, "active"))

	_, err := orchestrator.Send(ctx, messenger.Broadcast, messenger.TypeNotification, map[string]any{"event": "pipeline_started"}, "card-1", messenger.PriorityLow, nil)
	require.NoError(t, err)

	gotA, err := devA.Read(ctx, messenger.ReadFilter{}, true)
	require.NoError(t, err)
	assert.Len(t, gotA, 1)

	gotB, err := devB.Read(ctx, messenger.ReadFilter{}, true)
	require.NoError(t, err)
	assert.Len(t, gotB, 1)

	gotSelf, err := orchestrator.Read(ctx, messenger.ReadFilter{}, true)
	require.NoError(t, err)
	assert.Empty(t, gotSelf, "broadcast must not deliver back to the sender")
}

func TestMock_SharedState_MergesUpdates(t *testing.T) {
	ctx := context.Background()
	m := messenger.NewMock("architecture")

	require.NoError(t, m.UpdateSharedState(ctx, "card-1", map[string]any{"adr_file": "ADR-001.md"}))
	require.NoError(t, m.UpdateSharedState(ctx, "card-1", map[string]any{"status": "complete"}))

	state, err := m.GetSharedState(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, "ADR-001.md", state["adr_file"])
	assert.Equal(t, "complete", state["status"])
}

func TestMock_Read_FiltersByType(t *testing.T) {
	ctx := context.Background()
	architecture := messenger.NewMock("architecture")
	dependencies := architecture.As("dependencies")

	_, err := architecture.Send(ctx, "dependencies", messenger.TypeRequest, map[string]any{}, "card-1", messenger.PriorityHigh, nil)
	require.NoError(t, err)
	_, err = architecture.Send(ctx, "dependencies", messenger.TypeNotification, map[string]any{}, "card-1", messenger.PriorityLow, nil)
	require.NoError(t, err)

	requests, err := dependencies.Read(ctx, messenger.ReadFilter{Type: messenger.TypeRequest}, false)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, messenger.TypeRequest, requests[0].MessageType)
}

func TestNewMessageID_IsUniquePerCall(t *testing.T) {
	a := messenger.NewMessageID("agent-a", map[string]any{"x": 1})
	b := messenger.NewMessageID("agent-a", map[string]any{"x": 1})
	assert.NotEqual(t, a, b)
}
