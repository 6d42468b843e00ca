package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushStateAndRollback(t *testing.T) {
	m := New("card-1", nil)

	m.UpdateStageState("architecture", StageCompleted)
	m.PushState(PipelineStageRunning, map[string]any{"stage": "architecture"})

	m.UpdateStageState("development", StageRunning)
	m.PushState(PipelineStageRunning, map[string]any{"stage": "development"})

	m.UpdateStageState("development", StageFailed)
	m.PushState(PipelineStageFailed, map[string]any{"stage": "development"})

	ok := m.RollbackToState(PipelineStageRunning)
	require.True(t, ok)
	assert.Equal(t, PipelineStageRunning, m.State())
	// Rollback restores the snapshot taken at the *matched* event, which is
	// the second push (development -> Running), not the failure.
	assert.Equal(t, StageRunning, m.StageState("development"))
	assert.Equal(t, StageCompleted, m.StageState("architecture"))
}

func TestRollbackNoMatchReturnsFalse(t *testing.T) {
	m := New("card-1", nil)
	m.PushState(PipelineStageRunning, nil)
	assert.False(t, m.RollbackToState(PipelineCompleted))
}

func TestStageStateDefaultsPending(t *testing.T) {
	m := New("card-1", nil)
	assert.Equal(t, StagePending, m.StageState("never-touched"))
}

type stubConsultant struct {
	resolved bool
	err      error
}

func (s stubConsultant) Resolve(string, PipelineState, []PipelineState, map[string]any) (bool, error) {
	return s.resolved, s.err
}

func TestRegisterIssueResolvedKeepsRunning(t *testing.T) {
	m := New("card-1", stubConsultant{resolved: true})
	m.PushState(PipelineStageRunning, nil)

	resolved, err := m.RegisterIssue(IssueStageStuck, "development", "stuck", nil)
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, PipelineStageRunning, m.State())

	issues := m.Issues()
	require.Len(t, issues, 1)
	assert.True(t, issues[0].Resolved)
}

func TestRegisterIssueUnresolvedFails(t *testing.T) {
	m := New("card-1", stubConsultant{resolved: false})
	m.PushState(PipelineStageRunning, nil)

	resolved, err := m.RegisterIssue(IssueStageStuck, "development", "stuck", nil)
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Equal(t, PipelineFailed, m.State())
}

func TestRegisterIssueNoConsultant(t *testing.T) {
	m := New("card-1", nil)
	resolved, err := m.RegisterIssue(IssueTimeout, "development", "timed out", nil)
	require.NoError(t, err)
	assert.False(t, resolved)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(PipelineCompleted))
	assert.True(t, IsTerminal(PipelineFailed))
	assert.False(t, IsTerminal(PipelineStageRunning))
	assert.False(t, IsTerminal(PipelinePaused))
}

func TestHistoryBounded(t *testing.T) {
	m := New("card-1", nil)
	m.capacity = 3
	for i := 0; i < 10; i++ {
		m.PushState(PipelineStageRunning, map[string]any{"i": i})
	}
	assert.Len(t, m.History(), 3)
}
