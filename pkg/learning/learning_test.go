package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-forge/artemis/pkg/llmclient"
)

func TestDetectUnexpectedStateExpected(t *testing.T) {
	e := New()
	got := e.DetectUnexpectedState("card-1", "RUNNING", []string{"RUNNING", "COMPLETED"}, nil)
	assert.Nil(t, got)
}

func TestDetectUnexpectedStateUnexpected(t *testing.T) {
	e := New()
	got := e.DetectUnexpectedState("card-1", "STAGE_STUCK", []string{"RUNNING"}, map[string]any{
		"stage_name":    "development",
		"error_message": "no progress in 10m",
	})
	require.NotNil(t, got)
	assert.Equal(t, "development", got.StageName)
	assert.Equal(t, SeverityHigh, got.Severity)
}

func TestConsultLLMValidJSON(t *testing.T) {
	resp := `{
		"problem_analysis": "stage stuck",
		"root_cause": "deadlock",
		"solution_description": "retry with fresh worker",
		"workflow_steps": [{"step":1,"action":"retry_stage","description":"retry","parameters":{"stage_name":"development"}}],
		"confidence": "high",
		"risks": ["may recur"],
		"alternatives": ["manual restart"]
	}`
	mock := llmclient.NewMockClient(&llmclient.Completion{Content: resp, Model: "mock-model"})
	e := New(WithLLM(mock, "mock-model"))

	state := &UnexpectedState{StateID: "s1", CardID: "card-1", StageName: "development", CurrentState: "STAGE_STUCK", ExpectedStates: []string{"RUNNING"}}
	sol, err := e.LearnSolution(context.Background(), state, StrategyLLM)
	require.NoError(t, err)
	require.NotNil(t, sol)
	assert.Equal(t, StrategyLLM, sol.LearningStrategy)
	assert.Equal(t, "high", sol.Confidence)
	require.Len(t, sol.WorkflowSteps, 1)
	assert.Equal(t, ActionRetryStage, sol.WorkflowSteps[0].Action)
}

func TestConsultLLMInvalidJSONFallsBackToManualIntervention(t *testing.T) {
	mock := llmclient.NewMockClient(&llmclient.Completion{Content: "1. Restart the worker\n2. Clear the cache\n", Model: "mock-model"})
	e := New(WithLLM(mock, "mock-model"))

	state := &UnexpectedState{StateID: "s2", CardID: "card-1", CurrentState: "STAGE_STUCK", ExpectedStates: []string{"RUNNING"}}
	sol, err := e.LearnSolution(context.Background(), state, StrategyLLM)
	require.NoError(t, err)
	require.Len(t, sol.WorkflowSteps, 2)
	for _, step := range sol.WorkflowSteps {
		assert.Equal(t, ActionManualIntervention, step.Action)
	}
}

type stubExecutor struct {
	retried      []string
	rollbackOK   bool
	rollbackCall string
}

func (s *stubExecutor) RetryStage(_ context.Context, stageName string) error {
	s.retried = append(s.retried, stageName)
	return nil
}
func (s *stubExecutor) RollbackToState(state string) bool { s.rollbackCall = state; return s.rollbackOK }
func (s *stubExecutor) SkipStage(string)                  {}
func (s *stubExecutor) ResetState()                       {}
func (s *stubExecutor) CleanupResources()                 {}
func (s *stubExecutor) RestartProcess(string) error        { return nil }

func TestApplyWorkflowSuccessUpdatesRate(t *testing.T) {
	exec := &stubExecutor{rollbackOK: true}
	e := New(WithWorkflowExecutor(exec))

	sol := &LearnedSolution{
		WorkflowSteps: []WorkflowStep{
			{Action: ActionRetryStage, Parameters: map[string]any{"stage_name": "development"}},
		},
	}
	err := e.ApplyWorkflow(context.Background(), sol)
	require.NoError(t, err)
	assert.Equal(t, []string{"development"}, exec.retried)
	assert.Equal(t, 1, sol.TimesApplied)
	assert.Equal(t, 1, sol.TimesSuccessful)
	assert.Equal(t, 1.0, sol.SuccessRate)
}

func TestApplyWorkflowManualInterventionFails(t *testing.T) {
	exec := &stubExecutor{}
	e := New(WithWorkflowExecutor(exec))

	sol := &LearnedSolution{
		WorkflowSteps: []WorkflowStep{{Action: ActionManualIntervention, Description: "needs a human"}},
	}
	err := e.ApplyWorkflow(context.Background(), sol)
	assert.Error(t, err)
	assert.Equal(t, 0, sol.TimesSuccessful)
	assert.Equal(t, 1, sol.TimesApplied)
}
