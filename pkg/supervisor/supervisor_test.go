package supervisor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-forge/artemis/pkg/card"
	"github.com/artemis-forge/artemis/pkg/cost"
	"github.com/artemis-forge/artemis/pkg/sandbox"
	"github.com/artemis-forge/artemis/pkg/stage"
	"github.com/artemis-forge/artemis/pkg/supervisor"
)

func testCard() *card.Card {
	return &card.Card{ID: "card-1", Title: "test"}
}

func fastStrategy() supervisor.RecoveryStrategy {
	s := supervisor.DefaultRecoveryStrategy()
	s.RetryDelay = time.Millisecond
	s.Timeout = 2 * time.Second
	s.BreakerThreshold = 5
	return s
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	sup := supervisor.New()
	sup.RegisterStage("echo", fastStrategy())

	st := stage.NewEcho("echo")
	result, err := sup.Execute(context.Background(), st, testCard(), card.NewContext())
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", result["status"])
	assert.Equal(t, int64(1), st.Calls.Load())
}

func TestExecuteRetriesFlakyStageUntilSuccess(t *testing.T) {
	sup := supervisor.New()
	sup.RegisterStage("flaky", fastStrategy())

	st := stage.NewFlaky("flaky", 2)
	result, err := sup.Execute(context.Background(), st, testCard(), card.NewContext())
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", result["status"])
	assert.Equal(t, int64(3), st.Calls.Load())

	stats := sup.Stats()
	assert.Equal(t, 1, stats.SuccessfulRecovery)
}

func TestExecuteExhaustsRetriesReturnsPipelineStageError(t *testing.T) {
	sup := supervisor.New()
	strategy := fastStrategy()
	strategy.MaxRetries = 2
	strategy.BreakerThreshold = 100
	sup.RegisterStage("flaky", strategy)

	st := stage.NewFlaky("flaky", 10)
	_, err := sup.Execute(context.Background(), st, testCard(), card.NewContext())
	require.Error(t, err)

	var stageErr *supervisor.PipelineStageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "flaky", stageErr.StageName)
	assert.Equal(t, 2, stageErr.RetryAttempt)
}

func TestExecuteTimesOutOnSlowStage(t *testing.T) {
	sup := supervisor.New()
	strategy := fastStrategy()
	strategy.MaxRetries = 0
	strategy.Timeout = 10 * time.Millisecond
	sup.RegisterStage("slow", strategy)

	st := stage.NewSlow("slow", time.Second)
	_, err := sup.Execute(context.Background(), st, testCard(), card.NewContext())
	require.Error(t, err)

	var stageErr *supervisor.PipelineStageError
	require.ErrorAs(t, err, &stageErr)
	assert.ErrorIs(t, stageErr.Err, context.DeadlineExceeded)
}

func TestExecuteOpensCircuitBreakerAfterThreshold(t *testing.T) {
	sup := supervisor.New()
	strategy := fastStrategy()
	strategy.MaxRetries = 0
	strategy.BreakerThreshold = 2
	strategy.BreakerCooldown = time.Hour
	sup.RegisterStage("flaky", strategy)

	st := stage.NewFlaky("flaky", 1000)
	for i := 0; i < 2; i++ {
		_, err := sup.Execute(context.Background(), st, testCard(), card.NewContext())
		require.Error(t, err)
	}

	result, err := sup.Execute(context.Background(), st, testCard(), card.NewContext())
	require.NoError(t, err)
	assert.Equal(t, "skipped", result["status"])
	assert.True(t, sup.Health("flaky").CircuitOpen)
}

func TestExecuteUsesFallbackWhenCircuitOpen(t *testing.T) {
	sup := supervisor.New()
	strategy := fastStrategy()
	strategy.MaxRetries = 0
	strategy.BreakerThreshold = 1
	strategy.BreakerCooldown = time.Hour
	strategy.Fallback = func() (map[string]any, error) {
		return map[string]any{"status": "FAIL", "reason": "fallback"}, nil
	}
	sup.RegisterStage("flaky", strategy)

	st := stage.NewFlaky("flaky", 1000)
	_, err := sup.Execute(context.Background(), st, testCard(), card.NewContext())
	require.Error(t, err)

	result, err := sup.Execute(context.Background(), st, testCard(), card.NewContext())
	require.NoError(t, err)
	assert.Equal(t, "fallback", result["reason"])
}

func TestExecuteDoesNotRetryBudgetExceeded(t *testing.T) {
	sup := supervisor.New()
	strategy := fastStrategy()
	strategy.MaxRetries = 5
	strategy.BreakerThreshold = 100
	sup.RegisterStage("billed", strategy)

	limit := 1.0
	budgetErr := &cost.BudgetExceededError{Period: "daily", Current: 2, Added: 1, Limit: limit}
	st := stage.Func{
		StageName: "billed",
		Fn: func(ctx context.Context, c *card.Card, pctx *card.Context) (map[string]any, error) {
			return nil, budgetErr
		},
	}

	_, err := sup.Execute(context.Background(), st, testCard(), card.NewContext())
	require.Error(t, err)

	var stageErr *supervisor.PipelineStageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, 0, stageErr.RetryAttempt)
	var got *cost.BudgetExceededError
	assert.ErrorAs(t, stageErr.Err, &got)
}

func TestExecuteDoesNotRetrySecurityRefusal(t *testing.T) {
	sup := supervisor.New()
	strategy := fastStrategy()
	strategy.MaxRetries = 5
	strategy.BreakerThreshold = 100
	sup.RegisterStage("sandboxed", strategy)

	st := stage.Func{
		StageName: "sandboxed",
		Fn: func(ctx context.Context, c *card.Card, pctx *card.Context) (map[string]any, error) {
			return nil, sandbox.ErrSecurityRefused
		},
	}

	_, err := sup.Execute(context.Background(), st, testCard(), card.NewContext())
	require.Error(t, err)

	var stageErr *supervisor.PipelineStageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, 0, stageErr.RetryAttempt)
	assert.True(t, errors.Is(stageErr.Err, sandbox.ErrSecurityRefused))
}

func TestExecuteStashesCodeReviewFeedbackOnFail(t *testing.T) {
	sup := supervisor.New()
	sup.RegisterStage("code_review", fastStrategy())

	st := stage.Func{
		StageName: "code_review",
		Fn: func(ctx context.Context, c *card.Card, pctx *card.Context) (map[string]any, error) {
			return stage.CodeReviewResult{
				Status:              stage.StatusFail,
				TotalCriticalIssues: 1,
			}.Doc(), nil
		},
	}

	pctx := card.NewContext()
	result, err := sup.Execute(context.Background(), st, testCard(), pctx)
	require.NoError(t, err)
	assert.Equal(t, "FAIL", result["status"])

	feedback, ok := pctx.Get("previous_review_feedback")
	require.True(t, ok)
	feedbackDoc, ok := feedback.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "FAIL", feedbackDoc["status"])
}
