package strategy_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-forge/artemis/pkg/card"
	"github.com/artemis-forge/artemis/pkg/stage"
	"github.com/artemis-forge/artemis/pkg/strategy"
)

// passthroughExecutor runs a stage directly, the way a no-op Supervisor would.
type passthroughExecutor struct{}

func (passthroughExecutor) Execute(ctx context.Context, st stage.Stage, c *card.Card, pctx *card.Context) (map[string]any, error) {
	return st.Execute(ctx, c, pctx)
}

func TestRunSequentialSuccess(t *testing.T) {
	stages := []stage.Stage{stage.NewEcho("architecture"), stage.NewEcho("development"), stage.NewEcho("testing")}
	s := strategy.New(passthroughExecutor{})

	result := s.Run(context.Background(), stages, &card.Card{ID: "card-1"}, card.NewContext(), 1)
	assert.Equal(t, strategy.StatusSuccess, result.Status)
	assert.Len(t, result.Results, 3)
}

func TestRunHaltsOnStageError(t *testing.T) {
	failing := stage.Func{
		StageName: "integration",
		Fn: func(ctx context.Context, c *card.Card, pctx *card.Context) (map[string]any, error) {
			return nil, assertError{"integration exploded"}
		},
	}
	stages := []stage.Stage{stage.NewEcho("architecture"), failing, stage.NewEcho("testing")}
	s := strategy.New(passthroughExecutor{})

	result := s.Run(context.Background(), stages, &card.Card{ID: "card-1"}, card.NewContext(), 1)
	assert.Equal(t, strategy.StoppedAt("integration"), result.Status)
	assert.Equal(t, "integration", result.FailedStage)
	assert.NotContains(t, result.Results, "testing")
}

func TestRunExhaustsCodeReviewRetries(t *testing.T) {
	development := stage.NewEcho("development")
	codeReview := stage.Func{
		StageName: "code_review",
		Fn: func(ctx context.Context, c *card.Card, pctx *card.Context) (map[string]any, error) {
			return stage.CodeReviewResult{Status: stage.StatusFail, TotalCriticalIssues: 2, TotalHighIssues: 1}.Doc(), nil
		},
	}
	stages := []stage.Stage{development, codeReview, stage.NewEcho("integration")}
	s := strategy.New(passthroughExecutor{}, strategy.WithMaxCodeReviewRetries(2))

	result := s.Run(context.Background(), stages, &card.Card{ID: "card-1"}, card.NewContext(), 1)
	assert.Equal(t, strategy.StatusFailedCodeReview, result.Status)
	assert.Equal(t, "code_review", result.FailedStage)
	assert.NotContains(t, result.Results, "integration")
	require.Len(t, result.RetryHistory, 3)
	for i, entry := range result.RetryHistory {
		assert.Equal(t, i+1, entry.Attempt)
		assert.Equal(t, 2, entry.CriticalIssues)
		assert.Equal(t, 1, entry.HighIssues)
	}
}

func TestRunRestartsDevelopmentOnCodeReviewFail(t *testing.T) {
	var devRuns atomic.Int64
	var reviewRuns atomic.Int64

	development := stage.Func{
		StageName: "development",
		Fn: func(ctx context.Context, c *card.Card, pctx *card.Context) (map[string]any, error) {
			devRuns.Add(1)
			return stage.Result{Status: stage.StatusOK}.Doc(), nil
		},
	}
	codeReview := stage.Func{
		StageName: "code_review",
		Fn: func(ctx context.Context, c *card.Card, pctx *card.Context) (map[string]any, error) {
			n := reviewRuns.Add(1)
			if n < 2 {
				return stage.CodeReviewResult{Status: stage.StatusFail, TotalCriticalIssues: 1}.Doc(), nil
			}
			return stage.CodeReviewResult{Status: stage.StatusOK}.Doc(), nil
		},
	}
	stages := []stage.Stage{development, codeReview, stage.NewEcho("integration")}
	s := strategy.New(passthroughExecutor{})

	result := s.Run(context.Background(), stages, &card.Card{ID: "card-1"}, card.NewContext(), 1)
	require.Equal(t, strategy.StatusSuccess, result.Status)
	assert.Equal(t, int64(2), devRuns.Load())
	assert.Equal(t, int64(2), reviewRuns.Load())
}

func TestRunParallelDevelopersCollectsAllOutcomes(t *testing.T) {
	dev := stage.NewEcho("development")
	stages := []stage.Stage{dev, stage.NewEcho("testing")}
	s := strategy.New(passthroughExecutor{})

	result := s.Run(context.Background(), stages, &card.Card{ID: "card-1"}, card.NewContext(), 3)
	require.Equal(t, strategy.StatusSuccess, result.Status)
	assert.Equal(t, int64(3), dev.Calls.Load())
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
