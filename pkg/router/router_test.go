package router_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-forge/artemis/pkg/card"
	"github.com/artemis-forge/artemis/pkg/llmclient"
	"github.com/artemis-forge/artemis/pkg/router"
)

func TestRuleBasedAnalysisDetectsFrontendAndDatabase(t *testing.T) {
	r := router.New()
	c := &card.Card{Title: "Add dashboard chart", Description: "Query postgres schema and render a React component", StoryPoints: 5}

	reqs := r.AnalyzeTaskRequirements(context.Background(), c)
	assert.True(t, reqs.HasFrontend)
	assert.True(t, reqs.HasDatabase)
	assert.Equal(t, "medium", reqs.Complexity)
}

func TestRuleBasedAnalysisSimpleBugfix(t *testing.T) {
	r := router.New()
	c := &card.Card{Title: "Fix off-by-one error", StoryPoints: 2}

	reqs := r.AnalyzeTaskRequirements(context.Background(), c)
	assert.Equal(t, "bugfix", reqs.TaskType)
	assert.Equal(t, "simple", reqs.Complexity)
}

func TestMakeRoutingDecisionSkipsUIUXWithoutFrontend(t *testing.T) {
	r := router.New()
	c := &card.Card{ID: "card-9", Title: "Optimize sorting algorithm", Description: "improve the calculation function", StoryPoints: 3}

	decision := r.MakeRoutingDecision(context.Background(), c)
	assert.Contains(t, decision.StagesToSkip, "uiux")
	assert.Contains(t, decision.StagesToRun, "development")
	assert.Contains(t, decision.StagesToRun, "code_review")
}

func TestMakeRoutingDecisionRequiresUIUXWithFrontend(t *testing.T) {
	r := router.New()
	c := &card.Card{ID: "card-10", Title: "Build dashboard UI", Description: "new React component with a button and form", StoryPoints: 8}

	decision := r.MakeRoutingDecision(context.Background(), c)
	assert.Contains(t, decision.StagesToRun, "uiux")
}

func TestAIAnalyzeFallsBackOnInvalidJSON(t *testing.T) {
	mock := llmclient.NewMockClient(&llmclient.Completion{Content: "not json at all"})
	r := router.New(router.WithLLM(mock, "test-model"))
	c := &card.Card{Title: "Fix a bug", StoryPoints: 1}

	reqs := r.AnalyzeTaskRequirements(context.Background(), c)
	assert.Equal(t, "bugfix", reqs.TaskType)
	require.Len(t, mock.Calls, 1)
}

func TestAIAnalyzeUsesParsedJSON(t *testing.T) {
	mock := llmclient.NewMockClient(&llmclient.Completion{
		Content: `{"has_frontend": true, "complexity": "complex", "task_type": "feature", "confidence_score": 0.9}`,
	})
	r := router.New(router.WithLLM(mock, "test-model"))
	c := &card.Card{Title: "Build something", StoryPoints: 5}

	reqs := r.AnalyzeTaskRequirements(context.Background(), c)
	assert.True(t, reqs.HasFrontend)
	assert.Equal(t, "complex", reqs.Complexity)
	assert.Equal(t, 0.9, reqs.ConfidenceScore)
}

func TestFilterStages(t *testing.T) {
	decision := router.RoutingDecision{StagesToRun: []string{"development", "testing"}}
	stages := []namedStage{{"architecture"}, {"development"}, {"testing"}}

	filtered := router.FilterStages(stages, decision)
	require.Len(t, filtered, 2)
	assert.Equal(t, "development", filtered[0].Name())
	assert.Equal(t, "testing", filtered[1].Name())
}

type namedStage struct{ name string }

func (n namedStage) Name() string { return n.name }
