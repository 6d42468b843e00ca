package planner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/artemis-forge/artemis/pkg/card"
	"github.com/artemis-forge/artemis/pkg/planner"
)

func TestAnalyzeComplexitySimple(t *testing.T) {
	c := &card.Card{Priority: card.PriorityLow, StoryPoints: 2, Description: "quick fix for a typo"}
	assert.Equal(t, planner.ComplexitySimple, planner.AnalyzeComplexity(c))
}

func TestAnalyzeComplexityMedium(t *testing.T) {
	c := &card.Card{Priority: card.PriorityMedium, StoryPoints: 8, Description: "add a new feature"}
	assert.Equal(t, planner.ComplexityMedium, planner.AnalyzeComplexity(c))
}

func TestAnalyzeComplexityComplex(t *testing.T) {
	c := &card.Card{
		Priority:    card.PriorityHigh,
		StoryPoints: 13,
		Description: "integrate distributed architecture migrate performance scalability api",
	}
	assert.Equal(t, planner.ComplexityComplex, planner.AnalyzeComplexity(c))
}

func TestDetermineTaskType(t *testing.T) {
	cases := []struct {
		card     *card.Card
		expected planner.TaskType
	}{
		{&card.Card{Title: "Fix login bug"}, planner.TaskBugfix},
		{&card.Card{Title: "Refactor the payments module"}, planner.TaskRefactor},
		{&card.Card{Title: "Update README documentation"}, planner.TaskDocumentation},
		{&card.Card{Title: "Implement new dashboard feature"}, planner.TaskFeature},
		{&card.Card{Title: "Quarterly planning notes"}, planner.TaskOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, planner.DetermineTaskType(tc.card))
	}
}

func TestCreateWorkflowPlanSimpleDocumentation(t *testing.T) {
	c := &card.Card{Priority: card.PriorityLow, StoryPoints: 1, Title: "update readme documentation"}
	plan := planner.CreateWorkflowPlan(c)

	assert.Equal(t, planner.ComplexitySimple, plan.Complexity)
	assert.Equal(t, planner.TaskDocumentation, plan.TaskType)
	assert.Equal(t, 1, plan.ParallelDevelopers)
	assert.Equal(t, planner.StrategySequential, plan.ExecutionStrategy)
	assert.Contains(t, plan.SkipStages, "arbitration")
	assert.Contains(t, plan.SkipStages, "testing")
	assert.NotContains(t, plan.Stages, "testing")
	assert.NotContains(t, plan.Stages, "arbitration")
}

func TestCreateWorkflowPlanComplexFeature(t *testing.T) {
	c := &card.Card{
		Priority:    card.PriorityHigh,
		StoryPoints: 13,
		Title:       "integrate distributed architecture",
		Description: "migrate performance scalability api refactor",
	}
	plan := planner.CreateWorkflowPlan(c)

	assert.Equal(t, planner.ComplexityComplex, plan.Complexity)
	assert.Equal(t, 3, plan.ParallelDevelopers)
	assert.Equal(t, planner.StrategyParallel, plan.ExecutionStrategy)
	assert.Equal(t, []string{
		"project_analysis", "architecture", "dependencies", "development", "code_review",
		"validation", "arbitration", "integration", "testing",
	}, plan.Stages)
}
