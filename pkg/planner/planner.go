// Package planner scores a card's complexity and task type and turns that
// analysis into a concrete WorkflowPlan (spec.md §4.H), a direct port of
// original_source/.agents/agile/pipeline_orchestrator.py's WorkflowPlanner
// class into small, independently testable pure functions operating on
// the shared card.Card type, a plain-struct, no-framework approach to
// request classification.
package planner

import (
	"strings"

	"github.com/artemis-forge/artemis/pkg/card"
)

// Complexity is the closed set of complexity buckets (spec.md §4.H).
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// TaskType is the closed set of task classifications (spec.md §4.H).
type TaskType string

const (
	TaskBugfix        TaskType = "bugfix"
	TaskRefactor      TaskType = "refactor"
	TaskDocumentation TaskType = "documentation"
	TaskFeature       TaskType = "feature"
	TaskOther         TaskType = "other"
)

// ExecutionStrategy is the closed set of strategies a plan selects.
type ExecutionStrategy string

const (
	StrategySequential ExecutionStrategy = "sequential"
	StrategyParallel   ExecutionStrategy = "parallel"
)

var complexKeywords = []string{
	"integrate", "architecture", "refactor", "migrate",
	"performance", "scalability", "distributed", "api",
}

var simpleKeywords = []string{"fix", "update", "small", "minor", "simple", "quick"}

// AnalyzeComplexity scores c's priority, story points, and description
// keywords into one of the three complexity buckets (spec.md §4.H;
// pipeline_orchestrator.py's _analyze_complexity, thresholds complex>=6,
// medium>=3 preserved exactly).
func AnalyzeComplexity(c *card.Card) Complexity {
	score := 0

	switch c.Priority {
	case card.PriorityHigh:
		score += 2
	case card.PriorityMedium:
		score += 1
	}

	switch {
	case c.StoryPoints >= 13:
		score += 3
	case c.StoryPoints >= 8:
		score += 2
	case c.StoryPoints >= 5:
		score += 1
	}

	desc := strings.ToLower(c.Description)
	score += min(countMatches(desc, complexKeywords), 3)
	score -= min(countMatches(desc, simpleKeywords), 2)

	switch {
	case score >= 6:
		return ComplexityComplex
	case score >= 3:
		return ComplexityMedium
	default:
		return ComplexitySimple
	}
}

func countMatches(haystack string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			n++
		}
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// DetermineTaskType classifies c's title+description into a TaskType
// (pipeline_orchestrator.py's _determine_task_type; keyword families
// checked bugfix, refactor, documentation, feature, in that priority
// order, matching the original's elif chain).
func DetermineTaskType(c *card.Card) TaskType {
	combined := strings.ToLower(c.Title + " " + c.Description)

	switch {
	case containsAny(combined, "bug", "fix", "error", "issue"):
		return TaskBugfix
	case containsAny(combined, "refactor", "restructure", "cleanup"):
		return TaskRefactor
	case containsAny(combined, "docs", "documentation", "readme"):
		return TaskDocumentation
	case containsAny(combined, "feature", "implement", "add", "create", "integrate", "build"):
		return TaskFeature
	default:
		return TaskOther
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// Plan is the dynamic workflow plan a WorkflowPlanner produces (spec.md §4.H).
type Plan struct {
	Complexity         Complexity        `json:"complexity"`
	TaskType           TaskType          `json:"task_type"`
	Stages             []string          `json:"stages"`
	ParallelDevelopers int               `json:"parallel_developers"`
	SkipStages         []string          `json:"skip_stages"`
	ExecutionStrategy  ExecutionStrategy `json:"execution_strategy"`
	Reasoning          []string          `json:"reasoning"`
}

// CreateWorkflowPlan builds a Plan for c (spec.md §4.H;
// pipeline_orchestrator.py's WorkflowPlanner.create_workflow_plan, stage
// ordering and developer-count rules preserved verbatim).
func CreateWorkflowPlan(c *card.Card) Plan {
	complexity := AnalyzeComplexity(c)
	taskType := DetermineTaskType(c)

	plan := Plan{
		Complexity:        complexity,
		TaskType:          taskType,
		ExecutionStrategy: StrategySequential,
	}

	plan.Stages = append(plan.Stages, "project_analysis", "architecture", "dependencies", "development", "code_review")

	switch complexity {
	case ComplexityComplex:
		plan.ParallelDevelopers = 3
		plan.ExecutionStrategy = StrategyParallel
		plan.Reasoning = append(plan.Reasoning,
			"Complex task (score-based): running 3 parallel developers for diverse approaches")
	case ComplexityMedium:
		plan.ParallelDevelopers = 2
		plan.ExecutionStrategy = StrategyParallel
		plan.Reasoning = append(plan.Reasoning, "Medium complexity: running 2 parallel developers")
	default:
		plan.ParallelDevelopers = 1
		plan.ExecutionStrategy = StrategySequential
		plan.Reasoning = append(plan.Reasoning, "Simple task: running a single developer (no need for parallel approaches)")
	}

	plan.Stages = append(plan.Stages, "validation")

	if plan.ParallelDevelopers > 1 {
		plan.Stages = append(plan.Stages, "arbitration")
	} else {
		plan.SkipStages = append(plan.SkipStages, "arbitration")
		plan.Reasoning = append(plan.Reasoning, "Skipping arbitration (only one developer)")
	}

	plan.Stages = append(plan.Stages, "integration")

	if taskType == TaskDocumentation {
		plan.SkipStages = append(plan.SkipStages, "testing")
		plan.Reasoning = append(plan.Reasoning, "Skipping automated testing for documentation task")
	} else {
		plan.Stages = append(plan.Stages, "testing")
	}

	return plan
}
