package card

// Complexity is the Workflow Planner's bucketed score (spec.md §4.H).
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// TaskType classifies the card by keyword (spec.md §4.H).
type TaskType string

const (
	TaskTypeFeature       TaskType = "feature"
	TaskTypeBugfix        TaskType = "bugfix"
	TaskTypeRefactor      TaskType = "refactor"
	TaskTypeDocumentation TaskType = "documentation"
	TaskTypeOther         TaskType = "other"
)

// ExecutionStrategyKind selects sequential vs. parallel stage execution.
type ExecutionStrategyKind string

const (
	ExecutionSequential ExecutionStrategyKind = "sequential"
	ExecutionParallel   ExecutionStrategyKind = "parallel"
)

// WorkflowPlan is derived from a card by the Workflow Planner (spec.md §3, §4.H).
type WorkflowPlan struct {
	Complexity           Complexity             `json:"complexity"`
	TaskType             TaskType               `json:"task_type"`
	Stages               []string               `json:"stages"`
	SkipStages           []string               `json:"skip_stages"`
	ParallelDevelopers   int                     `json:"parallel_developers"`
	ExecutionStrategy    ExecutionStrategyKind   `json:"execution_strategy"`
	Reasoning            []string               `json:"reasoning"`
}

// HasStage reports whether name appears in the planned stage list.
func (p *WorkflowPlan) HasStage(name string) bool {
	for _, s := range p.Stages {
		if s == name {
			return true
		}
	}
	return false
}
