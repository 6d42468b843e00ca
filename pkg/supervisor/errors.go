package supervisor

import "fmt"

// PipelineStageError is raised when a stage exhausts its retries (spec.md
// §7): it carries the stage name, the retry attempt count, and the last
// underlying error, and wraps that error for errors.Is/errors.As
// classification.
type PipelineStageError struct {
	StageName    string
	RetryAttempt int
	FailureCount int
	Err          error
}

func (e *PipelineStageError) Error() string {
	return fmt.Sprintf("stage %q failed after %d retry attempts: %v", e.StageName, e.RetryAttempt, e.Err)
}

func (e *PipelineStageError) Unwrap() error { return e.Err }

// AttemptRecord is one supervised-execution attempt, success or failure,
// kept for the final report's per-attempt detail (spec.md §7: "the final
// report names the failing stage, the last error message, the number of
// retries").
type AttemptRecord struct {
	Attempt  int     `json:"attempt"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration_seconds"`
}
