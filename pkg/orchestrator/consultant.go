package orchestrator

import (
	"context"

	"github.com/artemis-forge/artemis/pkg/learning"
	"github.com/artemis-forge/artemis/pkg/statemachine"
)

// learningConsultant adapts *learning.Engine to statemachine.RecoveryConsultant,
// the narrow interface that lets the State Machine ask Learning to resolve
// a registered issue without either package importing the other directly
// (spec.md §9, avoiding the orchestrator<->supervisor<->learning cycle).
type learningConsultant struct {
	engine *learning.Engine
}

func newLearningConsultant(engine *learning.Engine) *learningConsultant {
	return &learningConsultant{engine: engine}
}

// Resolve detects whether current departs from expected, and when it
// does, learns and immediately applies a recovery workflow for it.
func (l *learningConsultant) Resolve(cardID string, current statemachine.PipelineState, expected []statemachine.PipelineState, ctxData map[string]any) (bool, error) {
	if l.engine == nil {
		return false, nil
	}

	expectedStrs := make([]string, len(expected))
	for i, e := range expected {
		expectedStrs[i] = string(e)
	}

	state := l.engine.DetectUnexpectedState(cardID, string(current), expectedStrs, ctxData)
	if state == nil {
		return true, nil
	}

	ctx := context.Background()
	sol, err := l.engine.LearnSolution(ctx, state, learning.StrategySimilarCase)
	if err != nil {
		return false, err
	}
	if err := l.engine.ApplyWorkflow(ctx, sol); err != nil {
		return false, err
	}
	return true, nil
}
