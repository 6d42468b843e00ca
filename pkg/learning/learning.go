// Package learning turns unexpected pipeline states into executable
// recovery workflows, caching successful ones for reuse (spec.md §4.F).
// Grounded on original_source/.agents/agile/supervisor_learning.py's
// SupervisorLearningEngine: the same three learning strategies (similar-case
// adaptation, LLM consultation, human-in-the-loop), the same LLM
// prompt/response JSON contract, and the same success-rate bookkeeping on
// reused solutions.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/artemis-forge/artemis/pkg/knowledge"
	"github.com/artemis-forge/artemis/pkg/llmclient"
	"github.com/artemis-forge/artemis/pkg/messenger"
)

// Strategy is the learning-strategy enum (spec.md §4.F).
type Strategy string

const (
	StrategySimilarCase Strategy = "similar_case"
	StrategyLLM         Strategy = "llm_consultation"
	StrategyHumanInLoop Strategy = "human_in_loop"
)

// Action is the closed set of recovery-workflow-step actions (spec.md §4.F).
type Action string

const (
	ActionRetryStage         Action = "retry_stage"
	ActionRollbackToState    Action = "rollback_to_state"
	ActionSkipStage          Action = "skip_stage"
	ActionResetState         Action = "reset_state"
	ActionCleanupResources   Action = "cleanup_resources"
	ActionRestartProcess     Action = "restart_process"
	ActionManualIntervention Action = "manual_intervention"
)

// Severity is the unexpected-state severity classification.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// UnexpectedState is a detected departure from the expected state set.
type UnexpectedState struct {
	StateID        string
	Timestamp      time.Time
	CardID         string
	StageName      string
	ErrorMessage   string
	Context        map[string]any
	PreviousState  string
	CurrentState   string
	ExpectedStates []string
	Severity       Severity
}

// WorkflowStep is one action of a recovery workflow.
type WorkflowStep struct {
	Step        int            `json:"step"`
	Action      Action         `json:"action"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// LearnedSolution is a reusable recovery workflow (spec.md §4.F, §3).
type LearnedSolution struct {
	SolutionID        string
	Timestamp         time.Time
	UnexpectedStateID string
	ProblemAnalysis   string
	RootCause         string
	SolutionDesc      string
	WorkflowSteps     []WorkflowStep
	Confidence        string
	Risks             []string
	Alternatives      []string
	SuccessRate       float64
	TimesApplied      int
	TimesSuccessful   int
	LearningStrategy  Strategy
	LLMModelUsed      string
	Provenance        string // non-empty when adapted from a similar past case
}

// llmResponse is the structured JSON contract spec.md §4.F requires from
// the LLM-consultation strategy.
type llmResponse struct {
	ProblemAnalysis   string         `json:"problem_analysis"`
	RootCause         string         `json:"root_cause"`
	SolutionDesc      string         `json:"solution_description"`
	WorkflowSteps     []WorkflowStep `json:"workflow_steps"`
	Confidence        string         `json:"confidence"`
	Risks             []string       `json:"risks"`
	Alternatives      []string       `json:"alternatives"`
}

var validActions = map[Action]bool{
	ActionRetryStage:         true,
	ActionRollbackToState:    true,
	ActionSkipStage:          true,
	ActionResetState:         true,
	ActionCleanupResources:   true,
	ActionRestartProcess:     true,
	ActionManualIntervention: true,
}

// numberedStepPattern backs the best-effort extractor used when the LLM
// response isn't valid JSON (supervisor_learning.py's
// _extract_workflow_from_text, which defaults every extracted step to
// manual_intervention).
var numberedStepPattern = regexp.MustCompile(`(?m)^\s*(\d+)[.)]\s*(.+)$`)

// WorkflowExecutor is the narrow capability the Learning Engine needs to
// apply a workflow step, implemented by the Supervisor and the State
// Machine. Kept separate from those packages' full interfaces to avoid a
// learning<->supervisor import cycle (spec.md §9 design note).
type WorkflowExecutor interface {
	RetryStage(ctx context.Context, stageName string) error
	RollbackToState(state string) bool
	SkipStage(stageName string)
	ResetState()
	CleanupResources()
	RestartProcess(stageName string) error
}

// Engine is the Learning Engine (spec.md §4.F).
type Engine struct {
	llm       llmclient.Client
	store     knowledge.Store
	msg       messenger.Messenger
	executor  WorkflowExecutor
	model     string
	now       func() time.Time

	mu        sync.Mutex
	solutions map[string]*LearnedSolution

	stats struct {
		unexpectedDetected int
		solutionsLearned   int
		llmConsultations   int
	}
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLLM wires the LLM-consultation strategy's client.
func WithLLM(client llmclient.Client, model string) Option {
	return func(e *Engine) { e.llm = client; e.model = model }
}

// WithKnowledgeStore wires similar-case adaptation and solution persistence.
func WithKnowledgeStore(store knowledge.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithMessenger wires the human-in-the-loop strategy's notification path.
func WithMessenger(msg messenger.Messenger) Option {
	return func(e *Engine) { e.msg = msg }
}

// WithWorkflowExecutor wires the collaborator used to apply learned
// workflow steps (State Machine + Supervisor).
func WithWorkflowExecutor(executor WorkflowExecutor) Option {
	return func(e *Engine) { e.executor = executor }
}

// New returns an Engine with the given collaborators wired.
func New(opts ...Option) *Engine {
	e := &Engine{solutions: make(map[string]*LearnedSolution), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DetectUnexpectedState implements spec.md §4.F: returns none when
// currentState is among expectedStates, else classifies severity and
// returns the record.
func (e *Engine) DetectUnexpectedState(cardID, currentState string, expectedStates []string, ctx map[string]any) *UnexpectedState {
	for _, s := range expectedStates {
		if s == currentState {
			return nil
		}
	}

	e.mu.Lock()
	e.stats.unexpectedDetected++
	e.mu.Unlock()

	now := e.now().UTC()
	stageName, _ := ctx["stage_name"].(string)
	errMsg, _ := ctx["error_message"].(string)
	prevState, _ := ctx["previous_state"].(string)

	return &UnexpectedState{
		StateID:        fmt.Sprintf("unexpected-%s-%d", cardID, now.UnixNano()),
		Timestamp:      now,
		CardID:         cardID,
		StageName:      stageName,
		ErrorMessage:   errMsg,
		Context:        ctx,
		PreviousState:  prevState,
		CurrentState:   currentState,
		ExpectedStates: expectedStates,
		Severity:       assessSeverity(currentState, errMsg),
	}
}

// assessSeverity heuristically classifies severity from the state name
// and whether an error message accompanies it, mirroring
// supervisor_learning.py's _assess_severity.
func assessSeverity(state, errMsg string) Severity {
	lower := strings.ToLower(state)
	switch {
	case strings.Contains(lower, "crash") || strings.Contains(lower, "corrupt"):
		return SeverityCritical
	case strings.Contains(lower, "fail") || strings.Contains(lower, "error"):
		if errMsg != "" {
			return SeverityHigh
		}
		return SeverityMedium
	case strings.Contains(lower, "stuck") || strings.Contains(lower, "timeout"):
		return SeverityHigh
	default:
		return SeverityLow
	}
}

// LearnSolution resolves an unexpected state according to preferred.
// StrategySimilarCase (or "") tries similar-case adaptation first and
// falls forward to LLM consultation when it yields nothing;
// StrategyHumanInLoop goes straight to human-in-the-loop; any other value
// goes straight to LLM consultation. Human-in-the-loop is never reached by
// falling forward.
func (e *Engine) LearnSolution(ctx context.Context, state *UnexpectedState, preferred Strategy) (*LearnedSolution, error) {
	if preferred == StrategySimilarCase || preferred == "" {
		if sol, err := e.similarCaseAdaptation(ctx, state); err != nil {
			return nil, err
		} else if sol != nil {
			return sol, nil
		}
	}

	switch preferred {
	case StrategyHumanInLoop:
		return e.humanInTheLoop(ctx, state)
	default:
		return e.consultLLM(ctx, state)
	}
}

// similarCaseAdaptation queries the Knowledge Store for prior
// learned_solution artifacts and reuses the highest-success-rate one,
// tagging provenance (spec.md §4.F strategy 1).
func (e *Engine) similarCaseAdaptation(ctx context.Context, state *UnexpectedState) (*LearnedSolution, error) {
	if e.store == nil {
		return nil, nil
	}
	results, err := e.store.QuerySimilar(ctx, knowledge.Query{
		Text:  e.describeProblem(state),
		Types: []knowledge.ArtifactType{knowledge.TypeLearnedSolution},
		TopK:  5,
	})
	if err != nil {
		return nil, fmt.Errorf("similar-case query: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	best := results[0]
	for _, r := range results[1:] {
		if successRateOf(r.Metadata) > successRateOf(best.Metadata) {
			best = r
		}
	}

	steps := stepsFromMetadata(best.Metadata)
	sol := &LearnedSolution{
		SolutionID:        fmt.Sprintf("learned-%s", state.StateID),
		Timestamp:         e.now().UTC(),
		UnexpectedStateID: state.StateID,
		ProblemAnalysis:   e.describeProblem(state),
		SolutionDesc:      fmt.Sprintf("adapted from %s", best.ArtifactID),
		WorkflowSteps:     steps,
		Confidence:        "medium",
		SuccessRate:       successRateOf(best.Metadata),
		LearningStrategy:  StrategySimilarCase,
		Provenance:        best.ArtifactID,
	}

	e.mu.Lock()
	e.solutions[sol.SolutionID] = sol
	e.mu.Unlock()
	return sol, nil
}

func successRateOf(metadata map[string]any) float64 {
	if v, ok := metadata["success_rate"]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func stepsFromMetadata(metadata map[string]any) []WorkflowStep {
	raw, ok := metadata["workflow_steps"]
	if !ok {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var steps []WorkflowStep
	if err := json.Unmarshal(b, &steps); err != nil {
		return nil
	}
	return steps
}

// consultLLM builds the structured prompt spec.md §4.F describes, parses
// the JSON response, and falls back to a numbered-step extraction when
// the response isn't valid JSON (spec.md §4.F strategy 2).
func (e *Engine) consultLLM(ctx context.Context, state *UnexpectedState) (*LearnedSolution, error) {
	if e.llm == nil {
		return nil, fmt.Errorf("learning: no LLM client configured for consultation")
	}

	e.mu.Lock()
	e.stats.llmConsultations++
	e.mu.Unlock()

	prompt := e.buildPrompt(state)
	completion, err := e.llm.Complete(ctx, []llmclient.Message{
		{Role: "system", Content: "You are the Artemis pipeline recovery assistant."},
		{Role: "user", Content: prompt},
	}, e.model, 0.2, 1500)
	if err != nil {
		return nil, fmt.Errorf("llm consultation: %w", err)
	}

	steps, analysis := parseLLMResponse(completion.Content)

	sol := &LearnedSolution{
		SolutionID:        fmt.Sprintf("learned-%s", state.StateID),
		Timestamp:         e.now().UTC(),
		UnexpectedStateID: state.StateID,
		ProblemAnalysis:   analysis.ProblemAnalysis,
		RootCause:         analysis.RootCause,
		SolutionDesc:      analysis.SolutionDesc,
		WorkflowSteps:     steps,
		Confidence:        firstNonEmpty(analysis.Confidence, "low"),
		Risks:             analysis.Risks,
		Alternatives:      analysis.Alternatives,
		LearningStrategy:  StrategyLLM,
		LLMModelUsed:      completion.Model,
	}

	e.mu.Lock()
	e.solutions[sol.SolutionID] = sol
	e.stats.solutionsLearned++
	e.mu.Unlock()

	if e.store != nil {
		e.persist(ctx, sol, state)
	}
	return sol, nil
}

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// parseLLMResponse parses the JSON contract, or best-effort extracts a
// manual_intervention workflow from numbered-list text when parsing
// fails, exactly as supervisor_learning.py's _parse_llm_response /
// _extract_workflow_from_text do.
func parseLLMResponse(content string) ([]WorkflowStep, llmResponse) {
	var resp llmResponse
	trimmed := strings.TrimSpace(content)
	// Tolerate a fenced code block around the JSON body.
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if err := json.Unmarshal([]byte(trimmed), &resp); err == nil && len(resp.WorkflowSteps) > 0 {
		for i := range resp.WorkflowSteps {
			if !validActions[resp.WorkflowSteps[i].Action] {
				resp.WorkflowSteps[i].Action = ActionManualIntervention
			}
		}
		return resp.WorkflowSteps, resp
	}

	matches := numberedStepPattern.FindAllStringSubmatch(content, -1)
	steps := make([]WorkflowStep, 0, len(matches))
	for _, m := range matches {
		n, _ := strconv.Atoi(m[1])
		steps = append(steps, WorkflowStep{
			Step:        n,
			Action:      ActionManualIntervention,
			Description: strings.TrimSpace(m[2]),
		})
	}
	if len(steps) == 0 {
		steps = append(steps, WorkflowStep{Step: 1, Action: ActionManualIntervention, Description: "unparseable LLM response; requires human review"})
	}
	return steps, llmResponse{SolutionDesc: "extracted from unstructured response", Confidence: "low"}
}

// humanInTheLoop emits a request via the Messenger and returns no
// solution (spec.md §4.F strategy 3): the engine has no synchronous way
// to block on human input, so it publishes the request and returns nil.
// The engine does not read acknowledgments.
func (e *Engine) humanInTheLoop(ctx context.Context, state *UnexpectedState) (*LearnedSolution, error) {
	if e.msg == nil {
		return nil, fmt.Errorf("learning: no messenger configured for human-in-the-loop escalation")
	}
	_, err := e.msg.Send(ctx, messenger.Broadcast, messenger.TypeNotification, map[string]any{
		"kind":            "human_intervention_requested",
		"card_id":         state.CardID,
		"stage":           state.StageName,
		"current_state":   state.CurrentState,
		"expected_states": state.ExpectedStates,
		"error":           state.ErrorMessage,
	}, state.CardID, messenger.PriorityHigh, nil)
	return nil, err
}

// describeProblem summarizes an unexpected state for similarity queries
// and LLM prompts (supervisor_learning.py's _describe_problem).
func (e *Engine) describeProblem(state *UnexpectedState) string {
	return fmt.Sprintf("stage %s reached state %q, expected one of %v: %s",
		state.StageName, state.CurrentState, state.ExpectedStates, state.ErrorMessage)
}

// buildPrompt assembles the structured LLM-consultation prompt spec.md
// §4.F names, enhanced with a summary of similar past cases (the
// "learning over time" behavior: overall historical success rate,
// most-common successful workflow, count of past failures).
func (e *Engine) buildPrompt(state *UnexpectedState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline card %s, stage %q entered an unexpected state.\n", state.CardID, state.StageName)
	fmt.Fprintf(&b, "Current state: %s\n", state.CurrentState)
	fmt.Fprintf(&b, "Expected states: %v\n", state.ExpectedStates)
	if state.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error message: %s\n", state.ErrorMessage)
	}
	fmt.Fprintf(&b, "Context: %v\n", state.Context)
	b.WriteString(e.historicalSummary(state))
	b.WriteString("\nRespond with JSON: {\"problem_analysis\":...,\"root_cause\":...,")
	b.WriteString("\"solution_description\":...,\"workflow_steps\":[{\"step\":1,\"action\":")
	b.WriteString("\"retry_stage|rollback_to_state|skip_stage|reset_state|cleanup_resources|restart_process|manual_intervention\",")
	b.WriteString("\"description\":...,\"parameters\":{}}],\"confidence\":\"high|medium|low\",")
	b.WriteString("\"risks\":[...],\"alternatives\":[...]}")
	return b.String()
}

// historicalSummary implements spec.md §4.F's context-enhancement step:
// before consulting the LLM, similar past cases are summarized so the
// engine "learns over time" instead of repeating the same mistakes.
func (e *Engine) historicalSummary(state *UnexpectedState) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total, successful int
	counts := map[string]int{}
	for _, sol := range e.solutions {
		if sol.TimesApplied == 0 {
			continue
		}
		total += sol.TimesApplied
		successful += sol.TimesSuccessful
		if len(sol.WorkflowSteps) > 0 {
			counts[string(sol.WorkflowSteps[0].Action)]++
		}
	}
	if total == 0 {
		return "\nNo prior history for similar issues.\n"
	}
	rate := float64(successful) / float64(total)
	common := ""
	best := 0
	for action, n := range counts {
		if n > best {
			best, common = n, action
		}
	}
	return fmt.Sprintf("\nHistorical context: overall success rate %.0f%% over %d attempts; most common recovery action: %s; past failures: %d.\n",
		rate*100, total, common, total-successful)
}

// ApplyWorkflow executes a solution's steps in order through the
// WorkflowExecutor, updating success bookkeeping and persisting the
// updated artifact (spec.md §4.F workflow application).
func (e *Engine) ApplyWorkflow(ctx context.Context, sol *LearnedSolution) error {
	if e.executor == nil {
		return fmt.Errorf("learning: no workflow executor configured")
	}

	allOK := true
	for _, step := range sol.WorkflowSteps {
		if err := e.applyStep(ctx, step); err != nil {
			allOK = false
		}
	}

	e.mu.Lock()
	sol.TimesApplied++
	if allOK {
		sol.TimesSuccessful++
	}
	sol.SuccessRate = float64(sol.TimesSuccessful) / float64(sol.TimesApplied)
	e.mu.Unlock()

	if e.store != nil {
		e.persist(ctx, sol, nil)
	}
	if !allOK {
		return fmt.Errorf("learning: one or more workflow steps failed")
	}
	return nil
}

func (e *Engine) applyStep(ctx context.Context, step WorkflowStep) error {
	switch step.Action {
	case ActionRetryStage:
		stage, _ := step.Parameters["stage_name"].(string)
		return e.executor.RetryStage(ctx, stage)
	case ActionRollbackToState:
		target, _ := step.Parameters["state"].(string)
		if !e.executor.RollbackToState(target) {
			return fmt.Errorf("rollback to %q had no matching history", target)
		}
		return nil
	case ActionSkipStage:
		stage, _ := step.Parameters["stage_name"].(string)
		e.executor.SkipStage(stage)
		return nil
	case ActionResetState:
		e.executor.ResetState()
		return nil
	case ActionCleanupResources:
		e.executor.CleanupResources()
		return nil
	case ActionRestartProcess:
		stage, _ := step.Parameters["stage_name"].(string)
		return e.executor.RestartProcess(stage)
	case ActionManualIntervention:
		if e.msg != nil {
			_, _ = e.msg.Send(ctx, messenger.Broadcast, messenger.TypeNotification,
				map[string]any{"kind": "manual_intervention", "description": step.Description}, "", messenger.PriorityHigh, nil)
		}
		return fmt.Errorf("manual intervention required: %s", step.Description)
	default:
		return fmt.Errorf("unknown recovery action %q", step.Action)
	}
}

// persist writes (or rewrites, append-only per spec.md §3) the solution
// as a learned_solution artifact.
func (e *Engine) persist(ctx context.Context, sol *LearnedSolution, state *UnexpectedState) {
	metadata := map[string]any{
		"workflow_steps":    sol.WorkflowSteps,
		"success_rate":      sol.SuccessRate,
		"times_applied":     sol.TimesApplied,
		"times_successful":  sol.TimesSuccessful,
		"learning_strategy": sol.LearningStrategy,
	}
	if sol.LLMModelUsed != "" {
		metadata["llm_model_used"] = sol.LLMModelUsed
	}
	cardID := ""
	if state != nil {
		cardID = state.CardID
	}
	title := fmt.Sprintf("learned solution %s", sol.SolutionID)
	content := sol.SolutionDesc
	if content == "" {
		content = sol.ProblemAnalysis
	}
	_, _ = e.store.StoreArtifact(ctx, knowledge.TypeLearnedSolution, cardID, title, content, metadata)
}

// Stats returns the engine's running counters.
func (e *Engine) Stats() (unexpectedDetected, solutionsLearned, llmConsultations int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.unexpectedDetected, e.stats.solutionsLearned, e.stats.llmConsultations
}
