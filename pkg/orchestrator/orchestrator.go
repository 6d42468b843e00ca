// Package orchestrator is the top-level entry point for driving one card
// through the full pipeline (spec.md §4.K), in the worker-pool and
// CLI wiring style used elsewhere in this module: a single
// constructor injects every collaborator, and one method drives a unit
// of work (here, a card) through the assembled machinery end to end.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/artemis-forge/artemis/pkg/card"
	"github.com/artemis-forge/artemis/pkg/knowledge"
	"github.com/artemis-forge/artemis/pkg/learning"
	"github.com/artemis-forge/artemis/pkg/messenger"
	"github.com/artemis-forge/artemis/pkg/observer"
	"github.com/artemis-forge/artemis/pkg/persistence"
	"github.com/artemis-forge/artemis/pkg/planner"
	"github.com/artemis-forge/artemis/pkg/router"
	"github.com/artemis-forge/artemis/pkg/stage"
	"github.com/artemis-forge/artemis/pkg/statemachine"
	"github.com/artemis-forge/artemis/pkg/strategy"
	"github.com/artemis-forge/artemis/pkg/supervisor"
)

// Report is the final per-card record assembled at the end of a run
// (spec.md §4.K: "{card_id, workflow_plan, stages, status,
// execution_result, supervisor_statistics}").
type Report struct {
	CardID               string                `json:"card_id"`
	WorkflowPlan         planner.Plan          `json:"workflow_plan"`
	Stages               []string              `json:"stages"`
	Status               strategy.Status       `json:"status"`
	ExecutionResult      strategy.Result       `json:"execution_result"`
	SupervisorStatistics supervisor.Statistics `json:"supervisor_statistics"`
}

// errNoSuchCard is returned when the configured card store has no card
// matching the requested ID.
type errNoSuchCard struct{ cardID string }

func (e errNoSuchCard) Error() string { return fmt.Sprintf("orchestrator: no card %q", e.cardID) }

// Orchestrator wires Planner, Router, Strategy, Supervisor, State
// Machine, Learning Engine, Observer Hub, and Persistence together to
// drive a single card from its current Kanban column through every
// pipeline stage the plan selects.
type Orchestrator struct {
	cards         card.Store
	stages        map[string]stage.Stage
	router        *router.Router
	useRouter     bool
	supervisorOpt []supervisor.Option
	hub           *observer.Hub
	store         persistence.Store
	knowledge     knowledge.Store
	msg           messenger.Messenger
	learning      *learning.Engine
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithCardStore wires the Kanban board the orchestrator loads cards from.
func WithCardStore(s card.Store) Option { return func(o *Orchestrator) { o.cards = s } }

// WithStages registers the default stage implementations, keyed by the
// name each implements (spec.md §6's Stage contract get_stage_name()).
func WithStages(stages map[string]stage.Stage) Option {
	return func(o *Orchestrator) { o.stages = stages }
}

// WithRouter wires the optional AI-assisted/rule-based stage filter.
// enabled controls whether the orchestrator consults it at all (spec.md
// §4.I: the Router's decision, when enabled, takes precedence over the
// planner's defaults).
func WithRouter(r *router.Router, enabled bool) Option {
	return func(o *Orchestrator) { o.router = r; o.useRouter = enabled }
}

// WithSupervisorOptions configures the per-stage retry/circuit-breaker
// wrapper a fresh Supervisor is built with for every RunPipeline call —
// one Supervisor (and its bound State Machine) per card run, since Stage
// Health bookkeeping within a single pipeline invocation is what spec.md
// §5's per-stage-lock sharing policy actually requires.
func WithSupervisorOptions(opts ...supervisor.Option) Option {
	return func(o *Orchestrator) { o.supervisorOpt = opts }
}

// WithObserverHub wires pipeline/stage event publication.
func WithObserverHub(hub *observer.Hub) Option { return func(o *Orchestrator) { o.hub = hub } }

// WithPersistence wires the snapshot store the final report is saved to.
func WithPersistence(store persistence.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithKnowledgeStore wires the artifact store consulted for recommendations.
func WithKnowledgeStore(store knowledge.Store) Option {
	return func(o *Orchestrator) { o.knowledge = store }
}

// WithMessenger wires the inter-agent bus used to announce pipeline
// start/completion/failure.
func WithMessenger(msg messenger.Messenger) Option { return func(o *Orchestrator) { o.msg = msg } }

// WithLearningEngine wires the collaborator the state machine consults
// through the RecoveryConsultant adapter to resolve filed issues.
func WithLearningEngine(engine *learning.Engine) Option {
	return func(o *Orchestrator) { o.learning = engine }
}

// New returns an Orchestrator assembled from opts.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{stages: make(map[string]stage.Stage)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunPipeline loads cardID, plans its workflow, runs the filtered stage
// list through the Strategy, and persists a final report (spec.md §4.K).
func (o *Orchestrator) RunPipeline(ctx context.Context, cardID string) (*Report, error) {
	return o.run(ctx, cardID, nil)
}

// ContinuePipeline resumes a previously started pipeline (the CLI's
// `--continue` mode): a card whose persisted state is already completed
// is reported as such with no further work; otherwise the stages recorded
// in StagesCompleted are skipped and only the remainder is run, with the
// prior stage results carried forward into the final report.
func (o *Orchestrator) ContinuePipeline(ctx context.Context, cardID string) (*Report, error) {
	if o.store == nil {
		return o.run(ctx, cardID, nil)
	}
	prior, err := o.store.LoadPipelineState(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load prior state: %w", err)
	}
	if prior != nil && prior.Status == persistence.StatusCompleted {
		return &Report{
			CardID:          cardID,
			Stages:          prior.StagesCompleted,
			Status:          strategy.StatusSuccess,
			ExecutionResult: strategy.Result{Status: strategy.StatusSuccess, Results: prior.StageResults},
		}, nil
	}
	return o.run(ctx, cardID, prior)
}

// RunStage executes a single named stage directly through a fresh
// Supervisor, bypassing the Planner/Router/Strategy machinery entirely
// (the CLI's `--stage <name>` mode). The stage must be registered.
func (o *Orchestrator) RunStage(ctx context.Context, cardID, stageName string) (*Report, error) {
	c, err := o.cards.FindCard(cardID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load card: %w", err)
	}
	if c == nil {
		return nil, errNoSuchCard{cardID: cardID}
	}
	st, ok := o.stages[stageName]
	if !ok {
		return nil, fmt.Errorf("orchestrator: no stage registered for %q", stageName)
	}

	sm := statemachine.New(cardID, nil)
	sup := supervisor.New(append(append([]supervisor.Option{}, o.supervisorOpt...), supervisor.WithStateMachine(sm))...)
	pctx := card.NewContext()

	o.announce(ctx, cardID, "stage_started", map[string]any{"stage": stageName})
	doc, err := sup.Execute(ctx, st, c, pctx)

	result := strategy.Result{Status: strategy.StatusSuccess, Results: map[string]map[string]any{stageName: doc}}
	if err != nil {
		result = strategy.Result{Status: strategy.ClassifyFailure(stageName, err), FailedStage: stageName, Error: err.Error()}
		o.announce(ctx, cardID, "stage_failed", map[string]any{"stage": stageName, "error": err.Error()})
	} else {
		o.announce(ctx, cardID, "stage_completed", map[string]any{"stage": stageName})
	}

	report := &Report{
		CardID:               cardID,
		Stages:               []string{stageName},
		Status:               result.Status,
		ExecutionResult:      result,
		SupervisorStatistics: sup.Stats(),
	}
	return report, nil
}

// run is the shared core behind RunPipeline and ContinuePipeline: plan,
// filter, execute the remaining stages (all of them, unless prior names
// some as already completed), and persist the merged result.
func (o *Orchestrator) run(ctx context.Context, cardID string, prior *persistence.PipelineState) (*Report, error) {
	c, err := o.cards.FindCard(cardID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load card: %w", err)
	}
	if c == nil {
		return nil, errNoSuchCard{cardID: cardID}
	}

	var consultant statemachine.RecoveryConsultant
	if o.learning != nil {
		consultant = newLearningConsultant(o.learning)
	}
	sm := statemachine.New(cardID, consultant)
	sup := supervisor.New(append(append([]supervisor.Option{}, o.supervisorOpt...), supervisor.WithStateMachine(sm))...)

	plan := planner.CreateWorkflowPlan(c)
	sm.PushState(statemachine.PipelinePlanning, map[string]any{"plan": plan})

	pctx := card.NewContext()
	if o.knowledge != nil {
		recs, err := o.knowledge.GetRecommendations(ctx, c.Description, nil)
		if err == nil {
			_ = pctx.Set("knowledge_recommendations", recs)
		}
	}

	o.announce(ctx, cardID, "pipeline_started", map[string]any{"plan": plan})

	stages := o.buildStageList(plan)
	if o.router != nil && o.useRouter {
		decision := o.router.MakeRoutingDecision(ctx, c)
		stages = router.FilterStages(stages, decision)
	}
	if prior != nil {
		stages = skipCompletedStages(stages, prior.StagesCompleted)
	}
	stageNames := make([]string, len(stages))
	for i, st := range stages {
		stageNames[i] = st.Name()
	}

	sm.PushState(statemachine.PipelineStageRunning, map[string]any{"stages": stageNames})

	strat := strategy.New(sup, strategy.WithObserverHub(o.hub), strategy.WithMaxCodeReviewRetries(sup.MaxCodeReviewRetries()))
	result := strat.Run(ctx, stages, c, pctx, plan.ParallelDevelopers)
	result = mergePriorResults(result, prior)

	if result.Status == strategy.StatusSuccess {
		sm.PushState(statemachine.PipelineCompleted, nil)
		o.announce(ctx, cardID, "pipeline_completed", map[string]any{"stages": stageNames})
	} else {
		sm.PushState(statemachine.PipelineFailed, map[string]any{"failed_stage": result.FailedStage, "error": result.Error})
		o.announce(ctx, cardID, "pipeline_failed", map[string]any{"failed_stage": result.FailedStage, "error": result.Error})
	}

	report := &Report{
		CardID:               cardID,
		WorkflowPlan:         plan,
		Stages:               stageResultNames(result),
		Status:               result.Status,
		ExecutionResult:      result,
		SupervisorStatistics: sup.Stats(),
	}

	o.persistReport(ctx, cardID, report)
	return report, nil
}

// skipCompletedStages drops every stage already named in completed,
// preserving the remaining stages' relative order.
func skipCompletedStages(stages []stage.Stage, completed []string) []stage.Stage {
	if len(completed) == 0 {
		return stages
	}
	done := make(map[string]bool, len(completed))
	for _, name := range completed {
		done[name] = true
	}
	out := make([]stage.Stage, 0, len(stages))
	for _, st := range stages {
		if !done[st.Name()] {
			out = append(out, st)
		}
	}
	return out
}

// mergePriorResults folds a resumed run's carried-forward stage results
// ahead of the newly executed ones, so a continued pipeline's final report
// reflects every stage that ever completed, not just this invocation's.
func mergePriorResults(result strategy.Result, prior *persistence.PipelineState) strategy.Result {
	if prior == nil || len(prior.StageResults) == 0 {
		return result
	}
	merged := make(map[string]map[string]any, len(prior.StageResults)+len(result.Results))
	for name, doc := range prior.StageResults {
		merged[name] = doc
	}
	for name, doc := range result.Results {
		merged[name] = doc
	}
	result.Results = merged
	return result
}

// buildStageList maps plan.Stages, in order, through the registered
// stage implementations, silently omitting any name with no registered
// implementation (the registry is the caller's concern per spec.md §1's
// "concrete stage business logic ... is a pluggable unit").
func (o *Orchestrator) buildStageList(plan planner.Plan) []stage.Stage {
	stages := make([]stage.Stage, 0, len(plan.Stages))
	for _, name := range plan.Stages {
		if st, ok := o.stages[name]; ok {
			stages = append(stages, st)
		}
	}
	return stages
}

// announce notifies every agent of a pipeline lifecycle transition over
// the message bus (spec.md §4.K: "announce pipeline start via ... Messenger").
func (o *Orchestrator) announce(ctx context.Context, cardID, event string, data map[string]any) {
	if o.msg == nil {
		return
	}
	payload := map[string]any{"event": event}
	for k, v := range data {
		payload[k] = v
	}
	_, _ = o.msg.Send(ctx, messenger.Broadcast, messenger.TypeNotification, payload, cardID, messenger.PriorityMedium, nil)
}

// persistReport saves the run's final PipelineState, preserving the
// original CreatedAt across reruns of a previously-seen card.
func (o *Orchestrator) persistReport(ctx context.Context, cardID string, report *Report) {
	if o.store == nil {
		return
	}

	now := time.Now()
	createdAt := now
	if prior, err := o.store.LoadPipelineState(ctx, cardID); err == nil && prior != nil {
		createdAt = prior.CreatedAt
	}

	status := persistence.StatusCompleted
	if report.Status != strategy.StatusSuccess {
		status = persistence.StatusFailed
	}

	state := persistence.PipelineState{
		CardID:          cardID,
		Status:          status,
		StagesCompleted: stageResultNames(report.ExecutionResult),
		StageResults:    report.ExecutionResult.Results,
		Metrics:         map[string]any{"supervisor_statistics": report.SupervisorStatistics},
		CreatedAt:       createdAt,
		UpdatedAt:       now,
		CompletedAt:     &now,
		Error:           report.ExecutionResult.Error,
	}
	_ = o.store.SavePipelineState(ctx, state)
}

func stageResultNames(result strategy.Result) []string {
	names := make([]string, 0, len(result.Results))
	for name := range result.Results {
		names = append(names, name)
	}
	return names
}
