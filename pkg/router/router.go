// Package router analyzes a card's requirements and decides which stages
// a pipeline run actually needs (spec.md §4.I), a direct port of
// original_source/.agents/agile/intelligent_router.py's IntelligentRouter:
// pre-compiled regex keyword families for the rule-based fallback, and an
// AI-assisted path behind llmclient.Client for the primary analysis,
// structured as a chain of increasingly specific matchers before
// falling back to a
// default.
package router

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/artemis-forge/artemis/pkg/card"
	"github.com/artemis-forge/artemis/pkg/llmclient"
	"github.com/artemis-forge/artemis/pkg/planner"
)

// StageDecision is the closed set of per-stage routing outcomes (spec.md §4.I).
type StageDecision string

const (
	DecisionRequired    StageDecision = "required"
	DecisionOptional    StageDecision = "optional"
	DecisionSkip        StageDecision = "skip"
	DecisionConditional StageDecision = "conditional"
)

// AllStages is the full stage roster in execution order (spec.md §4.I).
var AllStages = []string{
	"requirements",
	"sprint_planning",
	"project_analysis",
	"architecture",
	"project_review",
	"dependency_validation",
	"development",
	"code_review",
	"uiux",
	"validation",
	"integration",
	"testing",
	"notebook_generation",
}

// TaskRequirements is the analyzed shape of a card's needs (spec.md §4.I).
type TaskRequirements struct {
	HasFrontend                bool    `json:"has_frontend"`
	HasBackend                 bool    `json:"has_backend"`
	HasAPI                     bool    `json:"has_api"`
	HasDatabase                bool    `json:"has_database"`
	HasExternalDependencies    bool    `json:"has_external_dependencies"`
	HasUIComponents            bool    `json:"has_ui_components"`
	HasAccessibilityReqs       bool    `json:"has_accessibility_requirements"`
	RequiresNotebook           bool    `json:"requires_notebook"`
	Complexity                 string  `json:"complexity"`
	TaskType                   string  `json:"task_type"`
	EstimatedStoryPoints       int     `json:"estimated_story_points"`
	RequiresArchitectureReview bool    `json:"requires_architecture_review"`
	RequiresProjectReview      bool    `json:"requires_project_review"`
	ParallelDevelopers         int     `json:"parallel_developers_recommended"`
	ConfidenceScore            float64 `json:"confidence_score"`
}

// RoutingDecision is the full routing output for one card (spec.md §4.I).
type RoutingDecision struct {
	TaskID          string                   `json:"task_id"`
	TaskTitle       string                   `json:"task_title"`
	Requirements    TaskRequirements         `json:"requirements"`
	StageDecisions  map[string]StageDecision `json:"stage_decisions"`
	StagesToRun     []string                 `json:"stages_to_run"`
	StagesToSkip    []string                 `json:"stages_to_skip"`
	Reasoning       string                   `json:"reasoning"`
	ConfidenceScore float64                  `json:"confidence_score"`
}

var (
	frontendPattern   = regexp.MustCompile(`(?i)\b(html|css|javascript|react|vue|angular|frontend|ui|user\s*interface|visualization|chart|dashboard|button|form|modal|component|page|view|template)\b`)
	backendPattern    = regexp.MustCompile(`(?i)\b(api|backend|server|endpoint|service|business\s*logic|data\s*processing|calculation|algorithm|function|method)\b`)
	apiPattern        = regexp.MustCompile(`(?i)\b(api|endpoint|rest|graphql|request|response)\b`)
	databasePattern   = regexp.MustCompile(`(?i)\b(database|sql|nosql|mongodb|postgres|mysql|schema|table|collection|query|data\s*model)\b`)
	dependencyPattern = regexp.MustCompile(`(?i)\b(library|package|dependency|npm|pip|import|external|third-party|integration|sdk)\b`)
	uiComponentPattern = regexp.MustCompile(`(?i)\b(button|form|input|modal|dialog|menu|navigation|dropdown|select|checkbox|radio|slider|tooltip)\b`)
	a11yPattern       = regexp.MustCompile(`(?i)\b(accessibility|wcag|screen\s*reader|aria|keyboard|a11y|alt\s*text|focus|semantic|contrast)\b`)
	notebookPattern   = regexp.MustCompile(`(?i)\b(jupyter|notebook|ipynb|data\s*analysis|data\s*science|machine\s*learning|ml|model|training|visualization|pandas|numpy|matplotlib|seaborn|experiment|analysis)\b`)
)

// coreStages are the stages always required regardless of routing analysis.
var coreStages = map[string]bool{
	"development": true,
	"code_review": true,
	"validation":  true,
	"integration": true,
	"testing":     true,
}

// Router analyzes cards and makes stage-inclusion decisions.
type Router struct {
	llm           llmclient.Client
	model         string
	enableAI      bool
	skipThreshold float64
}

// Option configures a Router at construction.
type Option func(*Router)

// WithLLM wires the AI-assisted analysis path.
func WithLLM(client llmclient.Client, model string) Option {
	return func(r *Router) {
		r.llm = client
		r.model = model
	}
}

// WithAIRoutingEnabled toggles whether the AI path is attempted even when
// an llmclient.Client is configured (spec.md §4.I routing.enable_ai).
func WithAIRoutingEnabled(enabled bool) Option {
	return func(r *Router) { r.enableAI = enabled }
}

// New returns a Router that prefers rule-based analysis unless WithLLM is given.
func New(opts ...Option) *Router {
	r := &Router{enableAI: true, skipThreshold: 0.8}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AnalyzeTaskRequirements extracts TaskRequirements from c, preferring the
// AI-assisted path when a Client is wired and enabled, falling back to the
// deterministic rule-based analysis on any error (spec.md §4.I).
func (r *Router) AnalyzeTaskRequirements(ctx context.Context, c *card.Card) TaskRequirements {
	fullText := strings.ToLower(c.Title + "\n\n" + c.Description)

	if r.llm != nil && r.enableAI {
		if reqs, err := r.aiAnalyze(ctx, c); err == nil {
			return reqs
		}
	}
	return r.ruleBasedAnalysis(c, fullText)
}

type aiRequirementsResponse struct {
	HasFrontend                bool    `json:"has_frontend"`
	HasBackend                 bool    `json:"has_backend"`
	HasAPI                     bool    `json:"has_api"`
	HasDatabase                bool    `json:"has_database"`
	HasExternalDependencies    bool    `json:"has_external_dependencies"`
	HasUIComponents            bool    `json:"has_ui_components"`
	HasAccessibilityReqs       bool    `json:"has_accessibility_requirements"`
	Complexity                 string  `json:"complexity"`
	TaskType                   string  `json:"task_type"`
	EstimatedStoryPoints       int     `json:"estimated_story_points"`
	RequiresArchitectureReview bool    `json:"requires_architecture_review"`
	RequiresProjectReview      bool    `json:"requires_project_review"`
	ParallelDevelopers         int     `json:"parallel_developers_recommended"`
	ConfidenceScore            float64 `json:"confidence_score"`
}

func (r *Router) aiAnalyze(ctx context.Context, c *card.Card) (TaskRequirements, error) {
	prompt := buildRequirementsPrompt(c)
	messages := []llmclient.Message{{Role: "user", Content: prompt}}
	completion, err := r.llm.Complete(ctx, messages, r.model, 0.2, 800)
	if err != nil {
		return TaskRequirements{}, err
	}

	start := strings.Index(completion.Content, "{")
	end := strings.LastIndex(completion.Content, "}")
	if start < 0 || end <= start {
		return TaskRequirements{}, errNoJSON
	}

	var parsed aiRequirementsResponse
	if err := json.Unmarshal([]byte(completion.Content[start:end+1]), &parsed); err != nil {
		return TaskRequirements{}, err
	}

	return TaskRequirements{
		HasFrontend:                parsed.HasFrontend,
		HasBackend:                 parsed.HasBackend,
		HasAPI:                     parsed.HasAPI,
		HasDatabase:                parsed.HasDatabase,
		HasExternalDependencies:    parsed.HasExternalDependencies,
		HasUIComponents:            parsed.HasUIComponents,
		HasAccessibilityReqs:       parsed.HasAccessibilityReqs,
		Complexity:                 firstNonEmpty(parsed.Complexity, "medium"),
		TaskType:                   firstNonEmpty(parsed.TaskType, "feature"),
		EstimatedStoryPoints:       orDefault(parsed.EstimatedStoryPoints, 5),
		RequiresArchitectureReview: parsed.RequiresArchitectureReview,
		RequiresProjectReview:      parsed.RequiresProjectReview,
		ParallelDevelopers:         orDefault(parsed.ParallelDevelopers, 1),
		ConfidenceScore:            orDefaultF(parsed.ConfidenceScore, 0.7),
	}, nil
}

func buildRequirementsPrompt(c *card.Card) string {
	var b strings.Builder
	b.WriteString("Analyze this software development task and extract requirements:\n\n")
	b.WriteString("Task: " + c.Title + "\n")
	b.WriteString("Description: " + c.Description + "\n\n")
	b.WriteString("Provide a JSON response with has_frontend, has_backend, has_api, has_database, ")
	b.WriteString("has_external_dependencies, has_ui_components, has_accessibility_requirements, ")
	b.WriteString("complexity (simple|medium|complex), task_type, estimated_story_points, ")
	b.WriteString("requires_architecture_review, requires_project_review, parallel_developers_recommended, confidence_score.")
	return b.String()
}

// ruleBasedAnalysis is the deterministic fallback used when no LLM is
// wired, the AI call fails, or its response can't be parsed as JSON
// (intelligent_router.py's _rule_based_analysis).
func (r *Router) ruleBasedAnalysis(c *card.Card, fullText string) TaskRequirements {
	points := int(c.StoryPoints)
	if points == 0 {
		points = 5
	}

	var complexity string
	switch {
	case points <= 3:
		complexity = "simple"
	case points <= 8:
		complexity = "medium"
	default:
		complexity = "complex"
	}

	var taskType string
	switch {
	case containsAny(fullText, "bug", "fix", "error", "issue"):
		taskType = "bugfix"
	case containsAny(fullText, "refactor", "cleanup", "improve"):
		taskType = "refactor"
	case containsAny(fullText, "test", "testing", "coverage"):
		taskType = "test"
	case containsAny(fullText, "documentation", "doc", "readme"):
		taskType = "documentation"
	default:
		taskType = "feature"
	}

	hasDatabase := databasePattern.MatchString(fullText)
	hasAPI := apiPattern.MatchString(fullText)
	requiresArchitecture := complexity == "medium" || complexity == "complex" || hasDatabase || hasAPI
	requiresProjectReview := complexity == "complex" || points >= 8

	return TaskRequirements{
		HasFrontend:                frontendPattern.MatchString(fullText),
		HasBackend:                 backendPattern.MatchString(fullText),
		HasAPI:                     hasAPI,
		HasDatabase:                hasDatabase,
		HasExternalDependencies:    dependencyPattern.MatchString(fullText),
		HasUIComponents:            uiComponentPattern.MatchString(fullText),
		HasAccessibilityReqs:       a11yPattern.MatchString(fullText),
		RequiresNotebook:           notebookPattern.MatchString(fullText),
		Complexity:                 complexity,
		TaskType:                   taskType,
		EstimatedStoryPoints:       points,
		RequiresArchitectureReview: requiresArchitecture,
		RequiresProjectReview:      requiresProjectReview,
		ParallelDevelopers:         2,
		ConfidenceScore:            0.6,
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

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func orDefault(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func orDefaultF(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

var errNoJSON = jsonParseError("router: AI response did not contain a JSON object")

type jsonParseError string

func (e jsonParseError) Error() string { return string(e) }

// MakeRoutingDecision builds the complete per-stage routing decision for c
// (intelligent_router.py's make_routing_decision).
func (r *Router) MakeRoutingDecision(ctx context.Context, c *card.Card) RoutingDecision {
	requirements := r.AnalyzeTaskRequirements(ctx, c)

	decisions := make(map[string]StageDecision, len(AllStages))
	var reasoning []string

	decisions["requirements"] = DecisionOptional

	if requirements.Complexity == string(planner.ComplexitySimple) {
		decisions["sprint_planning"] = DecisionSkip
		reasoning = append(reasoning, "Skipping sprint planning for simple task")
	} else {
		decisions["sprint_planning"] = DecisionRequired
	}

	if requirements.Complexity == "medium" || requirements.Complexity == "complex" {
		decisions["project_analysis"] = DecisionRequired
	} else {
		decisions["project_analysis"] = DecisionSkip
		reasoning = append(reasoning, "Skipping project analysis for simple task")
	}

	if requirements.RequiresArchitectureReview {
		decisions["architecture"] = DecisionRequired
	} else {
		decisions["architecture"] = DecisionSkip
		reasoning = append(reasoning, "Skipping architecture for simple implementation")
	}

	if requirements.RequiresProjectReview {
		decisions["project_review"] = DecisionRequired
	} else {
		decisions["project_review"] = DecisionSkip
		reasoning = append(reasoning, "Skipping project review for simple task")
	}

	if requirements.HasExternalDependencies {
		decisions["dependency_validation"] = DecisionRequired
	} else {
		decisions["dependency_validation"] = DecisionSkip
		reasoning = append(reasoning, "No external dependencies detected, skipping validation")
	}

	for stageName := range coreStages {
		decisions[stageName] = DecisionRequired
	}

	if requirements.HasFrontend || requirements.HasUIComponents || requirements.HasAccessibilityReqs {
		decisions["uiux"] = DecisionRequired
		reasoning = append(reasoning, "UI/UX stage required")
	} else {
		decisions["uiux"] = DecisionSkip
		reasoning = append(reasoning, "No frontend/UI requirements detected, skipping UI/UX stage")
	}

	if requirements.RequiresNotebook {
		decisions["notebook_generation"] = DecisionRequired
		reasoning = append(reasoning, "Notebook generation required for data analysis/ML task")
	} else {
		decisions["notebook_generation"] = DecisionSkip
	}

	var stagesToRun, stagesToSkip []string
	for _, stageName := range AllStages {
		d, ok := decisions[stageName]
		if !ok {
			d = DecisionSkip
		}
		if d == DecisionRequired || d == DecisionOptional {
			stagesToRun = append(stagesToRun, stageName)
		} else {
			stagesToSkip = append(stagesToSkip, stageName)
		}
	}

	reasoningText := "Running all standard stages"
	if len(reasoning) > 0 {
		reasoningText = strings.Join(reasoning, "; ")
	}

	return RoutingDecision{
		TaskID:          c.ID,
		TaskTitle:       c.Title,
		Requirements:    requirements,
		StageDecisions:  decisions,
		StagesToRun:     stagesToRun,
		StagesToSkip:    stagesToSkip,
		Reasoning:       reasoningText,
		ConfidenceScore: requirements.ConfidenceScore,
	}
}

// FilterStages narrows allStages down to those the routing decision keeps,
// preserving allStages' original order (intelligent_router.py's filter_stages).
func FilterStages[T interface{ Name() string }](allStages []T, decision RoutingDecision) []T {
	keep := make(map[string]bool, len(decision.StagesToRun))
	for _, name := range decision.StagesToRun {
		keep[name] = true
	}

	filtered := make([]T, 0, len(allStages))
	for _, st := range allStages {
		if keep[st.Name()] {
			filtered = append(filtered, st)
		}
	}
	return filtered
}
