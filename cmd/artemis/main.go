// Command artemis is the reference CLI driving one card through the
// pipeline (spec.md §6): `--card-id <id>` plus exactly one of `--full`,
// `--continue`, `--stage <name>`. Exit code 0 on success or already
// complete, 1 on any other terminal status.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"

	"github.com/artemis-forge/artemis/pkg/card"
	"github.com/artemis-forge/artemis/pkg/config"
	"github.com/artemis-forge/artemis/pkg/knowledge"
	"github.com/artemis-forge/artemis/pkg/learning"
	"github.com/artemis-forge/artemis/pkg/llmclient"
	"github.com/artemis-forge/artemis/pkg/messenger"
	"github.com/artemis-forge/artemis/pkg/observer"
	"github.com/artemis-forge/artemis/pkg/orchestrator"
	"github.com/artemis-forge/artemis/pkg/persistence"
	"github.com/artemis-forge/artemis/pkg/router"
	"github.com/artemis-forge/artemis/pkg/stage"
	"github.com/artemis-forge/artemis/pkg/strategy"
	"github.com/artemis-forge/artemis/pkg/supervisor"
	"github.com/artemis-forge/artemis/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// defaultStageNames is the default pipeline order (spec.md §4.H); concrete
// stage business logic is a pluggable unit the core never implements
// (spec.md §1), so the reference CLI registers the fixture Echo stage
// under each name.
var defaultStageNames = []string{
	"project_analysis", "architecture", "dependencies", "development",
	"code_review", "validation", "arbitration", "integration", "testing",
}

func defaultStageRegistry() map[string]stage.Stage {
	stages := make(map[string]stage.Stage, len(defaultStageNames))
	for _, name := range defaultStageNames {
		stages[name] = stage.NewEcho(name)
	}
	return stages
}

func main() {
	os.Exit(run())
}

func run() int {
	cardID := flag.String("card-id", "", "card ID to run through the pipeline")
	configDir := flag.String("config-dir", getEnv("ARTEMIS_CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	stateDir := flag.String("state-dir", getEnv("ARTEMIS_STATE_DIR", "./artemis-state"), "directory for the reference file-backed card board and fallback knowledge store")
	full := flag.Bool("full", false, "run the full pipeline from planning")
	resume := flag.Bool("continue", false, "resume a previously started pipeline, skipping completed stages")
	stageName := flag.String("stage", "", "run a single named stage directly")
	httpAddr := flag.String("http-addr", "", "if set, serve GET /resumable diagnostics on this address")
	title := flag.String("title", "", "seed a new card with this title if --card-id doesn't exist yet")
	description := flag.String("description", "", "seed description for a new card")
	storyPoints := flag.Int("story-points", 3, "seed story points for a new card")
	flag.Parse()

	logger := slog.Default()

	if *cardID == "" {
		logger.Error("missing required flag", "flag", "--card-id")
		return 1
	}
	modes := 0
	for _, set := range []bool{*full, *resume, *stageName != ""} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		logger.Error("exactly one of --full, --continue, --stage must be set")
		return 1
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		logger.Error("load configuration", "error", err)
		return 1
	}
	logger = slog.With("app", version.Full(), "card_id", *cardID)

	ctx := context.Background()

	msg, err := messenger.New(fmt.Sprintf("orchestrator-%s", *cardID), cfg.Messenger)
	if err != nil {
		logger.Error("construct messenger", "error", err)
		return 1
	}

	store, err := persistence.New(ctx, cfg.Persistence)
	if err != nil {
		logger.Error("construct persistence store", "error", err)
		return 1
	}
	defer store.Close()

	kstore, err := buildKnowledgeStore(ctx, store, *stateDir)
	if err != nil {
		logger.Warn("knowledge store unavailable, running without recommendations", "error", err)
	}

	llm := llmclient.NewMockClient()

	rt := router.New(
		router.WithLLM(llm, cfg.LLM.Model),
		router.WithAIRoutingEnabled(cfg.LLM.Provider != config.LLMProviderMock),
	)

	learningEngine := learning.New(
		learning.WithLLM(llm, cfg.LLM.Model),
		learning.WithKnowledgeStore(kstore),
		learning.WithMessenger(msg),
	)

	hub := observer.NewHub()
	hub.Register(observer.NewLoggingObserver(logger))
	if metricsObs, err := observer.NewMetricsObserver(otel.Meter("artemis")); err != nil {
		logger.Warn("metrics observer unavailable", "error", err)
	} else {
		hub.Register(metricsObs)
	}
	stateObs := observer.NewStateTrackingObserver()
	hub.Register(stateObs)

	board, err := newFileBoard(filepath.Join(*stateDir, "cards"))
	if err != nil {
		logger.Error("construct card board", "error", err)
		return 1
	}
	if *title != "" {
		if err := board.seed(&card.Card{
			ID:          *cardID,
			Title:       *title,
			Description: *description,
			Priority:    card.PriorityMedium,
			StoryPoints: card.StoryPoints(*storyPoints),
			Column:      "backlog",
		}); err != nil {
			logger.Error("seed card", "error", err)
			return 1
		}
	}

	orch := orchestrator.New(
		orchestrator.WithCardStore(board),
		orchestrator.WithStages(defaultStageRegistry()),
		orchestrator.WithRouter(rt, true),
		orchestrator.WithSupervisorOptions(
			supervisor.WithMessenger(msg),
			supervisor.WithMaxCodeReviewRetries(cfg.Defaults.MaxCodeReviewRetries),
		),
		orchestrator.WithObserverHub(hub),
		orchestrator.WithPersistence(store),
		orchestrator.WithKnowledgeStore(kstore),
		orchestrator.WithMessenger(msg),
		orchestrator.WithLearningEngine(learningEngine),
	)

	if *httpAddr != "" {
		go func() {
			logger.Info("serving diagnostics", "addr", *httpAddr)
			if err := http.ListenAndServe(*httpAddr, newDiagnosticsRouter(store, logger)); err != nil {
				logger.Error("diagnostics server stopped", "error", err)
			}
		}()
	}

	var report *orchestrator.Report
	switch {
	case *full:
		report, err = orch.RunPipeline(ctx, *cardID)
	case *resume:
		report, err = orch.ContinuePipeline(ctx, *cardID)
	default:
		report, err = orch.RunStage(ctx, *cardID, *stageName)
	}
	if err != nil {
		logger.Error("pipeline run failed", "error", err)
		return 1
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Error("marshal report", "error", err)
		return 1
	}
	fmt.Println(string(out))

	if report.Status != strategy.StatusSuccess {
		return 1
	}
	return 0
}

// buildKnowledgeStore reuses the Persistence SQL backend's handle when one
// is available (spec.md §4.B), and otherwise falls back to a dedicated
// sqlite database under stateDir — the JSON and Postgres persistence
// backends don't expose a handle the Knowledge Store's `?`-placeholder
// queries can run against directly (Postgres needs `$n` placeholders;
// see pkg/persistence's dialect rewriting), so sharing only applies to the
// sqlite persistence path.
func buildKnowledgeStore(ctx context.Context, store persistence.Store, stateDir string) (knowledge.Store, error) {
	if sqlStore, ok := store.(*persistence.SQLStore); ok && sqlStore.IsSQLite() {
		db := sqlStore.DB()
		if err := knowledge.EnsureSchema(ctx, db); err != nil {
			return nil, err
		}
		return knowledge.NewSQLStore(db), nil
	}

	path := filepath.Join(stateDir, "knowledge.db")
	dedicated, err := persistence.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	db := dedicated.DB()
	if err := knowledge.EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	return knowledge.NewSQLStore(db), nil
}
