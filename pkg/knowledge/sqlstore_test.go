package knowledge_test

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/artemis-forge/artemis/pkg/knowledge"
)

func newTestStore(t *testing.T) *knowledge.SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, knowledge.EnsureSchema(context.Background(), db))
	return knowledge.NewSQLStore(db)
}

func TestSQLStore_StoreArtifact_RejectsUnknownType(t *testing.T) {
	store := newTestStore(t)
	_, err := store.StoreArtifact(context.Background(), knowledge.ArtifactType("not_a_type"), "card-1", "t", "c", nil)
	require.Error(t, err)
}

func TestSQLStore_StoreAndQuerySimilar(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.StoreArtifact(ctx, knowledge.TypeResearchReport, "card-123", "Add OAuth authentication",
		"Research Report: OAuth Authentication. Recommendation: use authlib library.",
		map[string]any{"technologies": []any{"authlib", "OAuth2"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	results, err := store.QuerySimilar(ctx, knowledge.Query{Text: "OAuth authlib library selection", TopK: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, id, results[0].ArtifactID)
	require.Greater(t, results[0].Similarity, 0.0)
	require.LessOrEqual(t, results[0].Similarity, 1.0)
}

func TestSQLStore_QuerySimilar_IdenticalTextScoresOne(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.StoreArtifact(ctx, knowledge.TypeResearchReport, "card-1", "t", "rate limit the login endpoint", nil)
	require.NoError(t, err)

	results, err := store.QuerySimilar(ctx, knowledge.Query{Text: "rate limit the login endpoint", TopK: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1.0, results[0].Similarity)
}

func TestSQLStore_GetRecommendations_EmptyHistoryIsLowConfidence(t *testing.T) {
	store := newTestStore(t)
	rec, err := store.GetRecommendations(context.Background(), "add GitHub OAuth login", nil)
	require.NoError(t, err)
	require.Equal(t, knowledge.ConfidenceLow, rec.Confidence)
	require.Equal(t, 0, rec.SimilarTasksCount)
}

func TestSQLStore_GetRecommendations_SurfacesRepeatedTechnology(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := store.StoreArtifact(ctx, knowledge.TypeResearchReport, "card-1", "OAuth task",
			"OAuth authentication research using authlib",
			map[string]any{"technologies": []any{"authlib", "OAuth2"}})
		require.NoError(t, err)
	}

	rec, err := store.GetRecommendations(ctx, "OAuth authentication research using authlib", nil)
	require.NoError(t, err)
	require.Equal(t, 3, rec.SimilarTasksCount)
	require.NotEmpty(t, rec.Recommendations)
	require.Contains(t, rec.Recommendations[0], "authlib")
}

func TestSQLStore_ExtractPatterns_TechnologySuccessRates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 2; i++ {
		_, err := store.StoreArtifact(ctx, knowledge.TypeDeveloperSolution, "card-1", "solution",
			"developer solution content",
			map[string]any{
				"technologies":      []any{"go"},
				"arbitration_score": 95.0,
				"winner":            true,
			})
		require.NoError(t, err)
	}

	patterns, err := store.ExtractPatterns(ctx, "technology_success_rates", 90)
	require.NoError(t, err)
	require.Contains(t, patterns, "go")
	require.Equal(t, "HIGHLY_RECOMMENDED", patterns["go"].Recommendation)
	require.Equal(t, 2, patterns["go"].TasksCount)
}

func TestSQLStore_ExtractPatterns_UnknownPatternTypeReturnsEmpty(t *testing.T) {
	store := newTestStore(t)
	patterns, err := store.ExtractPatterns(context.Background(), "something_else", 90)
	require.NoError(t, err)
	require.Empty(t, patterns)
}

func TestSQLStore_Stats_CountsByType(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.StoreArtifact(ctx, knowledge.TypeResearchReport, "card-1", "t", "c", nil)
	require.NoError(t, err)
	_, err = store.StoreArtifact(ctx, knowledge.TypeResearchReport, "card-2", "t", "c", nil)
	require.NoError(t, err)
	_, err = store.StoreArtifact(ctx, knowledge.TypeDeveloperSolution, "card-1", "t", "c", nil)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalArtifacts)
	require.Equal(t, 2, stats.ByType[knowledge.TypeResearchReport])
	require.Equal(t, 1, stats.ByType[knowledge.TypeDeveloperSolution])
}
