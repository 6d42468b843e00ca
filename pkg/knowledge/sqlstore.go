package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SQLStore is the production Store implementation: a content table over
// the database/sql handle the Persistence component also owns (spec.md
// §4.B — "a single production implementation backed by database/sql
// reusing the Persistence SQL backend's handle"). Metadata is serialized
// to JSON for storage and transparently deserialized on read, mirroring
// rag_agent.py's ChromaDB metadata round-trip (_deserialize_metadata).
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore wraps an already-migrated *sql.DB (see EnsureSchema).
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// EnsureSchema creates the artifacts table if absent. cmd/artemis calls
// this at startup before the Knowledge Store is used; the Persistence
// migrations do not create this table.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	artifact_type TEXT NOT NULL,
	card_id TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at TEXT NOT NULL
)`
	_, err := db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("knowledge: ensure schema: %w", err)
	}
	return nil
}

// StoreArtifact implements Store. Unknown artifact types are rejected
// outright rather than logged-and-dropped the way rag_agent.py does,
// since a Go caller can and should check the error.
func (s *SQLStore) StoreArtifact(ctx context.Context, artifactType ArtifactType, cardID, title, content string, metadata map[string]any) (string, error) {
	if !artifactType.IsValid() {
		return "", fmt.Errorf("knowledge: unknown artifact type %q", artifactType)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("knowledge: marshal metadata: %w", err)
	}

	now := s.now()
	id := newArtifactID(artifactType, cardID, now)
	// Re-hash on an ID collision (same type and card within one second).
	for n := 1; ; n++ {
		var taken int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts WHERE id = ?`, id).Scan(&taken); err != nil {
			return "", fmt.Errorf("knowledge: check artifact id: %w", err)
		}
		if taken == 0 {
			break
		}
		id = newArtifactID(artifactType, cardID, now.Add(time.Duration(n)*time.Second))
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, artifact_type, card_id, title, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(artifactType), cardID, title, content, string(metaJSON), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("knowledge: insert artifact: %w", err)
	}
	return id, nil
}

type artifactRow struct {
	id, artifactType, content, createdAt string
	metadata                             map[string]any
}

func (s *SQLStore) scan(ctx context.Context, types []ArtifactType) ([]artifactRow, error) {
	if len(types) == 0 {
		types = ValidTypes
	}
	placeholders := make([]string, len(types))
	args := make([]any, len(types))
	for i, t := range types {
		placeholders[i] = "?"
		args[i] = string(t)
	}
	query := fmt.Sprintf(`SELECT id, artifact_type, content, metadata, created_at FROM artifacts WHERE artifact_type IN (%s)`, joinPlaceholders(placeholders))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge: query artifacts: %w", err)
	}
	defer rows.Close()

	var out []artifactRow
	for rows.Next() {
		var r artifactRow
		var metaJSON string
		if err := rows.Scan(&r.id, &r.artifactType, &r.content, &metaJSON, &r.createdAt); err != nil {
			return nil, fmt.Errorf("knowledge: scan artifact: %w", err)
		}
		meta := map[string]any{}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
				meta = map[string]any{"_raw": metaJSON}
			}
		}
		r.metadata = meta
		out = append(out, r)
	}
	return out, rows.Err()
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += "," + p
	}
	return out
}

// QuerySimilar implements Store with the Jaccard-overlap degraded mode.
func (s *SQLStore) QuerySimilar(ctx context.Context, q Query) ([]SimilarArtifact, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}
	if topK > 1000 {
		topK = 1000
	}

	rows, err := s.scan(ctx, q.Types)
	if err != nil {
		return nil, err
	}

	results := make([]SimilarArtifact, 0, len(rows))
	for _, r := range rows {
		if !metadataMatchesFilters(r.metadata, q.Filters) {
			continue
		}
		results = append(results, SimilarArtifact{
			ArtifactID: r.id,
			Type:       ArtifactType(r.artifactType),
			Content:    r.content,
			Metadata:   r.metadata,
			Similarity: jaccardSimilarity(q.Text, r.content),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func metadataMatchesFilters(metadata map[string]any, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := metadata[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// GetRecommendations implements Store, field-for-field ported from
// rag_agent.py's get_recommendations: query the three "case-history"
// artifact types plus validation_result, tally technology mentions and success patterns from
// developer_solution metadata, tally issue types from validation_result
// metadata, and derive a confidence tier from the similar-task count.
func (s *SQLStore) GetRecommendations(ctx context.Context, taskDescription string, _ map[string]any) (Recommendations, error) {
	similar, err := s.QuerySimilar(ctx, Query{
		Text:  taskDescription,
		Types: []ArtifactType{TypeResearchReport, TypeArchitectureDecision, TypeDeveloperSolution, TypeValidationResult},
		TopK:  10,
	})
	if err != nil {
		return Recommendations{}, err
	}

	if len(similar) == 0 {
		return Recommendations{
			BasedOnHistory:  []string{},
			Recommendations: []string{"No similar tasks found in history"},
			Avoid:           []string{},
			Confidence:      ConfidenceLow,
		}, nil
	}

	type techStat struct {
		count int
	}
	technologies := map[string]*techStat{}
	var order []string
	type successPattern struct {
		approach string
		score    float64
	}
	var successPatterns []successPattern
	issueCounts := map[string]int{}

	for _, task := range similar {
		if techs, ok := task.Metadata["technologies"].([]any); ok {
			for _, t := range techs {
				name := fmt.Sprintf("%v", t)
				if _, seen := technologies[name]; !seen {
					order = append(order, name)
					technologies[name] = &techStat{}
				}
				technologies[name].count++
			}
		}

		if task.Type == TypeDeveloperSolution {
			if winner, _ := task.Metadata["winner"].(bool); winner {
				approach, _ := task.Metadata["approach"].(string)
				if approach == "" {
					approach = "unknown"
				}
				score, _ := task.Metadata["arbitration_score"].(float64)
				successPatterns = append(successPatterns, successPattern{approach: approach, score: score})
			}
		}

		if task.Type == TypeValidationResult {
			if issues, ok := task.Metadata["issues"].([]any); ok {
				for _, raw := range issues {
					issueType := "unknown"
					if issueMap, ok := raw.(map[string]any); ok {
						if t, ok := issueMap["type"].(string); ok && t != "" {
							issueType = t
						}
					}
					issueCounts[issueType]++
				}
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return technologies[order[i]].count > technologies[order[j]].count
	})

	var basedOn, recommendations, avoid []string
	for i, name := range order {
		if i >= 3 {
			break
		}
		stat := technologies[name]
		basedOn = append(basedOn, fmt.Sprintf("Used %s in %d past similar tasks", name, stat.count))
		if stat.count >= 2 {
			recommendations = append(recommendations, fmt.Sprintf("Consider %s (proven in %d similar tasks)", name, stat.count))
		}
	}
	for i, p := range successPatterns {
		if i >= 3 {
			break
		}
		basedOn = append(basedOn, fmt.Sprintf("%s approach scored %.0f/100", p.approach, p.score))
	}
	for issueType, count := range issueCounts {
		if count >= 2 {
			avoid = append(avoid, fmt.Sprintf("Watch for %s issues (found in %d similar tasks)", issueType, count))
		}
	}
	if len(recommendations) == 0 {
		recommendations = []string{"Insufficient history for recommendations"}
	}
	if basedOn == nil {
		basedOn = []string{}
	}
	if avoid == nil {
		avoid = []string{}
	}

	confidence := ConfidenceLow
	switch {
	case len(similar) >= 5:
		confidence = ConfidenceHigh
	case len(similar) >= 2:
		confidence = ConfidenceMedium
	}

	return Recommendations{
		BasedOnHistory:    basedOn,
		Recommendations:   recommendations,
		Avoid:             avoid,
		Confidence:        confidence,
		SimilarTasksCount: len(similar),
	}, nil
}

// ExtractPatterns implements Store. Only "technology_success_rates" is
// implemented, the one pattern_type rag_agent.py's extract_patterns
// handles; other pattern types return an empty map.
func (s *SQLStore) ExtractPatterns(ctx context.Context, patternType string, timeWindowDays int) (map[string]TechPattern, error) {
	patterns := map[string]TechPattern{}
	if patternType != "technology_success_rates" {
		return patterns, nil
	}

	cutoff := s.now().UTC().AddDate(0, 0, -timeWindowDays)

	solutions, err := s.QuerySimilar(ctx, Query{
		Text:  "",
		Types: []ArtifactType{TypeDeveloperSolution},
		TopK:  1000,
	})
	if err != nil {
		return nil, err
	}

	type techStats struct {
		tasksCount, successes int
		totalScore            float64
	}
	stats := map[string]*techStats{}
	var order []string

	for _, solution := range solutions {
		tsStr, _ := solution.Metadata["timestamp"].(string)
		if tsStr != "" {
			if ts, err := time.Parse(time.RFC3339Nano, tsStr); err == nil && ts.Before(cutoff) {
				continue
			}
		}

		techs, _ := solution.Metadata["technologies"].([]any)
		score, _ := solution.Metadata["arbitration_score"].(float64)
		success, _ := solution.Metadata["winner"].(bool)

		for _, t := range techs {
			name := fmt.Sprintf("%v", t)
			st, ok := stats[name]
			if !ok {
				st = &techStats{}
				stats[name] = st
				order = append(order, name)
			}
			st.tasksCount++
			st.totalScore += score
			if success {
				st.successes++
			}
		}
	}

	for _, name := range order {
		st := stats[name]
		if st.tasksCount == 0 {
			continue
		}
		avgScore := st.totalScore / float64(st.tasksCount)
		successRate := float64(st.successes) / float64(st.tasksCount)

		recommendation := "CONSIDER_ALTERNATIVES"
		switch {
		case avgScore >= 90 && successRate >= 0.8:
			recommendation = "HIGHLY_RECOMMENDED"
		case avgScore >= 80 && successRate >= 0.6:
			recommendation = "RECOMMENDED"
		}

		patterns[name] = TechPattern{
			TasksCount:     st.tasksCount,
			AvgScore:       roundTo(avgScore, 1),
			SuccessRate:    roundTo(successRate, 2),
			Recommendation: recommendation,
		}
	}

	return patterns, nil
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int(v*mult+0.5)) / mult
}

// Stats implements Store.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: map[ArtifactType]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT artifact_type, COUNT(*) FROM artifacts GROUP BY artifact_type`)
	if err != nil {
		return Stats{}, fmt.Errorf("knowledge: stats query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var artifactType string
		var count int
		if err := rows.Scan(&artifactType, &count); err != nil {
			return Stats{}, fmt.Errorf("knowledge: scan stats: %w", err)
		}
		stats.ByType[ArtifactType(artifactType)] = count
		stats.TotalArtifacts += count
	}
	return stats, rows.Err()
}
