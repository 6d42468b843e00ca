package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// JSONStore persists one state file and one checkpoints file per card
// under a root directory, a direct port of persistence_store.py's
// JSONFilePersistenceStore (used there as the dependency-free fallback
// when no SQLite/Postgres connection is configured).
type JSONStore struct {
	mu   sync.Mutex
	root string
}

// NewJSONStore returns a JSONStore rooted at dir, creating it if absent.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create json store dir: %w", err)
	}
	return &JSONStore{root: dir}, nil
}

func (j *JSONStore) statePath(cardID string) string {
	return filepath.Join(j.root, cardID+"_state.json")
}

func (j *JSONStore) checkpointsPath(cardID string) string {
	return filepath.Join(j.root, cardID+"_checkpoints.json")
}

// jsonPipelineState mirrors PipelineState with string-formatted
// timestamps, matching the original's json.dumps(..., default=str) shape.
type jsonPipelineState struct {
	CardID           string                    `json:"card_id"`
	Status           PipelineStatus            `json:"status"`
	CurrentStage     string                    `json:"current_stage,omitempty"`
	StagesCompleted  []string                  `json:"stages_completed"`
	StageResults     map[string]map[string]any `json:"stage_results"`
	DeveloperResults []map[string]any          `json:"developer_results"`
	Metrics          map[string]any            `json:"metrics"`
	CreatedAt        string                    `json:"created_at"`
	UpdatedAt        string                    `json:"updated_at"`
	CompletedAt      string                    `json:"completed_at,omitempty"`
	Error            string                    `json:"error,omitempty"`
}

func toJSONState(s PipelineState) jsonPipelineState {
	js := jsonPipelineState{
		CardID:           s.CardID,
		Status:           s.Status,
		CurrentStage:     s.CurrentStage,
		StagesCompleted:  s.StagesCompleted,
		StageResults:     s.StageResults,
		DeveloperResults: s.DeveloperResults,
		Metrics:          s.Metrics,
		CreatedAt:        timeToStr(s.CreatedAt),
		UpdatedAt:        timeToStr(s.UpdatedAt),
		Error:            s.Error,
	}
	if s.CompletedAt != nil {
		js.CompletedAt = timeToStr(*s.CompletedAt)
	}
	return js
}

func fromJSONState(js jsonPipelineState) (PipelineState, error) {
	s := PipelineState{
		CardID:           js.CardID,
		Status:           js.Status,
		CurrentStage:     js.CurrentStage,
		StagesCompleted:  js.StagesCompleted,
		StageResults:     js.StageResults,
		DeveloperResults: js.DeveloperResults,
		Metrics:          js.Metrics,
		Error:            js.Error,
	}
	created, err := strToTime(js.CreatedAt)
	if err != nil {
		return s, err
	}
	updated, err := strToTime(js.UpdatedAt)
	if err != nil {
		return s, err
	}
	s.CreatedAt, s.UpdatedAt = created, updated
	if js.CompletedAt != "" {
		t, err := strToTime(js.CompletedAt)
		if err != nil {
			return s, err
		}
		s.CompletedAt = &t
	}
	return s, nil
}

// SavePipelineState overwrites cardID's state file.
func (j *JSONStore) SavePipelineState(ctx context.Context, state PipelineState) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	b, err := json.MarshalIndent(toJSONState(state), "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal pipeline state: %w", err)
	}
	if err := os.WriteFile(j.statePath(state.CardID), b, 0o644); err != nil {
		return fmt.Errorf("persistence: write pipeline state: %w", err)
	}
	return nil
}

// LoadPipelineState reads cardID's state file, or (nil, nil) if absent.
func (j *JSONStore) LoadPipelineState(ctx context.Context, cardID string) (*PipelineState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	b, err := os.ReadFile(j.statePath(cardID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: read pipeline state: %w", err)
	}

	var js jsonPipelineState
	if err := json.Unmarshal(b, &js); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal pipeline state: %w", err)
	}
	state, err := fromJSONState(js)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

type jsonCheckpoint struct {
	CardID      string           `json:"card_id"`
	StageName   string           `json:"stage_name"`
	Status      CheckpointStatus `json:"status"`
	StartedAt   string           `json:"started_at"`
	CompletedAt string           `json:"completed_at,omitempty"`
	Result      map[string]any   `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// SaveStageCheckpoint upserts checkpoint into cardID's checkpoints file,
// keyed by (card_id, stage_name, started_at): a checkpoint matching an
// existing entry on that triple replaces it in place rather than
// appending a duplicate, mirroring SQLStore's UNIQUE-constrained upsert
// and the checkpoint idempotence law it enforces.
func (j *JSONStore) SaveStageCheckpoint(ctx context.Context, checkpoint StageCheckpoint) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	existing, err := j.readCheckpoints(checkpoint.CardID)
	if err != nil {
		return err
	}

	jc := jsonCheckpoint{
		CardID:    checkpoint.CardID,
		StageName: checkpoint.StageName,
		Status:    checkpoint.Status,
		StartedAt: timeToStr(checkpoint.StartedAt),
		Result:    checkpoint.Result,
		Error:     checkpoint.Error,
	}
	if checkpoint.CompletedAt != nil {
		jc.CompletedAt = timeToStr(*checkpoint.CompletedAt)
	}

	replaced := false
	for i, c := range existing {
		if c.CardID == jc.CardID && c.StageName == jc.StageName && c.StartedAt == jc.StartedAt {
			existing[i] = jc
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, jc)
	}

	b, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal checkpoints: %w", err)
	}
	if err := os.WriteFile(j.checkpointsPath(checkpoint.CardID), b, 0o644); err != nil {
		return fmt.Errorf("persistence: write checkpoints: %w", err)
	}
	return nil
}

func (j *JSONStore) readCheckpoints(cardID string) ([]jsonCheckpoint, error) {
	b, err := os.ReadFile(j.checkpointsPath(cardID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: read checkpoints: %w", err)
	}
	var out []jsonCheckpoint
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal checkpoints: %w", err)
	}
	return out, nil
}

// LoadStageCheckpoints returns every checkpoint recorded for cardID, oldest first.
func (j *JSONStore) LoadStageCheckpoints(ctx context.Context, cardID string) ([]StageCheckpoint, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	raw, err := j.readCheckpoints(cardID)
	if err != nil {
		return nil, err
	}

	out := make([]StageCheckpoint, 0, len(raw))
	for _, jc := range raw {
		cp := StageCheckpoint{
			CardID:    jc.CardID,
			StageName: jc.StageName,
			Status:    jc.Status,
			Result:    jc.Result,
			Error:     jc.Error,
		}
		started, err := strToTime(jc.StartedAt)
		if err != nil {
			return nil, err
		}
		cp.StartedAt = started
		if jc.CompletedAt != "" {
			t, err := strToTime(jc.CompletedAt)
			if err != nil {
				return nil, err
			}
			cp.CompletedAt = &t
		}
		out = append(out, cp)
	}
	return out, nil
}

// GetResumablePipelines globs every *_state.json file and returns the
// card IDs whose status is running, failed, or paused.
func (j *JSONStore) GetResumablePipelines(ctx context.Context) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(j.root, "*_state.json"))
	if err != nil {
		return nil, fmt.Errorf("persistence: glob state files: %w", err)
	}

	type candidate struct {
		cardID  string
		updated time.Time
	}
	var candidates []candidate

	for _, path := range matches {
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var js jsonPipelineState
		if err := json.Unmarshal(b, &js); err != nil {
			continue
		}
		if !isResumable(js.Status) {
			continue
		}
		updated, err := strToTime(js.UpdatedAt)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{cardID: js.CardID, updated: updated})
	}

	sort.Slice(candidates, func(i, k int) bool { return candidates[i].updated.After(candidates[k].updated) })

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.cardID
	}
	return out, nil
}

// CleanupOldStates removes completed/failed state+checkpoint file pairs
// whose recorded UpdatedAt is older than days, the same age test SQLStore
// applies to updated_at.
func (j *JSONStore) CleanupOldStates(ctx context.Context, days int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -days)

	matches, err := filepath.Glob(filepath.Join(j.root, "*_state.json"))
	if err != nil {
		return fmt.Errorf("persistence: glob state files: %w", err)
	}

	for _, path := range matches {
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var js jsonPipelineState
		if err := json.Unmarshal(b, &js); err != nil {
			continue
		}
		if js.Status != StatusCompleted && js.Status != StatusFailed {
			continue
		}
		updated, err := strToTime(js.UpdatedAt)
		if err != nil || !updated.Before(cutoff) {
			continue
		}
		os.Remove(path)
		os.Remove(j.checkpointsPath(js.CardID))
	}
	return nil
}

// Close is a no-op; JSONStore holds no live resources.
func (j *JSONStore) Close() error { return nil }
