package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib" // registers driver "pgx"
	_ "modernc.org/sqlite"             // registers driver "sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

//go:embed schema_sqlite.sql
var sqliteSchema string

// dialect captures the two SQL placeholder/upsert conventions SQLStore
// speaks: sqlite's "?" positional markers with INSERT OR REPLACE, and
// Postgres's "$n" markers with INSERT ... ON CONFLICT.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore persists pipeline state and checkpoints through database/sql,
// connection handling following a NewClient/runMigrations split, plain
// SQL rather than a generated ORM client, since
// this package has no generated-schema graph to speak of — just the two
// tables persistence_store.py's SQLitePersistenceStore defines.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLite opens (creating if absent) a modernc.org/sqlite-backed store
// at path and applies its schema directly — golang-migrate's only
// SQLite driver (database/sqlite3) requires mattn/go-sqlite3's cgo
// binding, which conflicts with the pure-Go driver this module commits
// to, so the default backend bootstraps its schema with a single
// embedded idempotent script instead of a migration chain.
func NewSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: bootstrap sqlite schema: %w", err)
	}
	return &SQLStore{db: db, dialect: dialectSQLite}, nil
}

// NewPostgres opens a pgx/v5-backed store against dsn and applies schema
// migrations through golang-migrate:
// postgres.WithInstance wraps the live *sql.DB, iofs.New serves the
// embedded migrations directory, and Up() is idempotent across restarts.
func NewPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: ping postgres: %w", err)
	}

	if err := runPostgresMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, dialect: dialectPostgres}, nil
}

func runPostgresMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("persistence: postgres migration driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("persistence: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "artemis", driver)
	if err != nil {
		return fmt.Errorf("persistence: migrate instance: %w", err)
	}
	// m.Close() is skipped deliberately: it would close the shared *sql.DB
	// handle this SQLStore keeps using for every subsequent query.
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("persistence: apply migrations: %w", err)
	}
	return sourceDriver.Close()
}

// Close releases the underlying *sql.DB.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB so other components backed by the
// same database (the Knowledge Store, notably) can share the connection
// pool and migrated schema rather than opening a second handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// IsSQLite reports whether this store runs the sqlite dialect. Callers
// sharing the handle with a component that issues raw `?`-placeholder SQL
// (the Knowledge Store) must check this first: the Postgres dialect
// requires `$n` placeholders, which only this package's rewrite() applies.
func (s *SQLStore) IsSQLite() bool {
	return s.dialect == dialectSQLite
}

// ph returns the i'th (1-based) positional placeholder for s's dialect.
func (s *SQLStore) ph(i int) string {
	if s.dialect == dialectPostgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

func (s *SQLStore) rewrite(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func timeToStr(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func strToTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func optStrToTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := strToTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON[T any](s sql.NullString, out *T) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), out)
}

// SavePipelineState upserts state keyed by CardID.
func (s *SQLStore) SavePipelineState(ctx context.Context, state PipelineState) error {
	stagesCompleted, err := marshalJSON(state.StagesCompleted)
	if err != nil {
		return err
	}
	stageResults, err := marshalJSON(state.StageResults)
	if err != nil {
		return err
	}
	developerResults, err := marshalJSON(state.DeveloperResults)
	if err != nil {
		return err
	}
	metrics, err := marshalJSON(state.Metrics)
	if err != nil {
		return err
	}
	var completedAt *string
	if state.CompletedAt != nil {
		v := timeToStr(*state.CompletedAt)
		completedAt = &v
	}

	var query string
	if s.dialect == dialectPostgres {
		query = `
INSERT INTO pipeline_states (card_id, status, current_stage, stages_completed, stage_results, developer_results, metrics, created_at, updated_at, completed_at, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (card_id) DO UPDATE SET
  status = EXCLUDED.status,
  current_stage = EXCLUDED.current_stage,
  stages_completed = EXCLUDED.stages_completed,
  stage_results = EXCLUDED.stage_results,
  developer_results = EXCLUDED.developer_results,
  metrics = EXCLUDED.metrics,
  updated_at = EXCLUDED.updated_at,
  completed_at = EXCLUDED.completed_at,
  error = EXCLUDED.error`
	} else {
		query = `
INSERT OR REPLACE INTO pipeline_states (card_id, status, current_stage, stages_completed, stage_results, developer_results, metrics, created_at, updated_at, completed_at, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}

	_, err = s.db.ExecContext(ctx, s.rewrite(query),
		state.CardID, string(state.Status), state.CurrentStage, stagesCompleted, stageResults,
		developerResults, metrics, timeToStr(state.CreatedAt), timeToStr(state.UpdatedAt), completedAt, state.Error)
	if err != nil {
		return fmt.Errorf("persistence: save pipeline state: %w", err)
	}
	return nil
}

// LoadPipelineState returns cardID's latest snapshot, or (nil, nil) if none exists.
func (s *SQLStore) LoadPipelineState(ctx context.Context, cardID string) (*PipelineState, error) {
	query := s.rewrite(`
SELECT card_id, status, current_stage, stages_completed, stage_results, developer_results, metrics, created_at, updated_at, completed_at, error
FROM pipeline_states WHERE card_id = ?`)

	row := s.db.QueryRowContext(ctx, query, cardID)

	var state PipelineState
	var status, createdAt, updatedAt string
	var currentStage, errStr sql.NullString
	var stagesCompleted, stageResults, developerResults, metrics sql.NullString
	var completedAt sql.NullString

	if err := row.Scan(&state.CardID, &status, &currentStage, &stagesCompleted, &stageResults,
		&developerResults, &metrics, &createdAt, &updatedAt, &completedAt, &errStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: load pipeline state: %w", err)
	}

	state.Status = PipelineStatus(status)
	state.CurrentStage = currentStage.String
	state.Error = errStr.String

	if err := unmarshalJSON(stagesCompleted, &state.StagesCompleted); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(stageResults, &state.StageResults); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(developerResults, &state.DeveloperResults); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metrics, &state.Metrics); err != nil {
		return nil, err
	}

	created, err := strToTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := strToTime(updatedAt)
	if err != nil {
		return nil, err
	}
	state.CreatedAt, state.UpdatedAt = created, updated

	done, err := optStrToTime(completedAt)
	if err != nil {
		return nil, err
	}
	state.CompletedAt = done

	return &state, nil
}

// SaveStageCheckpoint upserts a checkpoint row keyed by (card_id,
// stage_name, started_at) — the UNIQUE constraint the schema declares on
// that triple (spec.md §6) — so re-saving the same checkpoint (the same
// stage attempt reporting its terminal status) replaces the row in place
// rather than appending a duplicate (spec.md §8's checkpoint idempotence
// law).
func (s *SQLStore) SaveStageCheckpoint(ctx context.Context, checkpoint StageCheckpoint) error {
	result, err := marshalJSON(checkpoint.Result)
	if err != nil {
		return err
	}
	var completedAt *string
	if checkpoint.CompletedAt != nil {
		v := timeToStr(*checkpoint.CompletedAt)
		completedAt = &v
	}

	query := s.rewrite(`
INSERT INTO stage_checkpoints (id, card_id, stage_name, status, started_at, completed_at, result, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (card_id, stage_name, started_at) DO UPDATE SET
  status = EXCLUDED.status,
  completed_at = EXCLUDED.completed_at,
  result = EXCLUDED.result,
  error = EXCLUDED.error`)

	_, err = s.db.ExecContext(ctx, query, uuid.NewString(), checkpoint.CardID, checkpoint.StageName,
		string(checkpoint.Status), timeToStr(checkpoint.StartedAt), completedAt, result, checkpoint.Error)
	if err != nil {
		return fmt.Errorf("persistence: save stage checkpoint: %w", err)
	}
	return nil
}

// LoadStageCheckpoints returns every checkpoint recorded for cardID, oldest first.
func (s *SQLStore) LoadStageCheckpoints(ctx context.Context, cardID string) ([]StageCheckpoint, error) {
	query := s.rewrite(`
SELECT card_id, stage_name, status, started_at, completed_at, result, error
FROM stage_checkpoints WHERE card_id = ? ORDER BY started_at ASC`)

	rows, err := s.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("persistence: load stage checkpoints: %w", err)
	}
	defer rows.Close()

	var out []StageCheckpoint
	for rows.Next() {
		var cp StageCheckpoint
		var status, startedAt string
		var errStr, result, completedAt sql.NullString

		if err := rows.Scan(&cp.CardID, &cp.StageName, &status, &startedAt, &completedAt, &result, &errStr); err != nil {
			return nil, fmt.Errorf("persistence: scan checkpoint: %w", err)
		}
		cp.Status = CheckpointStatus(status)
		cp.Error = errStr.String

		started, err := strToTime(startedAt)
		if err != nil {
			return nil, err
		}
		cp.StartedAt = started

		done, err := optStrToTime(completedAt)
		if err != nil {
			return nil, err
		}
		cp.CompletedAt = done

		if err := unmarshalJSON(result, &cp.Result); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// GetResumablePipelines returns card IDs whose persisted status is
// running, failed, or paused, most recently updated first.
func (s *SQLStore) GetResumablePipelines(ctx context.Context) ([]string, error) {
	query := s.rewrite(`
SELECT card_id FROM pipeline_states
WHERE status IN (?, ?, ?)
ORDER BY updated_at DESC`)

	rows, err := s.db.QueryContext(ctx, query, string(StatusRunning), string(StatusFailed), string(StatusPaused))
	if err != nil {
		return nil, fmt.Errorf("persistence: resumable pipelines: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var cardID string
		if err := rows.Scan(&cardID); err != nil {
			return nil, err
		}
		out = append(out, cardID)
	}
	return out, rows.Err()
}

// CleanupOldStates deletes completed/failed pipeline states (and their
// orphaned checkpoints) last updated more than days ago.
func (s *SQLStore) CleanupOldStates(ctx context.Context, days int) error {
	cutoff := timeToStr(time.Now().AddDate(0, 0, -days))

	deleteStates := s.rewrite(`
DELETE FROM pipeline_states
WHERE status IN (?, ?) AND updated_at < ?`)
	if _, err := s.db.ExecContext(ctx, deleteStates, string(StatusCompleted), string(StatusFailed), cutoff); err != nil {
		return fmt.Errorf("persistence: cleanup pipeline states: %w", err)
	}

	deleteOrphans := s.rewrite(`
DELETE FROM stage_checkpoints
WHERE card_id NOT IN (SELECT card_id FROM pipeline_states)`)
	if _, err := s.db.ExecContext(ctx, deleteOrphans); err != nil {
		return fmt.Errorf("persistence: cleanup orphaned checkpoints: %w", err)
	}
	return nil
}
