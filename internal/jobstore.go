package internal

import (
	"context"
	"errors"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobStore is the durable side of a Job's state: a coordinator must
// survive a process restart for non-terminal jobs, and a terminal job must
// still be readable until its cleanup alarm fires.
type JobStore interface {
	Save(ctx context.Context, state JobState) error
	Load(ctx context.Context, id string) (JobState, error)
	Delete(ctx context.Context, id string) error
	// LoadNonTerminal lists jobs left in a non-terminal status, for
	// resuming coordinators after a restart.
	LoadNonTerminal(ctx context.Context) ([]JobState, error)
}

// PostgresJobStore persists JobState as a JSON blob alongside its indexed
// scalar columns, adapting persist.go's pgx upsert pattern (that file
// tracked a single int64 per row; this one tracks the full job snapshot).
type PostgresJobStore struct {
	db *pgxpool.Pool
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, Wrap(KindInternal, "INTERNAL", "parsing job store dsn", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, Wrap(KindInternal, "INTERNAL", "connecting job store", err)
	}
	return &PostgresJobStore{db: pool}, nil
}

// Pool exposes the underlying pgx pool for metrics registration.
func (s *PostgresJobStore) Pool() *pgxpool.Pool { return s.db }

func (s *PostgresJobStore) Save(ctx context.Context, state JobState) error {
	payload, err := sonic.Marshal(state)
	if err != nil {
		return Wrap(KindInternal, "INTERNAL", "encoding job state", err)
	}
	// Staged input is raw upload bytes; it travels in its own bytea column
	// rather than inside the JSONB snapshot.
	_, err = s.db.Exec(ctx, `
		INSERT INTO jobs (id, pipeline, status, state, staged_input, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			pipeline = EXCLUDED.pipeline,
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			staged_input = EXCLUDED.staged_input,
			updated_at = EXCLUDED.updated_at
	`, state.ID, string(state.Pipeline), string(state.Status), payload, state.StagedInput, state.UpdatedAt)
	if err != nil {
		return Wrap(KindInternal, "INTERNAL", "persisting job state", err)
	}
	return nil
}

func (s *PostgresJobStore) Load(ctx context.Context, id string) (JobState, error) {
	var payload, staged []byte
	err := s.db.QueryRow(ctx, `SELECT state, staged_input FROM jobs WHERE id = $1`, id).Scan(&payload, &staged)
	if errors.Is(err, pgx.ErrNoRows) {
		return JobState{}, Wrap(KindNotFound, "UNKNOWN_JOB", "job not found", ErrUnknownJob)
	}
	if err != nil {
		return JobState{}, Wrap(KindInternal, "INTERNAL", "loading job state", err)
	}
	var state JobState
	if err := sonic.Unmarshal(payload, &state); err != nil {
		return JobState{}, Wrap(KindInternal, "INTERNAL", "decoding job state", err)
	}
	state.StagedInput = staged
	return state, nil
}

func (s *PostgresJobStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return Wrap(KindInternal, "INTERNAL", "deleting job state", err)
	}
	return nil
}

func (s *PostgresJobStore) LoadNonTerminal(ctx context.Context) ([]JobState, error) {
	rows, err := s.db.Query(ctx, `
		SELECT state, staged_input FROM jobs
		WHERE status NOT IN ($1, $2, $3)
	`, string(JobComplete), string(JobFailed), string(JobCanceled))
	if err != nil {
		return nil, Wrap(KindInternal, "INTERNAL", "listing resumable jobs", err)
	}
	defer rows.Close()

	var states []JobState
	for rows.Next() {
		var payload, staged []byte
		if err := rows.Scan(&payload, &staged); err != nil {
			continue
		}
		var state JobState
		if err := sonic.Unmarshal(payload, &state); err != nil {
			continue
		}
		state.StagedInput = staged
		states = append(states, state)
	}
	return states, rows.Err()
}

// memJobStore is an in-process JobStore for tests.
type memJobStore struct {
	mu     sync.Mutex
	states map[string]JobState
}

func newMemJobStore() *memJobStore {
	return &memJobStore{states: map[string]JobState{}}
}

func (s *memJobStore) Save(_ context.Context, state JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = state
	return nil
}

func (s *memJobStore) Load(_ context.Context, id string) (JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[id]
	if !ok {
		return JobState{}, Wrap(KindNotFound, "UNKNOWN_JOB", "job not found", ErrUnknownJob)
	}
	return state, nil
}

func (s *memJobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

func (s *memJobStore) LoadNonTerminal(context.Context) ([]JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JobState
	for _, state := range s.states {
		if !state.Status.Terminal() {
			out = append(out, state)
		}
	}
	return out, nil
}

var (
	_ JobStore = (*PostgresJobStore)(nil)
	_ JobStore = (*memJobStore)(nil)
)
