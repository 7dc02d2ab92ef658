// Package postgres provides Postgres-backed persistence for candidates, task
// snapshots and daily quota totals.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultCandidatesTable = "candidates"
	defaultTasksTable      = "discovery_tasks"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	CandidatesTable string
	TasksTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store writes candidates and task snapshots.
type Store struct {
	pool       pgxPool
	candidates string
	tasks      string
}

// NewStore connects a pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStoreWithPool(pool, cfg.CandidatesTable, cfg.TasksTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool pgxPool, candidatesTable, tasksTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if candidatesTable == "" {
		candidatesTable = defaultCandidatesTable
	}
	if tasksTable == "" {
		tasksTable = defaultTasksTable
	}
	for _, table := range []string{candidatesTable, tasksTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: pool, candidates: candidatesTable, tasks: tasksTable}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveCandidates inserts profiles, skipping source URLs already stored by any
// task. It returns the number of new rows.
func (s *Store) SaveCandidates(ctx context.Context, taskID string, profiles []discovery.CandidateProfile) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("candidate store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	source_url,
	task_id,
	name,
	title,
	location,
	current_company,
	skills,
	open_to_work
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (source_url) DO NOTHING`, s.candidates)

	inserted := 0
	for _, p := range profiles {
		skills := p.Skills
		if skills == nil {
			skills = []string{}
		}
		tag, err := s.pool.Exec(ctx, query,
			p.SourceURL,
			taskID,
			p.Name,
			p.Title,
			p.Location,
			nullable(p.CurrentCompany),
			skills,
			p.OpenToWork,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert candidate %s: %w", p.SourceURL, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// SaveTask upserts the task snapshot keyed by task id.
func (s *Store) SaveTask(ctx context.Context, task discovery.Task) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("task store is not configured")
	}
	criteria, err := json.Marshal(task.Criteria)
	if err != nil {
		return fmt.Errorf("marshal criteria: %w", err)
	}
	progress, err := json.Marshal(task.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	failure, err := marshalOptional(task.Error)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	note, err := marshalOptional(task.Note)
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	task_id,
	status,
	criteria,
	progress,
	error,
	note,
	result_count,
	created_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (task_id) DO UPDATE SET
	status = EXCLUDED.status,
	progress = EXCLUDED.progress,
	error = EXCLUDED.error,
	note = EXCLUDED.note,
	result_count = EXCLUDED.result_count,
	updated_at = EXCLUDED.updated_at`, s.tasks)

	args := []any{
		task.ID,
		string(task.Status),
		criteria,
		progress,
		failure,
		note,
		len(task.Results),
		task.CreatedAt,
		task.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert task %s: %w", task.ID, err)
	}
	return nil
}

func marshalOptional(e *discovery.TaskError) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	return json.Marshal(e)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
