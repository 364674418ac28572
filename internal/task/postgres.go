package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/siteselect-cli/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of the job pipeline.
var preparedStatements = map[string]string{
	"get_task":        `SELECT id, user_id, name, district_code, status, restricted, suitability, error_message, created_at, started_at, ended_at FROM map_tasks WHERE id = $1`,
	"claim_task":      `UPDATE map_tasks SET status = $1, started_at = $2, error_message = '' WHERE id = $3 AND status = $4`,
	"append_progress": `INSERT INTO task_progress (id, task_id, user_id, percent, phase, description, error_message, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"append_artifact": `INSERT INTO task_artifacts (id, task_id, user_id, kind, key, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS map_tasks (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id       TEXT NOT NULL,
	name          TEXT NOT NULL,
	district_code TEXT NOT NULL,
	status        INTEGER NOT NULL DEFAULT 1,
	restricted    JSONB NOT NULL DEFAULT '[]',
	suitability   JSONB NOT NULL DEFAULT '[]',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	ended_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS task_progress (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	task_id       TEXT NOT NULL REFERENCES map_tasks(id),
	user_id       TEXT NOT NULL,
	percent       INTEGER NOT NULL,
	phase         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS task_artifacts (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	task_id    TEXT NOT NULL REFERENCES map_tasks(id),
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	key        TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_map_tasks_status ON map_tasks(status);
CREATE INDEX IF NOT EXISTS idx_map_tasks_user ON map_tasks(user_id);
CREATE INDEX IF NOT EXISTS idx_task_progress_task ON task_progress(task_id, created_at);
CREATE INDEX IF NOT EXISTS idx_task_artifacts_task ON task_artifacts(task_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, t MapTask) (*MapTask, error) {
	t.ID = uuid.New().String()
	t.Status = StatusPending
	t.CreatedAt = time.Now().UTC()
	if t.Exclusions == "" {
		t.Exclusions = "[]"
	}
	if t.Scoring == "" {
		t.Scoring = "[]"
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO map_tasks (id, user_id, name, district_code, status, restricted, suitability, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.UserID, t.Name, t.DistrictCode, int(t.Status), t.Exclusions, t.Scoring, t.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert task")
	}
	return &t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*MapTask, error) {
	var t MapTask
	var status int
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, district_code, status, restricted, suitability, error_message, created_at, started_at, ended_at
		 FROM map_tasks WHERE id = $1`, id,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.DistrictCode, &status,
		&t.Exclusions, &t.Scoring, &t.ErrorMessage, &t.CreatedAt, &t.StartedAt, &t.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get task")
	}
	t.Status = Status(status)
	return &t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter Filter) ([]MapTask, error) {
	query := `SELECT id, user_id, name, district_code, status, restricted, suitability, error_message, created_at, started_at, ended_at
		 FROM map_tasks WHERE 1=1`
	args := []any{}
	if filter.Status != 0 {
		args = append(args, int(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += fmt.Sprintf(` OFFSET $%d`, len(args))
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var tasks []MapTask
	for rows.Next() {
		var t MapTask
		var status int
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.DistrictCode, &status,
			&t.Exclusions, &t.Scoring, &t.ErrorMessage, &t.CreatedAt, &t.StartedAt, &t.EndedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		t.Status = Status(status)
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list tasks")
}

func (s *PostgresStore) ClaimPending(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE map_tasks SET status = $1, started_at = $2, error_message = '' WHERE id = $3 AND status = $4`,
		int(StatusProcessing), time.Now().UTC(), id, int(StatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim task %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Finish(ctx context.Context, id string, status Status, errMsg string) error {
	if !status.Terminal() {
		return eris.Errorf("postgres: finish with non-terminal status %s", status)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE map_tasks SET status = $1, error_message = $2, ended_at = $3 WHERE id = $4`,
		int(status), errMsg, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: finish task %s", id)
}

func (s *PostgresStore) Cancel(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE map_tasks SET status = $1, ended_at = $2 WHERE id = $3 AND status IN ($4, $5)`,
		int(StatusCancelled), time.Now().UTC(), id, int(StatusPending), int(StatusProcessing),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: cancel task %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) AppendProgress(ctx context.Context, entry ProgressEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_progress (id, task_id, user_id, percent, phase, description, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), entry.TaskID, entry.UserID, entry.Percent,
		entry.Phase, entry.Description, entry.ErrorMessage, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: append progress")
}

func (s *PostgresStore) ListProgress(ctx context.Context, taskID string) ([]ProgressEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, user_id, percent, phase, description, error_message, created_at
		 FROM task_progress WHERE task_id = $1 ORDER BY created_at`, taskID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list progress")
	}
	defer rows.Close()

	var entries []ProgressEntry
	for rows.Next() {
		var e ProgressEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.UserID, &e.Percent, &e.Phase,
			&e.Description, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan progress")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list progress")
}

func (s *PostgresStore) AppendArtifact(ctx context.Context, rec ArtifactRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_artifacts (id, task_id, user_id, kind, key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), rec.TaskID, rec.UserID, rec.Kind, rec.Key, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: append artifact")
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, taskID string) ([]ArtifactRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, user_id, kind, key, created_at
		 FROM task_artifacts WHERE task_id = $1 ORDER BY created_at`, taskID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts")
	}
	defer rows.Close()

	var recs []ArtifactRecord
	for rows.Next() {
		var r ArtifactRecord
		if err := rows.Scan(&r.ID, &r.TaskID, &r.UserID, &r.Kind, &r.Key, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list artifacts")
}
