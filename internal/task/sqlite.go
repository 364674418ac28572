package task

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS map_tasks (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	name          TEXT NOT NULL,
	district_code TEXT NOT NULL,
	status        INTEGER NOT NULL DEFAULT 1,
	restricted    TEXT NOT NULL DEFAULT '[]',
	suitability   TEXT NOT NULL DEFAULT '[]',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at    DATETIME,
	ended_at      DATETIME
);

CREATE TABLE IF NOT EXISTS task_progress (
	id            TEXT PRIMARY KEY,
	task_id       TEXT NOT NULL REFERENCES map_tasks(id),
	user_id       TEXT NOT NULL,
	percent       INTEGER NOT NULL,
	phase         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS task_artifacts (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL REFERENCES map_tasks(id),
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	key        TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_map_tasks_status ON map_tasks(status);
CREATE INDEX IF NOT EXISTS idx_map_tasks_user ON map_tasks(user_id);
CREATE INDEX IF NOT EXISTS idx_task_progress_task ON task_progress(task_id);
CREATE INDEX IF NOT EXISTS idx_task_artifacts_task ON task_artifacts(task_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t MapTask) (*MapTask, error) {
	t.ID = uuid.New().String()
	t.Status = StatusPending
	t.CreatedAt = time.Now().UTC()
	if t.Exclusions == "" {
		t.Exclusions = "[]"
	}
	if t.Scoring == "" {
		t.Scoring = "[]"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO map_tasks (id, user_id, name, district_code, status, restricted, suitability, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Name, t.DistrictCode, int(t.Status), t.Exclusions, t.Scoring, t.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert task")
	}
	return &t, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*MapTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, district_code, status, restricted, suitability, error_message, created_at, started_at, ended_at
		 FROM map_tasks WHERE id = ?`, id,
	)

	var t MapTask
	var status int
	var started, ended sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.DistrictCode, &status,
		&t.Exclusions, &t.Scoring, &t.ErrorMessage, &t.CreatedAt, &started, &ended)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get task")
	}
	t.Status = Status(status)
	if started.Valid {
		t.StartedAt = &started.Time
	}
	if ended.Valid {
		t.EndedAt = &ended.Time
	}
	return &t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter Filter) ([]MapTask, error) {
	query := `SELECT id, user_id, name, district_code, status, restricted, suitability, error_message, created_at, started_at, ended_at
		 FROM map_tasks WHERE 1=1`
	args := []any{}
	if filter.Status != 0 {
		query += ` AND status = ?`
		args = append(args, int(filter.Status))
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close()

	var tasks []MapTask
	for rows.Next() {
		var t MapTask
		var status int
		var started, ended sql.NullTime
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.DistrictCode, &status,
			&t.Exclusions, &t.Scoring, &t.ErrorMessage, &t.CreatedAt, &started, &ended); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		t.Status = Status(status)
		if started.Valid {
			t.StartedAt = &started.Time
		}
		if ended.Valid {
			t.EndedAt = &ended.Time
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list tasks")
}

func (s *SQLiteStore) ClaimPending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE map_tasks SET status = ?, started_at = ?, error_message = '' WHERE id = ? AND status = ?`,
		int(StatusProcessing), time.Now().UTC(), id, int(StatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim task %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: claim rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) Finish(ctx context.Context, id string, status Status, errMsg string) error {
	if !status.Terminal() {
		return eris.Errorf("sqlite: finish with non-terminal status %s", status)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE map_tasks SET status = ?, error_message = ?, ended_at = ? WHERE id = ?`,
		int(status), errMsg, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: finish task %s", id)
}

func (s *SQLiteStore) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE map_tasks SET status = ?, ended_at = ? WHERE id = ? AND status IN (?, ?)`,
		int(StatusCancelled), time.Now().UTC(), id, int(StatusPending), int(StatusProcessing),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: cancel task %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: cancel rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) AppendProgress(ctx context.Context, entry ProgressEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_progress (id, task_id, user_id, percent, phase, description, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), entry.TaskID, entry.UserID, entry.Percent,
		entry.Phase, entry.Description, entry.ErrorMessage, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: append progress")
}

func (s *SQLiteStore) ListProgress(ctx context.Context, taskID string) ([]ProgressEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, user_id, percent, phase, description, error_message, created_at
		 FROM task_progress WHERE task_id = ? ORDER BY created_at`, taskID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list progress")
	}
	defer rows.Close()

	var entries []ProgressEntry
	for rows.Next() {
		var e ProgressEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.UserID, &e.Percent, &e.Phase,
			&e.Description, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan progress")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list progress")
}

func (s *SQLiteStore) AppendArtifact(ctx context.Context, rec ArtifactRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_artifacts (id, task_id, user_id, kind, key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), rec.TaskID, rec.UserID, rec.Kind, rec.Key, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: append artifact")
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, taskID string) ([]ArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, user_id, kind, key, created_at
		 FROM task_artifacts WHERE task_id = ? ORDER BY created_at`, taskID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifacts")
	}
	defer rows.Close()

	var recs []ArtifactRecord
	for rows.Next() {
		var r ArtifactRecord
		if err := rows.Scan(&r.ID, &r.TaskID, &r.UserID, &r.Kind, &r.Key, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list artifacts")
}
