package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/dcastano/ensemble/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. the timeline).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	plan, err := json.Marshal(run.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, dedupe_key, original_query, strategy, plan, status, synthesizer_id, requires_qa, output, error, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullStr(run.DedupeKey), run.OriginalQuery, string(run.Strategy),
		string(plan), string(run.Status), nullInt64(run.SynthesizerID), boolInt(run.RequiresQA),
		nullRaw(run.Output), nullRaw(run.Error),
		timeOrNow(run.CreatedAt), nullTime(run.StartedAt), nullTime(run.CompletedAt), timeOrNow(run.UpdatedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "run with dedupe key %q already exists", run.DedupeKey).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.getRun(ctx, `WHERE id = ?`, id)
}

func (s *LibSQLStore) GetRunByDedupeKey(ctx context.Context, key string) (*Run, error) {
	return s.getRun(ctx, `WHERE dedupe_key = ?`, key)
}

func (s *LibSQLStore) getRun(ctx context.Context, where string, arg any) (*Run, error) {
	run := &Run{}
	var (
		dedupeKey             sql.NullString
		planJSON, status      string
		synthID               sql.NullInt64
		requiresQA            int
		outputJSON, errorJSON sql.NullString
		startedAt, completed  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, dedupe_key, original_query, strategy, plan, status, synthesizer_id, requires_qa, output, error, created_at, started_at, completed_at, updated_at
		 FROM runs `+where, arg,
	).Scan(&run.ID, &dedupeKey, &run.OriginalQuery, &run.Strategy, &planJSON, &status,
		&synthID, &requiresQA, &outputJSON, &errorJSON, &run.CreatedAt, &startedAt, &completed, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", fmt.Sprint(arg))
	}
	if err != nil {
		return nil, err
	}
	run.DedupeKey = dedupeKey.String
	run.Status = schema.RunStatus(status)
	run.SynthesizerID = synthID.Int64
	run.RequiresQA = requiresQA != 0
	if err := json.Unmarshal([]byte(planJSON), &run.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	run.Output = rawOrNil(outputJSON)
	run.Error = rawOrNil(errorJSON)
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT id, dedupe_key, original_query, strategy, plan, status, synthesizer_id, requires_qa, output, error, created_at, started_at, completed_at, updated_at FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var (
			dedupeKey             sql.NullString
			planJSON, status      string
			synthID               sql.NullInt64
			requiresQA            int
			outputJSON, errorJSON sql.NullString
			startedAt, completed  sql.NullTime
		)
		if err := rows.Scan(&run.ID, &dedupeKey, &run.OriginalQuery, &run.Strategy, &planJSON, &status,
			&synthID, &requiresQA, &outputJSON, &errorJSON, &run.CreatedAt, &startedAt, &completed, &run.UpdatedAt); err != nil {
			return nil, err
		}
		run.DedupeKey = dedupeKey.String
		run.Status = schema.RunStatus(status)
		run.SynthesizerID = synthID.Int64
		run.RequiresQA = requiresQA != 0
		if err := json.Unmarshal([]byte(planJSON), &run.Plan); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
		run.Output = rawOrNil(outputJSON)
		run.Error = rawOrNil(errorJSON)
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if completed.Valid {
			run.CompletedAt = &completed.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

// --- Tasks ---

func (s *LibSQLStore) UpsertTask(ctx context.Context, task *TaskRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (run_id, node_key, stage_index, node_index, executor_id, executor_name, status, input, output, error, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node_key) DO UPDATE SET
		   status=excluded.status, input=excluded.input, output=excluded.output, error=excluded.error,
		   started_at=excluded.started_at, completed_at=excluded.completed_at, duration_ms=excluded.duration_ms`,
		task.RunID, task.NodeKey, task.StageIndex, task.NodeIndex,
		task.ExecutorID, nullStr(task.ExecutorName), string(task.Status),
		nullStr(task.Input), nullStr(task.Output), nullStr(task.Error),
		nullTime(task.StartedAt), nullTime(task.CompletedAt), task.DurationMs,
	)
	return err
}

func (s *LibSQLStore) GetTask(ctx context.Context, runID, nodeKey string) (*TaskRecord, error) {
	t := &TaskRecord{}
	var execName, input, output, errMsg sql.NullString
	var status string
	var startedAt, completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, node_key, stage_index, node_index, executor_id, executor_name, status, input, output, error, started_at, completed_at, duration_ms
		 FROM tasks WHERE run_id = ? AND node_key = ?`, runID, nodeKey,
	).Scan(&t.RunID, &t.NodeKey, &t.StageIndex, &t.NodeIndex, &t.ExecutorID, &execName,
		&status, &input, &output, &errMsg, &startedAt, &completedAt, &t.DurationMs)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("task", runID+"/"+nodeKey)
	}
	if err != nil {
		return nil, err
	}
	t.ExecutorName = execName.String
	t.Status = schema.TaskStatus(status)
	t.Input = input.String
	t.Output = output.String
	t.Error = errMsg.String
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

func (s *LibSQLStore) ListTasks(ctx context.Context, runID string) ([]*TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, node_key, stage_index, node_index, executor_id, executor_name, status, input, output, error, started_at, completed_at, duration_ms
		 FROM tasks WHERE run_id = ? ORDER BY stage_index, node_index`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*TaskRecord
	for rows.Next() {
		t := &TaskRecord{}
		var execName, input, output, errMsg sql.NullString
		var status string
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&t.RunID, &t.NodeKey, &t.StageIndex, &t.NodeIndex, &t.ExecutorID, &execName,
			&status, &input, &output, &errMsg, &startedAt, &completedAt, &t.DurationMs); err != nil {
			return nil, err
		}
		t.ExecutorName = execName.String
		t.Status = schema.TaskStatus(status)
		t.Input = input.String
		t.Output = output.String
		t.Error = errMsg.String
		if startedAt.Valid {
			t.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.Time
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Get next sequence number for this run
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	payload := nullRaw(event.Payload)
	ts := timeOrNow(event.Timestamp)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, node_key, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeKey), event.Type, payload, ts, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_key, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	var where []string
	var args []any

	where = append(where, "event_type = ?")
	args = append(args, eventType)

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.NodeKey != "" {
		where = append(where, "node_key = ?")
		args = append(args, filter.NodeKey)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, run_id, node_key, event_type, payload, timestamp, sequence FROM events`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeKey, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &nodeKey, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeKey = nodeKey.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Executors ---

func (s *LibSQLStore) SaveExecutor(ctx context.Context, exec *ExecutorRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executors (id, name, role, description, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role, description=excluded.description`,
		exec.ID, exec.Name, string(exec.Role), nullStr(exec.Description), timeOrNow(exec.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecutor(ctx context.Context, id int64) (*ExecutorRecord, error) {
	e := &ExecutorRecord{}
	var role string
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, role, description, created_at FROM executors WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &role, &desc, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("executor", fmt.Sprint(id))
	}
	if err != nil {
		return nil, err
	}
	e.Role = schema.ExecutorRole(role)
	e.Description = desc.String
	return e, nil
}

func (s *LibSQLStore) ListExecutors(ctx context.Context) ([]*ExecutorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, role, description, created_at FROM executors ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*ExecutorRecord
	for rows.Next() {
		e := &ExecutorRecord{}
		var role string
		var desc sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &role, &desc, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Role = schema.ExecutorRole(role)
		e.Description = desc.String
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, name, cron_expression, plan, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.CronExpression, string(job.Plan), boolInt(job.Enabled),
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), timeOrNow(job.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	j := &ScheduledJob{}
	var planJSON string
	var enabled int
	var lastRunAt, nextRunAt sql.NullTime
	var lastStatus sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, cron_expression, plan, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Name, &j.CronExpression, &planJSON, &enabled, &lastRunAt, &nextRunAt, &lastStatus, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled_job", id)
	}
	if err != nil {
		return nil, err
	}
	j.Plan = json.RawMessage(planJSON)
	j.Enabled = enabled != 0
	j.LastRunStatus = lastStatus.String
	if lastRunAt.Valid {
		j.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		j.NextRunAt = &nextRunAt.Time
	}
	return j, nil
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}

	query := `SELECT id, name, cron_expression, plan, enabled, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		j := &ScheduledJob{}
		var planJSON string
		var enabled int
		var lastRunAt, nextRunAt sql.NullTime
		var lastStatus sql.NullString
		if err := rows.Scan(&j.ID, &j.Name, &j.CronExpression, &planJSON, &enabled, &lastRunAt, &nextRunAt, &lastStatus, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.Plan = json.RawMessage(planJSON)
		j.Enabled = enabled != 0
		j.LastRunStatus = lastStatus.String
		if lastRunAt.Valid {
			j.LastRunAt = &lastRunAt.Time
		}
		if nextRunAt.Valid {
			j.NextRunAt = &nextRunAt.Time
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_job", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.EnsembleError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
