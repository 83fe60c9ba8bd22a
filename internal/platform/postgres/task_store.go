package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/taskpump/internal/platform/logger"
	"github.com/phrazzld/taskpump/internal/redact"
	"github.com/phrazzld/taskpump/internal/store"
	"github.com/phrazzld/taskpump/internal/task"
)

const (
	taskColumns = "id, kind, callback, parameters, priority, description"

	lockTables = `LOCK TABLE queued_tasks, running_tasks IN SHARE ROW EXCLUSIVE MODE`

	upsertSetting = `
		INSERT INTO task_meta (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`
)

// PostgresTaskStore implements task.Store on PostgreSQL.
type PostgresTaskStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewPostgresTaskStore creates a PostgresTaskStore over db.
func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:          db,
		lockTimeout: 10 * time.Second,
	}
}

// Ready returns task.ErrStoreNotReady when a task table is missing.
func (s *PostgresTaskStore) Ready(ctx context.Context) error {
	var queued, running, meta sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT to_regclass('queued_tasks')::text, to_regclass('running_tasks')::text, to_regclass('task_meta')::text`,
	).Scan(&queued, &running, &meta)
	if err != nil {
		return s.fail(ctx, "ready", err)
	}
	if !queued.Valid || !running.Valid || !meta.Valid {
		return task.ErrStoreNotReady
	}
	return nil
}

// Insert appends t to the queued table.
func (s *PostgresTaskStore) Insert(ctx context.Context, t *task.Task) (*task.Task, error) {
	saved, err := s.insert(ctx, s.db, t)
	if err != nil {
		return nil, s.fail(ctx, "insert", err)
	}
	return saved, nil
}

func (s *PostgresTaskStore) insert(ctx context.Context, db store.DBTX, t *task.Task) (*task.Task, error) {
	cb, params, err := encode(t)
	if err != nil {
		return nil, err
	}
	saved := *t
	saved.StartedAt = nil
	err = db.QueryRowContext(ctx, `
		INSERT INTO queued_tasks (kind, callback, parameters, priority, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		kindOrDefault(t.Kind), cb, params, int(t.Priority.Clamp()), t.Description,
	).Scan(&saved.ID)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// InsertUnique inserts t unless an equal task is queued or running.
func (s *PostgresTaskStore) InsertUnique(ctx context.Context, t *task.Task, matchParams bool) (*task.Task, error) {
	cb, params, err := encode(t)
	if err != nil {
		return nil, err
	}
	if !matchParams {
		params = nil
	}

	var inserted *task.Task
	err = s.locked(ctx, func(ctx context.Context, tx *sql.Tx) error {
		where, args := matchClause(cb, params, 2)
		if _, err := tx.ExecContext(ctx,
			`UPDATE queued_tasks SET priority = $1 WHERE priority > $1 AND `+where,
			append([]any{int(t.Priority.Clamp())}, args...)...,
		); err != nil {
			return err
		}

		exists, err := existsIn(ctx, tx, cb, params)
		if err != nil || exists {
			return err
		}
		inserted, err = s.insert(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, "insert_unique", err)
	}
	return inserted, nil
}

// Exists reports whether a matching task is queued or running.
func (s *PostgresTaskStore) Exists(ctx context.Context, cb task.Callback, params task.Params) (bool, error) {
	encodedCb, err := cb.Encode()
	if err != nil {
		return false, err
	}
	var encodedParams []byte
	if params != nil {
		if encodedParams, err = params.Encode(); err != nil {
			return false, err
		}
	}
	exists, err := existsIn(ctx, s.db, encodedCb, encodedParams)
	if err != nil {
		return false, s.fail(ctx, "exists", err)
	}
	return exists, nil
}

// Get looks in the queued table first, then the running table.
func (s *PostgresTaskStore) Get(ctx context.Context, id int64) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+`, NULL::timestamptz FROM queued_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, s.fail(ctx, "get", err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+`, started_at FROM running_tasks WHERE id = $1`, id)
	t, err = scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, s.fail(ctx, "get", err)
	}
	return t, nil
}

// RunningExists reports whether id is in the running table.
func (s *PostgresTaskStore) RunningExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM running_tasks WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, s.fail(ctx, "running_exists", err)
	}
	return exists, nil
}

// Count returns the number of rows in set matching q.
func (s *PostgresTaskStore) Count(ctx context.Context, set task.Set, q task.Query, orphanedBefore time.Time) (int, error) {
	where, args, err := filterClause(set, q, orphanedBefore)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM `+tableFor(set)+where, args...).Scan(&n); err != nil {
		return 0, s.fail(ctx, "count", err)
	}
	return n, nil
}

// List returns the page of rows in set matching q.
func (s *PostgresTaskStore) List(ctx context.Context, set task.Set, q task.Query, orphanedBefore time.Time) ([]*task.Task, error) {
	where, args, err := filterClause(set, q, orphanedBefore)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + taskColumns)
	if set == task.SetRunning {
		b.WriteString(`, started_at FROM running_tasks`)
		b.WriteString(where)
		b.WriteString(` ORDER BY started_at, id`)
	} else {
		b.WriteString(`, NULL::timestamptz FROM queued_tasks`)
		b.WriteString(where)
		b.WriteString(` ORDER BY priority, id`)
	}
	if q.Count > 0 {
		args = append(args, q.Count)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&b, ` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, s.fail(ctx, "list", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, s.fail(ctx, "list", err)
		}
		if t.IsPeriodic() {
			t.Params = nil
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, "list", err)
	}
	return tasks, nil
}

// Delete removes id from both tables.
func (s *PostgresTaskStore) Delete(ctx context.Context, id int64) (int64, error) {
	var total int64
	err := s.locked(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, table := range []string{"queued_tasks", "running_tasks"} {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, s.fail(ctx, "delete", err)
	}
	return total, nil
}

// DeleteRunning removes id from the running table.
func (s *PostgresTaskStore) DeleteRunning(ctx context.Context, id int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM running_tasks WHERE id = $1`, id)
	if err != nil {
		return 0, s.fail(ctx, "delete_running", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail(ctx, "delete_running", err)
	}
	return n, nil
}

// Claim moves the front of the queue into the running table.
func (s *PostgresTaskStore) Claim(ctx context.Context, maxRunning int, now time.Time) (*task.Task, error) {
	var claimed *task.Task
	err := s.locked(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var running int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM running_tasks`).Scan(&running); err != nil {
			return err
		}
		if running >= maxRunning {
			return nil
		}

		row := tx.QueryRowContext(ctx, `
			WITH next AS (
				DELETE FROM queued_tasks
				WHERE id = (SELECT id FROM queued_tasks ORDER BY priority, id LIMIT 1)
				RETURNING `+taskColumns+`
			)
			INSERT INTO running_tasks (`+taskColumns+`, started_at)
			SELECT `+taskColumns+`, $1 FROM next
			RETURNING `+taskColumns+`, started_at`,
			now.UTC())
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, upsertSetting,
			task.SettingLastRunAt, now.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
		claimed = t
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "claim", err)
	}
	return claimed, nil
}

// Requeue moves id from the running table back to the queued table.
func (s *PostgresTaskStore) Requeue(ctx context.Context, id int64, priority *task.Priority) (bool, error) {
	var p sql.NullInt16
	if priority != nil {
		p = sql.NullInt16{Int16: int16(priority.Clamp()), Valid: true}
	}

	moved := false
	err := s.locked(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			WITH moved AS (
				DELETE FROM running_tasks WHERE id = $1
				RETURNING `+taskColumns+`
			)
			INSERT INTO queued_tasks (`+taskColumns+`)
			SELECT id, kind, callback, parameters, COALESCE($2::smallint, priority), description
			FROM moved`,
			id, p)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		moved = n > 0
		return nil
	})
	if err != nil {
		return false, s.fail(ctx, "requeue", err)
	}
	return moved, nil
}

// PruneRunning deletes the oldest running rows beyond keep.
func (s *PostgresTaskStore) PruneRunning(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM running_tasks
		WHERE id IN (
			SELECT id FROM running_tasks
			ORDER BY started_at DESC, id DESC
			OFFSET $1
		)`, keep)
	if err != nil {
		return 0, s.fail(ctx, "prune_running", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail(ctx, "prune_running", err)
	}
	return n, nil
}

// NextID returns the value the queued identity sequence hands out next.
func (s *PostgresTaskStore) NextID(ctx context.Context) (int64, error) {
	var seq string
	if err := s.db.QueryRowContext(ctx,
		`SELECT pg_get_serial_sequence('queued_tasks', 'id')`).Scan(&seq); err != nil {
		return 0, s.fail(ctx, "next_id", err)
	}

	var last int64
	var called bool
	// seq comes from the catalog, already quoted where needed.
	if err := s.db.QueryRowContext(ctx,
		`SELECT last_value, is_called FROM `+seq).Scan(&last, &called); err != nil {
		return 0, s.fail(ctx, "next_id", err)
	}
	if called {
		return last + 1, nil
	}
	return last, nil
}

// ResetQueued truncates the queued table and restarts its identity, provided
// it is still empty once the lock is held.
func (s *PostgresTaskStore) ResetQueued(ctx context.Context) (bool, error) {
	reset := false
	err := s.locked(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var queued int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM queued_tasks`).Scan(&queued); err != nil {
			return err
		}
		if queued > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `TRUNCATE queued_tasks RESTART IDENTITY`); err != nil {
			return err
		}
		reset = true
		return nil
	})
	if err != nil {
		return false, s.fail(ctx, "reset_queued", err)
	}
	return reset, nil
}

// Setting returns a scalar from task_meta.
func (s *PostgresTaskStore) Setting(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM task_meta WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail(ctx, "setting", err)
	}
	return value, true, nil
}

// SetSetting upserts a scalar in task_meta.
func (s *PostgresTaskStore) SetSetting(ctx context.Context, name, value string) error {
	if _, err := s.db.ExecContext(ctx, upsertSetting, name, value); err != nil {
		return s.fail(ctx, "set_setting", err)
	}
	return nil
}

// locked runs fn in a transaction holding the queue lock.
func (s *PostgresTaskStore) locked(ctx context.Context, fn store.TxFn) error {
	return store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if s.lockTimeout > 0 {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`SET LOCAL lock_timeout = '%dms'`, s.lockTimeout.Milliseconds())); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, lockTables); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func (s *PostgresTaskStore) fail(ctx context.Context, op string, err error) error {
	if IsUndefinedTable(err) {
		return fmt.Errorf("%w: %v", task.ErrStoreNotReady, err)
	}
	mapped := MapError(err)
	logger.FromContext(ctx).Error("task store operation failed",
		"store", "postgres",
		"operation", op,
		redact.Attr(mapped))
	return store.NewOpError("postgres", op, mapped)
}

func existsIn(ctx context.Context, db store.DBTX, cb, params []byte) (bool, error) {
	where, args := matchClause(cb, params, 1)
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM queued_tasks WHERE `+where+`)
		     OR EXISTS (SELECT 1 FROM running_tasks WHERE `+where+`)`,
		args...).Scan(&exists)
	return exists, err
}

// matchClause compares the encoded callback, and the parameters when given,
// using placeholders numbered from first.
func matchClause(cb, params []byte, first int) (string, []any) {
	if params == nil {
		return fmt.Sprintf("callback = $%d", first), []any{cb}
	}
	return fmt.Sprintf("callback = $%d AND parameters = $%d", first, first+1), []any{cb, params}
}

func filterClause(set task.Set, q task.Query, orphanedBefore time.Time) (string, []any, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.Callback != nil {
		cb, err := q.Callback.Encode()
		if err != nil {
			return "", nil, err
		}
		add("callback = $%d", cb)
	}
	if q.Params != nil {
		params, err := q.Params.Encode()
		if err != nil {
			return "", nil, err
		}
		add("parameters = $%d", params)
	}
	if q.Priority != nil {
		add("priority = $%d", int(q.Priority.Clamp()))
	}
	if q.Description != nil {
		add("description = $%d", *q.Description)
	}
	if set == task.SetRunning && !orphanedBefore.IsZero() {
		add("started_at < $%d", orphanedBefore.UTC())
	}

	if len(conds) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func tableFor(set task.Set) string {
	if set == task.SetRunning {
		return "running_tasks"
	}
	return "queued_tasks"
}

func kindOrDefault(k task.Kind) string {
	if k == "" {
		return string(task.KindDirect)
	}
	return string(k)
}

func encode(t *task.Task) (cb, params []byte, err error) {
	if cb, err = t.Callback.Encode(); err != nil {
		return nil, nil, err
	}
	if params, err = t.Params.Encode(); err != nil {
		return nil, nil, err
	}
	return cb, params, nil
}

func scanTask(row store.RowScanner) (*task.Task, error) {
	var (
		t        task.Task
		kind     string
		cb       []byte
		params   []byte
		priority int
		started  sql.NullTime
	)
	if err := row.Scan(&t.ID, &kind, &cb, &params, &priority, &t.Description, &started); err != nil {
		return nil, err
	}

	callback, err := task.DecodeCallback(cb)
	if err != nil {
		return nil, err
	}
	decoded, err := task.DecodeParams(params)
	if err != nil {
		return nil, err
	}

	t.Kind = task.Kind(kind)
	t.Callback = callback
	t.Params = decoded
	t.Priority = task.Priority(priority)
	if started.Valid {
		at := started.Time
		t.StartedAt = &at
	}
	return &t, nil
}

var _ task.Store = (*PostgresTaskStore)(nil)
