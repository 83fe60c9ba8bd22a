package mysql

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

	// lockRow is the task_meta row every queue mutation locks.
	lockRow = "queue_lock"

	lockQuery = `SELECT value FROM task_meta WHERE name = ? FOR UPDATE`

	upsertSetting = `
		INSERT INTO task_meta (name, value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)`

	// noLimit stands in for an absent LIMIT, which MySQL requires with OFFSET.
	noLimit = "18446744073709551615"
)

// MySQLTaskStore implements task.Store on MySQL.
type MySQLTaskStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewMySQLTaskStore creates a MySQLTaskStore over db.
func NewMySQLTaskStore(db *sql.DB) *MySQLTaskStore {
	return &MySQLTaskStore{
		db:          db,
		lockTimeout: 10 * time.Second,
	}
}

// Ready returns task.ErrStoreNotReady when a task table or the lock row is
// missing.
func (s *MySQLTaskStore) Ready(ctx context.Context) error {
	var tables int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE()
		  AND TABLE_NAME IN ('queued_tasks', 'running_tasks', 'task_meta')`,
	).Scan(&tables)
	if err != nil {
		return s.fail(ctx, "ready", err)
	}
	if tables < 3 {
		return task.ErrStoreNotReady
	}

	_, ok, err := s.Setting(ctx, lockRow)
	if err != nil {
		return err
	}
	if !ok {
		return task.ErrStoreNotReady
	}
	return nil
}

// Insert appends t to the queued table.
func (s *MySQLTaskStore) Insert(ctx context.Context, t *task.Task) (*task.Task, error) {
	saved, err := s.insert(ctx, s.db, t)
	if err != nil {
		return nil, s.fail(ctx, "insert", err)
	}
	return saved, nil
}

func (s *MySQLTaskStore) insert(ctx context.Context, db store.DBTX, t *task.Task) (*task.Task, error) {
	cb, params, err := encode(t)
	if err != nil {
		return nil, err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO queued_tasks (kind, callback, parameters, priority, description)
		VALUES (?, ?, ?, ?, ?)`,
		kindOrDefault(t.Kind), cb, params, int(t.Priority.Clamp()), t.Description,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get lastInsertId: %w", err)
	}

	saved := *t
	saved.ID = id
	saved.StartedAt = nil
	return &saved, nil
}

// InsertUnique inserts t unless an equal task is queued or running.
func (s *MySQLTaskStore) InsertUnique(ctx context.Context, t *task.Task, matchParams bool) (*task.Task, error) {
	cb, params, err := encode(t)
	if err != nil {
		return nil, err
	}
	if !matchParams {
		params = nil
	}

	var inserted *task.Task
	err = s.locked(ctx, func(ctx context.Context, tx *sql.Tx) error {
		where, args := matchClause(cb, params)
		priority := int(t.Priority.Clamp())
		if _, err := tx.ExecContext(ctx,
			`UPDATE queued_tasks SET priority = ? WHERE priority > ? AND `+where,
			append([]any{priority, priority}, args...)...,
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
func (s *MySQLTaskStore) Exists(ctx context.Context, cb task.Callback, params task.Params) (bool, error) {
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
func (s *MySQLTaskStore) Get(ctx context.Context, id int64) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+`, NULL FROM queued_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, s.fail(ctx, "get", err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+`, started_at FROM running_tasks WHERE id = ?`, id)
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
func (s *MySQLTaskStore) RunningExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM running_tasks WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, s.fail(ctx, "running_exists", err)
	}
	return exists, nil
}

// Count returns the number of rows in set matching q.
func (s *MySQLTaskStore) Count(ctx context.Context, set task.Set, q task.Query, orphanedBefore time.Time) (int, error) {
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
func (s *MySQLTaskStore) List(ctx context.Context, set task.Set, q task.Query, orphanedBefore time.Time) ([]*task.Task, error) {
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
		b.WriteString(`, NULL FROM queued_tasks`)
		b.WriteString(where)
		b.WriteString(` ORDER BY priority, id`)
	}
	switch {
	case q.Count > 0:
		b.WriteString(` LIMIT ?`)
		args = append(args, q.Count)
	case q.Offset > 0:
		b.WriteString(` LIMIT ` + noLimit)
	}
	if q.Offset > 0 {
		b.WriteString(` OFFSET ?`)
		args = append(args, q.Offset)
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
func (s *MySQLTaskStore) Delete(ctx context.Context, id int64) (int64, error) {
	var total int64
	err := s.locked(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, table := range []string{"queued_tasks", "running_tasks"} {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
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
func (s *MySQLTaskStore) DeleteRunning(ctx context.Context, id int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM running_tasks WHERE id = ?`, id)
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
func (s *MySQLTaskStore) Claim(ctx context.Context, maxRunning int, now time.Time) (*task.Task, error) {
	startedAt := now.UTC().Round(time.Microsecond)

	var claimed *task.Task
	err := s.locked(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var running int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM running_tasks`).Scan(&running); err != nil {
			return err
		}
		if running >= maxRunning {
			return nil
		}

		row := tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+`, NULL FROM queued_tasks ORDER BY priority, id LIMIT 1`)
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM queued_tasks WHERE id = ?`, t.ID); err != nil {
			return err
		}
		cb, params, err := encode(t)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO running_tasks (`+taskColumns+`, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, kindOrDefault(t.Kind), cb, params, int(t.Priority), t.Description, startedAt,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, upsertSetting,
			task.SettingLastRunAt, startedAt.Format(time.RFC3339Nano)); err != nil {
			return err
		}
		t.StartedAt = &startedAt
		claimed = t
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "claim", err)
	}
	return claimed, nil
}

// Requeue moves id from the running table back to the queued table.
func (s *MySQLTaskStore) Requeue(ctx context.Context, id int64, priority *task.Priority) (bool, error) {
	moved := false
	err := s.locked(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+`, started_at FROM running_tasks WHERE id = ?`, id)
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if priority != nil {
			t.Priority = priority.Clamp()
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM running_tasks WHERE id = ?`, id); err != nil {
			return err
		}
		cb, params, err := encode(t)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO queued_tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, kindOrDefault(t.Kind), cb, params, int(t.Priority), t.Description,
		); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, s.fail(ctx, "requeue", err)
	}
	return moved, nil
}

// PruneRunning deletes the oldest running rows beyond keep.
func (s *MySQLTaskStore) PruneRunning(ctx context.Context, keep int) (int64, error) {
	// The derived table lets MySQL delete from the table it selects from.
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM running_tasks
		WHERE id IN (
			SELECT id FROM (
				SELECT id FROM running_tasks
				ORDER BY started_at DESC, id DESC
				LIMIT `+noLimit+` OFFSET ?
			) AS excess
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

// NextID returns the queued table's AUTO_INCREMENT counter.
func (s *MySQLTaskStore) NextID(ctx context.Context) (int64, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, s.fail(ctx, "next_id", err)
	}
	defer func() { _ = conn.Close() }()

	// MySQL 8 caches information_schema statistics; older servers reject the
	// variable and never cache.
	_, _ = conn.ExecContext(ctx, `SET SESSION information_schema_stats_expiry = 0`)

	var next sql.NullInt64
	err = conn.QueryRowContext(ctx, `
		SELECT AUTO_INCREMENT FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = 'queued_tasks'`,
	).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, task.ErrStoreNotReady
	}
	if err != nil {
		return 0, s.fail(ctx, "next_id", err)
	}
	if !next.Valid {
		return 1, nil
	}
	return next.Int64, nil
}

// ResetQueued truncates the queued table, restarting its AUTO_INCREMENT
// counter, provided it is still empty once the lock is held.
func (s *MySQLTaskStore) ResetQueued(ctx context.Context) (bool, error) {
	reset := false
	err := s.locked(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var queued int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM queued_tasks`).Scan(&queued); err != nil {
			return err
		}
		if queued > 0 {
			return nil
		}
		// TRUNCATE commits implicitly, releasing the lock row; it must stay the
		// last statement of the transaction.
		if _, err := tx.ExecContext(ctx, `TRUNCATE TABLE queued_tasks`); err != nil {
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
func (s *MySQLTaskStore) Setting(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM task_meta WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail(ctx, "setting", err)
	}
	return value, true, nil
}

// SetSetting upserts a scalar in task_meta.
func (s *MySQLTaskStore) SetSetting(ctx context.Context, name, value string) error {
	if name == lockRow {
		return fmt.Errorf("%w: %s is reserved", store.ErrInvalidEntity, name)
	}
	if _, err := s.db.ExecContext(ctx, upsertSetting, name, value); err != nil {
		return s.fail(ctx, "set_setting", err)
	}
	return nil
}

// locked runs fn in a transaction holding the queue lock row.
func (s *MySQLTaskStore) locked(ctx context.Context, fn store.TxFn) error {
	return store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if s.lockTimeout > 0 {
			seconds := int(s.lockTimeout.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`SET SESSION innodb_lock_wait_timeout = %d`, seconds)); err != nil {
				return err
			}
		}
		var value string
		err := tx.QueryRowContext(ctx, lockQuery, lockRow).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return task.ErrStoreNotReady
		}
		if err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func (s *MySQLTaskStore) fail(ctx context.Context, op string, err error) error {
	if errors.Is(err, task.ErrStoreNotReady) {
		return err
	}
	if IsUndefinedTable(err) {
		return fmt.Errorf("%w: %v", task.ErrStoreNotReady, err)
	}
	mapped := MapError(err)
	logger.FromContext(ctx).Error("task store operation failed",
		"store", "mysql",
		"operation", op,
		redact.Attr(mapped))
	return store.NewOpError("mysql", op, mapped)
}

func existsIn(ctx context.Context, db store.DBTX, cb, params []byte) (bool, error) {
	where, args := matchClause(cb, params)
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM queued_tasks WHERE `+where+`)
		     OR EXISTS (SELECT 1 FROM running_tasks WHERE `+where+`)`,
		append(args, args...)...).Scan(&exists)
	return exists, err
}

// matchClause compares the encoded callback, and the parameters when given.
func matchClause(cb, params []byte) (string, []any) {
	if params == nil {
		return "callback = ?", []any{cb}
	}
	return "callback = ? AND parameters = ?", []any{cb, params}
}

func filterClause(set task.Set, q task.Query, orphanedBefore time.Time) (string, []any, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}

	if q.Callback != nil {
		cb, err := q.Callback.Encode()
		if err != nil {
			return "", nil, err
		}
		add("callback = ?", cb)
	}
	if q.Params != nil {
		params, err := q.Params.Encode()
		if err != nil {
			return "", nil, err
		}
		add("parameters = ?", params)
	}
	if q.Priority != nil {
		add("priority = ?", int(q.Priority.Clamp()))
	}
	if q.Description != nil {
		add("description = ?", *q.Description)
	}
	if set == task.SetRunning && !orphanedBefore.IsZero() {
		add("started_at < ?", orphanedBefore.UTC())
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
		at := started.Time.UTC()
		t.StartedAt = &at
	}
	return &t, nil
}

var _ task.Store = (*MySQLTaskStore)(nil)
