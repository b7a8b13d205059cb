package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"survey-platform/internal/model"
)

const periodicTaskColumns = `id, name, task, record_id, enabled, one_off,
	interval_seconds, next_run_at, last_run_at, created_at, updated_at`

type PeriodicTaskRepository struct {
	pool *pgxpool.Pool
}

func NewPeriodicTaskRepository(pool *pgxpool.Pool) *PeriodicTaskRepository {
	return &PeriodicTaskRepository{pool: pool}
}

func (r *PeriodicTaskRepository) Create(ctx context.Context, task model.PeriodicTask) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO periodic_tasks
		 (id, name, task, record_id, enabled, one_off, interval_seconds, next_run_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, task.Name, task.Task, task.RecordID,
		task.Enabled, task.OneOff, int64(task.Interval.Seconds()), task.NextRunAt)
	if err != nil {
		return fmt.Errorf("create periodic task: %w", err)
	}
	return r.MarkChanged(ctx)
}

// EnsureRecurring seeds a recurring entry at startup. An existing entry keeps
// its state; only the interval follows configuration changes.
func (r *PeriodicTaskRepository) EnsureRecurring(ctx context.Context, task model.PeriodicTask) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO periodic_tasks
		 (id, name, task, record_id, enabled, one_off, interval_seconds, next_run_at)
		 VALUES ($1, $2, $3, $4, TRUE, FALSE, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET interval_seconds = EXCLUDED.interval_seconds`,
		task.ID, task.Name, task.Task, task.RecordID,
		int64(task.Interval.Seconds()), task.NextRunAt)
	if err != nil {
		return fmt.Errorf("ensure recurring periodic task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return r.MarkChanged(ctx)
	}
	return nil
}

func (r *PeriodicTaskRepository) FindByID(ctx context.Context, id string) (model.PeriodicTask, error) {
	return scanPeriodicTask(r.pool.QueryRow(ctx,
		`SELECT `+periodicTaskColumns+` FROM periodic_tasks WHERE id = $1`, id))
}

// Delete releases a schedule entry. Deleting an already-released task is a
// no-op so a retried purge can release its schedule again safely.
func (r *PeriodicTaskRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM periodic_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete periodic task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	return r.MarkChanged(ctx)
}

// ListDue returns enabled entries whose next_run_at has passed.
func (r *PeriodicTaskRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.PeriodicTask, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+periodicTaskColumns+`
		 FROM periodic_tasks
		 WHERE enabled AND next_run_at <= $1
		 ORDER BY next_run_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due periodic tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]model.PeriodicTask, 0)
	for rows.Next() {
		task, err := scanPeriodicTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// List returns every schedule entry; the beat loop uses it to rebuild its
// cache after the changed sentinel moves.
func (r *PeriodicTaskRepository) List(ctx context.Context) ([]model.PeriodicTask, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+periodicTaskColumns+` FROM periodic_tasks ORDER BY next_run_at`)
	if err != nil {
		return nil, fmt.Errorf("list periodic tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]model.PeriodicTask, 0)
	for rows.Next() {
		task, err := scanPeriodicTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// MarkDispatched records a dispatch: one-off entries are disabled, recurring
// entries are re-armed with their interval.
func (r *PeriodicTaskRepository) MarkDispatched(ctx context.Context, task model.PeriodicTask, now time.Time) error {
	var err error
	if task.OneOff {
		_, err = r.pool.Exec(ctx,
			`UPDATE periodic_tasks
			 SET enabled = FALSE, last_run_at = $2, updated_at = now()
			 WHERE id = $1`, task.ID, now)
	} else {
		_, err = r.pool.Exec(ctx,
			`UPDATE periodic_tasks
			 SET last_run_at = $2, next_run_at = $3, updated_at = now()
			 WHERE id = $1`, task.ID, now, now.Add(task.Interval))
	}
	if err != nil {
		return fmt.Errorf("mark periodic task dispatched: %w", err)
	}
	return nil
}

// MarkChanged bumps the sentinel the beat loop watches, forcing it to reload
// its cached schedule before the next tick.
func (r *PeriodicTaskRepository) MarkChanged(ctx context.Context) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE scheduler_state SET changed_at = clock_timestamp() WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("mark schedule changed: %w", err)
	}
	return nil
}

func (r *PeriodicTaskRepository) LastChanged(ctx context.Context) (time.Time, error) {
	var changedAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT changed_at FROM scheduler_state WHERE id = 1`).Scan(&changedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("read schedule sentinel: %w", err)
	}
	return changedAt, nil
}

func scanPeriodicTask(row pgx.Row) (model.PeriodicTask, error) {
	var task model.PeriodicTask
	var intervalSeconds int64
	var lastRunAt *time.Time

	err := row.Scan(&task.ID, &task.Name, &task.Task, &task.RecordID,
		&task.Enabled, &task.OneOff, &intervalSeconds,
		&task.NextRunAt, &lastRunAt, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PeriodicTask{}, model.ErrPeriodicTaskNotFound
	}
	if err != nil {
		return model.PeriodicTask{}, fmt.Errorf("scan periodic task: %w", err)
	}

	task.Interval = time.Duration(intervalSeconds) * time.Second
	task.LastRunAt = lastRunAt
	return task, nil
}
