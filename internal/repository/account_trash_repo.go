package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"survey-platform/internal/model"
)

const accountTrashColumns = `id, user_id, username,
	author_user_id, author_username, author_role, author_ip,
	delete_all, status, metadata, periodic_task_id, created_at, updated_at`

type AccountTrashRepository struct {
	pool *pgxpool.Pool
}

func NewAccountTrashRepository(pool *pgxpool.Pool) *AccountTrashRepository {
	return &AccountTrashRepository{pool: pool}
}

func (r *AccountTrashRepository) Create(ctx context.Context, rec model.AccountTrash) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal trash metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO account_trash
		 (id, user_id, username, author_user_id, author_username, author_role, author_ip,
		  delete_all, status, metadata, periodic_task_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))`,
		rec.ID, rec.UserID, rec.Username,
		rec.RequestAuthor.UserID, rec.RequestAuthor.Username, rec.RequestAuthor.Role, rec.RequestAuthor.IP,
		rec.DeleteAll, rec.Status, metadata, rec.PeriodicTaskID)
	if isUniqueViolation(err) {
		return model.ErrAlreadyTrashed
	}
	if err != nil {
		return fmt.Errorf("create account trash record: %w", err)
	}
	return nil
}

// ClaimForPurge takes a row lock on the record, verifies no other worker owns
// it and no sibling project purge is running, then marks it in_progress with
// a cleared failure error. All of that commits as one transaction.
//
// Returns ErrTrashAlreadyInProgress when another worker holds the record and
// ErrPurgeTaskInProgress when a project purge for the same owner is running.
func (r *AccountTrashRepository) ClaimForPurge(ctx context.Context, id string) (model.AccountTrash, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.AccountTrash{}, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := scanAccountTrash(tx.QueryRow(ctx,
		`SELECT `+accountTrashColumns+` FROM account_trash WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.AccountTrash{}, err
	}

	if rec.Status == model.TrashStatusInProgress {
		return rec, model.ErrTrashAlreadyInProgress
	}

	var siblingRunning bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM project_trash
			WHERE owner_id = $1 AND status = $2
		 )`, rec.UserID, model.TrashStatusInProgress).Scan(&siblingRunning)
	if err != nil {
		return model.AccountTrash{}, fmt.Errorf("check sibling project purges: %w", err)
	}
	if siblingRunning {
		// Let the project tasks finish; the runner retries this task later.
		return rec, model.ErrPurgeTaskInProgress
	}

	rec.Status = model.TrashStatusInProgress
	rec.Metadata.FailureError = ""
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return model.AccountTrash{}, fmt.Errorf("marshal trash metadata: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE account_trash SET status = $2, metadata = $3, updated_at = now() WHERE id = $1`,
		id, rec.Status, metadata)
	if err != nil {
		return model.AccountTrash{}, fmt.Errorf("claim account trash record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.AccountTrash{}, fmt.Errorf("commit claim: %w", err)
	}
	return rec, nil
}

// MarkRetry stores the latest error and flags the record as waiting for the
// runner's next attempt. The previous error is overwritten, not appended.
func (r *AccountTrashRepository) MarkRetry(ctx context.Context, id string, errText string) error {
	return r.storeFailure(ctx, id, model.TrashStatusRetry, errText)
}

// MarkFailed stores the latest error and puts the record in its terminal
// failed state.
func (r *AccountTrashRepository) MarkFailed(ctx context.Context, id string, errText string) error {
	return r.storeFailure(ctx, id, model.TrashStatusFailed, errText)
}

func (r *AccountTrashRepository) storeFailure(ctx context.Context, id string, status model.TrashStatus, errText string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failure update: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := scanAccountTrash(tx.QueryRow(ctx,
		`SELECT `+accountTrashColumns+` FROM account_trash WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}

	rec.Metadata.FailureError = errText
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal trash metadata: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE account_trash SET status = $2, metadata = $3, updated_at = now() WHERE id = $1`,
		id, status, metadata)
	if err != nil {
		return fmt.Errorf("store account trash failure: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *AccountTrashRepository) FindByID(ctx context.Context, id string) (model.AccountTrash, error) {
	return scanAccountTrash(r.pool.QueryRow(ctx,
		`SELECT `+accountTrashColumns+` FROM account_trash WHERE id = $1`, id))
}

func (r *AccountTrashRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM account_trash WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account trash record: %w", err)
	}
	return nil
}

func (r *AccountTrashRepository) List(ctx context.Context) ([]model.AccountTrash, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accountTrashColumns+` FROM account_trash ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list account trash: %w", err)
	}
	defer rows.Close()

	records := make([]model.AccountTrash, 0)
	for rows.Next() {
		rec, err := scanAccountTrash(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ResetStale flips in_progress records untouched since the cutoff back to
// retry so the garbage collector can requeue them after a worker crash.
func (r *AccountTrashRepository) ResetStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE account_trash SET status = $1, updated_at = now()
		 WHERE status = $2 AND updated_at < $3
		 RETURNING id`,
		model.TrashStatusRetry, model.TrashStatusInProgress, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reset stale account trash: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale account trash id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanAccountTrash(row pgx.Row) (model.AccountTrash, error) {
	var rec model.AccountTrash
	var metadata []byte
	var periodicTaskID *string

	err := row.Scan(&rec.ID, &rec.UserID, &rec.Username,
		&rec.RequestAuthor.UserID, &rec.RequestAuthor.Username,
		&rec.RequestAuthor.Role, &rec.RequestAuthor.IP,
		&rec.DeleteAll, &rec.Status, &metadata, &periodicTaskID,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AccountTrash{}, model.ErrTrashRecordNotFound
	}
	if err != nil {
		return model.AccountTrash{}, fmt.Errorf("scan account trash record: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return model.AccountTrash{}, fmt.Errorf("unmarshal trash metadata: %w", err)
		}
	}
	if periodicTaskID != nil {
		rec.PeriodicTaskID = *periodicTaskID
	}
	return rec, nil
}
