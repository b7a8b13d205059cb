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

const projectTrashColumns = `id, project_id, project_name, owner_id,
	author_user_id, author_username, author_role, author_ip,
	status, metadata, periodic_task_id, created_at, updated_at, emptied_at`

type ProjectTrashRepository struct {
	pool *pgxpool.Pool
}

func NewProjectTrashRepository(pool *pgxpool.Pool) *ProjectTrashRepository {
	return &ProjectTrashRepository{pool: pool}
}

func (r *ProjectTrashRepository) Create(ctx context.Context, rec model.ProjectTrash) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal trash metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO project_trash
		 (id, project_id, project_name, owner_id,
		  author_user_id, author_username, author_role, author_ip,
		  status, metadata, periodic_task_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))`,
		rec.ID, rec.ProjectID, rec.ProjectName, rec.OwnerID,
		rec.RequestAuthor.UserID, rec.RequestAuthor.Username, rec.RequestAuthor.Role, rec.RequestAuthor.IP,
		rec.Status, metadata, rec.PeriodicTaskID)
	if isUniqueViolation(err) {
		return model.ErrAlreadyTrashed
	}
	if err != nil {
		return fmt.Errorf("create project trash record: %w", err)
	}
	return nil
}

// ClaimForPurge locks the record and marks it in_progress with a cleared
// failure error. Returns ErrTrashAlreadyInProgress when another worker
// already owns it. Projects have no children, so there is no sibling guard.
func (r *ProjectTrashRepository) ClaimForPurge(ctx context.Context, id string) (model.ProjectTrash, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.ProjectTrash{}, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := scanProjectTrash(tx.QueryRow(ctx,
		`SELECT `+projectTrashColumns+` FROM project_trash WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.ProjectTrash{}, err
	}

	if rec.Status == model.TrashStatusInProgress {
		return rec, model.ErrTrashAlreadyInProgress
	}

	rec.Status = model.TrashStatusInProgress
	rec.Metadata.FailureError = ""
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return model.ProjectTrash{}, fmt.Errorf("marshal trash metadata: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE project_trash SET status = $2, metadata = $3, updated_at = now() WHERE id = $1`,
		id, rec.Status, metadata)
	if err != nil {
		return model.ProjectTrash{}, fmt.Errorf("claim project trash record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.ProjectTrash{}, fmt.Errorf("commit claim: %w", err)
	}
	return rec, nil
}

func (r *ProjectTrashRepository) MarkRetry(ctx context.Context, id string, errText string) error {
	return r.storeFailure(ctx, id, model.TrashStatusRetry, errText)
}

func (r *ProjectTrashRepository) MarkFailed(ctx context.Context, id string, errText string) error {
	return r.storeFailure(ctx, id, model.TrashStatusFailed, errText)
}

func (r *ProjectTrashRepository) storeFailure(ctx context.Context, id string, status model.TrashStatus, errText string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failure update: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := scanProjectTrash(tx.QueryRow(ctx,
		`SELECT `+projectTrashColumns+` FROM project_trash WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}

	rec.Metadata.FailureError = errText
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal trash metadata: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE project_trash SET status = $2, metadata = $3, updated_at = now() WHERE id = $1`,
		id, status, metadata)
	if err != nil {
		return fmt.Errorf("store project trash failure: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkComplete retains the record in its terminal state; the garbage
// collector drops it once the retention window passes.
func (r *ProjectTrashRepository) MarkComplete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE project_trash
		 SET status = $2, emptied_at = now(), updated_at = now()
		 WHERE id = $1`,
		id, model.TrashStatusComplete)
	if err != nil {
		return fmt.Errorf("complete project trash record: %w", err)
	}
	return nil
}

func (r *ProjectTrashRepository) FindByID(ctx context.Context, id string) (model.ProjectTrash, error) {
	return scanProjectTrash(r.pool.QueryRow(ctx,
		`SELECT `+projectTrashColumns+` FROM project_trash WHERE id = $1`, id))
}

func (r *ProjectTrashRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM project_trash WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project trash record: %w", err)
	}
	return nil
}

func (r *ProjectTrashRepository) List(ctx context.Context, includeCompleted bool) ([]model.ProjectTrash, error) {
	query := `SELECT ` + projectTrashColumns + ` FROM project_trash`
	if !includeCompleted {
		query += ` WHERE emptied_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list project trash: %w", err)
	}
	defer rows.Close()

	records := make([]model.ProjectTrash, 0)
	for rows.Next() {
		rec, err := scanProjectTrash(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *ProjectTrashRepository) ResetStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE project_trash SET status = $1, updated_at = now()
		 WHERE status = $2 AND updated_at < $3
		 RETURNING id`,
		model.TrashStatusRetry, model.TrashStatusInProgress, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reset stale project trash: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale project trash id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteCompletedBefore removes terminal complete records whose emptied_at
// is older than the cutoff. Returns the number of records dropped.
func (r *ProjectTrashRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM project_trash WHERE status = $1 AND emptied_at < $2`,
		model.TrashStatusComplete, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge completed project trash: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanProjectTrash(row pgx.Row) (model.ProjectTrash, error) {
	var rec model.ProjectTrash
	var metadata []byte
	var periodicTaskID *string

	err := row.Scan(&rec.ID, &rec.ProjectID, &rec.ProjectName, &rec.OwnerID,
		&rec.RequestAuthor.UserID, &rec.RequestAuthor.Username,
		&rec.RequestAuthor.Role, &rec.RequestAuthor.IP,
		&rec.Status, &metadata, &periodicTaskID,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.EmptiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ProjectTrash{}, model.ErrTrashRecordNotFound
	}
	if err != nil {
		return model.ProjectTrash{}, fmt.Errorf("scan project trash record: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return model.ProjectTrash{}, fmt.Errorf("unmarshal trash metadata: %w", err)
		}
	}
	if periodicTaskID != nil {
		rec.PeriodicTaskID = *periodicTaskID
	}
	return rec, nil
}
