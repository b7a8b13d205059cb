package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"survey-platform/internal/model"
)

const projectColumns = `id, owner_id, name, submission_count, created_at, updated_at`

type ProjectRepository struct {
	pool *pgxpool.Pool
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

func (r *ProjectRepository) Create(ctx context.Context, project model.Project) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO projects (id, owner_id, name, submission_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		project.ID, project.OwnerID, project.Name, project.SubmissionCount,
		project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) FindByID(ctx context.Context, id string) (model.Project, error) {
	return scanProject(r.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

// ListByOwner returns the owner's projects in ascending id order so repeated
// account purges walk them in a stable sequence.
func (r *ProjectRepository) ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects by owner: %w", err)
	}
	defer rows.Close()

	projects := make([]model.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// Delete removes the project row. Deleting an already-deleted project is a
// no-op, which keeps purge retries re-entrant.
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func scanProject(row pgx.Row) (model.Project, error) {
	var project model.Project
	err := row.Scan(&project.ID, &project.OwnerID, &project.Name,
		&project.SubmissionCount, &project.CreatedAt, &project.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Project{}, model.ErrProjectNotFound
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("scan project: %w", err)
	}
	return project, nil
}
