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

const userColumns = `id, username, email, password_hash, role, is_active, date_joined, date_deactivated`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, user model.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, role, is_active, date_joined, date_deactivated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.Role, user.IsActive, user.DateJoined, user.DateDeactivated)
	if isUniqueViolation(err) {
		return model.ErrUserAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
}

// Deactivate disables the account and stamps date_deactivated, keeping any
// earlier deactivation timestamp.
func (r *UserRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET is_active = FALSE,
		     date_deactivated = COALESCE(date_deactivated, now())
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) Reactivate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_active = TRUE, date_deactivated = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reactivate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// PurgeParams describes the final deletion of an account's primary record.
// When Placeholder is set, a disabled stand-in with the same username is
// inserted before commit so the name stays reserved against re-registration.
type PurgeParams struct {
	UserID      string
	Placeholder *model.User
}

// Purge deletes the user row and runs beforeCommit inside the same
// transaction. Any error from beforeCommit rolls the whole deletion back,
// so the legacy-store call and the audit entry either land together with
// the deletion or not at all.
func (r *UserRepository) Purge(ctx context.Context, p PurgeParams, beforeCommit func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, p.UserID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if beforeCommit != nil {
		if err := beforeCommit(ctx, tx); err != nil {
			return err
		}
	}

	if p.Placeholder != nil {
		u := p.Placeholder
		_, err := tx.Exec(ctx,
			`INSERT INTO users (id, username, email, password_hash, role, is_active, date_joined, date_deactivated)
			 VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)`,
			u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.DateJoined, u.DateDeactivated)
		if err != nil {
			return fmt.Errorf("recreate placeholder user: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	var deactivated *time.Time

	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Role, &user.IsActive, &user.DateJoined, &deactivated)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}

	user.DateDeactivated = deactivated
	return user, nil
}
