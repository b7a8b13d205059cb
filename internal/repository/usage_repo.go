package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageCounterRepository tracks per-user monthly submission counters. The
// row with a NULL user_id is the catch-all bucket that keeps platform-wide
// totals stable when accounts are deleted.
type UsageCounterRepository struct {
	pool *pgxpool.Pool
}

func NewUsageCounterRepository(pool *pgxpool.Pool) *UsageCounterRepository {
	return &UsageCounterRepository{pool: pool}
}

func (r *UsageCounterRepository) Increment(ctx context.Context, userID string, yearMonth string, delta int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO usage_counters (user_id, year_month, submission_count)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (COALESCE(user_id, '00000000-0000-0000-0000-000000000000'::uuid), year_month)
		 DO UPDATE SET submission_count = usage_counters.submission_count + EXCLUDED.submission_count`,
		userID, yearMonth, delta)
	if err != nil {
		return fmt.Errorf("increment usage counter: %w", err)
	}
	return nil
}

// RollIntoCatchAll folds a user's counters into the catch-all bucket and
// removes the per-user rows. Running it twice for the same user is a no-op.
func (r *UsageCounterRepository) RollIntoCatchAll(ctx context.Context, userID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin counter rollup: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := rollIntoCatchAll(ctx, tx, userID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RollIntoCatchAllTx runs the fold inside a caller-owned transaction. The
// user purge uses it so the counters move in the same commit that removes
// the user row; usage_counters has no foreign key, so nothing else would
// clean those rows up.
func (r *UsageCounterRepository) RollIntoCatchAllTx(ctx context.Context, tx Tx, userID string) error {
	return rollIntoCatchAll(ctx, tx, userID)
}

func rollIntoCatchAll(ctx context.Context, db execer, userID string) error {
	_, err := db.Exec(ctx,
		`INSERT INTO usage_counters (user_id, year_month, submission_count)
		 SELECT NULL, year_month, submission_count
		 FROM usage_counters
		 WHERE user_id = $1
		 ON CONFLICT (COALESCE(user_id, '00000000-0000-0000-0000-000000000000'::uuid), year_month)
		 DO UPDATE SET submission_count = usage_counters.submission_count + EXCLUDED.submission_count`,
		userID)
	if err != nil {
		return fmt.Errorf("roll counters into catch-all: %w", err)
	}

	if _, err := db.Exec(ctx, `DELETE FROM usage_counters WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("drop rolled-up counters: %w", err)
	}
	return nil
}
