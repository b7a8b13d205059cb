package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"survey-platform/internal/model"
)

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Record(ctx context.Context, entry model.AuditEntry) error {
	return record(ctx, r.pool, entry)
}

// RecordTx writes the entry inside the caller's transaction so the audit
// trail commits atomically with the action it describes.
func (r *AuditRepository) RecordTx(ctx context.Context, tx Tx, entry model.AuditEntry) error {
	return record(ctx, tx, entry)
}

func record(ctx context.Context, db execer, entry model.AuditEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	_, err = db.Exec(ctx,
		`INSERT INTO audit_entries
		 (action, occurred_at, actor_user_id, actor_username, actor_role, actor_ip,
		  target_type, target_id, method, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.Action, occurredAt,
		entry.Actor.UserID, entry.Actor.Username, entry.Actor.Role, entry.Actor.IP,
		entry.TargetType, entry.TargetID, entry.Method, metadata)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}

	where := make([]string, 0)
	args := make([]any, 0)
	argIdx := 1

	if action := strings.TrimSpace(query.Action); action != "" {
		where = append(where, fmt.Sprintf("lower(action) = lower($%d)", argIdx))
		args = append(args, action)
		argIdx++
	}
	if actorID := strings.TrimSpace(query.ActorID); actorID != "" {
		where = append(where, fmt.Sprintf("actor_user_id = $%d", argIdx))
		args = append(args, actorID)
		argIdx++
	}
	if targetType := strings.TrimSpace(query.TargetType); targetType != "" {
		where = append(where, fmt.Sprintf("target_type = $%d", argIdx))
		args = append(args, targetType)
		argIdx++
	}
	if targetID := strings.TrimSpace(query.TargetID); targetID != "" {
		where = append(where, fmt.Sprintf("target_id = $%d", argIdx))
		args = append(args, targetID)
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entries`+whereClause, args...).Scan(&total)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("count audit entries: %w", err)
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + query.Limit - 1) / query.Limit
	}

	offset := (query.Page - 1) * query.Limit
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, action, occurred_at,
		        actor_user_id, actor_username, actor_role, actor_ip,
		        target_type, target_id, method, metadata
		 FROM audit_entries%s
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $%d OFFSET $%d`, whereClause, argIdx, argIdx+1),
		append(args, query.Limit, offset)...)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		var entry model.AuditEntry
		var metadata []byte

		if err := rows.Scan(&entry.ID, &entry.Action, &entry.OccurredAt,
			&entry.Actor.UserID, &entry.Actor.Username, &entry.Actor.Role, &entry.Actor.IP,
			&entry.TargetType, &entry.TargetID, &entry.Method, &metadata); err != nil {
			return nil, model.Meta{}, fmt.Errorf("scan audit entry: %w", err)
		}

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, model.Meta{}, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	meta := model.Meta{Page: query.Page, Limit: query.Limit, Total: total, TotalPages: totalPages}
	return entries, meta, rows.Err()
}
