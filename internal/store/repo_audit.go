package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tobiasvik/biovault/internal/model"
)

type auditRepository struct {
	db *sql.DB
}

// Append is the only write path into audit_log. Nothing in this module
// updates or deletes an entry once written.
func (r *auditRepository) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	if entry == nil {
		return fmt.Errorf("append audit entry: entry is nil")
	}
	if entry.Kind == "" {
		return fmt.Errorf("append audit entry: kind is required")
	}
	if entry.ID == "" {
		entry.ID = ensureID("")
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = nowUTC()
	}
	if entry.Result == "" {
		entry.Result = model.AuditResultSuccess
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log(id, occurred_at, kind, repo, caller_hash, entity_id, result, summary)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, fmtTime(entry.OccurredAt), string(entry.Kind), entry.Repo, entry.CallerHash,
		entry.EntityID, entry.Result, entry.Summary)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]model.AuditLogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT id, occurred_at, kind, repo, caller_hash, COALESCE(entity_id, ''), result, summary
		FROM audit_log
		WHERE 1=1
	`
	args := make([]any, 0, 5)
	if filter.Kind != "" {
		query += ` AND kind = ? `
		args = append(args, string(filter.Kind))
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ? `
		args = append(args, filter.EntityID)
	}
	if filter.Since != nil {
		query += ` AND occurred_at >= ? `
		args = append(args, fmtTime(*filter.Since))
	}
	if filter.Until != nil {
		query += ` AND occurred_at <= ? `
		args = append(args, fmtTime(*filter.Until))
	}
	query += ` ORDER BY rowid ASC LIMIT ? `
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []model.AuditLogEntry{}
	for rows.Next() {
		var (
			entry      model.AuditLogEntry
			occurredAt string
			kind       string
		)
		if err := rows.Scan(&entry.ID, &occurredAt, &kind, &entry.Repo, &entry.CallerHash,
			&entry.EntityID, &entry.Result, &entry.Summary); err != nil {
			return nil, fmt.Errorf("list audit entries: scan row: %w", err)
		}
		entry.Kind = model.AuditKind(kind)
		entry.OccurredAt, err = parseTime(occurredAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit entries: iterate: %w", err)
	}
	return entries, nil
}
