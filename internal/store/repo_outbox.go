package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tobiasvik/biovault/internal/model"
)

type outboxRepository struct {
	db *sql.DB
}

func (r *outboxRepository) Pending(ctx context.Context, limit int) ([]model.SyncOutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, correlation_id, payload, created_at, processed_at, retry_count, last_error
		FROM sync_outbox
		WHERE processed_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending outbox: %w", err)
	}
	defer rows.Close()

	out := []model.SyncOutboxEntry{}
	for rows.Next() {
		entry, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("pending outbox: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending outbox: iterate: %w", err)
	}
	return out, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_outbox
		SET processed_at = ?
		WHERE id = ? AND processed_at IS NULL
	`, fmtTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("mark outbox processed: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox processed: rows affected: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_outbox
		SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ?
	`, lastError, id)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox failed: rows affected: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeProcessed removes only rows whose processed time is set and older than
// cutoff. Unprocessed rows are never purged regardless of age.
func (r *outboxRepository) PurgeProcessed(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_outbox
		WHERE processed_at IS NOT NULL AND processed_at < ?
	`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge outbox: rows affected: %w", err)
	}
	return int(count), nil
}

func scanOutboxEntry(rows *sql.Rows) (model.SyncOutboxEntry, error) {
	var (
		entry       model.SyncOutboxEntry
		createdAt   string
		processedAt sql.NullString
		lastError   sql.NullString
	)
	if err := rows.Scan(&entry.ID, &entry.EventID, &entry.CorrelationID, &entry.Payload,
		&createdAt, &processedAt, &entry.RetryCount, &lastError); err != nil {
		return model.SyncOutboxEntry{}, fmt.Errorf("scan outbox row: %w", err)
	}

	var err error
	entry.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return model.SyncOutboxEntry{}, err
	}
	entry.ProcessedAt, err = parseNullableTime(processedAt)
	if err != nil {
		return model.SyncOutboxEntry{}, err
	}
	if lastError.Valid {
		entry.LastError = &lastError.String
	}
	return entry, nil
}
