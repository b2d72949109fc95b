package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tobiasvik/biovault/internal/model"
)

type eventRepository struct {
	db *sql.DB
}

// outboxSnapshot is the relay payload written alongside each event. The
// device ID arrives here already encrypted, so the snapshot is safe to hand
// to the relay transport as-is.
type outboxSnapshot struct {
	ID            string  `json:"id"`
	Timestamp     int64   `json:"ts_ms"`
	Type          string  `json:"type"`
	Value         float64 `json:"value"`
	Unit          string  `json:"unit"`
	DeviceID      []byte  `json:"device_id"`
	Vendor        string  `json:"vendor"`
	Firmware      string  `json:"firmware_version,omitempty"`
	Confidence    float64 `json:"confidence"`
	CorrelationID string  `json:"correlation_id"`
}

func (r *eventRepository) IngestBatch(ctx context.Context, events []model.BiometricEvent) error {
	if len(events) == 0 {
		return ErrEmptyBatch
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return fmt.Errorf("ingest batch: event %d: %w", i, err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ingest batch: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUTC()
	for i := range events {
		event := events[i]
		if event.CorrelationID == "" {
			event.CorrelationID = ensureID("")
		}
		if event.Source.IngestedAt.IsZero() {
			event.Source.IngestedAt = now
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO events(id, type, ts_ms, value, unit, device_id, vendor, firmware_version, confidence, ingested_at, correlation_id)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, event.ID, string(event.Type), tsMillis(event.Timestamp), event.Value, event.Unit,
			[]byte(event.Source.DeviceID), event.Source.Vendor, event.Source.FirmwareVersion,
			event.Source.Confidence, fmtTime(event.Source.IngestedAt), event.CorrelationID)
		if err != nil {
			return fmt.Errorf("ingest batch: insert event %s: %w", event.ID, err)
		}

		payload, err := json.Marshal(outboxSnapshot{
			ID:            event.ID,
			Timestamp:     tsMillis(event.Timestamp),
			Type:          string(event.Type),
			Value:         event.Value,
			Unit:          event.Unit,
			DeviceID:      []byte(event.Source.DeviceID),
			Vendor:        event.Source.Vendor,
			Firmware:      event.Source.FirmwareVersion,
			Confidence:    event.Source.Confidence,
			CorrelationID: event.CorrelationID,
		})
		if err != nil {
			return fmt.Errorf("ingest batch: snapshot event %s: %w", event.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_outbox(id, event_id, correlation_id, payload, created_at, processed_at, retry_count, last_error)
			VALUES(?, ?, ?, ?, ?, NULL, 0, NULL)
		`, ensureID(""), event.ID, event.CorrelationID, payload, fmtTime(now))
		if err != nil {
			return fmt.Errorf("ingest batch: insert outbox row for %s: %w", event.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ingest batch: commit: %w", err)
	}
	return nil
}

const eventColumns = `id, type, ts_ms, value, unit, device_id, vendor, COALESCE(firmware_version, ''), confidence, ingested_at, correlation_id`

func (r *eventRepository) Range(ctx context.Context, typ model.MeasurementType, from, to time.Time) ([]model.BiometricEvent, error) {
	out := []model.BiometricEvent{}
	err := r.RangeEach(ctx, typ, from, to, func(event model.BiometricEvent) error {
		out = append(out, event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *eventRepository) RangeEach(ctx context.Context, typ model.MeasurementType, from, to time.Time, fn func(model.BiometricEvent) error) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE type = ? AND ts_ms >= ? AND ts_ms < ?
		ORDER BY ts_ms ASC
	`, string(typ), tsMillis(from), tsMillis(to))
	if err != nil {
		return fmt.Errorf("range events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("range events: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("range events: iterate: %w", err)
	}
	return nil
}

func (r *eventRepository) AggregateBuckets(ctx context.Context, typ model.MeasurementType, from, to time.Time, width time.Duration) ([]Bucket, error) {
	widthMs := width.Milliseconds()
	if widthMs <= 0 {
		return nil, fmt.Errorf("aggregate buckets: width must be positive, got %s", width)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT (ts_ms / ?) * ? AS bucket_ms, MIN(value), MAX(value), AVG(value), COUNT(*)
		FROM events
		WHERE type = ? AND ts_ms >= ? AND ts_ms < ?
		GROUP BY bucket_ms
		ORDER BY bucket_ms ASC
	`, widthMs, widthMs, string(typ), tsMillis(from), tsMillis(to))
	if err != nil {
		return nil, fmt.Errorf("aggregate buckets: %w", err)
	}
	defer rows.Close()

	buckets := []Bucket{}
	for rows.Next() {
		var (
			bucketMs int64
			bucket   Bucket
		)
		if err := rows.Scan(&bucketMs, &bucket.Min, &bucket.Max, &bucket.Mean, &bucket.Count); err != nil {
			return nil, fmt.Errorf("aggregate buckets: scan row: %w", err)
		}
		bucket.Start = fromMillis(bucketMs)
		buckets = append(buckets, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate buckets: iterate: %w", err)
	}
	return buckets, nil
}

// LatestPerType relies on SQLite's bare-column semantics: with MAX(ts_ms) in
// the select list, the remaining columns come from the row holding the max.
func (r *eventRepository) LatestPerType(ctx context.Context) ([]model.BiometricEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, MAX(ts_ms), value, unit, device_id, vendor, COALESCE(firmware_version, ''), confidence, ingested_at, correlation_id
		FROM events
		GROUP BY type
		ORDER BY type ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("latest per type: %w", err)
	}
	defer rows.Close()

	out := []model.BiometricEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("latest per type: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("latest per type: iterate: %w", err)
	}
	return out, nil
}

func scanEvent(rows *sql.Rows) (model.BiometricEvent, error) {
	var (
		event      model.BiometricEvent
		typ        string
		tsMs       int64
		deviceID   []byte
		ingestedAt string
	)
	if err := rows.Scan(&event.ID, &typ, &tsMs, &event.Value, &event.Unit, &deviceID,
		&event.Source.Vendor, &event.Source.FirmwareVersion, &event.Source.Confidence,
		&ingestedAt, &event.CorrelationID); err != nil {
		return model.BiometricEvent{}, fmt.Errorf("scan event row: %w", err)
	}

	event.Type = model.MeasurementType(typ)
	event.Timestamp = fromMillis(tsMs)
	event.Source.DeviceID = string(deviceID)

	var err error
	event.Source.IngestedAt, err = parseTime(ingestedAt)
	if err != nil {
		return model.BiometricEvent{}, err
	}
	return event, nil
}
