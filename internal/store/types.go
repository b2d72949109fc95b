package store

import (
	"context"
	"errors"
	"time"

	"github.com/tobiasvik/biovault/internal/model"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrSchemaTooNew = errors.New("store: schema version newer than code")
	ErrEmptyBatch   = errors.New("store: empty batch")
)

// Bucket is one fixed-width aggregation window. Start is the bucket key,
// floor(timestamp/width)*width.
type Bucket struct {
	Start time.Time
	Min   float64
	Max   float64
	Mean  float64
	Count int64
}

// EventStore is the operation surface the security decorators wrap. Every
// externally visible read and write of biometric data goes through it.
type EventStore interface {
	// IngestBatch writes each event and its outbox counterpart in one
	// transaction; all rows become visible together or not at all.
	IngestBatch(ctx context.Context, events []model.BiometricEvent) error

	// Range returns events of one type in the half-open interval
	// [from, to), ascending by timestamp.
	Range(ctx context.Context, typ model.MeasurementType, from, to time.Time) ([]model.BiometricEvent, error)

	// RangeEach streams the same result set through fn without
	// materializing it. Iteration stops on the first fn error.
	RangeEach(ctx context.Context, typ model.MeasurementType, from, to time.Time, fn func(model.BiometricEvent) error) error

	// AggregateBuckets returns min/max/mean/count per fixed-width bucket.
	AggregateBuckets(ctx context.Context, typ model.MeasurementType, from, to time.Time, width time.Duration) ([]Bucket, error)

	// LatestPerType returns the most recent event of each type in a
	// single round trip.
	LatestPerType(ctx context.Context) ([]model.BiometricEvent, error)

	// PendingOutbox returns unprocessed outbox entries, oldest first.
	PendingOutbox(ctx context.Context, limit int) ([]model.SyncOutboxEntry, error)

	// MarkProcessed stamps the processed time on one outbox entry.
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed increments the retry count and overwrites the last error.
	MarkFailed(ctx context.Context, id string, lastError string) error

	// PurgeProcessed deletes processed entries older than cutoff.
	// Unprocessed entries survive regardless of age.
	PurgeProcessed(ctx context.Context, cutoff time.Time) (int, error)
}

type EventRepository interface {
	IngestBatch(ctx context.Context, events []model.BiometricEvent) error
	Range(ctx context.Context, typ model.MeasurementType, from, to time.Time) ([]model.BiometricEvent, error)
	RangeEach(ctx context.Context, typ model.MeasurementType, from, to time.Time, fn func(model.BiometricEvent) error) error
	AggregateBuckets(ctx context.Context, typ model.MeasurementType, from, to time.Time, width time.Duration) ([]Bucket, error)
	LatestPerType(ctx context.Context) ([]model.BiometricEvent, error)
}

type OutboxRepository interface {
	Pending(ctx context.Context, limit int) ([]model.SyncOutboxEntry, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	PurgeProcessed(ctx context.Context, cutoff time.Time) (int, error)
}

type AuditFilter struct {
	Kind     model.AuditKind
	EntityID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

type AuditRepository interface {
	Append(ctx context.Context, entry *model.AuditLogEntry) error
	List(ctx context.Context, filter AuditFilter) ([]model.AuditLogEntry, error)
}
