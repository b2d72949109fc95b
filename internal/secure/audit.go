package secure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tobiasvik/biovault/internal/model"
	"github.com/tobiasvik/biovault/internal/store"
)

// AuditStore is the outer decorator. Every call synchronously appends one
// AuditLogEntry before returning; the append is part of the operation, not
// fire-and-forget, so an append failure fails the call.
type AuditStore struct {
	next       store.EventStore
	audit      store.AuditRepository
	repoName   string
	callerHash string
}

func NewAuditStore(next store.EventStore, audit store.AuditRepository, repoName, callerIdentity string) *AuditStore {
	return &AuditStore{
		next:       next,
		audit:      audit,
		repoName:   repoName,
		callerHash: model.HashCaller(callerIdentity),
	}
}

func (s *AuditStore) IngestBatch(ctx context.Context, events []model.BiometricEvent) error {
	err := s.next.IngestBatch(ctx, events)
	entityID := ""
	if len(events) > 0 {
		entityID = events[0].ID
	}
	return s.record(ctx, err, model.AuditWrite, entityID, fmt.Sprintf("ingest batch of %d events", len(events)))
}

func (s *AuditStore) Range(ctx context.Context, typ model.MeasurementType, from, to time.Time) ([]model.BiometricEvent, error) {
	events, err := s.next.Range(ctx, typ, from, to)
	summary := fmt.Sprintf("range query %s [%s, %s)", typ, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err := s.record(ctx, err, model.AuditRead, "", summary); err != nil {
		return nil, err
	}
	return events, nil
}

// RangeEach records exactly one audit entry per stream invocation, after the
// stream completes, never one per yielded item.
func (s *AuditStore) RangeEach(ctx context.Context, typ model.MeasurementType, from, to time.Time, fn func(model.BiometricEvent) error) error {
	err := s.next.RangeEach(ctx, typ, from, to, fn)
	summary := fmt.Sprintf("streaming range query %s [%s, %s)", typ, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	return s.record(ctx, err, model.AuditRead, "", summary)
}

func (s *AuditStore) AggregateBuckets(ctx context.Context, typ model.MeasurementType, from, to time.Time, width time.Duration) ([]store.Bucket, error) {
	buckets, err := s.next.AggregateBuckets(ctx, typ, from, to, width)
	summary := fmt.Sprintf("bucket aggregation %s width %s", typ, width)
	if err := s.record(ctx, err, model.AuditRead, "", summary); err != nil {
		return nil, err
	}
	return buckets, nil
}

func (s *AuditStore) LatestPerType(ctx context.Context) ([]model.BiometricEvent, error) {
	events, err := s.next.LatestPerType(ctx)
	if err := s.record(ctx, err, model.AuditRead, "", "latest value per type"); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *AuditStore) PendingOutbox(ctx context.Context, limit int) ([]model.SyncOutboxEntry, error) {
	entries, err := s.next.PendingOutbox(ctx, limit)
	if err := s.record(ctx, err, model.AuditSync, "", fmt.Sprintf("poll pending outbox limit %d", limit)); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *AuditStore) MarkProcessed(ctx context.Context, id string) error {
	err := s.next.MarkProcessed(ctx, id)
	return s.record(ctx, err, model.AuditSync, id, "mark outbox entry processed")
}

func (s *AuditStore) MarkFailed(ctx context.Context, id string, lastError string) error {
	err := s.next.MarkFailed(ctx, id, lastError)
	return s.record(ctx, err, model.AuditSync, id, "mark outbox entry failed")
}

func (s *AuditStore) PurgeProcessed(ctx context.Context, cutoff time.Time) (int, error) {
	count, err := s.next.PurgeProcessed(ctx, cutoff)
	summary := fmt.Sprintf("purge processed outbox entries older than %s", cutoff.UTC().Format(time.RFC3339))
	if err := s.record(ctx, err, model.AuditDelete, "", summary); err != nil {
		return 0, err
	}
	return count, nil
}

// record appends the audit entry for one completed call and folds the
// operation error and any append error into the returned error.
func (s *AuditStore) record(ctx context.Context, opErr error, kind model.AuditKind, entityID, summary string) error {
	entry := &model.AuditLogEntry{
		Kind:       kind,
		Repo:       s.repoName,
		CallerHash: s.callerHash,
		EntityID:   entityID,
		Result:     resultFor(opErr),
		Summary:    summary,
	}
	// The append must land even when the operation itself was cancelled,
	// otherwise the trail would miss every cancelled call.
	if appendErr := s.audit.Append(context.WithoutCancel(ctx), entry); appendErr != nil {
		return errors.Join(opErr, fmt.Errorf("append audit entry: %w", appendErr))
	}
	return opErr
}

func resultFor(err error) string {
	switch {
	case err == nil:
		return model.AuditResultSuccess
	case errors.Is(err, context.Canceled):
		return model.AuditResultCancelled
	default:
		return model.AuditResultFailure
	}
}
