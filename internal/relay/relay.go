// Package relay drives the outbox drain: it polls pending entries, hands
// each payload to a transport, and records the outcome. Retry scheduling and
// backoff live with the transport, not here; retry_count and last_error are
// bookkeeping for it to consume.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tobiasvik/biovault/internal/model"
	"github.com/tobiasvik/biovault/internal/store"
)

const defaultBatchSize = 50

// Transport delivers one staged payload to wherever it is bound. The wire
// protocol is the transport's concern.
type Transport interface {
	Deliver(ctx context.Context, entry model.SyncOutboxEntry) error
}

type Service struct {
	store     store.EventStore
	transport Transport
	logger    *slog.Logger
	batchSize int
}

func NewService(es store.EventStore, transport Transport, logger *slog.Logger, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     es,
		transport: transport,
		logger:    logger,
		batchSize: batchSize,
	}
}

// RunOnce drains one batch of pending entries. Delivery outcomes are recorded
// per entry and never touch the original durable write: a failed delivery
// leaves the event row intact and the outbox row pending with an incremented
// retry count.
func (s *Service) RunOnce(ctx context.Context) (delivered, failed int, err error) {
	pending, err := s.store.PendingOutbox(ctx, s.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("relay run: %w", err)
	}

	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, failed, fmt.Errorf("relay run: %w", err)
		}

		if deliverErr := s.transport.Deliver(ctx, entry); deliverErr != nil {
			failed++
			s.logger.Warn("outbox delivery failed",
				"outbox_id", entry.ID, "event_id", entry.EventID, "retry_count", entry.RetryCount, "error", deliverErr)
			if markErr := s.store.MarkFailed(ctx, entry.ID, deliverErr.Error()); markErr != nil {
				return delivered, failed, fmt.Errorf("relay run: mark failed %s: %w", entry.ID, markErr)
			}
			continue
		}

		delivered++
		if markErr := s.store.MarkProcessed(ctx, entry.ID); markErr != nil {
			return delivered, failed, fmt.Errorf("relay run: mark processed %s: %w", entry.ID, markErr)
		}
	}

	return delivered, failed, nil
}

// WriterTransport emits staged payloads as NDJSON lines, one per entry. It
// backs the CLI drain-to-pipe mode and doubles as a test transport.
type WriterTransport struct {
	W io.Writer
}

func (t WriterTransport) Deliver(_ context.Context, entry model.SyncOutboxEntry) error {
	if _, err := t.W.Write(append(entry.Payload, '\n')); err != nil {
		return fmt.Errorf("write payload %s: %w", entry.ID, err)
	}
	return nil
}

// PurgeOld deletes processed entries older than the retention window.
// Unprocessed entries are kept regardless of age.
func (s *Service) PurgeOld(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("relay purge: retention days must be positive, got %d", retentionDays)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	count, err := s.store.PurgeProcessed(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("relay purge: %w", err)
	}
	return count, nil
}
