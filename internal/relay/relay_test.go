package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tobiasvik/biovault/internal/model"
	"github.com/tobiasvik/biovault/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "biovault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stageEvents(t *testing.T, s *store.Store, n int) {
	t.Helper()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, s.IngestBatch(context.Background(), []model.BiometricEvent{{
			ID:        model.NewEventID(),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Type:      model.TypeHeartRate,
			Value:     60,
			Unit:      "bpm",
			Source: model.SourceMetadata{
				DeviceID:   "device-a",
				Vendor:     "acme",
				Confidence: 1,
			},
		}}))
	}
}

func TestRunOnceDeliversAndMarksProcessed(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	stageEvents(t, s, 3)

	var buf bytes.Buffer
	svc := NewService(s, WriterTransport{W: &buf}, discardLogger(), 0)

	delivered, failed, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, delivered)
	require.Zero(t, failed)

	// One JSON line per delivered entry.
	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		var payload map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &payload))
		require.Contains(t, payload, "id")
		lines++
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, 3, lines)

	pending, err := s.PendingOutbox(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, pending)

	// Nothing left to do on the next pass.
	delivered, failed, err = svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, delivered)
	require.Zero(t, failed)
}

// flakyTransport fails deliveries whose payload it has not seen before,
// succeeding on the second attempt.
type flakyTransport struct {
	seen map[string]bool
}

func (tr *flakyTransport) Deliver(_ context.Context, entry model.SyncOutboxEntry) error {
	if tr.seen == nil {
		tr.seen = map[string]bool{}
	}
	if !tr.seen[entry.ID] {
		tr.seen[entry.ID] = true
		return errors.New("connection reset")
	}
	return nil
}

func TestRunOnceRecordsFailuresAndLeavesEntriesPending(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	stageEvents(t, s, 2)

	svc := NewService(s, &flakyTransport{}, discardLogger(), 0)

	delivered, failed, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, delivered)
	require.Equal(t, 2, failed)

	pending, err := s.PendingOutbox(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, entry := range pending {
		require.Equal(t, 1, entry.RetryCount)
		require.NotNil(t, entry.LastError)
		require.Equal(t, "connection reset", *entry.LastError)
	}

	// Second pass retries the same entries and succeeds.
	delivered, failed, err = svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, delivered)
	require.Zero(t, failed)
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) {
	return 0, errors.New("pipe closed")
}

func TestWriterTransportPropagatesWriteErrors(t *testing.T) {
	t.Parallel()

	err := WriterTransport{W: errWriter{}}.Deliver(context.Background(), model.SyncOutboxEntry{
		ID:      "entry-1",
		Payload: []byte(`{}`),
	})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "pipe closed"))
}

func TestRunOnceStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	stageEvents(t, s, 2)

	svc := NewService(s, WriterTransport{W: io.Discard}, discardLogger(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := svc.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPurgeOldKeepsUnprocessed(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	stageEvents(t, s, 3)

	pending, err := s.PendingOutbox(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.NoError(t, s.MarkProcessed(context.Background(), pending[0].ID))

	svc := NewService(s, nil, discardLogger(), 0)

	// The processed entry is newer than any sane retention window, so the
	// first purge removes nothing.
	count, err := svc.PurgeOld(context.Background(), 30)
	require.NoError(t, err)
	require.Zero(t, count)

	remaining, err := s.PendingOutbox(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}

func TestPurgeOldRejectsNonPositiveRetention(t *testing.T) {
	t.Parallel()

	svc := NewService(newTestStore(t), nil, discardLogger(), 0)
	_, err := svc.PurgeOld(context.Background(), 0)
	require.Error(t, err)
}
