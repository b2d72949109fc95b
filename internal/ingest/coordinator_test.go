package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tobiasvik/biovault/internal/model"
	"github.com/tobiasvik/biovault/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeEvents(n int) []model.BiometricEvent {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	out := make([]model.BiometricEvent, n)
	for i := range out {
		out[i] = model.BiometricEvent{
			ID:        fmt.Sprintf("event-%03d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Type:      model.TypeHeartRate,
			Value:     60 + float64(i%10),
			Unit:      "bpm",
			Source: model.SourceMetadata{
				DeviceID:   "device-a",
				Vendor:     "acme",
				Confidence: 1,
			},
		}
	}
	return out
}

// recordingStore captures committed batches. The embedded interface is nil;
// the coordinator only ever calls IngestBatch.
type recordingStore struct {
	store.EventStore

	mu      sync.Mutex
	batches [][]model.BiometricEvent
	failOn  int // 1-based batch index that fails, 0 for never
	before  func(pendingBatch int)
}

func (r *recordingStore) IngestBatch(ctx context.Context, events []model.BiometricEvent) error {
	r.mu.Lock()
	attempt := len(r.batches) + 1
	r.mu.Unlock()

	if r.before != nil {
		r.before(len(events))
	}
	if r.failOn != 0 && attempt == r.failOn {
		return errors.New("disk full")
	}

	batch := make([]model.BiometricEvent, len(events))
	copy(batch, events)

	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()
	return nil
}

func (r *recordingStore) committed() []model.BiometricEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []model.BiometricEvent{}
	for _, batch := range r.batches {
		out = append(out, batch...)
	}
	return out
}

type recordingAnalyzer struct {
	mu     sync.Mutex
	calls  []time.Time
	result error
}

func (a *recordingAnalyzer) Analyze(ctx context.Context, since time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, since)
	return a.result
}

func (a *recordingAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func TestIngestSplitsIntoFixedBatches(t *testing.T) {
	t.Parallel()

	events := makeEvents(70)
	rec := &recordingStore{}
	c := NewCoordinator(rec, nil, discardLogger(), Config{QueueCapacity: 256, BatchSize: 64})
	defer c.Close()

	result, err := c.Ingest(context.Background(), NewSliceSource(events), time.Now())
	require.NoError(t, err)
	require.Equal(t, 70, result.Committed)
	require.Equal(t, 2, result.Batches)

	require.Len(t, rec.batches, 2)
	require.Len(t, rec.batches[0], 64)
	require.Len(t, rec.batches[1], 6)

	// Source order is preserved across batch boundaries.
	require.Equal(t, events, rec.committed())
}

func TestIngestEmptySource(t *testing.T) {
	t.Parallel()

	rec := &recordingStore{}
	analyzer := &recordingAnalyzer{}
	c := NewCoordinator(rec, analyzer, discardLogger(), Config{})
	defer c.Close()

	result, err := c.Ingest(context.Background(), NewSliceSource(nil), time.Now())
	require.NoError(t, err)
	require.Zero(t, result.Committed)
	require.Zero(t, result.Batches)

	c.WaitAnalysis()
	require.Zero(t, analyzer.callCount())
}

// pressureGauge tracks how many events have left the source without reaching
// the store, sampled at every yield and every commit attempt.
type pressureGauge struct {
	mu        sync.Mutex
	yielded   int
	committed int
	max       int
}

func (g *pressureGauge) yield() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.yielded++
	if outstanding := g.yielded - g.committed; outstanding > g.max {
		g.max = outstanding
	}
}

func (g *pressureGauge) commit(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.committed += n
}

func (g *pressureGauge) maxOutstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

type gaugedSource struct {
	inner Source
	gauge *pressureGauge
}

func (s *gaugedSource) Next(ctx context.Context) (model.BiometricEvent, error) {
	event, err := s.inner.Next(ctx)
	if err == nil {
		s.gauge.yield()
	}
	return event, err
}

type gaugedStore struct {
	store.EventStore

	gauge *pressureGauge
}

func (s *gaugedStore) IngestBatch(ctx context.Context, events []model.BiometricEvent) error {
	// Slow commits let the producer run as far ahead as the queue allows.
	time.Sleep(time.Millisecond)
	s.gauge.commit(len(events))
	return nil
}

func TestIngestBoundsUnpersistedEvents(t *testing.T) {
	t.Parallel()

	const (
		queueCapacity = 4
		batchSize     = 3
	)

	gauge := &pressureGauge{}
	src := &gaugedSource{inner: NewSliceSource(makeEvents(60)), gauge: gauge}
	c := NewCoordinator(&gaugedStore{gauge: gauge}, nil, discardLogger(),
		Config{QueueCapacity: queueCapacity, BatchSize: batchSize})
	defer c.Close()

	result, err := c.Ingest(context.Background(), src, time.Now())
	require.NoError(t, err)
	require.Equal(t, 60, result.Committed)

	require.LessOrEqual(t, gauge.maxOutstanding(), queueCapacity+batchSize)
}

// failingSource yields from inner until failAt events have been served, then
// returns a transient failure.
type failingSource struct {
	inner  Source
	served int
	failAt int
}

func (s *failingSource) Next(ctx context.Context) (model.BiometricEvent, error) {
	if s.served >= s.failAt {
		return model.BiometricEvent{}, ErrSourceUnavailable
	}
	event, err := s.inner.Next(ctx)
	if err == nil {
		s.served++
	}
	return event, err
}

func TestSourceFailureKeepsCommittedBatches(t *testing.T) {
	t.Parallel()

	rec := &recordingStore{}
	analyzer := &recordingAnalyzer{}
	c := NewCoordinator(rec, analyzer, discardLogger(), Config{QueueCapacity: 32, BatchSize: 4})
	defer c.Close()

	src := &failingSource{inner: NewSliceSource(makeEvents(10)), failAt: 10}
	result, err := c.Ingest(context.Background(), src, time.Now())
	require.ErrorIs(t, err, ErrSourceUnavailable)

	// Two full batches landed before the failure; the partial remainder is
	// never committed on a failed drain.
	require.Equal(t, 8, result.Committed)
	require.Equal(t, 2, result.Batches)
	require.Len(t, rec.committed(), 8)

	c.WaitAnalysis()
	require.Zero(t, analyzer.callCount())
}

func TestPersistenceFailureAbortsIngest(t *testing.T) {
	t.Parallel()

	rec := &recordingStore{failOn: 2}
	analyzer := &recordingAnalyzer{}
	c := NewCoordinator(rec, analyzer, discardLogger(), Config{QueueCapacity: 32, BatchSize: 4})
	defer c.Close()

	result, err := c.Ingest(context.Background(), NewSliceSource(makeEvents(12)), time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")

	require.Equal(t, 4, result.Committed)
	require.Equal(t, 1, result.Batches)

	c.WaitAnalysis()
	require.Zero(t, analyzer.callCount())
}

func TestAnalysisScheduledAfterCommit(t *testing.T) {
	t.Parallel()

	rec := &recordingStore{}
	analyzer := &recordingAnalyzer{}
	c := NewCoordinator(rec, analyzer, discardLogger(), Config{BatchSize: 4})
	defer c.Close()

	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	result, err := c.Ingest(context.Background(), NewSliceSource(makeEvents(4)), since)
	require.NoError(t, err)
	require.Equal(t, 4, result.Committed)

	c.WaitAnalysis()
	require.Equal(t, 1, analyzer.callCount())
	require.Equal(t, since, analyzer.calls[0])
}

func TestAnalysisFailureDoesNotAffectIngest(t *testing.T) {
	t.Parallel()

	rec := &recordingStore{}
	analyzer := &recordingAnalyzer{result: errors.New("model unavailable")}
	c := NewCoordinator(rec, analyzer, discardLogger(), Config{BatchSize: 4})
	defer c.Close()

	result, err := c.Ingest(context.Background(), NewSliceSource(makeEvents(4)), time.Now())
	require.NoError(t, err)
	require.Equal(t, 4, result.Committed)

	c.WaitAnalysis()
	require.Equal(t, 1, analyzer.callCount())
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(context.Context, time.Time) error {
	panic("analysis exploded")
}

func TestAnalysisPanicIsContained(t *testing.T) {
	t.Parallel()

	rec := &recordingStore{}
	c := NewCoordinator(rec, panickingAnalyzer{}, discardLogger(), Config{BatchSize: 4})
	defer c.Close()

	_, err := c.Ingest(context.Background(), NewSliceSource(makeEvents(4)), time.Now())
	require.NoError(t, err)

	// Must return despite the panic inside the analysis goroutine.
	c.WaitAnalysis()
}

type blockingAnalyzer struct {
	started chan struct{}
}

func (a *blockingAnalyzer) Analyze(ctx context.Context, _ time.Time) error {
	close(a.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestCloseCancelsInFlightAnalysis(t *testing.T) {
	t.Parallel()

	rec := &recordingStore{}
	analyzer := &blockingAnalyzer{started: make(chan struct{})}
	c := NewCoordinator(rec, analyzer, discardLogger(), Config{BatchSize: 4})

	_, err := c.Ingest(context.Background(), NewSliceSource(makeEvents(4)), time.Now())
	require.NoError(t, err)

	<-analyzer.started
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not cancel the in-flight analysis pass")
	}
}

func TestSliceSourceHonorsContext(t *testing.T) {
	t.Parallel()

	src := NewSliceSource(makeEvents(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
