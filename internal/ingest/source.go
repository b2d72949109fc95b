package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/tobiasvik/biovault/internal/model"
)

var (
	// ErrEndOfStream is the clean termination signal from a source.
	ErrEndOfStream = errors.New("ingest: end of stream")

	// ErrSourceUnavailable marks a transient source failure. The driver
	// decides whether to retry the whole call; this package never does.
	ErrSourceUnavailable = errors.New("ingest: source unavailable")
)

// Source is a lazy, possibly unbounded sequence of normalized events newer
// than the watermark the coordinator was invoked with. Next blocks until an
// event is available, the stream ends (ErrEndOfStream), or ctx is cancelled.
type Source interface {
	Next(ctx context.Context) (model.BiometricEvent, error)
}

// SliceSource serves a fixed set of events, mostly for backfills and tests.
type SliceSource struct {
	mu     sync.Mutex
	events []model.BiometricEvent
	pos    int
}

func NewSliceSource(events []model.BiometricEvent) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next(ctx context.Context) (model.BiometricEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.BiometricEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.events) {
		return model.BiometricEvent{}, ErrEndOfStream
	}
	event := s.events[s.pos]
	s.pos++
	return event, nil
}
