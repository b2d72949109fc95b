// Package ingest decouples a lazy event source from batched atomic
// persistence: one producer drains the source into a bounded queue, one
// consumer commits fixed-size batches, and a detached analysis pass is
// scheduled once anything was committed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tobiasvik/biovault/internal/model"
	"github.com/tobiasvik/biovault/internal/store"
)

const (
	defaultQueueCapacity = 256
	defaultBatchSize     = 64
)

// Analyzer consumes a recent window of events after an ingest. It runs
// outside the ingestion call's contract: failures are logged, never
// propagated, and cancellation is normal termination.
type Analyzer interface {
	Analyze(ctx context.Context, since time.Time) error
}

type Config struct {
	// QueueCapacity bounds the number of drained-but-unbatched events,
	// including the one in the producer's hand. Full queue suspends the
	// producer instead of buffering unboundedly or dropping data.
	QueueCapacity int
	// BatchSize is the fixed atomic commit unit.
	BatchSize int
}

// Result reports what one ingestion call durably committed.
type Result struct {
	Committed int
	Batches   int
}

type Coordinator struct {
	store    store.EventStore
	analyzer Analyzer
	logger   *slog.Logger
	cfg      Config

	analysisCtx    context.Context
	cancelAnalysis context.CancelFunc
	analysisWG     sync.WaitGroup
}

func NewCoordinator(es store.EventStore, analyzer Analyzer, logger *slog.Logger, cfg Config) *Coordinator {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:          es,
		analyzer:       analyzer,
		logger:         logger,
		cfg:            cfg,
		analysisCtx:    ctx,
		cancelAnalysis: cancel,
	}
}

// Ingest drains src and persists batches in source order, each batch one
// atomic store call. A source or persistence failure aborts the remaining
// drain but never retracts batches already committed; the call surfaces a
// single terminal error. On success with at least one committed event, an
// analysis pass is scheduled in the background.
func (c *Coordinator) Ingest(ctx context.Context, src Source, since time.Time) (Result, error) {
	// The producer always holds one event between pull and handoff, so the
	// channel is sized one below the configured capacity.
	queue := make(chan model.BiometricEvent, c.cfg.QueueCapacity-1)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		for {
			event, err := src.Next(gctx)
			if errors.Is(err, ErrEndOfStream) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("drain source: %w", err)
			}
			select {
			case queue <- event:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var result Result
	g.Go(func() error {
		batch := make([]model.BiometricEvent, 0, c.cfg.BatchSize)
		flush := func() error {
			if err := c.store.IngestBatch(gctx, batch); err != nil {
				return fmt.Errorf("persist batch of %d: %w", len(batch), err)
			}
			result.Committed += len(batch)
			result.Batches++
			batch = batch[:0]
			return nil
		}

		for event := range queue {
			batch = append(batch, event)
			if len(batch) == c.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		// The queue closed. Flush the remainder only on a clean drain; a
		// failed producer cancels gctx and the remainder is abandoned.
		if len(batch) > 0 && gctx.Err() == nil {
			return flush()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("ingest: %w", err)
	}

	if result.Committed > 0 {
		c.scheduleAnalysis(since)
	}
	return result, nil
}

// scheduleAnalysis starts the post-ingest pass on a context detached from the
// ingestion call, so it can neither block nor fail the caller.
func (c *Coordinator) scheduleAnalysis(since time.Time) {
	if c.analyzer == nil {
		return
	}

	c.analysisWG.Add(1)
	go func() {
		defer c.analysisWG.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("analysis pass panicked", "panic", fmt.Sprint(r))
			}
		}()

		err := c.analyzer.Analyze(c.analysisCtx, since)
		switch {
		case err == nil:
			c.logger.Debug("analysis pass completed", "since", since)
		case errors.Is(err, context.Canceled):
			c.logger.Debug("analysis pass cancelled")
		default:
			c.logger.Warn("analysis pass failed", "error", err)
		}
	}()
}

// Close cancels any in-flight analysis passes and waits for them to finish.
func (c *Coordinator) Close() {
	c.cancelAnalysis()
	c.analysisWG.Wait()
}

// WaitAnalysis blocks until all scheduled analysis passes have returned.
func (c *Coordinator) WaitAnalysis() {
	c.analysisWG.Wait()
}
