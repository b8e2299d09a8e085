package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/client"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/source"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/store"
)

// Batch runs the full pipeline once: every enabled source is polled
// concurrently, results land in the store through a StoreSink, and a single
// clustering pass fuses the window. Intended for cron-style invocation.
type Batch struct {
	registry  *source.Registry
	intervals map[string]time.Duration
	fetcher   client.Fetcher
	runner    *ClusterRunner
	sink      RawPublisher
	ops       store.OpsStore
	logger    *zap.Logger
}

// NewBatch constructs a Batch orchestrator. intervals may override the
// per-source poll interval used for lookback sizing.
func NewBatch(registry *source.Registry, intervals map[string]time.Duration, fetcher client.Fetcher, sink RawPublisher, ops store.OpsStore, runner *ClusterRunner, logger *zap.Logger) *Batch {
	return &Batch{
		registry:  registry,
		intervals: intervals,
		fetcher:   fetcher,
		runner:    runner,
		sink:      sink,
		ops:       ops,
		logger:    logger,
	}
}

// Run polls every source concurrently, then clusters. A failing source does
// not block the others, but any failure makes Run return an error after the
// clustering pass so batch callers can exit non-zero.
func (b *Batch) Run(ctx context.Context) error {
	// Plain Group, not WithContext: one source failing must not cancel the
	// in-flight fetches of the others.
	var g errgroup.Group
	g.SetLimit(b.registry.Len())

	for _, src := range b.registry.All() {
		p := NewPoller(src, b.intervals[src.Tag], b.fetcher, b.sink, b.ops, b.logger)
		g.Go(func() error {
			return p.PollOnce(ctx)
		})
	}
	pollErr := g.Wait()
	if pollErr != nil {
		b.logger.Error("batch poll failed for at least one source", zap.Error(pollErr))
	}

	if err := b.runner.RunOnce(ctx); err != nil {
		return err
	}
	return pollErr
}
