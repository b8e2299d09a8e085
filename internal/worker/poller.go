// Package worker contains the long-running pipeline loops: the per-source
// pollers, the periodic cluster runner, and the one-shot batch orchestration.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/client"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/parser"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/source"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/store"
)

// minLookback floors the re-fetch overlap so short poll intervals still
// catch late-arriving revisions.
const minLookback = 10 * time.Minute

// RawPublisher is where a poller hands off ingest messages. The NATS
// publisher implements it in worker mode; StoreSink implements it for batch
// runs without a broker.
type RawPublisher interface {
	Publish(ctx context.Context, in model.IngestMessage) error
}

// Poller fetches one source on a fixed cadence, parses the payload, and
// publishes an ingest message per new or updated event. It keeps an
// in-process seen set so an unchanged event is published once per process
// lifetime.
type Poller struct {
	src      source.Descriptor
	interval time.Duration
	fetcher  client.Fetcher
	pub      RawPublisher
	ops      store.OpsStore
	logger   *zap.Logger
	now      func() time.Time

	// seen maps event_uid to the updated_at stamp last published. A newer
	// stamp re-publishes the event; same or older is skipped. Not
	// goroutine-safe: one Poller runs on one goroutine.
	seen map[string]time.Time
}

// NewPoller constructs a Poller. interval is floored at the source's minimum
// poll interval.
func NewPoller(src source.Descriptor, interval time.Duration, fetcher client.Fetcher, pub RawPublisher, ops store.OpsStore, logger *zap.Logger) *Poller {
	if interval < src.MinPollInterval {
		interval = src.MinPollInterval
	}
	return &Poller{
		src:      src,
		interval: interval,
		fetcher:  fetcher,
		pub:      pub,
		ops:      ops,
		logger:   logger.With(zap.String("source", src.Tag)),
		now:      time.Now,
		seen:     make(map[string]time.Time),
	}
}

// Run polls immediately, then on every tick until ctx is cancelled. A failed
// poll is logged and recorded; it never stops the loop.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller starting", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.PollOnce(ctx); err != nil {
			p.logger.Error("poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce performs a single fetch-parse-publish pass and records a pipeline
// run either way.
func (p *Poller) PollOnce(ctx context.Context) error {
	started := p.now().UTC()
	published, deadLettered, err := p.poll(ctx, started)
	finished := p.now().UTC()

	run := model.PipelineRun{
		RunID:           uuid.NewString(),
		StartedAt:       started,
		FinishedAt:      finished,
		Status:          model.RunStatusOK,
		SourcesFetched:  []string{p.src.Tag},
		RawEventsCount:  published,
		DeadLetterCount: deadLettered,
		DurationSeconds: finished.Sub(started).Seconds(),
	}
	if err != nil {
		run.Status = model.RunStatusFailed
		run.ErrorMessage = err.Error()
	}
	if appendErr := p.ops.AppendRun(ctx, run); appendErr != nil {
		p.logger.Error("failed to record pipeline run", zap.Error(appendErr))
	}
	return err
}

func (p *Poller) poll(ctx context.Context, fetchedAt time.Time) (published, deadLettered int, err error) {
	lookback := 3 * p.interval
	if lookback < minLookback {
		lookback = minLookback
	}

	query := client.FDSNQuery(p.src.Format, fetchedAt.Add(-lookback), fetchedAt, 0)
	payload, err := p.fetcher.Fetch(ctx, p.src, query)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch %s: %w", p.src.Tag, err)
	}

	parse, perr := parser.ForFormat(p.src.Format)
	if perr != nil {
		return 0, 0, perr
	}

	records, parseErrs := parse(p.src.Tag, payload, fetchedAt)
	var payloadErr *parser.ParseError
	for _, pe := range parseErrs {
		if pe.WholePayload() && payloadErr == nil {
			payloadErr = pe
		}
		if dlErr := p.ops.AppendDeadLetter(ctx, model.DeadLetterEntry{
			Source:        p.src.Tag,
			SourceEventID: pe.SourceEventID,
			RawBytes:      pe.Raw,
			ErrorMessages: []string{pe.Error()},
			CreatedAt:     p.now().UTC(),
		}); dlErr != nil {
			return published, deadLettered, fmt.Errorf("dead-letter: %w", dlErr)
		}
		deadLettered++
	}
	// A per-record parse error skips that record; a payload the parser could
	// not read at all fails the whole run.
	if payloadErr != nil {
		return published, deadLettered, fmt.Errorf("parse %s: %w", p.src.Tag, payloadErr)
	}

	for _, rec := range records {
		if !p.markSeen(rec.Event) {
			continue
		}
		msg := model.IngestMessage{
			Envelope: model.RawEnvelope{
				Source:        p.src.Tag,
				SourceEventID: rec.Event.SourceEventID,
				Format:        p.src.Format,
				RawBytes:      rec.Raw,
				FetchedAt:     fetchedAt,
			},
			Event: rec.Event,
		}
		if pubErr := p.pub.Publish(ctx, msg); pubErr != nil {
			p.unsee(rec.Event.EventUID)
			return published, deadLettered, fmt.Errorf("publish %s: %w", rec.Event.EventUID, pubErr)
		}
		published++
	}

	p.logger.Debug("poll complete",
		zap.Int("published", published),
		zap.Int("dead_lettered", deadLettered),
		zap.Int("parsed", len(records)),
	)
	return published, deadLettered, nil
}

// markSeen reports whether the event is new or carries a newer updated_at
// than the last published copy, recording it if so. Events without an
// updated_at stamp are published once.
func (p *Poller) markSeen(e model.NormalizedEvent) bool {
	var stamp time.Time
	if e.UpdatedAt != nil {
		stamp = *e.UpdatedAt
	}
	last, ok := p.seen[e.EventUID]
	if ok && !stamp.After(last) {
		return false
	}
	p.seen[e.EventUID] = stamp
	return true
}

func (p *Poller) unsee(eventUID string) {
	delete(p.seen, eventUID)
}
