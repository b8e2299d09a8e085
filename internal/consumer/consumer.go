// Package consumer contains the JetStream pull consumer that turns published
// ingest messages into persisted rows.
//
// NormalizerConsumer subscribes to the wildcard subject "raw.>" on the
// QUAKE_RAW stream, validates each normalized event against the physical
// bounds, and persists the raw envelope plus the canonical record.
//
// Idempotency guarantee:
//   - normalized_events upserts by event_uid, and a record only overwrites a
//     stored one when its updated_at is newer.
//   - Therefore NATS re-delivery of any message is safe — the second write
//     is a no-op.
//
// Poison-pill handling:
//   - Structurally invalid messages (bad JSON, missing identity) are
//     msg.Term()'d so they are never redelivered.
//   - Events failing validation are written to the dead-letter table and
//     Ack'd — redelivering them cannot help.
//   - Transient failures (DB down) trigger msg.Nak() so the message is
//     requeued with back-off.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/natsclient"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/store"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/validate"
)

// normalizerDurable is the JetStream consumer name. All replicas share it,
// so each message is processed once across the group.
const normalizerDurable = "quake-normalizer"

// NormalizerConsumer persists ingest messages from the raw stream.
type NormalizerConsumer struct {
	nats   *natsclient.Client
	events store.EventStore
	ops    store.OpsStore
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewNormalizerConsumer constructs a NormalizerConsumer.
func NewNormalizerConsumer(n *natsclient.Client, events store.EventStore, ops store.OpsStore, logger *zap.Logger) *NormalizerConsumer {
	return &NormalizerConsumer{
		nats:   n,
		events: events,
		ops:    ops,
		logger: logger,
		tracer: otel.Tracer("quake-normalizer"),
		now:    time.Now,
	}
}

// Start creates a durable pull subscription on "raw.>" and launches the
// processing loop in a background goroutine. It returns immediately.
func (c *NormalizerConsumer) Start(ctx context.Context) error {
	sub, err := c.nats.JS.PullSubscribe(
		natsclient.SubjectRawWildcard,
		normalizerDurable,
		nats.BindStream(natsclient.StreamRawEvents),
	)
	if err != nil {
		return fmt.Errorf("normalizer consumer: PullSubscribe: %w", err)
	}

	c.logger.Info("normalizer consumer initialised",
		zap.String("stream", natsclient.StreamRawEvents),
		zap.String("durable", normalizerDurable),
		zap.String("subject", natsclient.SubjectRawWildcard),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("normalizer consumer stopping")
				return
			default:
				msgs, err := sub.Fetch(20, nats.Context(ctx))
				if err != nil {
					continue // nats.ErrTimeout on empty queue — not an error
				}
				for _, msg := range msgs {
					c.processMessage(ctx, msg)
				}
			}
		}
	}()

	return nil
}

// processMessage dispatches a single NATS message and handles Ack/Nak/Term.
func (c *NormalizerConsumer) processMessage(ctx context.Context, msg *nats.Msg) {
	err := c.processIngest(ctx, msg.Data)
	if err != nil {
		var ppe *poisonPillError
		if isPoisonPill(err, &ppe) {
			c.logger.Warn("terminating poison-pill ingest message",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			msg.Term()
			return
		}
		c.logger.Error("NAK ingest message (transient error)",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		msg.Nak()
		return
	}
	// Ack ONLY after the DB rows are committed; the upsert makes acking a
	// redelivered message safe too.
	msg.Ack()
}

// processIngest is the pure business logic: decode → validate → persist. It
// has no NATS dependency so it can be called directly from unit tests.
func (c *NormalizerConsumer) processIngest(ctx context.Context, data []byte) error {
	var in model.IngestMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return &poisonPillError{msg: fmt.Sprintf("unmarshal ingest message: %v", err)}
	}
	if in.Event.EventUID == "" || in.Event.Source == "" {
		return &poisonPillError{msg: "ingest message missing event identity"}
	}

	ctx, span := c.tracer.Start(ctx, "normalizer.processIngest")
	defer span.End()

	if violations := validate.Check(in.Event, c.now().UTC()); len(violations) > 0 {
		if err := c.ops.AppendDeadLetter(ctx, model.DeadLetterEntry{
			Source:        in.Event.Source,
			SourceEventID: in.Event.SourceEventID,
			RawBytes:      in.Envelope.RawBytes,
			ErrorMessages: validate.Messages(violations),
			CreatedAt:     c.now().UTC(),
		}); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to dead-letter %s: %w", in.Event.EventUID, err)
		}
		c.logger.Warn("event failed validation, dead-lettered",
			zap.String("event_uid", in.Event.EventUID),
			zap.Strings("violations", validate.Messages(violations)),
		)
		return nil
	}

	if err := c.events.AppendRaw(ctx, in.Envelope); err != nil {
		span.RecordError(err)
		return fmt.Errorf("AppendRaw %s: %w", in.Event.EventUID, err)
	}
	if err := c.events.UpsertNormalized(ctx, in.Event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("UpsertNormalized %s: %w", in.Event.EventUID, err)
	}

	c.logger.Debug("normalized event persisted",
		zap.String("event_uid", in.Event.EventUID),
		zap.String("source", in.Event.Source),
	)
	return nil
}

// poisonPillError marks a message as structurally unrecoverable.
// processMessage calls msg.Term() on these instead of msg.Nak().
type poisonPillError struct{ msg string }

func (e *poisonPillError) Error() string { return "poison pill: " + e.msg }

// isPoisonPill type-asserts err to *poisonPillError.
func isPoisonPill(err error, out **poisonPillError) bool {
	ppe, ok := err.(*poisonPillError)
	if ok && out != nil {
		*out = ppe
	}
	return ok
}
