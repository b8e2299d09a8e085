package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/store"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/validate"
)

// StoreSink is a RawPublisher that validates and persists directly, used by
// batch runs where no broker sits between poll and persistence. It applies
// the same validate / dead-letter / upsert semantics as the normalizer
// consumer.
type StoreSink struct {
	events store.EventStore
	ops    store.OpsStore
	logger *zap.Logger
	now    func() time.Time
}

// NewStoreSink constructs a StoreSink.
func NewStoreSink(events store.EventStore, ops store.OpsStore, logger *zap.Logger) *StoreSink {
	return &StoreSink{events: events, ops: ops, logger: logger, now: time.Now}
}

func (s *StoreSink) Publish(ctx context.Context, in model.IngestMessage) error {
	if violations := validate.Check(in.Event, s.now().UTC()); len(violations) > 0 {
		if err := s.ops.AppendDeadLetter(ctx, model.DeadLetterEntry{
			Source:        in.Event.Source,
			SourceEventID: in.Event.SourceEventID,
			RawBytes:      in.Envelope.RawBytes,
			ErrorMessages: validate.Messages(violations),
			CreatedAt:     s.now().UTC(),
		}); err != nil {
			return fmt.Errorf("failed to dead-letter %s: %w", in.Event.EventUID, err)
		}
		s.logger.Warn("event failed validation, dead-lettered",
			zap.String("event_uid", in.Event.EventUID),
			zap.Strings("violations", validate.Messages(violations)),
		)
		return nil
	}

	if err := s.events.AppendRaw(ctx, in.Envelope); err != nil {
		return fmt.Errorf("AppendRaw %s: %w", in.Event.EventUID, err)
	}
	if err := s.events.UpsertNormalized(ctx, in.Event); err != nil {
		return fmt.Errorf("UpsertNormalized %s: %w", in.Event.EventUID, err)
	}
	return nil
}
