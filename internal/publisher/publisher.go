// Package publisher sends raw provenance envelopes to JetStream. The poller
// hands it one envelope per source event; the normalizer consumer picks them
// up on the other side.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/natsclient"
)

// Publisher writes raw envelopes to the QUAKE_RAW stream.
type Publisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// New constructs a Publisher on an existing JetStream context.
func New(nc *natsclient.Client, logger *zap.Logger) *Publisher {
	return &Publisher{js: nc.JS, logger: logger}
}

// Publish sends one ingest message to raw.<source> and waits for the stream
// ack. The Nats-Msg-Id header carries the envelope key plus fetch time, so a
// crashed poller republishing the same fetch is deduplicated by the stream
// while a later re-fetch of the same event still goes through.
func (p *Publisher) Publish(ctx context.Context, in model.IngestMessage) error {
	env := in.Envelope
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal raw envelope %s: %w", env.Key(), err)
	}

	msg := nats.NewMsg(natsclient.SubjectRaw(env.Source))
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, fmt.Sprintf("%s@%d", env.Key(), env.FetchedAt.UnixMilli()))

	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish raw envelope %s: %w", env.Key(), err)
	}

	p.logger.Debug("raw envelope published",
		zap.String("subject", msg.Subject),
		zap.String("event_uid", env.Key()),
	)
	return nil
}
