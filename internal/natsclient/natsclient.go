// Package natsclient wraps the NATS connection and JetStream provisioning
// shared by the publisher and the consumer.
package natsclient

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamRawEvents is the durable stream carrying raw source envelopes.
	StreamRawEvents = "QUAKE_RAW"
	// SubjectRawWildcard is the subject hierarchy for raw envelopes; one
	// leaf per source, e.g. raw.usgs.
	SubjectRawWildcard = "raw.>"
)

// SubjectRaw returns the publish subject for one source's envelopes.
func SubjectRaw(source string) string {
	return "raw." + source
}

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	Log  *zap.Logger
}

// NewClient connects to NATS and initialises a JetStream context.
func NewClient(url string, logger *zap.Logger) (*Client, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	logger.Info("NATS JetStream connected", zap.String("url", url))
	return &Client{Conn: nc, JS: js, Log: logger}, nil
}

// ProvisionStreams idempotently creates the raw-event stream.
func (c *Client) ProvisionStreams() error {
	_, err := c.JS.StreamInfo(StreamRawEvents)
	if err == nil {
		c.Log.Info("NATS stream exists", zap.String("stream", StreamRawEvents))
		return nil
	}

	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to check stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamRawEvents,
		Subjects:  []string{SubjectRawWildcard},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}

	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned", zap.String("stream", StreamRawEvents))
	return nil
}

// Close drains and closes the underlying NATS connection. Drain flushes all
// pending JetStream publish acknowledgments and outstanding subscription
// deliveries before closing; Close alone drops in-flight messages.
func (c *Client) Close() {
	if c.Conn != nil {
		if err := c.Conn.Drain(); err != nil {
			c.Conn.Close()
		}
	}
}
