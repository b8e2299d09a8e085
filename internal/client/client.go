// Package client provides the HTTP transport used to poll agency endpoints.
//
// A single Client is shared by every poller. It owns the only shared mutable
// state in the pipeline: one token bucket per source, sized to the source's
// minimum poll interval. Fetches retry on network errors and retryable HTTP
// statuses with exponential backoff and jitter, all under the source's total
// deadline.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/source"
)

// FetchError kinds.
const (
	FetchTimeout     = "timeout"
	FetchNetwork     = "network"
	FetchHTTP4xx     = "http_4xx"
	FetchHTTP5xx     = "http_5xx"
	FetchRateLimited = "rate_limited"
)

// FetchError reports a failed fetch after the retry policy is exhausted.
type FetchError struct {
	Source     string
	Kind       string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d after %d attempt(s))",
			e.Source, e.Kind, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.Source, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RetryPolicy controls the backoff schedule applied to retryable failures.
type RetryPolicy struct {
	// MaxAttempts overrides the per-source MaxRetries when > 0 (it counts
	// re-attempts, not total tries).
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	// AttemptTimeout bounds each individual request, so one stalled attempt
	// cannot eat the whole per-source deadline. Zero means attempts run under
	// the total deadline only.
	AttemptTimeout time.Duration
}

// Fetcher is the transport abstraction injected into pollers, so tests can
// swap in a canned implementation.
type Fetcher interface {
	Fetch(ctx context.Context, src source.Descriptor, query url.Values) ([]byte, error)
}

// Client is the production Fetcher backed by net/http.
type Client struct {
	httpClient *http.Client
	policy     RetryPolicy
	logger     *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// jitter returns a value in [0,1); replaced in tests for determinism.
	jitter func() float64
}

// New constructs a Client. A zero RetryPolicy falls back to each source's
// registry values with a 1s base and 30s cap.
func New(policy RetryPolicy, logger *zap.Logger) *Client {
	if policy.Base <= 0 {
		policy.Base = 1 * time.Second
	}
	if policy.Cap <= 0 {
		policy.Cap = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{},
		policy:     policy,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
		jitter:     rand.Float64,
	}
}

// limiter returns the token bucket for a source, creating it on first use.
// The bucket refills once per MinPollInterval; the burst allows a full retry
// cycle without stalling against the poll cadence.
func (c *Client) limiter(src source.Descriptor) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[src.Tag]; ok {
		return l
	}
	burst := src.MaxRetries + 1
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Every(src.MinPollInterval), burst)
	c.limiters[src.Tag] = l
	return l
}

// Fetch GETs the source endpoint with the given query under the source's
// total deadline, each attempt additionally bounded by the policy's
// AttemptTimeout. It retries network errors, attempt timeouts, and HTTP
// 5xx/429 responses with exponential backoff (base doubling, capped, ±20%
// jitter); other 4xx statuses fail immediately. A 204 response is the FDSN "no events" answer
// and yields the format's empty payload.
func (c *Client) Fetch(ctx context.Context, src source.Descriptor, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, src.Timeout)
	defer cancel()

	maxAttempts := src.MaxRetries + 1
	if c.policy.MaxAttempts > 0 {
		maxAttempts = c.policy.MaxAttempts + 1
	}

	target := src.BaseURL
	if len(query) > 0 {
		target = src.BaseURL + "?" + query.Encode()
	}
	lim := c.limiter(src)

	var lastErr *FetchError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return nil, c.deadlineError(src, attempt, err, lastErr)
		}

		started := time.Now()
		body, ferr := c.boundedAttempt(ctx, src, target)
		latency := time.Since(started)

		if ferr == nil {
			c.logger.Debug("fetch ok",
				zap.String("source", src.Tag),
				zap.Int("attempt", attempt),
				zap.Duration("latency", latency),
				zap.Int("bytes", len(body)),
			)
			return body, nil
		}

		ferr.Attempts = attempt
		c.logger.Warn("fetch attempt failed",
			zap.String("source", src.Tag),
			zap.Int("attempt", attempt),
			zap.Duration("latency", latency),
			zap.String("kind", ferr.Kind),
			zap.Int("status", ferr.StatusCode),
			zap.Error(ferr.Err),
		)

		// An attempt timeout retries while the total deadline is still
		// alive; once the source deadline itself expired, give up.
		if ferr.Kind == FetchTimeout {
			if ctx.Err() != nil {
				return nil, ferr
			}
		} else if !retryable(ferr.Kind) {
			return nil, ferr
		}
		lastErr = ferr

		if attempt < maxAttempts {
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, c.deadlineError(src, attempt, err, lastErr)
			}
		}
	}
	return nil, lastErr
}

// boundedAttempt runs one attempt under the policy's per-attempt timeout
// when one is configured.
func (c *Client) boundedAttempt(ctx context.Context, src source.Descriptor, target string) ([]byte, *FetchError) {
	if c.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.AttemptTimeout)
		defer cancel()
	}
	return c.attempt(ctx, src, target)
}

// attempt performs a single request and classifies the outcome.
func (c *Client) attempt(ctx context.Context, src source.Descriptor, target string) ([]byte, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Source: src.Tag, Kind: FetchNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json, application/xml, text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &FetchError{Source: src.Tag, Kind: FetchTimeout, Err: ctx.Err()}
		}
		return nil, &FetchError{Source: src.Tag, Kind: FetchNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return emptyPayload(src.Format), nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &FetchError{Source: src.Tag, Kind: FetchTimeout, Err: ctx.Err()}
		}
		return nil, &FetchError{Source: src.Tag, Kind: FetchNetwork, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &FetchError{Source: src.Tag, Kind: FetchRateLimited, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, &FetchError{Source: src.Tag, Kind: FetchHTTP5xx, StatusCode: resp.StatusCode}
	default:
		return nil, &FetchError{Source: src.Tag, Kind: FetchHTTP4xx, StatusCode: resp.StatusCode}
	}
}

// sleep waits out the backoff for the given attempt number (1-based) or
// returns early when ctx expires.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	backoff := c.policy.Base << (attempt - 1)
	if backoff > c.policy.Cap || backoff <= 0 {
		backoff = c.policy.Cap
	}
	// ±20% jitter.
	factor := 0.8 + 0.4*c.jitter()
	backoff = time.Duration(float64(backoff) * factor)

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// deadlineError folds a context expiry into a timeout FetchError, keeping the
// last transport failure as the cause when one exists.
func (c *Client) deadlineError(src source.Descriptor, attempts int, ctxErr error, last *FetchError) *FetchError {
	cause := ctxErr
	if last != nil {
		cause = last
	}
	return &FetchError{Source: src.Tag, Kind: FetchTimeout, Attempts: attempts, Err: cause}
}

func retryable(kind string) bool {
	return kind == FetchNetwork || kind == FetchHTTP5xx || kind == FetchRateLimited
}

// emptyPayload returns the canonical "no events" body for each wire format,
// so parsers never see a zero-byte payload on HTTP 204.
func emptyPayload(format string) []byte {
	switch format {
	case model.FormatGeoJSONUSGS, model.FormatGeoJSONEMSC:
		return []byte(`{"type":"FeatureCollection","features":[]}`)
	case model.FormatQuakeML:
		return []byte(`<?xml version="1.0"?><q:quakeml xmlns:q="http://quakeml.org/xmlns/quakeml/1.2" xmlns="http://quakeml.org/xmlns/bed/1.2"><eventParameters publicID="smi:local/empty"></eventParameters></q:quakeml>`)
	default:
		return nil
	}
}

// FDSNQuery builds the standard FDSN event query parameters for a poll
// window.
func FDSNQuery(format string, start, end time.Time, minMagnitude float64) url.Values {
	wire := "text"
	switch format {
	case model.FormatGeoJSONUSGS:
		wire = "geojson"
	case model.FormatGeoJSONEMSC:
		wire = "json"
	case model.FormatQuakeML:
		wire = "xml"
	}
	q := url.Values{}
	q.Set("format", wire)
	q.Set("starttime", start.UTC().Format("2006-01-02T15:04:05"))
	q.Set("endtime", end.UTC().Format("2006-01-02T15:04:05"))
	q.Set("minmagnitude", fmt.Sprintf("%g", minMagnitude))
	q.Set("orderby", "time")
	return q
}

// IsFetchTimeout reports whether err is a FetchError of kind timeout.
func IsFetchTimeout(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchTimeout
}
