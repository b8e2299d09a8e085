// Package parser converts raw agency payloads into canonical NormalizedEvent
// records. One parser exists per wire format; all of them are pure functions
// of their input — no I/O, no clock reads beyond the fetchedAt argument.
//
// Parsers tolerate partial failure: a payload with K events may yield M <= K
// records plus per-event errors carrying the offending sub-document, while a
// payload that cannot be decoded at all yields zero records and a single
// whole-payload error.
package parser

import (
	"fmt"
	"time"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

// ParseError kinds.
const (
	MalformedPayload  = "malformed_payload"
	MalformedEvent    = "malformed_event"
	UnsupportedFormat = "unsupported_format"
)

// ParseError describes one parse failure. For per-event failures Raw holds
// the offending sub-document bytes so the dead-letter entry can preserve
// them.
type ParseError struct {
	Kind          string
	Detail        string
	SourceEventID string
	Raw           []byte
}

func (e *ParseError) Error() string {
	if e.SourceEventID != "" {
		return fmt.Sprintf("parse: %s (%s): %s", e.Kind, e.SourceEventID, e.Detail)
	}
	return fmt.Sprintf("parse: %s: %s", e.Kind, e.Detail)
}

// WholePayload reports whether the error invalidates the entire payload.
func (e *ParseError) WholePayload() bool {
	return e.Kind == MalformedPayload || e.Kind == UnsupportedFormat
}

// Record pairs a normalized event with the raw sub-document it was parsed
// from. Raw feeds the per-event provenance envelope.
type Record struct {
	Event model.NormalizedEvent
	Raw   []byte
}

// Func is the parser contract: source tag + raw payload + fetch time in,
// canonical records and per-event (or whole-payload) errors out.
type Func func(src string, raw []byte, fetchedAt time.Time) ([]Record, []*ParseError)

// table is the tagged dispatch from format to parser. No open-ended
// polymorphism: adding a format means adding an entry here.
var table = map[string]Func{
	model.FormatGeoJSONUSGS: ParseGeoJSONUSGS,
	model.FormatGeoJSONEMSC: ParseGeoJSONEMSC,
	model.FormatFDSNText:    ParseFDSNText,
	model.FormatQuakeML:     ParseQuakeML,
}

// ForFormat returns the parser for a format tag, or an unsupported_format
// error for unknown tags.
func ForFormat(format string) (Func, *ParseError) {
	fn, ok := table[format]
	if !ok {
		return nil, &ParseError{Kind: UnsupportedFormat, Detail: fmt.Sprintf("no parser for format %q", format)}
	}
	return fn, nil
}

// normalizeStatus folds an agency status string onto the canonical set,
// defaulting to automatic.
func normalizeStatus(s string) string {
	switch s {
	case model.StatusReviewed:
		return model.StatusReviewed
	case model.StatusManual:
		return model.StatusManual
	default:
		return model.StatusAutomatic
	}
}
