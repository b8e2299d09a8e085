// Package model defines the canonical record types exchanged between the
// pipeline stages: the raw provenance envelope, the normalized (canonical)
// event, the fused unified event, the crosswalk rows linking the two, and the
// dead-letter / pipeline-run bookkeeping records.
//
// All timestamps are UTC. JSON encoding of these types is the canonical wire
// representation used on the broker and in the raw log; parsing a serialized
// record back must yield an identical value.
package model

import (
	"fmt"
	"time"
)

// Review status of an origin solution.
const (
	StatusAutomatic = "automatic"
	StatusReviewed  = "reviewed"
	StatusManual    = "manual"
)

// Format tags for the supported wire formats.
const (
	FormatGeoJSONUSGS = "geojson_usgs"
	FormatGeoJSONEMSC = "geojson_emsc"
	FormatFDSNText    = "fdsn_text"
	FormatQuakeML     = "quakeml"
)

// EventUID builds the globally unique identity "{source}:{source_event_id}".
func EventUID(source, sourceEventID string) string {
	return fmt.Sprintf("%s:%s", source, sourceEventID)
}

// RawEnvelope is the immutable, append-only provenance record wrapping one
// source event's raw bytes as fetched from the agency.
type RawEnvelope struct {
	Source        string    `json:"source"`
	SourceEventID string    `json:"source_event_id"`
	Format        string    `json:"format"`
	RawBytes      []byte    `json:"raw_bytes"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Key returns the envelope's broker key, "{source}:{source_event_id}".
func (e RawEnvelope) Key() string {
	return EventUID(e.Source, e.SourceEventID)
}

// NormalizedEvent is the canonical event record produced by the format
// parsers. Required fields are value types; optionals are pointers so that
// absence survives a JSON round trip.
type NormalizedEvent struct {
	EventUID      string `json:"event_uid"`
	Source        string `json:"source"`
	SourceEventID string `json:"source_event_id"`

	OriginTimeUTC time.Time `json:"origin_time_utc"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	DepthKm       float64   `json:"depth_km"`

	MagnitudeValue float64 `json:"magnitude_value"`
	MagnitudeType  string  `json:"magnitude_type"`

	Place  *string `json:"place,omitempty"`
	Region *string `json:"region,omitempty"`

	LatErrorKm   *float64 `json:"lat_error_km,omitempty"`
	LonErrorKm   *float64 `json:"lon_error_km,omitempty"`
	DepthErrorKm *float64 `json:"depth_error_km,omitempty"`
	MagError     *float64 `json:"mag_error,omitempty"`
	TimeErrorSec *float64 `json:"time_error_sec,omitempty"`

	Status       string   `json:"status"`
	NumPhases    *int     `json:"num_phases,omitempty"`
	AzimuthalGap *float64 `json:"azimuthal_gap,omitempty"`

	Author    *string    `json:"author,omitempty"`
	URL       *string    `json:"url,omitempty"`
	FetchedAt time.Time  `json:"fetched_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// IngestMessage is the broker wire record: the provenance envelope together
// with the normalized event parsed from it. The poller publishes one per
// source event; the normalizer consumer validates and persists both halves.
type IngestMessage struct {
	Envelope RawEnvelope     `json:"envelope"`
	Event    NormalizedEvent `json:"event"`
}

// UnifiedEvent is the deduplicated best-estimate record for one physical
// earthquake, fused from 1..N source reports.
type UnifiedEvent struct {
	UnifiedEventID string `json:"unified_event_id"`

	OriginTimeUTC time.Time `json:"origin_time_utc"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	DepthKm       float64   `json:"depth_km"`

	MagnitudeValue float64 `json:"magnitude_value"`
	MagnitudeType  string  `json:"magnitude_type"`

	Place  *string `json:"place,omitempty"`
	Region *string `json:"region,omitempty"`
	Status string  `json:"status"`

	NumSources       int      `json:"num_sources"`
	PreferredSource  string   `json:"preferred_source"`
	PreferredEventID string   `json:"preferred_event_uid"`
	SourceEventUIDs  []string `json:"source_event_uids"`

	MagnitudeStd         float64 `json:"magnitude_std"`
	LocationSpreadKm     float64 `json:"location_spread_km"`
	SourceAgreementScore float64 `json:"source_agreement_score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CrosswalkRow links a source-level event to the unified event it was fused
// into. Primary key is (event_uid, unified_event_id); exactly one row per
// unified event carries IsPreferred.
type CrosswalkRow struct {
	EventUID       string    `json:"event_uid"`
	UnifiedEventID string    `json:"unified_event_id"`
	MatchScore     float64   `json:"match_score"`
	IsPreferred    bool      `json:"is_preferred"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeadLetterEntry retains a payload the pipeline could not convert or
// validate, together with the reasons, for operator inspection.
type DeadLetterEntry struct {
	Source        string    `json:"source"`
	SourceEventID string    `json:"source_event_id,omitempty"`
	RawBytes      []byte    `json:"raw_payload"`
	ErrorMessages []string  `json:"error_messages"`
	CreatedAt     time.Time `json:"created_at"`
}

// Pipeline-run outcome.
const (
	RunStatusOK     = "ok"
	RunStatusFailed = "failed"
)

// PipelineRun is the telemetry record written once per poll or clustering
// pass.
type PipelineRun struct {
	RunID             string    `json:"run_id"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Status            string    `json:"status"`
	SourcesFetched    []string  `json:"sources_fetched"`
	RawEventsCount    int       `json:"raw_events_count"`
	UnifiedEventCount int       `json:"unified_events_count"`
	DeadLetterCount   int       `json:"dead_letter_count"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	DurationSeconds   float64   `json:"duration_seconds"`
}

// Merge folds a re-ingested record for the same event_uid into e, keeping the
// newer solution. Only a record carrying an UpdatedAt stamp can override: an
// unstamped incoming record is dropped, and a stamped one wins over an
// unstamped stored row or any strictly older stamp. This mirrors the
// conditional upsert the database applies.
func (e *NormalizedEvent) Merge(in NormalizedEvent) {
	if in.EventUID != e.EventUID {
		return
	}
	if in.UpdatedAt == nil {
		return
	}
	if e.UpdatedAt != nil && !in.UpdatedAt.After(*e.UpdatedAt) {
		return
	}
	fetchedAt := e.FetchedAt
	*e = in
	if in.FetchedAt.IsZero() {
		e.FetchedAt = fetchedAt
	}
}
