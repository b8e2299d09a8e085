// Package validate applies the canonical-record sanity checks between
// parsing and persistence. Records that fail are routed to the dead-letter
// sink with every violated rule reported, not just the first.
package validate

import (
	"fmt"
	"time"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

// ValidationError kinds.
const (
	OutOfRange   = "out_of_range"
	MissingField = "missing_field"
	BadTimestamp = "bad_timestamp"
)

// Violation is one failed check on a record.
type Violation struct {
	Kind    string
	Message string
}

func (v Violation) Error() string { return fmt.Sprintf("validate: %s: %s", v.Kind, v.Message) }

// Accepted bounds.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
	MinDepthKm   = -5.0
	MaxDepthKm   = 1000.0
	MinMagnitude = -2.0
	MaxMagnitude = 11.0

	maxFutureSkew = 24 * time.Hour
	maxAgeYears   = 200
)

// Check returns every violation found on e, evaluated against now. A nil
// return means the record is valid.
func Check(e model.NormalizedEvent, now time.Time) []Violation {
	var out []Violation
	add := func(kind, format string, args ...any) {
		out = append(out, Violation{Kind: kind, Message: fmt.Sprintf(format, args...)})
	}

	if e.Source == "" {
		add(MissingField, "source is empty")
	}
	if e.SourceEventID == "" {
		add(MissingField, "source_event_id is empty")
	}
	if e.EventUID == "" {
		add(MissingField, "event_uid is empty")
	}
	if e.MagnitudeType == "" {
		add(MissingField, "magnitude_type is empty")
	}

	if e.Latitude < MinLatitude || e.Latitude > MaxLatitude {
		add(OutOfRange, "latitude %g out of range [%g, %g]", e.Latitude, MinLatitude, MaxLatitude)
	}
	if e.Longitude < MinLongitude || e.Longitude > MaxLongitude {
		add(OutOfRange, "longitude %g out of range [%g, %g]", e.Longitude, MinLongitude, MaxLongitude)
	}
	if e.DepthKm < MinDepthKm || e.DepthKm > MaxDepthKm {
		add(OutOfRange, "depth_km %g out of range [%g, %g]", e.DepthKm, MinDepthKm, MaxDepthKm)
	}
	if e.MagnitudeValue < MinMagnitude || e.MagnitudeValue > MaxMagnitude {
		add(OutOfRange, "magnitude_value %g out of range [%g, %g]", e.MagnitudeValue, MinMagnitude, MaxMagnitude)
	}

	switch e.Status {
	case model.StatusAutomatic, model.StatusReviewed, model.StatusManual:
	case "":
		add(MissingField, "status is empty")
	default:
		add(OutOfRange, "status %q not in (automatic, reviewed, manual)", e.Status)
	}

	if e.OriginTimeUTC.IsZero() {
		add(MissingField, "origin_time_utc is missing")
	} else {
		if e.OriginTimeUTC.After(now.Add(maxFutureSkew)) {
			add(BadTimestamp, "origin_time_utc %s is more than 1 day in the future",
				e.OriginTimeUTC.Format(time.RFC3339))
		}
		if e.OriginTimeUTC.Before(now.AddDate(-maxAgeYears, 0, 0)) {
			add(BadTimestamp, "origin_time_utc %s is more than %d years in the past",
				e.OriginTimeUTC.Format(time.RFC3339), maxAgeYears)
		}
	}

	return out
}

// Messages flattens violations into the dead-letter error_messages form.
func Messages(violations []Violation) []string {
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.Message
	}
	return msgs
}
