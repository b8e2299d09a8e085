package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/geo"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

// featureCollection is the shared GeoJSON envelope. Features stay raw so a
// broken feature can be reported with its own bytes without losing the rest.
type featureCollection struct {
	Features []json.RawMessage `json:"features"`
}

// geoFeature covers both the USGS and EMSC property vocabularies; the two
// feeds use the same FeatureCollection shape but different property names.
type geoFeature struct {
	ID       string `json:"id"`
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		// Shared
		Mag    *float64 `json:"mag"`
		Place  *string  `json:"place"`
		Status *string  `json:"status"`
		URL    *string  `json:"url"`

		// USGS
		MagType         *string         `json:"magType"`
		Time            json.RawMessage `json:"time"` // ms epoch (USGS) or ISO-8601 (EMSC)
		Updated         json.RawMessage `json:"updated"`
		Net             *string         `json:"net"`
		Nst             *int            `json:"nst"`
		Gap             *float64        `json:"gap"`
		HorizontalError *float64        `json:"horizontalError"`
		DepthError      *float64        `json:"depthError"`
		MagError        *float64        `json:"magError"`
		TimeError       *float64        `json:"timeError"`

		// EMSC
		MagTypeLower *string         `json:"magtype"`
		UnID         *string         `json:"unid"`
		SourceID     *string         `json:"source_id"`
		FlynnRegion  *string         `json:"flynn_region"`
		LastUpdate   json.RawMessage `json:"lastupdate"`
		Auth         *string         `json:"auth"`
	} `json:"properties"`
}

// ParseGeoJSONUSGS parses a USGS FeatureCollection. Feature ids come from the
// top-level "id"; event times are millisecond epochs.
func ParseGeoJSONUSGS(src string, raw []byte, fetchedAt time.Time) ([]Record, []*ParseError) {
	return parseGeoJSON(src, raw, fetchedAt, false)
}

// ParseGeoJSONEMSC parses an EMSC (SeismicPortal) FeatureCollection. Event
// ids come from properties.unid; event times are ISO-8601 strings.
func ParseGeoJSONEMSC(src string, raw []byte, fetchedAt time.Time) ([]Record, []*ParseError) {
	return parseGeoJSON(src, raw, fetchedAt, true)
}

func parseGeoJSON(src string, raw []byte, fetchedAt time.Time, emsc bool) ([]Record, []*ParseError) {
	var fc featureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, []*ParseError{{Kind: MalformedPayload, Detail: err.Error(), Raw: raw}}
	}

	var records []Record
	var errs []*ParseError
	for _, rawFeature := range fc.Features {
		ev, perr := parseFeature(src, rawFeature, fetchedAt, emsc)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}
		records = append(records, Record{Event: ev, Raw: rawFeature})
	}
	return records, errs
}

func parseFeature(src string, raw json.RawMessage, fetchedAt time.Time, emsc bool) (model.NormalizedEvent, *ParseError) {
	var f geoFeature
	if err := json.Unmarshal(raw, &f); err != nil {
		return model.NormalizedEvent{}, &ParseError{Kind: MalformedEvent, Detail: err.Error(), Raw: raw}
	}
	props := &f.Properties

	id := f.ID
	if emsc {
		switch {
		case props.UnID != nil && *props.UnID != "":
			id = *props.UnID
		case props.SourceID != nil && *props.SourceID != "":
			id = *props.SourceID
		}
	}
	if id == "" {
		return model.NormalizedEvent{}, &ParseError{Kind: MalformedEvent, Detail: "missing event id", Raw: raw}
	}

	fail := func(detail string) (model.NormalizedEvent, *ParseError) {
		return model.NormalizedEvent{}, &ParseError{Kind: MalformedEvent, SourceEventID: id, Detail: detail, Raw: raw}
	}

	if len(f.Geometry.Coordinates) < 3 {
		return fail("geometry.coordinates must be [lon, lat, depth]")
	}
	if props.Mag == nil {
		return fail("missing magnitude (properties.mag)")
	}
	if len(props.Time) == 0 || string(props.Time) == "null" {
		return fail("missing origin time (properties.time)")
	}

	originTime, err := parseGeoJSONTime(props.Time)
	if err != nil {
		return fail(fmt.Sprintf("bad origin time: %v", err))
	}

	magType := "ml"
	if emsc && props.MagTypeLower != nil && *props.MagTypeLower != "" {
		magType = strings.ToLower(*props.MagTypeLower)
	} else if props.MagType != nil && *props.MagType != "" {
		magType = strings.ToLower(*props.MagType)
	}

	status := model.StatusAutomatic
	if props.Status != nil {
		status = normalizeStatus(strings.ToLower(*props.Status))
	}

	var updatedAt *time.Time
	updatedRaw := props.Updated
	if emsc && len(props.LastUpdate) > 0 {
		updatedRaw = props.LastUpdate
	}
	if len(updatedRaw) > 0 && string(updatedRaw) != "null" {
		if t, err := parseGeoJSONTime(updatedRaw); err == nil {
			t := t
			updatedAt = &t
		}
	}

	place := props.Place
	region := extractRegion(props.Place)
	if emsc {
		if props.FlynnRegion != nil && *props.FlynnRegion != "" {
			place = props.FlynnRegion
			region = props.FlynnRegion
		}
	}

	author := props.Net
	if emsc && props.Auth != nil {
		author = props.Auth
	}

	ev := model.NormalizedEvent{
		EventUID:       model.EventUID(src, id),
		Source:         src,
		SourceEventID:  id,
		OriginTimeUTC:  originTime,
		Latitude:       f.Geometry.Coordinates[1],
		Longitude:      geo.NormalizeLon(f.Geometry.Coordinates[0]),
		DepthKm:        f.Geometry.Coordinates[2],
		MagnitudeValue: *props.Mag,
		MagnitudeType:  magType,
		Place:          place,
		Region:         region,
		LatErrorKm:     props.HorizontalError,
		LonErrorKm:     props.HorizontalError,
		DepthErrorKm:   props.DepthError,
		MagError:       props.MagError,
		TimeErrorSec:   props.TimeError,
		Status:         status,
		NumPhases:      props.Nst,
		AzimuthalGap:   props.Gap,
		Author:         author,
		URL:            props.URL,
		FetchedAt:      fetchedAt,
		UpdatedAt:      updatedAt,
	}
	return ev, nil
}

// parseGeoJSONTime decodes either a millisecond epoch (USGS) or an ISO-8601
// string (EMSC). Both feeds occasionally use the other representation, so
// both are always accepted.
func parseGeoJSONTime(raw json.RawMessage) (time.Time, error) {
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("time is neither epoch ms nor string: %s", raw)
	}
	return parseISOTime(s)
}

// extractRegion derives a coarse region name from a USGS-style place string
// ("12 km NE of Town, Country" -> "Country").
func extractRegion(place *string) *string {
	if place == nil || *place == "" {
		return nil
	}
	parts := strings.Split(*place, ", ")
	region := parts[len(parts)-1]
	return &region
}
