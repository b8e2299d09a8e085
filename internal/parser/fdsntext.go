package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/geo"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

// FDSN text column order is fixed by the web-service conventions:
// EventID|Time|Latitude|Longitude|Depth/km|Author|Catalog|Contributor|
// ContributorID|MagType|Magnitude|MagAuthor|EventLocationName
const (
	colEventID = 0
	colTime    = 1
	colLat     = 2
	colLon     = 3
	colDepth   = 4
	colAuthor  = 5
	colMagType = 9
	colMag     = 10
	colPlace   = 12

	fdsnTextColumns = 13
)

// ParseFDSNText parses a pipe-delimited FDSN text payload. Header lines
// (leading '#') and blank lines are skipped; each remaining line is one
// event and fails independently.
func ParseFDSNText(src string, raw []byte, fetchedAt time.Time) ([]Record, []*ParseError) {
	var records []Record
	var errs []*ParseError

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "EventID") {
			continue
		}
		ev, perr := parseFDSNLine(src, line, fetchedAt)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}
		records = append(records, Record{Event: ev, Raw: []byte(line)})
	}
	return records, errs
}

func parseFDSNLine(src, line string, fetchedAt time.Time) (model.NormalizedEvent, *ParseError) {
	cols := strings.Split(line, "|")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}

	fail := func(detail string) (model.NormalizedEvent, *ParseError) {
		perr := &ParseError{Kind: MalformedEvent, Detail: detail, Raw: []byte(line)}
		if len(cols) > colEventID {
			perr.SourceEventID = cols[colEventID]
		}
		return model.NormalizedEvent{}, perr
	}

	if len(cols) < fdsnTextColumns {
		return fail(fmt.Sprintf("expected %d pipe-delimited fields, got %d", fdsnTextColumns, len(cols)))
	}
	if cols[colEventID] == "" {
		return fail("missing EventID")
	}

	originTime, err := parseISOTime(cols[colTime])
	if err != nil {
		return fail(fmt.Sprintf("bad Time: %v", err))
	}
	lat, err := strconv.ParseFloat(cols[colLat], 64)
	if err != nil {
		return fail(fmt.Sprintf("bad Latitude: %v", err))
	}
	lon, err := strconv.ParseFloat(cols[colLon], 64)
	if err != nil {
		return fail(fmt.Sprintf("bad Longitude: %v", err))
	}
	depth, err := strconv.ParseFloat(cols[colDepth], 64)
	if err != nil {
		return fail(fmt.Sprintf("bad Depth/km: %v", err))
	}
	if cols[colMag] == "" {
		return fail("missing Magnitude")
	}
	mag, err := strconv.ParseFloat(cols[colMag], 64)
	if err != nil {
		return fail(fmt.Sprintf("bad Magnitude: %v", err))
	}

	magType := strings.ToLower(cols[colMagType])
	if magType == "" {
		magType = "ml"
	}

	var author, place, region *string
	if cols[colAuthor] != "" {
		author = &cols[colAuthor]
	}
	if cols[colPlace] != "" {
		place = &cols[colPlace]
		region = &cols[colPlace]
	}

	ev := model.NormalizedEvent{
		EventUID:       model.EventUID(src, cols[colEventID]),
		Source:         src,
		SourceEventID:  cols[colEventID],
		OriginTimeUTC:  originTime,
		Latitude:       lat,
		Longitude:      geo.NormalizeLon(lon),
		DepthKm:        depth,
		MagnitudeValue: mag,
		MagnitudeType:  magType,
		Place:          place,
		Region:         region,
		Status:         model.StatusAutomatic,
		Author:         author,
		FetchedAt:      fetchedAt,
	}
	return ev, nil
}

// parseISOTime accepts the timestamp spellings seen across FDSN services:
// RFC3339 with or without fractional seconds, and zone-less UTC variants.
func parseISOTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
