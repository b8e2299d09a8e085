package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

const fdsnPayload = `#EventID|Time|Latitude|Longitude|Depth/km|Author|Catalog|Contributor|ContributorID|MagType|Magnitude|MagAuthor|EventLocationName
gfz2024abcd|2024-01-01T00:00:00.00Z|35.0|25.0|10.0|GFZ|GEOFON|GFZ|gfz2024abcd|Mw|5.2|GFZ|Crete, Greece
gfz2024wxyz|2024-01-01T01:30:00|-36.1|178.2|33.0|GFZ|GEOFON|GFZ|gfz2024wxyz|M|4.1|GFZ|Off East Coast Of North Island
`

func TestParseFDSNText(t *testing.T) {
	records, errs := ParseFDSNText("gfz", []byte(fdsnPayload), fetchedAt)
	require.Empty(t, errs)
	require.Len(t, records, 2)

	e := records[0].Event
	assert.Equal(t, "gfz:gfz2024abcd", e.EventUID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), e.OriginTimeUTC)
	assert.Equal(t, 35.0, e.Latitude)
	assert.Equal(t, 25.0, e.Longitude)
	assert.Equal(t, 10.0, e.DepthKm)
	assert.Equal(t, 5.2, e.MagnitudeValue)
	assert.Equal(t, "mw", e.MagnitudeType)
	assert.Equal(t, model.StatusAutomatic, e.Status)
	require.NotNil(t, e.Place)
	assert.Equal(t, "Crete, Greece", *e.Place)
}

func TestParseFDSNTextSkipsHeadersAndBlanks(t *testing.T) {
	payload := "#EventID|Time|...\n\nEventID|Time|Latitude\n"
	records, errs := ParseFDSNText("gfz", []byte(payload), fetchedAt)
	assert.Empty(t, records)
	assert.Empty(t, errs)
}

func TestParseFDSNTextMissingMagnitude(t *testing.T) {
	payload := "ev1|2024-01-01T00:00:00|35.0|25.0|10.0|GFZ|CAT|GFZ|ev1|ml||GFZ|Somewhere"
	records, errs := ParseFDSNText("gfz", []byte(payload), fetchedAt)
	assert.Empty(t, records)
	require.Len(t, errs, 1)
	assert.Equal(t, MalformedEvent, errs[0].Kind)
	assert.Equal(t, "ev1", errs[0].SourceEventID)
	assert.Contains(t, errs[0].Detail, "Magnitude")
}

func TestParseFDSNTextShortLine(t *testing.T) {
	payload := "ev1|2024-01-01T00:00:00|35.0"
	records, errs := ParseFDSNText("gfz", []byte(payload), fetchedAt)
	assert.Empty(t, records)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Detail, "pipe-delimited")
}

func TestParseFDSNTextDefaultsMagType(t *testing.T) {
	payload := "ev1|2024-01-01T00:00:00|35.0|25.0|10.0||CAT|X|ev1||4.0||"
	records, errs := ParseFDSNText("gfz", []byte(payload), fetchedAt)
	require.Empty(t, errs)
	require.Len(t, records, 1)
	assert.Equal(t, "ml", records[0].Event.MagnitudeType)
	assert.Nil(t, records[0].Event.Place)
	assert.Nil(t, records[0].Event.Author)
}

func TestParseISOTimeVariants(t *testing.T) {
	for _, s := range []string{
		"2024-01-01T00:00:00Z",
		"2024-01-01T00:00:00.123Z",
		"2024-01-01T00:00:00",
		"2024-01-01T00:00:00.123456",
	} {
		got, err := parseISOTime(s)
		require.NoError(t, err, s)
		assert.Equal(t, 2024, got.Year())
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := parseISOTime("01/01/2024 00:00")
	assert.Error(t, err)
}
