package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

var fetchedAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

const usgsPayload = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": "us7000abcd",
      "geometry": {"type": "Point", "coordinates": [25.0, 35.0, 10.0]},
      "properties": {
        "mag": 5.2,
        "magType": "Mw",
        "place": "12 km NE of Chania, Greece",
        "time": 1704067200000,
        "updated": 1704070800000,
        "status": "reviewed",
        "net": "us",
        "nst": 120,
        "gap": 32.0,
        "horizontalError": 4.1,
        "depthError": 1.9,
        "magError": 0.04,
        "timeError": 0.6,
        "url": "https://earthquake.usgs.gov/earthquakes/eventpage/us7000abcd"
      }
    }
  ]
}`

func TestParseGeoJSONUSGS(t *testing.T) {
	records, errs := ParseGeoJSONUSGS("usgs", []byte(usgsPayload), fetchedAt)
	require.Empty(t, errs)
	require.Len(t, records, 1)

	e := records[0].Event
	assert.Equal(t, "usgs:us7000abcd", e.EventUID)
	assert.Equal(t, "usgs", e.Source)
	assert.Equal(t, "us7000abcd", e.SourceEventID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), e.OriginTimeUTC)
	assert.Equal(t, 35.0, e.Latitude)
	assert.Equal(t, 25.0, e.Longitude)
	assert.Equal(t, 10.0, e.DepthKm)
	assert.Equal(t, 5.2, e.MagnitudeValue)
	assert.Equal(t, "mw", e.MagnitudeType)
	assert.Equal(t, model.StatusReviewed, e.Status)
	require.NotNil(t, e.Place)
	assert.Equal(t, "12 km NE of Chania, Greece", *e.Place)
	require.NotNil(t, e.Region)
	assert.Equal(t, "Greece", *e.Region)
	require.NotNil(t, e.NumPhases)
	assert.Equal(t, 120, *e.NumPhases)
	require.NotNil(t, e.UpdatedAt)
	assert.Equal(t, time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), *e.UpdatedAt)
	assert.Equal(t, fetchedAt, e.FetchedAt)

	// Raw bytes round-trip through the same parser path.
	assert.Contains(t, string(records[0].Raw), "us7000abcd")
}

func TestParseGeoJSONUSGSNullMagnitudeDeadLetters(t *testing.T) {
	payload := `{"features": [
		{"id": "us1", "geometry": {"coordinates": [25.0, 35.0, 10.0]},
		 "properties": {"mag": null, "time": 1704067200000}}
	]}`

	records, errs := ParseGeoJSONUSGS("usgs", []byte(payload), fetchedAt)
	assert.Empty(t, records)
	require.Len(t, errs, 1)
	assert.Equal(t, MalformedEvent, errs[0].Kind)
	assert.Equal(t, "us1", errs[0].SourceEventID)
	assert.Contains(t, errs[0].Detail, "magnitude")
	assert.False(t, errs[0].WholePayload())
	assert.NotEmpty(t, errs[0].Raw)
}

func TestParseGeoJSONUSGSBrokenFeatureDoesNotSinkSiblings(t *testing.T) {
	payload := `{"features": [
		{"id": "bad", "geometry": {"coordinates": [25.0]}, "properties": {"mag": 4.0, "time": 1704067200000}},
		{"id": "us2", "geometry": {"coordinates": [25.0, 35.0, 10.0]}, "properties": {"mag": 4.5, "time": 1704067200000}}
	]}`

	records, errs := ParseGeoJSONUSGS("usgs", []byte(payload), fetchedAt)
	require.Len(t, records, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, "usgs:us2", records[0].Event.EventUID)
	assert.Equal(t, "bad", errs[0].SourceEventID)
}

func TestParseGeoJSONUSGSMalformedPayload(t *testing.T) {
	records, errs := ParseGeoJSONUSGS("usgs", []byte("{not json"), fetchedAt)
	assert.Empty(t, records)
	require.Len(t, errs, 1)
	assert.Equal(t, MalformedPayload, errs[0].Kind)
	assert.True(t, errs[0].WholePayload())
}

const emscPayload = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": "20240101_0000001",
      "geometry": {"type": "Point", "coordinates": [25.03, 35.05, 12.0]},
      "properties": {
        "mag": 5.1,
        "magtype": "mw",
        "unid": "20240101_0000001",
        "flynn_region": "CRETE, GREECE",
        "time": "2024-01-01T00:00:10.0Z",
        "lastupdate": "2024-01-01T00:30:00.0Z",
        "auth": "EMSC",
        "status": "automatic"
      }
    }
  ]
}`

func TestParseGeoJSONEMSC(t *testing.T) {
	records, errs := ParseGeoJSONEMSC("emsc", []byte(emscPayload), fetchedAt)
	require.Empty(t, errs)
	require.Len(t, records, 1)

	e := records[0].Event
	assert.Equal(t, "emsc:20240101_0000001", e.EventUID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC), e.OriginTimeUTC)
	assert.Equal(t, 35.05, e.Latitude)
	assert.Equal(t, 25.03, e.Longitude)
	assert.Equal(t, 5.1, e.MagnitudeValue)
	assert.Equal(t, "mw", e.MagnitudeType)
	assert.Equal(t, model.StatusAutomatic, e.Status)
	require.NotNil(t, e.Region)
	assert.Equal(t, "CRETE, GREECE", *e.Region)
	require.NotNil(t, e.Author)
	assert.Equal(t, "EMSC", *e.Author)
	require.NotNil(t, e.UpdatedAt)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC), *e.UpdatedAt)
}

func TestParseGeoJSONDeterministic(t *testing.T) {
	a, _ := ParseGeoJSONUSGS("usgs", []byte(usgsPayload), fetchedAt)
	b, _ := ParseGeoJSONUSGS("usgs", []byte(usgsPayload), fetchedAt)
	assert.Equal(t, a, b)
}
