package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

const quakemlPayload = `<?xml version="1.0" encoding="UTF-8"?>
<q:quakeml xmlns:q="http://quakeml.org/xmlns/quakeml/1.2" xmlns="http://quakeml.org/xmlns/bed/1.2">
  <eventParameters publicID="smi:ISC/bulletin">
    <event publicID="smi:ISC/evid=641234567">
      <preferredOriginID>smi:ISC/origid=1</preferredOriginID>
      <description><text>CRETE, GREECE</text></description>
      <origin publicID="smi:ISC/origid=1">
        <time><value>2024-01-01T00:00:02.50Z</value><uncertainty>0.8</uncertainty></time>
        <latitude><value>35.02</value></latitude>
        <longitude><value>25.01</value></longitude>
        <depth><value>11000</value><uncertainty>2500</uncertainty></depth>
        <evaluationMode>manual</evaluationMode>
        <evaluationStatus>reviewed</evaluationStatus>
        <quality><usedPhaseCount>85</usedPhaseCount><azimuthalGap>45.0</azimuthalGap></quality>
      </origin>
      <magnitude publicID="smi:ISC/magid=1">
        <mag><value>5.0</value><uncertainty>0.1</uncertainty></mag>
        <type>mb</type>
        <stationCount>30</stationCount>
      </magnitude>
      <magnitude publicID="smi:ISC/magid=2">
        <mag><value>5.15</value></mag>
        <type>Mw</type>
        <stationCount>20</stationCount>
      </magnitude>
      <creationInfo><agencyID>ISC</agencyID><creationTime>2024-01-05T10:00:00Z</creationTime></creationInfo>
    </event>
  </eventParameters>
</q:quakeml>`

// Without a preferredMagnitudeID, the type preference (Mw over mb) decides
// even though the mb solution used more stations.
func TestParseQuakeMLMagnitudeTypePreference(t *testing.T) {
	records, errs := ParseQuakeML("isc", []byte(quakemlPayload), fetchedAt)
	require.Empty(t, errs)
	require.Len(t, records, 1)

	e := records[0].Event
	assert.Equal(t, "isc:641234567", e.EventUID)
	assert.Equal(t, 5.15, e.MagnitudeValue)
	assert.Equal(t, "mw", e.MagnitudeType)
}

func TestParseQuakeMLFields(t *testing.T) {
	records, errs := ParseQuakeML("isc", []byte(quakemlPayload), fetchedAt)
	require.Empty(t, errs)
	require.Len(t, records, 1)

	e := records[0].Event
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 2, 500_000_000, time.UTC), e.OriginTimeUTC)
	assert.Equal(t, 35.02, e.Latitude)
	assert.Equal(t, 25.01, e.Longitude)
	assert.Equal(t, 11.0, e.DepthKm) // metres to km
	assert.Equal(t, model.StatusReviewed, e.Status)
	require.NotNil(t, e.DepthErrorKm)
	assert.Equal(t, 2.5, *e.DepthErrorKm)
	require.NotNil(t, e.TimeErrorSec)
	assert.Equal(t, 0.8, *e.TimeErrorSec)
	require.NotNil(t, e.NumPhases)
	assert.Equal(t, 85, *e.NumPhases)
	require.NotNil(t, e.Region)
	assert.Equal(t, "CRETE, GREECE", *e.Region)
	require.NotNil(t, e.Author)
	assert.Equal(t, "ISC", *e.Author)
	require.NotNil(t, e.UpdatedAt)
	assert.Equal(t, time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC), *e.UpdatedAt)
}

func TestParseQuakeMLPreferredMagnitudeID(t *testing.T) {
	payload := `<quakeml><eventParameters>
		<event publicID="smi:agency/ev1">
			<preferredMagnitudeID>smi:agency/mag2</preferredMagnitudeID>
			<origin publicID="smi:agency/or1">
				<time><value>2024-01-01T00:00:00Z</value></time>
				<latitude><value>10</value></latitude>
				<longitude><value>20</value></longitude>
				<depth><value>5000</value></depth>
			</origin>
			<magnitude publicID="smi:agency/mag1"><mag><value>4.0</value></mag><type>mw</type></magnitude>
			<magnitude publicID="smi:agency/mag2"><mag><value>4.3</value></mag><type>ml</type></magnitude>
		</event>
	</eventParameters></quakeml>`

	records, errs := ParseQuakeML("ipgp", []byte(payload), fetchedAt)
	require.Empty(t, errs)
	require.Len(t, records, 1)
	// The explicit preferredMagnitudeID beats the type ranking.
	assert.Equal(t, 4.3, records[0].Event.MagnitudeValue)
	assert.Equal(t, "ml", records[0].Event.MagnitudeType)
}

func TestParseQuakeMLEventWithoutMagnitude(t *testing.T) {
	payload := `<quakeml><eventParameters>
		<event publicID="smi:agency/ev1">
			<origin publicID="smi:agency/or1">
				<time><value>2024-01-01T00:00:00Z</value></time>
				<latitude><value>10</value></latitude>
				<longitude><value>20</value></longitude>
				<depth><value>5000</value></depth>
			</origin>
		</event>
	</eventParameters></quakeml>`

	records, errs := ParseQuakeML("isc", []byte(payload), fetchedAt)
	assert.Empty(t, records)
	require.Len(t, errs, 1)
	assert.Equal(t, MalformedEvent, errs[0].Kind)
	assert.Equal(t, "ev1", errs[0].SourceEventID)
	assert.Contains(t, errs[0].Detail, "magnitude")
	assert.NotEmpty(t, errs[0].Raw)
}

func TestParseQuakeMLMalformedPayload(t *testing.T) {
	records, errs := ParseQuakeML("isc", []byte("<quakeml><unclosed"), fetchedAt)
	assert.Empty(t, records)
	require.Len(t, errs, 1)
	assert.Equal(t, MalformedPayload, errs[0].Kind)
}

func TestStripQuakeMLEventID(t *testing.T) {
	cases := map[string]string{
		"smi:ISC/evid=641234567":             "641234567",
		"quakeml:us.anss.org/event/us7000ab": "us7000ab",
		"smi:local/ev123":                    "ev123",
		"bare-id":                            "bare-id",
	}
	for in, want := range cases {
		assert.Equal(t, want, stripQuakeMLEventID(in), in)
	}
}
