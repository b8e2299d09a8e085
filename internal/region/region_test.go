package region

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		lat, lon float64
		want     string
	}{
		{37.7, -122.4, Americas},     // San Francisco
		{-33.4, -70.6, Americas},     // Santiago
		{48.8, 2.35, Europe},         // Paris
		{35.0, 25.0, Europe},         // Crete
		{6.5, 3.4, Africa},           // Lagos
		{-1.3, 36.8, Africa},         // Nairobi
		{35.7, 139.7, AsiaPacific},   // Tokyo
		{-41.3, 174.8, AsiaPacific},  // Wellington
		{-18.1, -178.4, AsiaPacific}, // Fiji, past the antimeridian
		{10.0, -25.0, Africa},        // Mid-Atlantic fallthrough
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.lat, tc.lon), "lat=%g lon=%g", tc.lat, tc.lon)
	}
}

func event(uid, source, status string, updated *time.Time) model.NormalizedEvent {
	return model.NormalizedEvent{
		EventUID:      uid,
		Source:        source,
		SourceEventID: uid,
		Status:        status,
		UpdatedAt:     updated,
	}
}

func TestRankReviewedBeatsRegionPriority(t *testing.T) {
	// In Europe, EMSC outranks USGS — unless the USGS solution is reviewed.
	usgs := event("usgs:1", "usgs", model.StatusReviewed, nil)
	emsc := event("emsc:1", "emsc", model.StatusAutomatic, nil)

	ranked := Rank(Europe, []model.NormalizedEvent{emsc, usgs})
	require.Len(t, ranked, 2)
	assert.Equal(t, "usgs:1", ranked[0].EventUID)
}

func TestRankRegionPriority(t *testing.T) {
	usgs := event("usgs:1", "usgs", model.StatusAutomatic, nil)
	emsc := event("emsc:1", "emsc", model.StatusAutomatic, nil)
	isc := event("isc:1", "isc", model.StatusAutomatic, nil)

	ranked := Rank(Europe, []model.NormalizedEvent{usgs, isc, emsc})
	assert.Equal(t, "emsc:1", ranked[0].EventUID)

	ranked = Rank(Americas, []model.NormalizedEvent{usgs, isc, emsc})
	assert.Equal(t, "usgs:1", ranked[0].EventUID)

	ranked = Rank(AsiaPacific, []model.NormalizedEvent{usgs, isc, emsc})
	assert.Equal(t, "isc:1", ranked[0].EventUID)
}

func TestRankNewerUpdateWins(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	a := event("usgs:a", "usgs", model.StatusAutomatic, &older)
	b := event("usgs:b", "usgs", model.StatusAutomatic, &newer)

	ranked := Rank(Americas, []model.NormalizedEvent{a, b})
	assert.Equal(t, "usgs:b", ranked[0].EventUID)
}

func TestRankDeterministicTiebreak(t *testing.T) {
	a := event("usgs:a", "usgs", model.StatusAutomatic, nil)
	b := event("usgs:b", "usgs", model.StatusAutomatic, nil)

	assert.Equal(t, "usgs:a", Rank(Americas, []model.NormalizedEvent{b, a})[0].EventUID)
	assert.Equal(t, "usgs:a", Rank(Americas, []model.NormalizedEvent{a, b})[0].EventUID)
}

func TestRankDoesNotMutateInput(t *testing.T) {
	in := []model.NormalizedEvent{
		event("usgs:1", "usgs", model.StatusAutomatic, nil),
		event("emsc:1", "emsc", model.StatusAutomatic, nil),
	}
	Rank(Europe, in)
	assert.Equal(t, "usgs:1", in[0].EventUID)
}

func TestRankUnknownSourceRanksLast(t *testing.T) {
	known := event("geonet:1", "geonet", model.StatusAutomatic, nil)
	unknown := event("zzz:1", "zzz", model.StatusAutomatic, nil)

	ranked := Rank(Europe, []model.NormalizedEvent{unknown, known})
	assert.Equal(t, "geonet:1", ranked[0].EventUID)
}
