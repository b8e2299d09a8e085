package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

func clusterEvent(uid string, offset time.Duration, lat, lon, mag float64) model.NormalizedEvent {
	return model.NormalizedEvent{
		EventUID:       uid,
		Source:         "usgs",
		SourceEventID:  uid,
		OriginTimeUTC:  t0.Add(offset),
		Latitude:       lat,
		Longitude:      lon,
		MagnitudeValue: mag,
		MagnitudeType:  "mw",
		Status:         model.StatusAutomatic,
	}
}

func keys(clusters []Cluster) []string {
	out := make([]string, len(clusters))
	for i, c := range clusters {
		out[i] = c.Key
	}
	return out
}

func TestRunEmptyInput(t *testing.T) {
	assert.Nil(t, NewEngine(DefaultParams()).Run(nil))
}

func TestRunSingleton(t *testing.T) {
	e := NewEngine(DefaultParams())
	clusters := e.Run([]model.NormalizedEvent{clusterEvent("usgs:1", 0, 35, 25, 5)})
	require.Len(t, clusters, 1)
	assert.Equal(t, "usgs:1", clusters[0].Key)
	assert.Len(t, clusters[0].Members, 1)
}

// Exactly 100 km apart clusters; just over does not.
func TestRunSpatialBoundary(t *testing.T) {
	e := NewEngine(DefaultParams())

	// 0.8992 degrees of latitude is ~99.99 km.
	near := []model.NormalizedEvent{
		clusterEvent("usgs:a", 0, 0, 0, 5),
		clusterEvent("usgs:b", 0, 0.8992, 0, 5),
	}
	clusters := e.Run(near)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Members, 2)

	// 0.9 degrees is ~100.08 km.
	far := []model.NormalizedEvent{
		clusterEvent("usgs:a", 0, 0, 0, 5),
		clusterEvent("usgs:b", 0, 0.9, 0, 5),
	}
	clusters = e.Run(far)
	assert.Len(t, clusters, 2)
}

// Density chaining: a-b and b-c are each within 100 km, a-c is not, yet all
// three form one cluster through b.
func TestRunDensityChaining(t *testing.T) {
	e := NewEngine(DefaultParams())
	clusters := e.Run([]model.NormalizedEvent{
		clusterEvent("usgs:a", 0, 0, 0, 5),
		clusterEvent("usgs:b", 0, 0.85, 0, 5),
		clusterEvent("usgs:c", 0, 1.7, 0, 5),
	})
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Members, 3)
}

// 30 s apart stays together; 30.01 s splits.
func TestRunTimeBoundary(t *testing.T) {
	e := NewEngine(DefaultParams())

	together := e.Run([]model.NormalizedEvent{
		clusterEvent("usgs:a", 0, 35, 25, 5),
		clusterEvent("usgs:b", 30*time.Second, 35, 25, 5),
	})
	require.Len(t, together, 1)
	assert.Len(t, together[0].Members, 2)

	split := e.Run([]model.NormalizedEvent{
		clusterEvent("usgs:a", 0, 35, 25, 5),
		clusterEvent("usgs:b", 30*time.Second+10*time.Millisecond, 35, 25, 5),
	})
	assert.Len(t, split, 2)
}

// Same location, 45 s apart, magnitudes 5.0 and 4.2: the aftershock lands in
// its own cluster.
func TestRunAftershockSubPartition(t *testing.T) {
	e := NewEngine(DefaultParams())
	clusters := e.Run([]model.NormalizedEvent{
		clusterEvent("usgs:main", 0, 35, 25, 5.0),
		clusterEvent("usgs:after", 45*time.Second, 35, 25, 4.2),
	})
	require.Len(t, clusters, 2)
	assert.ElementsMatch(t, []string{"usgs:main", "usgs:after"}, keys(clusters))
}

func TestRunMagnitudeGapSplits(t *testing.T) {
	e := NewEngine(DefaultParams())
	clusters := e.Run([]model.NormalizedEvent{
		clusterEvent("usgs:a", 0, 35, 25, 5.0),
		clusterEvent("usgs:b", 5*time.Second, 35, 25, 5.6),
	})
	assert.Len(t, clusters, 2)
}

// A member distant enough from the cluster centroid is ejected into its own
// singleton even though it passed the spatial and time gates.
func TestRunConsistencyFilterEjects(t *testing.T) {
	e := NewEngine(DefaultParams())
	clusters := e.Run([]model.NormalizedEvent{
		clusterEvent("usgs:a", 0, 0, 0, 5.0),
		clusterEvent("usgs:b", 0, 0, 0, 5.0),
		clusterEvent("usgs:c", 28*time.Second, 0.88, 0, 5.45),
	})
	require.Len(t, clusters, 2)

	byKey := map[string]Cluster{}
	for _, c := range clusters {
		byKey[c.Key] = c
	}
	require.Contains(t, byKey, "usgs:a")
	assert.Len(t, byKey["usgs:a"].Members, 2)
	require.Contains(t, byKey, "usgs:c")
	assert.Len(t, byKey["usgs:c"].Members, 1)
}

func TestRunDeterministicUnderInputOrder(t *testing.T) {
	events := []model.NormalizedEvent{
		clusterEvent("usgs:a", 0, 35, 25, 5.0),
		clusterEvent("emsc:a", 10*time.Second, 35.05, 25.03, 5.1),
		clusterEvent("usgs:b", 2*time.Hour, -10, 140, 6.0),
		clusterEvent("isc:b", 2*time.Hour+5*time.Second, -10.01, 140.02, 6.1),
	}
	reversed := []model.NormalizedEvent{events[3], events[2], events[1], events[0]}

	e := NewEngine(DefaultParams())
	assert.Equal(t, e.Run(events), e.Run(reversed))
}

func TestRunKeyIsSmallestMemberUID(t *testing.T) {
	e := NewEngine(DefaultParams())
	clusters := e.Run([]model.NormalizedEvent{
		clusterEvent("usgs:z", 0, 35, 25, 5.0),
		clusterEvent("emsc:a", 5*time.Second, 35.01, 25.01, 5.0),
	})
	require.Len(t, clusters, 1)
	assert.Equal(t, "emsc:a", clusters[0].Key)
	assert.Equal(t, "emsc:a", clusters[0].Members[0].EventUID)
}

func TestAssignmentsCoversEveryEvent(t *testing.T) {
	events := []model.NormalizedEvent{
		clusterEvent("usgs:a", 0, 35, 25, 5.0),
		clusterEvent("emsc:a", 10*time.Second, 35.05, 25.03, 5.1),
		clusterEvent("usgs:b", 3*time.Hour, -10, 140, 6.0),
	}
	e := NewEngine(DefaultParams())
	assignments := Assignments(e.Run(events))
	require.Len(t, assignments, 3)
	for _, ev := range events {
		assert.Contains(t, assignments, ev.EventUID)
	}
	assert.Equal(t, assignments["usgs:a"], assignments["emsc:a"])
	assert.NotEqual(t, assignments["usgs:a"], assignments["usgs:b"])
}
