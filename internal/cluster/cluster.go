// Package cluster groups normalized events that describe the same physical
// earthquake. The pass is pure and stateless: identical input always yields
// an identical assignment, which the unifier relies on for idempotent
// re-runs.
//
// The algorithm runs in three stages: density-based spatial grouping with a
// great-circle neighborhood radius, time/magnitude sub-partitioning within
// each spatial group, and a centroid-consistency filter that ejects outliers
// into singleton clusters.
package cluster

import (
	"sort"
	"time"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/geo"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

// Params are the clustering thresholds.
type Params struct {
	// EpsKm is the spatial neighborhood radius.
	EpsKm float64
	// DtSec and DMag bound a member's distance from the running median of
	// its sub-cluster.
	DtSec float64
	DMag  float64
	// MatchThreshold is the minimum centroid similarity for staying in a
	// multi-member cluster.
	MatchThreshold float64
	Weights        Weights
}

// DefaultParams returns the published defaults.
func DefaultParams() Params {
	return Params{
		EpsKm:          100,
		DtSec:          30,
		DMag:           0.5,
		MatchThreshold: 0.6,
		Weights:        DefaultWeights,
	}
}

// Cluster is one group of reports covering the same earthquake. Key is the
// smallest member event_uid, which is stable across re-runs on the same
// input.
type Cluster struct {
	Key     string
	Members []model.NormalizedEvent
}

// Centroid returns the mean member location.
func (c Cluster) Centroid() (lat, lon float64) {
	for _, m := range c.Members {
		lat += m.Latitude
		lon += m.Longitude
	}
	n := float64(len(c.Members))
	return lat / n, lon / n
}

// Engine performs the clustering pass. It holds no state across runs.
type Engine struct {
	params Params
}

// NewEngine constructs an Engine with the given thresholds.
func NewEngine(params Params) *Engine {
	return &Engine{params: params}
}

// Run clusters the window's events. The output covers every input event
// exactly once, ordered by cluster key; every event lands in a cluster even
// if it is its own singleton.
//
// Spatial grouping is naive pairwise over a latitude-sorted sweep, which is
// fine for windows up to a few thousand events.
func (e *Engine) Run(events []model.NormalizedEvent) []Cluster {
	if len(events) == 0 {
		return nil
	}

	// Deterministic working order regardless of input order.
	sorted := make([]model.NormalizedEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].OriginTimeUTC.Equal(sorted[j].OriginTimeUTC) {
			return sorted[i].OriginTimeUTC.Before(sorted[j].OriginTimeUTC)
		}
		return sorted[i].EventUID < sorted[j].EventUID
	})

	var clusters []Cluster
	for _, group := range e.spatialGroups(sorted) {
		for _, sub := range e.subPartition(group) {
			clusters = append(clusters, e.consistencyFilter(sub)...)
		}
	}

	for i := range clusters {
		finalizeCluster(&clusters[i])
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Key < clusters[j].Key })
	return clusters
}

// Assignments flattens clusters into the event_uid -> cluster key mapping.
func Assignments(clusters []Cluster) map[string]string {
	out := make(map[string]string)
	for _, c := range clusters {
		for _, m := range c.Members {
			out[m.EventUID] = c.Key
		}
	}
	return out
}

// spatialGroups connects events within EpsKm of each other (transitively —
// density chaining is intended) using union-find. Pair checks are pruned by
// a latitude sweep: two points further apart than EpsKm in latitude alone
// cannot be neighbors.
func (e *Engine) spatialGroups(events []model.NormalizedEvent) [][]model.NormalizedEvent {
	n := len(events)
	byLat := make([]int, n)
	for i := range byLat {
		byLat[i] = i
	}
	sort.Slice(byLat, func(a, b int) bool {
		return events[byLat[a]].Latitude < events[byLat[b]].Latitude
	})

	// One degree of latitude is ~111.19 km; dividing by 111.0 keeps the
	// sweep window slightly wide so boundary pairs are never pruned.
	maxLatDelta := e.params.EpsKm / 111.0

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for ai := 0; ai < n; ai++ {
		a := events[byLat[ai]]
		for bi := ai + 1; bi < n; bi++ {
			b := events[byLat[bi]]
			if b.Latitude-a.Latitude > maxLatDelta {
				break
			}
			if geo.HaversineKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude) <= e.params.EpsKm {
				union(byLat[ai], byLat[bi])
			}
		}
	}

	groups := make(map[int][]model.NormalizedEvent)
	for i := 0; i < n; i++ {
		root := find(i)
		groups[root] = append(groups[root], events[i])
	}

	roots := make([]int, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	out := make([][]model.NormalizedEvent, 0, len(groups))
	for _, root := range roots {
		out = append(out, groups[root])
	}
	return out
}

// subPartition splits a spatial group along time: members are taken in
// origin-time order, and a new sub-cluster starts whenever the next event
// strays more than DtSec or DMag from the running median of the current one.
func (e *Engine) subPartition(group []model.NormalizedEvent) [][]model.NormalizedEvent {
	var out [][]model.NormalizedEvent
	var current []model.NormalizedEvent

	for _, ev := range group {
		if len(current) == 0 {
			current = append(current, ev)
			continue
		}
		medTime, medMag := runningMedians(current)
		dt := ev.OriginTimeUTC.Sub(medTime).Seconds()
		if dt < 0 {
			dt = -dt
		}
		dmag := ev.MagnitudeValue - medMag
		if dmag < 0 {
			dmag = -dmag
		}
		if dt > e.params.DtSec || dmag > e.params.DMag {
			out = append(out, current)
			current = []model.NormalizedEvent{ev}
			continue
		}
		current = append(current, ev)
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

// consistencyFilter scores every member of a multi-member cluster against
// the cluster centroid and ejects members under the threshold into their own
// singletons.
func (e *Engine) consistencyFilter(members []model.NormalizedEvent) []Cluster {
	if len(members) < 2 {
		return []Cluster{{Members: members}}
	}

	centroid := centroidEvent(members)
	var kept []model.NormalizedEvent
	var ejected []model.NormalizedEvent
	for _, m := range members {
		if e.params.Weights.Score(m, centroid) >= e.params.MatchThreshold {
			kept = append(kept, m)
		} else {
			ejected = append(ejected, m)
		}
	}

	var out []Cluster
	if len(kept) > 0 {
		out = append(out, Cluster{Members: kept})
	}
	for _, m := range ejected {
		out = append(out, Cluster{Members: []model.NormalizedEvent{m}})
	}
	return out
}

// centroidEvent builds a synthetic record at the mean time, location, and
// magnitude of the members, used only for consistency scoring.
func centroidEvent(members []model.NormalizedEvent) model.NormalizedEvent {
	var lat, lon, mag float64
	var unixMs int64
	for _, m := range members {
		lat += m.Latitude
		lon += m.Longitude
		mag += m.MagnitudeValue
		unixMs += m.OriginTimeUTC.UnixMilli()
	}
	n := int64(len(members))
	fn := float64(len(members))
	return model.NormalizedEvent{
		Latitude:       lat / fn,
		Longitude:      lon / fn,
		MagnitudeValue: mag / fn,
		OriginTimeUTC:  time.UnixMilli(unixMs / n).UTC(),
	}
}

// runningMedians returns the median origin time and magnitude of the current
// sub-cluster members.
func runningMedians(members []model.NormalizedEvent) (time.Time, float64) {
	times := make([]int64, len(members))
	mags := make([]float64, len(members))
	for i, m := range members {
		times[i] = m.OriginTimeUTC.UnixMilli()
		mags[i] = m.MagnitudeValue
	}
	sort.Slice(times, func(a, b int) bool { return times[a] < times[b] })
	sort.Float64s(mags)

	n := len(members)
	if n%2 == 1 {
		return time.UnixMilli(times[n/2]).UTC(), mags[n/2]
	}
	medMs := (times[n/2-1] + times[n/2]) / 2
	medMag := (mags[n/2-1] + mags[n/2]) / 2
	return time.UnixMilli(medMs).UTC(), medMag
}

// finalizeCluster sorts members by event_uid and stamps the cluster key.
func finalizeCluster(c *Cluster) {
	sort.Slice(c.Members, func(i, j int) bool { return c.Members[i].EventUID < c.Members[j].EventUID })
	c.Key = c.Members[0].EventUID
}
