// Package region maps coordinates onto the four coarse reporting regions and
// ranks agency reports within a region. The preferred representative of a
// cluster is always chosen through Rank.
package region

import (
	"sort"
	"time"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

// Region names.
const (
	Americas    = "americas"
	Europe      = "europe"
	Africa      = "africa"
	AsiaPacific = "asia_pacific"
)

// Classify maps (lat, lon) to a region by boxed ranges. Longitudes past the
// antimeridian (< -170) wrap into asia_pacific.
func Classify(lat, lon float64) string {
	switch {
	case lon >= -170 && lon <= -30:
		return Americas
	case lon > -30 && lon <= 45 && lat >= 30:
		return Europe
	case lon >= -20 && lon <= 55 && lat < 30:
		return Africa
	case lon > 45 || lon < -170:
		return AsiaPacific
	default:
		// Mid-Atlantic south of 30N, west of the Africa box.
		return Africa
	}
}

// priorityTables orders agencies by authority per region (lower index wins).
var priorityTables = map[string][]string{
	Americas:    {"usgs", "emsc", "gfz", "isc", "ipgp", "geonet"},
	Europe:      {"emsc", "gfz", "usgs", "isc", "ipgp", "geonet"},
	Africa:      {"isc", "emsc", "ipgp", "usgs", "gfz", "geonet"},
	AsiaPacific: {"isc", "usgs", "geonet", "emsc", "gfz", "ipgp"},
}

// rank returns the source's position in the region's priority table; unknown
// sources rank after every listed one.
func rank(regionName, sourceTag string) int {
	table := priorityTables[regionName]
	for i, tag := range table {
		if tag == sourceTag {
			return i
		}
	}
	return len(table)
}

// Rank orders candidate reports of the same physical event by preference for
// the given region: reviewed solutions beat non-reviewed regardless of
// agency, then the region's agency ranking, then the newer update, then the
// event_uid as the deterministic tiebreak. The input slice is not mutated;
// the returned slice's first element is the preferred representative.
func Rank(regionName string, candidates []model.NormalizedEvent) []model.NormalizedEvent {
	ordered := make([]model.NormalizedEvent, len(candidates))
	copy(ordered, candidates)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]

		ar, br := a.Status == model.StatusReviewed, b.Status == model.StatusReviewed
		if ar != br {
			return ar
		}
		if ra, rb := rank(regionName, a.Source), rank(regionName, b.Source); ra != rb {
			return ra < rb
		}
		au, bu := updatedOrZero(a), updatedOrZero(b)
		if !au.Equal(bu) {
			return au.After(bu)
		}
		return a.EventUID < b.EventUID
	})
	return ordered
}

func updatedOrZero(e model.NormalizedEvent) time.Time {
	if e.UpdatedAt != nil {
		return *e.UpdatedAt
	}
	return time.Time{}
}
