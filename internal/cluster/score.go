package cluster

import (
	"github.com/andermartinezdonate/usgs-quake-stream/internal/geo"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

// Similarity denominators. The weights are tunable; these are not.
const (
	timeSimWindowSec = 60.0
	distSimWindowKm  = 100.0
	magSimWindow     = 2.0
)

// Weights blends the three similarity components. They must sum to 1
// (enforced by config at startup).
type Weights struct {
	Time      float64
	Distance  float64
	Magnitude float64
}

// DefaultWeights is the published default blend.
var DefaultWeights = Weights{Time: 0.4, Distance: 0.4, Magnitude: 0.2}

// Score computes the pairwise similarity of two reports in [0, 1]. It is
// symmetric, and Score(a, a) == 1.
func (w Weights) Score(a, b model.NormalizedEvent) float64 {
	dt := a.OriginTimeUTC.Sub(b.OriginTimeUTC).Seconds()
	if dt < 0 {
		dt = -dt
	}
	dist := geo.HaversineKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	dmag := a.MagnitudeValue - b.MagnitudeValue
	if dmag < 0 {
		dmag = -dmag
	}

	tSim := clamp01(1 - dt/timeSimWindowSec)
	dSim := clamp01(1 - dist/distSimWindowKm)
	mSim := clamp01(1 - dmag/magSimWindow)

	return w.Time*tSim + w.Distance*dSim + w.Magnitude*mSim
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
