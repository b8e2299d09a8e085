// Package source holds the static registry of seismological agencies the
// pipeline polls. The registry is read-only: it is built once at startup and
// never mutated afterwards.
package source

import (
	"fmt"
	"sort"
	"time"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

// Descriptor describes one agency endpoint.
type Descriptor struct {
	// Tag is the short lowercase agency identifier ("usgs", "emsc", ...).
	Tag string
	// BaseURL is the FDSN event query endpoint.
	BaseURL string
	// Format selects the wire-format parser for this source.
	Format string
	// MinPollInterval sizes the per-source token bucket.
	MinPollInterval time.Duration
	// Timeout is the total per-fetch deadline, retries included.
	Timeout time.Duration
	// MaxRetries is the number of re-attempts after the first try.
	MaxRetries int
	// GlobalPriorityRank breaks ties when no region table applies (lower wins).
	GlobalPriorityRank int
	// SupportedRegions lists the regions this agency has authoritative
	// coverage for. Informational; the priority tables drive selection.
	SupportedRegions []string
}

// Registry is the read-only source table keyed by tag.
type Registry struct {
	byTag map[string]Descriptor
}

// NewRegistry returns the built-in agency registry, optionally restricted to
// the given tags (nil or empty keeps all). Unknown tags are an error.
func NewRegistry(enabled []string) (*Registry, error) {
	byTag := make(map[string]Descriptor, len(builtin))
	for _, d := range builtin {
		byTag[d.Tag] = d
	}

	if len(enabled) == 0 {
		return &Registry{byTag: byTag}, nil
	}

	filtered := make(map[string]Descriptor, len(enabled))
	for _, tag := range enabled {
		d, ok := byTag[tag]
		if !ok {
			return nil, fmt.Errorf("unknown source tag %q", tag)
		}
		filtered[tag] = d
	}
	return &Registry{byTag: filtered}, nil
}

// Get returns the descriptor for tag.
func (r *Registry) Get(tag string) (Descriptor, bool) {
	d, ok := r.byTag[tag]
	return d, ok
}

// All returns every descriptor ordered by tag for deterministic iteration.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.byTag))
	for _, d := range r.byTag {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Len reports the number of registered sources.
func (r *Registry) Len() int { return len(r.byTag) }

var builtin = []Descriptor{
	{
		Tag:                "usgs",
		BaseURL:            "https://earthquake.usgs.gov/fdsnws/event/1/query",
		Format:             model.FormatGeoJSONUSGS,
		MinPollInterval:    60 * time.Second,
		Timeout:            15 * time.Second,
		MaxRetries:         3,
		GlobalPriorityRank: 1,
		SupportedRegions:   []string{"americas", "europe", "africa", "asia_pacific"},
	},
	{
		Tag:                "emsc",
		BaseURL:            "https://www.seismicportal.eu/fdsnws/event/1/query",
		Format:             model.FormatGeoJSONEMSC,
		MinPollInterval:    120 * time.Second,
		Timeout:            20 * time.Second,
		MaxRetries:         3,
		GlobalPriorityRank: 2,
		SupportedRegions:   []string{"europe", "africa", "americas"},
	},
	{
		Tag:                "gfz",
		BaseURL:            "https://geofon.gfz.de/fdsnws/event/1/query",
		Format:             model.FormatFDSNText,
		MinPollInterval:    180 * time.Second,
		Timeout:            20 * time.Second,
		MaxRetries:         3,
		GlobalPriorityRank: 3,
		SupportedRegions:   []string{"europe", "americas", "asia_pacific"},
	},
	{
		Tag:                "isc",
		BaseURL:            "https://www.isc.ac.uk/fdsnws/event/1/query",
		Format:             model.FormatQuakeML,
		MinPollInterval:    300 * time.Second,
		Timeout:            45 * time.Second,
		MaxRetries:         3,
		GlobalPriorityRank: 4,
		SupportedRegions:   []string{"africa", "asia_pacific", "europe"},
	},
	{
		Tag:                "ipgp",
		BaseURL:            "http://fdsnws.ipgp.fr/fdsnws/event/1/query",
		Format:             model.FormatQuakeML,
		MinPollInterval:    300 * time.Second,
		Timeout:            30 * time.Second,
		MaxRetries:         3,
		GlobalPriorityRank: 5,
		SupportedRegions:   []string{"europe", "africa"},
	},
	{
		Tag:                "geonet",
		BaseURL:            "https://service.geonet.org.nz/fdsnws/event/1/query",
		Format:             model.FormatFDSNText,
		MinPollInterval:    120 * time.Second,
		Timeout:            20 * time.Second,
		MaxRetries:         3,
		GlobalPriorityRank: 6,
		SupportedRegions:   []string{"asia_pacific"},
	},
}
