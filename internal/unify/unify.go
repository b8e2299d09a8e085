// Package unify fuses each cluster of source reports into a single
// best-estimate unified event plus the crosswalk rows tying the source-level
// records to it.
package unify

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/cluster"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/geo"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/region"
)

// Integrity violation kinds.
const (
	IntegrityDuplicateUID    = "duplicate_uid_conflict"
	IntegrityCrosswalkOrphan = "crosswalk_orphan"
)

// IntegrityError reports a fused result that violates the crosswalk
// invariants. The run that produced it must not be persisted.
type IntegrityError struct {
	Kind   string
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("unify integrity: %s: %s", e.Kind, e.Detail)
}

// Result is the output of one fuse pass over a clustered window.
type Result struct {
	Unified   []model.UnifiedEvent
	Crosswalk []model.CrosswalkRow
}

// Unifier turns clusters into unified events. The clock and the id mint are
// injectable so runs are reproducible in tests.
type Unifier struct {
	weights cluster.Weights
	now     func() time.Time
	newID   func() string
}

// Option customizes a Unifier.
type Option func(*Unifier)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(u *Unifier) { u.now = now }
}

// WithIDMint replaces the unified-id generator.
func WithIDMint(mint func() string) Option {
	return func(u *Unifier) { u.newID = mint }
}

// New constructs a Unifier scoring with the given weights.
func New(weights cluster.Weights, opts ...Option) *Unifier {
	u := &Unifier{
		weights: weights,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Fuse produces the unified events and crosswalk rows for the given
// clusters. existing maps event_uid to the unified_event_id it was last
// fused into; it drives identity reuse so a stable window keeps stable
// unified ids across runs.
//
// Identity reuse: the preferred member's prior unified id wins if it has
// one; otherwise the prior id claimed by the most members (ties broken
// lexicographically); otherwise a new id is minted. A prior id can be
// reused by at most one cluster per pass: when a fused cluster splits,
// the first half (clusters are ordered by key) keeps the id and the rest
// re-mint. CreatedAt is stamped with the run clock on every record; the
// store keeps the original value on conflict.
func (u *Unifier) Fuse(clusters []cluster.Cluster, existing map[string]string) (Result, error) {
	now := u.now().UTC()
	var res Result
	claimed := make(map[string]string) // event_uid -> cluster key, duplicate detection
	taken := make(map[string]struct{}) // unified ids resolved earlier in this pass

	for _, c := range clusters {
		if len(c.Members) == 0 {
			continue
		}
		for _, m := range c.Members {
			if prev, ok := claimed[m.EventUID]; ok {
				return Result{}, &IntegrityError{
					Kind:   IntegrityDuplicateUID,
					Detail: fmt.Sprintf("%s assigned to clusters %s and %s", m.EventUID, prev, c.Key),
				}
			}
			claimed[m.EventUID] = c.Key
		}

		preferred := preferredMember(c)
		unifiedID := u.resolveIdentity(c, preferred, existing, taken)
		taken[unifiedID] = struct{}{}

		unified := model.UnifiedEvent{
			UnifiedEventID: unifiedID,

			OriginTimeUTC:  preferred.OriginTimeUTC,
			Latitude:       preferred.Latitude,
			Longitude:      preferred.Longitude,
			DepthKm:        preferred.DepthKm,
			MagnitudeValue: preferred.MagnitudeValue,
			MagnitudeType:  preferred.MagnitudeType,
			Place:          preferred.Place,
			Region:         preferred.Region,
			Status:         preferred.Status,

			NumSources:       distinctSources(c.Members),
			PreferredSource:  preferred.Source,
			PreferredEventID: preferred.EventUID,
			SourceEventUIDs:  memberUIDs(c.Members),

			MagnitudeStd:         magnitudeStd(c.Members),
			LocationSpreadKm:     locationSpreadKm(c.Members),
			SourceAgreementScore: float64(distinctSources(c.Members)) / float64(len(c.Members)),

			CreatedAt: now,
			UpdatedAt: now,
		}
		res.Unified = append(res.Unified, unified)

		for _, m := range c.Members {
			row := model.CrosswalkRow{
				EventUID:       m.EventUID,
				UnifiedEventID: unifiedID,
				MatchScore:     u.weights.Score(m, preferred),
				IsPreferred:    m.EventUID == preferred.EventUID,
				CreatedAt:      now,
			}
			if row.IsPreferred {
				row.MatchScore = 1.0
			}
			res.Crosswalk = append(res.Crosswalk, row)
		}
	}

	if err := verify(res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// preferredMember picks the cluster's representative: the region is computed
// from the member centroid, then the source priority table for that region
// decides.
func preferredMember(c cluster.Cluster) model.NormalizedEvent {
	lat, lon := c.Centroid()
	ranked := region.Rank(region.Classify(lat, lon), c.Members)
	return ranked[0]
}

func (u *Unifier) resolveIdentity(c cluster.Cluster, preferred model.NormalizedEvent, existing map[string]string, taken map[string]struct{}) string {
	available := func(id string) bool {
		_, used := taken[id]
		return !used
	}
	if id, ok := existing[preferred.EventUID]; ok && available(id) {
		return id
	}
	votes := make(map[string]int)
	for _, m := range c.Members {
		if id, ok := existing[m.EventUID]; ok && available(id) {
			votes[id]++
		}
	}
	best := ""
	for id, n := range votes {
		if best == "" || n > votes[best] || (n == votes[best] && id < best) {
			best = id
		}
	}
	if best != "" {
		return best
	}
	return u.newID()
}

// verify checks the crosswalk invariants: exactly one preferred row per
// unified id, every preferred_event_uid listed among its own source uids.
func verify(res Result) error {
	preferredRows := make(map[string]int)
	for _, row := range res.Crosswalk {
		if row.IsPreferred {
			preferredRows[row.UnifiedEventID]++
		}
	}
	for _, un := range res.Unified {
		if preferredRows[un.UnifiedEventID] != 1 {
			return &IntegrityError{
				Kind:   IntegrityCrosswalkOrphan,
				Detail: fmt.Sprintf("unified %s has %d preferred crosswalk rows", un.UnifiedEventID, preferredRows[un.UnifiedEventID]),
			}
		}
		found := false
		for _, uid := range un.SourceEventUIDs {
			if uid == un.PreferredEventID {
				found = true
				break
			}
		}
		if !found {
			return &IntegrityError{
				Kind:   IntegrityCrosswalkOrphan,
				Detail: fmt.Sprintf("unified %s preferred uid %s not among members", un.UnifiedEventID, un.PreferredEventID),
			}
		}
	}
	return nil
}

func distinctSources(members []model.NormalizedEvent) int {
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		seen[m.Source] = struct{}{}
	}
	return len(seen)
}

func memberUIDs(members []model.NormalizedEvent) []string {
	uids := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m.EventUID]; dup {
			continue
		}
		seen[m.EventUID] = struct{}{}
		uids = append(uids, m.EventUID)
	}
	sort.Strings(uids)
	return uids
}

// magnitudeStd is the population standard deviation of member magnitudes.
func magnitudeStd(members []model.NormalizedEvent) float64 {
	if len(members) < 2 {
		return 0
	}
	var mean float64
	for _, m := range members {
		mean += m.MagnitudeValue
	}
	mean /= float64(len(members))
	var ss float64
	for _, m := range members {
		d := m.MagnitudeValue - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(members)))
}

// locationSpreadKm is the maximum pairwise great-circle distance between
// member epicenters.
func locationSpreadKm(members []model.NormalizedEvent) float64 {
	var max float64
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			d := geo.HaversineKm(members[i].Latitude, members[i].Longitude,
				members[j].Latitude, members[j].Longitude)
			if d > max {
				max = d
			}
		}
	}
	return max
}
