package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/cluster"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/store/memory"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/unify"
)

var origin = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func normalized(source, id string, offset time.Duration, lat, lon, mag float64) model.NormalizedEvent {
	return model.NormalizedEvent{
		EventUID:       model.EventUID(source, id),
		Source:         source,
		SourceEventID:  id,
		OriginTimeUTC:  origin.Add(offset),
		Latitude:       lat,
		Longitude:      lon,
		DepthKm:        10,
		MagnitudeValue: mag,
		MagnitudeType:  "mw",
		Status:         model.StatusAutomatic,
		FetchedAt:      origin.Add(offset + 5*time.Minute),
	}
}

func newRunner(st *memory.Store, t *testing.T) *ClusterRunner {
	params := cluster.DefaultParams()
	var seq int
	u := unify.New(params.Weights, unify.WithIDMint(func() string {
		seq++
		return fmt.Sprintf("unified-%04d", seq)
	}))
	return NewClusterRunner(st, cluster.NewEngine(params), u, 24, zaptest.NewLogger(t))
}

func seedWindow(t *testing.T, st *memory.Store) {
	ctx := context.Background()
	// Same Cretan quake from two agencies, plus an unrelated Chilean one.
	require.NoError(t, st.UpsertNormalized(ctx, normalized("usgs", "us1", 0, 35.0, 25.0, 5.2)))
	require.NoError(t, st.UpsertNormalized(ctx, normalized("emsc", "em1", 10*time.Second, 35.05, 25.03, 5.1)))
	require.NoError(t, st.UpsertNormalized(ctx, normalized("gfz", "g1", time.Hour, -33.0, -70.5, 4.4)))
}

func unifiedIDs(t *testing.T, st *memory.Store) map[string]string {
	out := make(map[string]string)
	for _, row := range st.Crosswalk() {
		out[row.EventUID] = row.UnifiedEventID
	}
	return out
}

func TestRunOnceClustersAndPersists(t *testing.T) {
	st := memory.New()
	seedWindow(t, st)
	ctx := context.Background()

	require.NoError(t, newRunner(st, t).RunOnce(ctx))

	unified, err := st.ListUnified(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unified, 2)

	ids := unifiedIDs(t, st)
	require.Len(t, ids, 3)
	assert.Equal(t, ids["usgs:us1"], ids["emsc:em1"])
	assert.NotEqual(t, ids["usgs:us1"], ids["gfz:g1"])

	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusOK, runs[0].Status)
	assert.Equal(t, 2, runs[0].UnifiedEventCount)
}

// Re-running over an unchanged window keeps every unified id stable.
func TestRunOnceIdempotent(t *testing.T) {
	st := memory.New()
	seedWindow(t, st)
	ctx := context.Background()
	runner := newRunner(st, t)

	require.NoError(t, runner.RunOnce(ctx))
	first := unifiedIDs(t, st)

	require.NoError(t, runner.RunOnce(ctx))
	second := unifiedIDs(t, st)

	assert.Equal(t, first, second)

	unified, err := st.ListUnified(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, unified, 2)
}

// A late-arriving duplicate joins the existing unified event instead of
// minting a new identity.
func TestRunOnceLateDuplicateJoinsExistingIdentity(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	runner := newRunner(st, t)

	require.NoError(t, st.UpsertNormalized(ctx, normalized("usgs", "us1", 0, 35.0, 25.0, 5.2)))
	require.NoError(t, runner.RunOnce(ctx))
	before := unifiedIDs(t, st)["usgs:us1"]
	require.NotEmpty(t, before)

	require.NoError(t, st.UpsertNormalized(ctx, normalized("emsc", "em1", 10*time.Second, 35.05, 25.03, 5.1)))
	require.NoError(t, runner.RunOnce(ctx))

	after := unifiedIDs(t, st)
	assert.Equal(t, before, after["usgs:us1"])
	assert.Equal(t, before, after["emsc:em1"])

	unified, err := st.ListUnified(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unified, 1)
	assert.Equal(t, 2, unified[0].NumSources)
}

// Two events that previously fused under one unified id can split apart when
// a revision pushes them past the clustering gates. The pass must still
// succeed, with one half keeping the old id and the other re-minting.
func TestRunOnceSplitClusterKeepsOneIdentity(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	// Same time and place, but the magnitudes now disagree by more than the
	// clustering gate allows, so they land in separate clusters.
	require.NoError(t, st.UpsertNormalized(ctx, normalized("usgs", "a", 0, 35.0, 25.0, 5.0)))
	require.NoError(t, st.UpsertNormalized(ctx, normalized("usgs", "b", 0, 35.0, 25.0, 5.6)))
	st.SeedCrosswalk(
		model.CrosswalkRow{EventUID: "usgs:a", UnifiedEventID: "prior-id", IsPreferred: true, CreatedAt: origin},
		model.CrosswalkRow{EventUID: "usgs:b", UnifiedEventID: "prior-id", CreatedAt: origin},
	)

	runner := newRunner(st, t)
	require.NoError(t, runner.RunOnce(ctx))

	ids := unifiedIDs(t, st)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids["usgs:a"], ids["usgs:b"])
	assert.Contains(t, []string{ids["usgs:a"], ids["usgs:b"]}, "prior-id")

	// The split outcome is stable across passes.
	require.NoError(t, runner.RunOnce(ctx))
	assert.Equal(t, ids, unifiedIDs(t, st))
}

// The window end is the newest origin time, so stale catalog entries fall out
// of scope even when nothing new arrived for them.
func TestRunOnceWindowExcludesOldEvents(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	require.NoError(t, st.UpsertNormalized(ctx, normalized("usgs", "old", -25*time.Hour, 10.0, 10.0, 4.0)))
	require.NoError(t, st.UpsertNormalized(ctx, normalized("usgs", "new", 0, 35.0, 25.0, 5.2)))

	require.NoError(t, newRunner(st, t).RunOnce(ctx))

	ids := unifiedIDs(t, st)
	assert.Contains(t, ids, "usgs:new")
	assert.NotContains(t, ids, "usgs:old")
}

func TestRunOnceEmptyStore(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	require.NoError(t, newRunner(st, t).RunOnce(ctx))

	unified, err := st.ListUnified(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, unified)

	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusOK, runs[0].Status)
	assert.Zero(t, runs[0].UnifiedEventCount)
}

// A failed persist aborts the pass with nothing written and records the
// failure.
func TestRunOncePersistFailure(t *testing.T) {
	st := memory.New()
	seedWindow(t, st)
	ctx := context.Background()
	st.FailSaveFusion = errors.New("pg down")

	err := newRunner(st, t).RunOnce(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pg down")

	unified, listErr := st.ListUnified(ctx, 0)
	require.NoError(t, listErr)
	assert.Empty(t, unified)
	assert.Empty(t, st.Crosswalk())

	runs, listErr := st.ListRuns(ctx, 0)
	require.NoError(t, listErr)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
}
