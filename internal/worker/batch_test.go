package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/source"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/store/memory"
)

func TestBatchRunFullPipeline(t *testing.T) {
	reg, err := source.NewRegistry([]string{"usgs"})
	require.NoError(t, err)

	st := memory.New()
	fetcher := &fakeFetcher{payload: usgsCollection(
		usgsFeature("us1", 5.2, 1710072000000, 1710072100000),
		usgsFeature("us2", 5.1, 1710072010000, 1710072100000),
	)}
	sink := NewStoreSink(st, st, zaptest.NewLogger(t))
	batch := NewBatch(reg, nil, fetcher, sink, st, newRunner(st, t), zaptest.NewLogger(t))

	ctx := context.Background()
	require.NoError(t, batch.Run(ctx))

	assert.Equal(t, 2, st.RawCount())

	// Same place, 10s apart, near-equal magnitude: one unified event.
	unified, err := st.ListUnified(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unified, 1)
	assert.ElementsMatch(t, []string{"usgs:us1", "usgs:us2"}, unified[0].SourceEventUIDs)

	// One poll run plus one clustering run.
	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, model.RunStatusOK, r.Status)
	}
}

// A failing source still lets clustering proceed, and Run reports the
// failure for a non-zero exit.
func TestBatchRunReportsPollFailure(t *testing.T) {
	reg, err := source.NewRegistry([]string{"usgs"})
	require.NoError(t, err)

	st := memory.New()
	require.NoError(t, st.UpsertNormalized(context.Background(), normalized("emsc", "em1", 0, 35.0, 25.0, 5.0)))

	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	sink := NewStoreSink(st, st, zaptest.NewLogger(t))
	batch := NewBatch(reg, nil, fetcher, sink, st, newRunner(st, t), zaptest.NewLogger(t))

	ctx := context.Background()
	err = batch.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")

	// The clustering pass still ran over what was already stored.
	unified, listErr := st.ListUnified(ctx, 0)
	require.NoError(t, listErr)
	assert.Len(t, unified, 1)
}
