// Package store defines the persistence contracts of the pipeline. The
// postgres subpackage is the production implementation; the memory
// subpackage backs tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

// ErrNotFound is returned by point lookups with no matching row.
var ErrNotFound = errors.New("not found")

// EventStore persists the ingest-side records: the append-only raw log and
// the normalized canonical events.
type EventStore interface {
	// AppendRaw appends one provenance envelope to the raw log. The log is
	// append-only; duplicates of the same fetch are tolerated.
	AppendRaw(ctx context.Context, env model.RawEnvelope) error

	// UpsertNormalized writes a normalized event keyed by event_uid. On
	// conflict the incoming record wins only when its updated_at is newer
	// than the stored one.
	UpsertNormalized(ctx context.Context, e model.NormalizedEvent) error

	// ReadWindow returns all normalized events with origin_time_utc >= since,
	// ordered by (origin_time_utc, event_uid).
	ReadWindow(ctx context.Context, since time.Time) ([]model.NormalizedEvent, error)

	// LatestOriginTime returns the maximum origin_time_utc across normalized
	// events. ok is false when the table is empty.
	LatestOriginTime(ctx context.Context) (t time.Time, ok bool, err error)
}

// FusionStore persists the fused output: unified events and the crosswalk.
type FusionStore interface {
	// SaveFusion writes a fuse pass atomically. Unified rows replace on
	// conflict by unified_event_id (created_at is preserved); crosswalk rows
	// replace on conflict by (event_uid, unified_event_id). Nothing is
	// written if any row fails.
	SaveFusion(ctx context.Context, unified []model.UnifiedEvent, rows []model.CrosswalkRow) error

	// ExistingCrosswalk maps each given event_uid to the unified_event_id of
	// its most recent crosswalk row. UIDs with no row are absent from the
	// result.
	ExistingCrosswalk(ctx context.Context, eventUIDs []string) (map[string]string, error)

	// ListUnified returns the most recently updated unified events, newest
	// first, up to limit.
	ListUnified(ctx context.Context, limit int) ([]model.UnifiedEvent, error)

	// GetUnified returns one unified event by id, or ErrNotFound.
	GetUnified(ctx context.Context, unifiedEventID string) (model.UnifiedEvent, error)
}

// OpsStore persists the operational records: dead letters and run telemetry.
type OpsStore interface {
	AppendDeadLetter(ctx context.Context, d model.DeadLetterEntry) error
	ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetterEntry, error)

	AppendRun(ctx context.Context, r model.PipelineRun) error
	ListRuns(ctx context.Context, limit int) ([]model.PipelineRun, error)
}

// Store is the full persistence surface.
type Store interface {
	EventStore
	FusionStore
	OpsStore
}
