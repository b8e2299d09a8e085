// Package postgres implements store.Store on a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/store"
)

// Store is the Postgres-backed persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens an instrumented pool against pgURL and pings it.
func Connect(ctx context.Context, pgURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) AppendRaw(ctx context.Context, env model.RawEnvelope) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO raw_events (source, source_event_id, format, raw_bytes, fetched_at)
		VALUES ($1, $2, $3, $4, $5)`,
		env.Source, env.SourceEventID, env.Format, env.RawBytes, env.FetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append raw event: %w", err)
	}
	return nil
}

func (s *Store) UpsertNormalized(ctx context.Context, e model.NormalizedEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO normalized_events (
			event_uid, source, source_event_id,
			origin_time_utc, latitude, longitude, depth_km,
			magnitude_value, magnitude_type,
			place, region,
			lat_error_km, lon_error_km, depth_error_km, mag_error, time_error_sec,
			status, num_phases, azimuthal_gap,
			author, url, fetched_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		)
		ON CONFLICT (event_uid) DO UPDATE SET
			origin_time_utc = EXCLUDED.origin_time_utc,
			latitude        = EXCLUDED.latitude,
			longitude       = EXCLUDED.longitude,
			depth_km        = EXCLUDED.depth_km,
			magnitude_value = EXCLUDED.magnitude_value,
			magnitude_type  = EXCLUDED.magnitude_type,
			place           = EXCLUDED.place,
			region          = EXCLUDED.region,
			lat_error_km    = EXCLUDED.lat_error_km,
			lon_error_km    = EXCLUDED.lon_error_km,
			depth_error_km  = EXCLUDED.depth_error_km,
			mag_error       = EXCLUDED.mag_error,
			time_error_sec  = EXCLUDED.time_error_sec,
			status          = EXCLUDED.status,
			num_phases      = EXCLUDED.num_phases,
			azimuthal_gap   = EXCLUDED.azimuthal_gap,
			author          = EXCLUDED.author,
			url             = EXCLUDED.url,
			updated_at      = EXCLUDED.updated_at
		WHERE EXCLUDED.updated_at IS NOT NULL
		  AND (normalized_events.updated_at IS NULL
		       OR EXCLUDED.updated_at > normalized_events.updated_at)`,
		e.EventUID, e.Source, e.SourceEventID,
		e.OriginTimeUTC.UTC(), e.Latitude, e.Longitude, e.DepthKm,
		e.MagnitudeValue, e.MagnitudeType,
		e.Place, e.Region,
		e.LatErrorKm, e.LonErrorKm, e.DepthErrorKm, e.MagError, e.TimeErrorSec,
		e.Status, e.NumPhases, e.AzimuthalGap,
		e.Author, e.URL, e.FetchedAt.UTC(), e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert normalized event %s: %w", e.EventUID, err)
	}
	return nil
}

const normalizedColumns = `
	event_uid, source, source_event_id,
	origin_time_utc, latitude, longitude, depth_km,
	magnitude_value, magnitude_type,
	place, region,
	lat_error_km, lon_error_km, depth_error_km, mag_error, time_error_sec,
	status, num_phases, azimuthal_gap,
	author, url, fetched_at, updated_at`

func (s *Store) ReadWindow(ctx context.Context, since time.Time) ([]model.NormalizedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+normalizedColumns+`
		FROM normalized_events
		WHERE origin_time_utc >= $1
		ORDER BY origin_time_utc, event_uid`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read window: %w", err)
	}
	defer rows.Close()

	var out []model.NormalizedEvent
	for rows.Next() {
		var e model.NormalizedEvent
		if err := rows.Scan(
			&e.EventUID, &e.Source, &e.SourceEventID,
			&e.OriginTimeUTC, &e.Latitude, &e.Longitude, &e.DepthKm,
			&e.MagnitudeValue, &e.MagnitudeType,
			&e.Place, &e.Region,
			&e.LatErrorKm, &e.LonErrorKm, &e.DepthErrorKm, &e.MagError, &e.TimeErrorSec,
			&e.Status, &e.NumPhases, &e.AzimuthalGap,
			&e.Author, &e.URL, &e.FetchedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan normalized event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LatestOriginTime(ctx context.Context) (time.Time, bool, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(origin_time_utc) FROM normalized_events`,
	).Scan(&t)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read latest origin time: %w", err)
	}
	if t == nil {
		return time.Time{}, false, nil
	}
	return t.UTC(), true, nil
}

func (s *Store) SaveFusion(ctx context.Context, unified []model.UnifiedEvent, rows []model.CrosswalkRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin fusion tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range unified {
		if _, err := tx.Exec(ctx, `
			INSERT INTO unified_events (
				unified_event_id,
				origin_time_utc, latitude, longitude, depth_km,
				magnitude_value, magnitude_type,
				place, region, status,
				num_sources, preferred_source, preferred_event_uid, source_event_uids,
				magnitude_std, location_spread_km, source_agreement_score,
				created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16, $17, $18, $19
			)
			ON CONFLICT (unified_event_id) DO UPDATE SET
				origin_time_utc        = EXCLUDED.origin_time_utc,
				latitude               = EXCLUDED.latitude,
				longitude              = EXCLUDED.longitude,
				depth_km               = EXCLUDED.depth_km,
				magnitude_value        = EXCLUDED.magnitude_value,
				magnitude_type         = EXCLUDED.magnitude_type,
				place                  = EXCLUDED.place,
				region                 = EXCLUDED.region,
				status                 = EXCLUDED.status,
				num_sources            = EXCLUDED.num_sources,
				preferred_source       = EXCLUDED.preferred_source,
				preferred_event_uid    = EXCLUDED.preferred_event_uid,
				source_event_uids      = EXCLUDED.source_event_uids,
				magnitude_std          = EXCLUDED.magnitude_std,
				location_spread_km     = EXCLUDED.location_spread_km,
				source_agreement_score = EXCLUDED.source_agreement_score,
				updated_at             = EXCLUDED.updated_at`,
			u.UnifiedEventID,
			u.OriginTimeUTC.UTC(), u.Latitude, u.Longitude, u.DepthKm,
			u.MagnitudeValue, u.MagnitudeType,
			u.Place, u.Region, u.Status,
			u.NumSources, u.PreferredSource, u.PreferredEventID, u.SourceEventUIDs,
			u.MagnitudeStd, u.LocationSpreadKm, u.SourceAgreementScore,
			u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to upsert unified event %s: %w", u.UnifiedEventID, err)
		}
	}

	for _, row := range rows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO event_crosswalk (event_uid, unified_event_id, match_score, is_preferred, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (event_uid, unified_event_id) DO UPDATE SET
				match_score  = EXCLUDED.match_score,
				is_preferred = EXCLUDED.is_preferred`,
			row.EventUID, row.UnifiedEventID, row.MatchScore, row.IsPreferred, row.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to upsert crosswalk row %s: %w", row.EventUID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit fusion tx: %w", err)
	}
	return nil
}

func (s *Store) ExistingCrosswalk(ctx context.Context, eventUIDs []string) (map[string]string, error) {
	if len(eventUIDs) == 0 {
		return map[string]string{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (event_uid) event_uid, unified_event_id
		FROM event_crosswalk
		WHERE event_uid = ANY($1)
		ORDER BY event_uid, created_at DESC`,
		eventUIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read crosswalk: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var uid, unifiedID string
		if err := rows.Scan(&uid, &unifiedID); err != nil {
			return nil, fmt.Errorf("failed to scan crosswalk row: %w", err)
		}
		out[uid] = unifiedID
	}
	return out, rows.Err()
}

const unifiedColumns = `
	unified_event_id,
	origin_time_utc, latitude, longitude, depth_km,
	magnitude_value, magnitude_type,
	place, region, status,
	num_sources, preferred_source, preferred_event_uid, source_event_uids,
	magnitude_std, location_spread_km, source_agreement_score,
	created_at, updated_at`

func (s *Store) ListUnified(ctx context.Context, limit int) ([]model.UnifiedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+unifiedColumns+`
		FROM unified_events
		ORDER BY updated_at DESC, unified_event_id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unified events: %w", err)
	}
	defer rows.Close()

	var out []model.UnifiedEvent
	for rows.Next() {
		u, err := scanUnified(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) GetUnified(ctx context.Context, unifiedEventID string) (model.UnifiedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+unifiedColumns+`
		FROM unified_events
		WHERE unified_event_id = $1`,
		unifiedEventID,
	)
	if err != nil {
		return model.UnifiedEvent{}, fmt.Errorf("failed to get unified event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.UnifiedEvent{}, err
		}
		return model.UnifiedEvent{}, store.ErrNotFound
	}
	return scanUnified(rows)
}

func scanUnified(rows pgx.Rows) (model.UnifiedEvent, error) {
	var u model.UnifiedEvent
	if err := rows.Scan(
		&u.UnifiedEventID,
		&u.OriginTimeUTC, &u.Latitude, &u.Longitude, &u.DepthKm,
		&u.MagnitudeValue, &u.MagnitudeType,
		&u.Place, &u.Region, &u.Status,
		&u.NumSources, &u.PreferredSource, &u.PreferredEventID, &u.SourceEventUIDs,
		&u.MagnitudeStd, &u.LocationSpreadKm, &u.SourceAgreementScore,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return model.UnifiedEvent{}, fmt.Errorf("failed to scan unified event: %w", err)
	}
	return u, nil
}

func (s *Store) AppendDeadLetter(ctx context.Context, d model.DeadLetterEntry) error {
	var sourceEventID *string
	if d.SourceEventID != "" {
		sourceEventID = &d.SourceEventID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letter_events (source, source_event_id, raw_payload, error_messages, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		d.Source, sourceEventID, d.RawBytes, d.ErrorMessages, d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append dead letter: %w", err)
	}
	return nil
}

func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetterEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source, source_event_id, raw_payload, error_messages, created_at
		FROM dead_letter_events
		ORDER BY created_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var out []model.DeadLetterEntry
	for rows.Next() {
		var d model.DeadLetterEntry
		var sourceEventID *string
		if err := rows.Scan(&d.Source, &sourceEventID, &d.RawBytes, &d.ErrorMessages, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		if sourceEventID != nil {
			d.SourceEventID = *sourceEventID
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) AppendRun(ctx context.Context, r model.PipelineRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (
			run_id, started_at, finished_at, status,
			sources_fetched, raw_events_count, unified_events_count,
			dead_letter_count, error_message, duration_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.RunID, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.Status,
		r.SourcesFetched, r.RawEventsCount, r.UnifiedEventCount,
		r.DeadLetterCount, nullableString(r.ErrorMessage), r.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to append pipeline run: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.PipelineRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, started_at, finished_at, status,
		       sources_fetched, raw_events_count, unified_events_count,
		       dead_letter_count, error_message, duration_seconds
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline runs: %w", err)
	}
	defer rows.Close()

	var out []model.PipelineRun
	for rows.Next() {
		var r model.PipelineRun
		var errMsg *string
		if err := rows.Scan(
			&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.SourcesFetched, &r.RawEventsCount, &r.UnifiedEventCount,
			&r.DeadLetterCount, &errMsg, &r.DurationSeconds,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline run: %w", err)
		}
		if errMsg != nil {
			r.ErrorMessage = *errMsg
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ store.Store = (*Store)(nil)
