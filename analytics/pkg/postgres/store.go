// Package postgres implements eventlog.Store over an event_log table in Postgres.
// Filters, grouping and profile identity resolution run in SQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
)

// Querier is the subset of pgxpool.Pool the store uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type StoreConfig struct {
	Logger *slog.Logger
	DB     Querier
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	return nil
}

type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

var _ eventlog.Store = (*Store)(nil)

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (s *Store) Count(ctx context.Context, q eventlog.Query) (int64, error) {
	var a args
	query := `SELECT COUNT(*) FROM event_log WHERE ` + where(q, &a)
	var n int64
	if err := s.cfg.DB.QueryRow(ctx, query, a...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func (s *Store) CountDistinct(ctx context.Context, q eventlog.Query, dim eventlog.Dimension) (int64, error) {
	key, err := keyExpr(dim)
	if err != nil {
		return 0, err
	}
	var a args
	var query string
	if dim == eventlog.DimensionProfile {
		query = profiledCTE(q, &a) + ` SELECT COUNT(DISTINCT profile_id) FROM profiled`
	} else {
		query = `SELECT COUNT(DISTINCT ` + key + `) FROM event_log WHERE ` + where(q, &a)
	}
	var n int64
	if err := s.cfg.DB.QueryRow(ctx, query, a...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count distinct %s: %w", dim, err)
	}
	return n, nil
}

func (s *Store) Volume(ctx context.Context, q eventlog.Query, width time.Duration, splitByEventType bool) ([]eventlog.VolumeBucket, error) {
	var a args
	bucket := bucketExpr(&a, width.Seconds())
	typeExpr := "''::text"
	if splitByEventType {
		typeExpr = "event_type"
	}
	query := `SELECT ` + bucket + ` AS bucket, ` + typeExpr + ` AS event_type, COUNT(*)
		FROM event_log
		WHERE ` + where(q, &a) + `
		GROUP BY 1, 2
		ORDER BY 1, 2`

	rows, err := s.cfg.DB.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query volume: %w", err)
	}
	defer rows.Close()

	var out []eventlog.VolumeBucket
	for rows.Next() {
		var b eventlog.VolumeBucket
		if err := rows.Scan(&b.Bucket, &b.EventType, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan volume row: %w", err)
		}
		b.Bucket = b.Bucket.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read volume rows: %w", err)
	}
	return out, nil
}

func (s *Store) Top(ctx context.Context, q eventlog.Query, dim eventlog.Dimension, n int) ([]eventlog.TopNRow, error) {
	key, err := keyExpr(dim)
	if err != nil {
		return nil, err
	}
	var a args
	var query string
	if dim == eventlog.DimensionProfile {
		query = profiledCTE(q, &a) + ` SELECT profile_id COLLATE "C" AS key, COUNT(*) AS n FROM profiled`
	} else {
		query = `SELECT ` + key + ` COLLATE "C" AS key, COUNT(*) AS n FROM event_log WHERE ` + where(q, &a) + ` AND ` + key + ` IS NOT NULL`
	}
	// key carries the "C" collation so ties order bytewise.
	query += ` GROUP BY 1 ORDER BY n DESC, key ASC`
	if n > 0 {
		query += ` LIMIT ` + a.add(n)
	}

	rows, err := s.cfg.DB.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top %s: %w", dim, err)
	}
	defer rows.Close()

	var out []eventlog.TopNRow
	for rows.Next() {
		var r eventlog.TopNRow
		if err := rows.Scan(&r.Key, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read top rows: %w", err)
	}
	return out, nil
}

func (s *Store) Events(ctx context.Context, q eventlog.Query, limit, offset int) ([]eventlog.Event, error) {
	var a args
	query := `SELECT id, created_at, event_type, device_id, location_id, primary_profile_id, payload
		FROM event_log
		WHERE ` + where(q, &a) + `
		ORDER BY created_at DESC, id COLLATE "C" ASC`
	if limit > 0 {
		query += ` LIMIT ` + a.add(limit)
	}
	query += ` OFFSET ` + a.add(offset)

	rows, err := s.cfg.DB.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	out := []eventlog.Event{}
	for rows.Next() {
		var (
			e       eventlog.Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.EventType, &e.DeviceID, &e.LocationID, &e.PrimaryProfileID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		e.Payload, err = eventlog.DecodePayload(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode payload of event %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return out, nil
}

func (s *Store) DeviceStats(ctx context.Context, q eventlog.Query) ([]eventlog.DeviceStats, error) {
	var a args
	query := `SELECT device_id, event_type, COUNT(*), MAX(created_at)
		FROM event_log
		WHERE ` + where(q, &a) + ` AND NULLIF(device_id, '') IS NOT NULL
		GROUP BY device_id, event_type`

	rows, err := s.cfg.DB.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query device stats: %w", err)
	}
	defer rows.Close()

	byDevice := make(map[string]*eventlog.DeviceStats)
	var order []string
	for rows.Next() {
		var (
			deviceID, eventType string
			count               int64
			last                time.Time
		)
		if err := rows.Scan(&deviceID, &eventType, &count, &last); err != nil {
			return nil, fmt.Errorf("failed to scan device stats row: %w", err)
		}
		st, ok := byDevice[deviceID]
		if !ok {
			st = &eventlog.DeviceStats{DeviceID: deviceID, TypeCounts: make(map[string]int64)}
			byDevice[deviceID] = st
			order = append(order, deviceID)
		}
		st.EventCount += count
		st.TypeCounts[eventType] += count
		if last.After(st.LastEvent) {
			st.LastEvent = last.UTC()
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read device stats: %w", err)
	}

	out := make([]eventlog.DeviceStats, 0, len(order))
	for _, id := range order {
		out = append(out, *byDevice[id])
	}
	return out, nil
}

func (s *Store) ProfileStats(ctx context.Context, q eventlog.Query) ([]eventlog.ProfileStats, error) {
	var a args
	query := profiledCTE(q, &a) + `
		SELECT profile_id, COUNT(*), COUNT(DISTINCT NULLIF(device_id, '')), COUNT(DISTINCT NULLIF(location_id, '')), MAX(created_at)
		FROM profiled
		GROUP BY profile_id`

	rows, err := s.cfg.DB.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile stats: %w", err)
	}
	defer rows.Close()

	var out []eventlog.ProfileStats
	for rows.Next() {
		var r eventlog.ProfileStats
		if err := rows.Scan(&r.ProfileID, &r.EventCount, &r.DeviceCount, &r.LocationCount, &r.LastActive); err != nil {
			return nil, fmt.Errorf("failed to scan profile stats row: %w", err)
		}
		r.LastActive = r.LastActive.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read profile stats: %w", err)
	}
	return out, nil
}

func (s *Store) LocationStats(ctx context.Context, q eventlog.Query) ([]eventlog.LocationStats, error) {
	var a args
	query := profiledCTE(q, &a) + `
		SELECT l.location_id, l.events, l.devices, COALESCE(p.profiles, 0)
		FROM (
			SELECT location_id, COUNT(*) AS events, COUNT(DISTINCT NULLIF(device_id, '')) AS devices
			FROM scoped
			WHERE NULLIF(location_id, '') IS NOT NULL
			GROUP BY location_id
		) l
		LEFT JOIN (
			SELECT location_id, COUNT(DISTINCT profile_id) AS profiles
			FROM profiled
			WHERE NULLIF(location_id, '') IS NOT NULL
			GROUP BY location_id
		) p USING (location_id)`

	rows, err := s.cfg.DB.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query location stats: %w", err)
	}
	defer rows.Close()

	var out []eventlog.LocationStats
	for rows.Next() {
		var r eventlog.LocationStats
		if err := rows.Scan(&r.LocationID, &r.EventCount, &r.DeviceCount, &r.ProfileCount); err != nil {
			return nil, fmt.Errorf("failed to scan location stats row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read location stats: %w", err)
	}
	return out, nil
}

func (s *Store) LocationVolume(ctx context.Context, q eventlog.Query, width time.Duration) ([]eventlog.LocationBucket, error) {
	var a args
	bucket := bucketExpr(&a, width.Seconds())
	query := `SELECT location_id, ` + bucket + ` AS bucket, COUNT(*)
		FROM event_log
		WHERE ` + where(q, &a) + ` AND NULLIF(location_id, '') IS NOT NULL
		GROUP BY 1, 2`

	rows, err := s.cfg.DB.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query location volume: %w", err)
	}
	defer rows.Close()

	var out []eventlog.LocationBucket
	for rows.Next() {
		var r eventlog.LocationBucket
		if err := rows.Scan(&r.LocationID, &r.Bucket, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan location volume row: %w", err)
		}
		r.Bucket = r.Bucket.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read location volume: %w", err)
	}
	return out, nil
}
