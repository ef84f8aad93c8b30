// Package clickhouse implements eventlog.Store over an event_log MergeTree table.
// Profile identity resolution is pushed down as an array expression that is either
// tested with has() or exploded with ARRAY JOIN.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
)

// Querier is the subset of driver.Conn the store uses.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) driver.Row
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
	var args []any
	query := `SELECT count() FROM event_log WHERE ` + where(q, &args)
	var n uint64
	if err := s.cfg.DB.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return int64(n), nil
}

func (s *Store) CountDistinct(ctx context.Context, q eventlog.Query, dim eventlog.Dimension) (int64, error) {
	key, err := keyExpr(dim)
	if err != nil {
		return 0, err
	}
	var args []any
	query := `SELECT uniqExact(k) FROM (
		SELECT ` + key + ` AS k FROM ` + from(dim) + ` WHERE ` + where(q, &args) + `
	) WHERE k != ''`
	var n uint64
	if err := s.cfg.DB.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count distinct %s: %w", dim, err)
	}
	return int64(n), nil
}

func (s *Store) Volume(ctx context.Context, q eventlog.Query, width time.Duration, splitByEventType bool) ([]eventlog.VolumeBucket, error) {
	var args []any
	bucket := bucketExpr(&args, width)
	typeExpr := "''"
	if splitByEventType {
		typeExpr = "toString(event_type)"
	}
	query := `SELECT ` + bucket + ` AS bucket, ` + typeExpr + ` AS type, count() AS n
		FROM event_log
		WHERE ` + where(q, &args) + `
		GROUP BY bucket, type
		ORDER BY bucket, type`

	rows, err := s.cfg.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query volume: %w", err)
	}
	defer rows.Close()

	var out []eventlog.VolumeBucket
	for rows.Next() {
		var (
			b eventlog.VolumeBucket
			n uint64
		)
		if err := rows.Scan(&b.Bucket, &b.EventType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan volume row: %w", err)
		}
		b.Bucket = b.Bucket.UTC()
		b.Count = int64(n)
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
	var args []any
	query := `SELECT ` + key + ` AS k, count() AS n
		FROM ` + from(dim) + `
		WHERE ` + where(q, &args) + ` AND k != ''
		GROUP BY k
		ORDER BY n DESC, k ASC`
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}

	rows, err := s.cfg.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top %s: %w", dim, err)
	}
	defer rows.Close()

	var out []eventlog.TopNRow
	for rows.Next() {
		var (
			r     eventlog.TopNRow
			count uint64
		)
		if err := rows.Scan(&r.Key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan top row: %w", err)
		}
		r.Count = int64(count)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read top rows: %w", err)
	}
	return out, nil
}

func (s *Store) Events(ctx context.Context, q eventlog.Query, limit, offset int) ([]eventlog.Event, error) {
	var args []any
	query := `SELECT id, created_at, toString(event_type), device_id, location_id, primary_profile_id, payload
		FROM event_log
		WHERE ` + where(q, &args) + `
		ORDER BY created_at DESC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	query += ` OFFSET ?`
	args = append(args, offset)

	rows, err := s.cfg.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	out := []eventlog.Event{}
	for rows.Next() {
		var (
			e       eventlog.Event
			payload string
		)
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.EventType, &e.DeviceID, &e.LocationID, &e.PrimaryProfileID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		e.Payload, err = eventlog.DecodePayload([]byte(payload))
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
	var args []any
	query := `SELECT ifNull(device_id, '') AS d, toString(event_type) AS type, count(), max(created_at)
		FROM event_log
		WHERE ` + where(q, &args) + ` AND d != ''
		GROUP BY d, type`

	rows, err := s.cfg.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query device stats: %w", err)
	}
	defer rows.Close()

	byDevice := make(map[string]*eventlog.DeviceStats)
	var order []string
	for rows.Next() {
		var (
			deviceID, eventType string
			count               uint64
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
		st.EventCount += int64(count)
		st.TypeCounts[eventType] += int64(count)
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
	var args []any
	query := `SELECT pid, count(),
			uniqExactIf(ifNull(device_id, ''), ifNull(device_id, '') != ''),
			uniqExactIf(ifNull(location_id, ''), ifNull(location_id, '') != ''),
			max(created_at)
		FROM ` + from(eventlog.DimensionProfile) + `
		WHERE ` + where(q, &args) + `
		GROUP BY pid`

	rows, err := s.cfg.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile stats: %w", err)
	}
	defer rows.Close()

	var out []eventlog.ProfileStats
	for rows.Next() {
		var (
			r                         eventlog.ProfileStats
			events, devices, locCount uint64
		)
		if err := rows.Scan(&r.ProfileID, &events, &devices, &locCount, &r.LastActive); err != nil {
			return nil, fmt.Errorf("failed to scan profile stats row: %w", err)
		}
		r.EventCount = int64(events)
		r.DeviceCount = int64(devices)
		r.LocationCount = int64(locCount)
		r.LastActive = r.LastActive.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read profile stats: %w", err)
	}
	return out, nil
}

func (s *Store) LocationStats(ctx context.Context, q eventlog.Query) ([]eventlog.LocationStats, error) {
	var args []any
	eventsWhere := where(q, &args)
	profilesWhere := where(q, &args)
	query := `SELECT l.loc, l.events, l.devices, p.profiles
		FROM (
			SELECT ifNull(location_id, '') AS loc, count() AS events,
				uniqExactIf(ifNull(device_id, ''), ifNull(device_id, '') != '') AS devices
			FROM event_log
			WHERE ` + eventsWhere + ` AND loc != ''
			GROUP BY loc
		) AS l
		LEFT JOIN (
			SELECT ifNull(location_id, '') AS loc, uniqExact(pid) AS profiles
			FROM ` + from(eventlog.DimensionProfile) + `
			WHERE ` + profilesWhere + ` AND loc != ''
			GROUP BY loc
		) AS p ON l.loc = p.loc`

	rows, err := s.cfg.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query location stats: %w", err)
	}
	defer rows.Close()

	var out []eventlog.LocationStats
	for rows.Next() {
		var (
			r                         eventlog.LocationStats
			events, devices, profiles uint64
		)
		if err := rows.Scan(&r.LocationID, &events, &devices, &profiles); err != nil {
			return nil, fmt.Errorf("failed to scan location stats row: %w", err)
		}
		r.EventCount = int64(events)
		r.DeviceCount = int64(devices)
		r.ProfileCount = int64(profiles)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read location stats: %w", err)
	}
	return out, nil
}

func (s *Store) LocationVolume(ctx context.Context, q eventlog.Query, width time.Duration) ([]eventlog.LocationBucket, error) {
	var args []any
	bucket := bucketExpr(&args, width)
	query := `SELECT ifNull(location_id, '') AS loc, ` + bucket + ` AS bucket, count()
		FROM event_log
		WHERE ` + where(q, &args) + ` AND loc != ''
		GROUP BY loc, bucket`

	rows, err := s.cfg.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query location volume: %w", err)
	}
	defer rows.Close()

	var out []eventlog.LocationBucket
	for rows.Next() {
		var (
			r eventlog.LocationBucket
			n uint64
		)
		if err := rows.Scan(&r.LocationID, &r.Bucket, &n); err != nil {
			return nil, fmt.Errorf("failed to scan location volume row: %w", err)
		}
		r.Bucket = r.Bucket.UTC()
		r.Count = int64(n)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read location volume: %w", err)
	}
	return out, nil
}
