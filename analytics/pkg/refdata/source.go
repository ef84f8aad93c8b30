package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Source loads reference records from the system of record.
type Source interface {
	Device(ctx context.Context, id string) (Device, error)
	Profile(ctx context.Context, id string) (Profile, error)
	Location(ctx context.Context, id string) (Location, error)
	Devices(ctx context.Context) ([]Device, error)
	Profiles(ctx context.Context) ([]Profile, error)
	Locations(ctx context.Context) ([]Location, error)
	LocationDeviceCounts(ctx context.Context) ([]LocationCount, error)
	LocationProfileCounts(ctx context.Context) ([]LocationCount, error)
	LocationProfiles(ctx context.Context, locationID string) ([]Profile, error)
}

// Querier is the subset of pgxpool.Pool the source uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSource reads the location, device, profile and locations_profiles tables.
type PostgresSource struct {
	db Querier
}

var _ Source = (*PostgresSource)(nil)

func NewPostgresSource(db Querier) *PostgresSource {
	return &PostgresSource{db: db}
}

const deviceColumns = `d.id, COALESCE(d.name, ''), COALESCE(d.type, ''), COALESCE(d.location_id, ''),
	COALESCE(l.display_name, ''), d.created_at, d.updated_at`

const deviceFrom = `FROM device d LEFT JOIN location l ON l.id = d.location_id`

const profileColumns = `p.id, COALESCE(p.metadata->>'name', ''), p.metadata, p.created_at, p.updated_at`

const locationColumns = `id, display_name, created_at, updated_at`

func scanDevice(row pgx.Row) (Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.Name, &d.Type, &d.LocationID, &d.LocationName, &d.CreatedAt, &d.UpdatedAt)
	d.CreatedAt, d.UpdatedAt = d.CreatedAt.UTC(), d.UpdatedAt.UTC()
	return d, err
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	var metadata []byte
	if err := row.Scan(&p.ID, &p.DisplayName, &metadata, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return p, fmt.Errorf("failed to decode metadata for profile %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func scanLocation(row pgx.Row) (Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.Name, &l.CreatedAt, &l.UpdatedAt)
	l.CreatedAt, l.UpdatedAt = l.CreatedAt.UTC(), l.UpdatedAt.UTC()
	return l, err
}

func one[T any](row pgx.Row, scan func(pgx.Row) (T, error), kind, id string) (T, error) {
	v, err := scan(row)
	if err != nil {
		var zero T
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
		}
		return zero, fmt.Errorf("failed to query %s %s: %w", kind, id, err)
	}
	return v, nil
}

func all[T any](ctx context.Context, db Querier, kind string, scan func(pgx.Row) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", kind, err)
	}
	return out, nil
}

func (s *PostgresSource) Device(ctx context.Context, id string) (Device, error) {
	row := s.db.QueryRow(ctx, `SELECT `+deviceColumns+` `+deviceFrom+` WHERE d.id = $1`, id)
	return one(row, scanDevice, "device", id)
}

func (s *PostgresSource) Profile(ctx context.Context, id string) (Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profile p WHERE p.id = $1`, id)
	return one(row, scanProfile, "profile", id)
}

func (s *PostgresSource) Location(ctx context.Context, id string) (Location, error) {
	row := s.db.QueryRow(ctx, `SELECT `+locationColumns+` FROM location WHERE id = $1`, id)
	return one(row, scanLocation, "location", id)
}

func (s *PostgresSource) Devices(ctx context.Context) ([]Device, error) {
	return all(ctx, s.db, "devices", scanDevice,
		`SELECT `+deviceColumns+` `+deviceFrom+` ORDER BY d.name NULLS LAST, d.id`)
}

func (s *PostgresSource) Profiles(ctx context.Context) ([]Profile, error) {
	return all(ctx, s.db, "profiles", scanProfile,
		`SELECT `+profileColumns+` FROM profile p ORDER BY p.created_at DESC, p.id`)
}

func (s *PostgresSource) Locations(ctx context.Context) ([]Location, error) {
	return all(ctx, s.db, "locations", scanLocation,
		`SELECT `+locationColumns+` FROM location ORDER BY display_name, id`)
}

func scanCount(row pgx.Row) (LocationCount, error) {
	var c LocationCount
	err := row.Scan(&c.LocationID, &c.Count)
	return c, err
}

func (s *PostgresSource) LocationDeviceCounts(ctx context.Context) ([]LocationCount, error) {
	return all(ctx, s.db, "location device counts", scanCount, `
		SELECT location_id, COUNT(*) FROM device
		WHERE location_id IS NOT NULL
		GROUP BY location_id
		ORDER BY location_id`)
}

func (s *PostgresSource) LocationProfileCounts(ctx context.Context) ([]LocationCount, error) {
	return all(ctx, s.db, "location profile counts", scanCount, `
		SELECT location_id, COUNT(*) FROM locations_profiles
		GROUP BY location_id
		ORDER BY location_id`)
}

func (s *PostgresSource) LocationProfiles(ctx context.Context, locationID string) ([]Profile, error) {
	return all(ctx, s.db, "location profiles", scanProfile, `
		SELECT `+profileColumns+`
		FROM locations_profiles lp
		JOIN profile p ON p.id = lp.profile_id
		WHERE lp.location_id = $1
		ORDER BY p.created_at DESC, p.id`, locationID)
}
