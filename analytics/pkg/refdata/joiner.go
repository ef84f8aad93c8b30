package refdata

import (
	"context"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/identity"
)

// AnnotatedEvent is an event row with display names for its references.
type AnnotatedEvent struct {
	eventlog.EventRow
	DeviceName    string   `json:"deviceName"`
	LocationName  string   `json:"locationName"`
	ProfileIDs    []string `json:"profileIds"`
	ProfileNames  []string `json:"profileNames"`
	ProfileSource string   `json:"profileSource"`
}

// NamedRow is a breakdown row with the display name of its key.
type NamedRow struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Joiner attaches display names to query results. Names are memoized for the
// duration of one call on top of the directory cache.
type Joiner struct {
	dir *Directory
}

func NewJoiner(dir *Directory) *Joiner {
	return &Joiner{dir: dir}
}

type memo struct {
	ctx   context.Context
	names map[string]string
}

func (m *memo) get(kind, id string, lookup func(context.Context, string) string) string {
	key := kind + ":" + id
	if n, ok := m.names[key]; ok {
		return n
	}
	n := lookup(m.ctx, id)
	m.names[key] = n
	return n
}

func (j *Joiner) Annotate(ctx context.Context, rows []eventlog.EventRow) []AnnotatedEvent {
	m := &memo{ctx: ctx, names: map[string]string{}}
	out := make([]AnnotatedEvent, 0, len(rows))
	for _, row := range rows {
		deviceID, _ := eventlog.Ref(row.DeviceID)
		locationID, _ := eventlog.Ref(row.LocationID)
		ids, source := identity.ResolveSource(row)
		if ids == nil {
			ids = []string{}
		}
		names := make([]string, len(ids))
		for i, id := range ids {
			names[i] = m.get("profile", id, j.dir.ProfileName)
		}
		out = append(out, AnnotatedEvent{
			EventRow:      row,
			DeviceName:    m.get("device", deviceID, j.dir.DeviceName),
			LocationName:  m.get("location", locationID, j.dir.LocationName),
			ProfileIDs:    ids,
			ProfileNames:  names,
			ProfileSource: source.String(),
		})
	}
	return out
}

// NameRows resolves breakdown keys for entity dimensions. Event type keys are their
// own names.
func (j *Joiner) NameRows(ctx context.Context, dim eventlog.Dimension, rows []eventlog.TopNRow) []NamedRow {
	m := &memo{ctx: ctx, names: map[string]string{}}
	out := make([]NamedRow, 0, len(rows))
	for _, row := range rows {
		n := row.Key
		switch dim {
		case eventlog.DimensionDevice:
			n = m.get("device", row.Key, j.dir.DeviceName)
		case eventlog.DimensionLocation:
			n = m.get("location", row.Key, j.dir.LocationName)
		case eventlog.DimensionProfile:
			n = m.get("profile", row.Key, j.dir.ProfileName)
		}
		out = append(out, NamedRow{Key: row.Key, Name: n, Count: row.Count})
	}
	return out
}
