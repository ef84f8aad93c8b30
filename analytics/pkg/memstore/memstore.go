// Package memstore is an in-process eventlog.Store. It evaluates every query by scanning
// the events it was built with, so it suits small stores and tests.
package memstore

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/identity"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
)

type Store struct {
	mu     sync.RWMutex
	events []eventlog.Event
}

var _ eventlog.Store = (*Store)(nil)

// New returns a store over a copy of events.
func New(events []eventlog.Event) *Store {
	s := &Store{events: slices.Clone(events)}
	for i := range s.events {
		s.events[i].CreatedAt = s.events[i].CreatedAt.UTC()
	}
	return s
}

// Append adds events to the store. Queries already running see either all or none
// of them.
func (s *Store) Append(events ...eventlog.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		e.CreatedAt = e.CreatedAt.UTC()
		s.events = append(s.events, e)
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// scan calls fn for every event matching q. It checks ctx once up front.
func (s *Store) scan(ctx context.Context, q eventlog.Query, fn func(e eventlog.Event)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := q.Scope.Types()
	for _, e := range s.events {
		if !q.Window.Contains(e.CreatedAt) {
			continue
		}
		if q.Scope.DeviceID != "" && !refEquals(e.DeviceID, q.Scope.DeviceID) {
			continue
		}
		if q.Scope.LocationID != "" && !refEquals(e.LocationID, q.Scope.LocationID) {
			continue
		}
		if q.Scope.ProfileID != "" && !identity.Contains(e, q.Scope.ProfileID) {
			continue
		}
		if len(types) > 0 && !slices.Contains(types, e.EventType) {
			continue
		}
		fn(e)
	}
	return nil
}

func refEquals(p *string, want string) bool {
	v, ok := eventlog.Ref(p)
	return ok && v == want
}

// keys returns the dimension values e contributes to. Profiles may fan out.
func keys(e eventlog.Event, dim eventlog.Dimension) []string {
	switch dim {
	case eventlog.DimensionDevice:
		if v, ok := eventlog.Ref(e.DeviceID); ok {
			return []string{v}
		}
	case eventlog.DimensionLocation:
		if v, ok := eventlog.Ref(e.LocationID); ok {
			return []string{v}
		}
	case eventlog.DimensionProfile:
		return identity.Resolve(e)
	case eventlog.DimensionEventType:
		if e.EventType != "" {
			return []string{e.EventType}
		}
	}
	return nil
}

func (s *Store) Count(ctx context.Context, q eventlog.Query) (int64, error) {
	var n int64
	err := s.scan(ctx, q, func(eventlog.Event) { n++ })
	return n, err
}

func (s *Store) CountDistinct(ctx context.Context, q eventlog.Query, dim eventlog.Dimension) (int64, error) {
	seen := make(map[string]struct{})
	err := s.scan(ctx, q, func(e eventlog.Event) {
		for _, k := range keys(e, dim) {
			seen[k] = struct{}{}
		}
	})
	return int64(len(seen)), err
}

func (s *Store) Volume(ctx context.Context, q eventlog.Query, width time.Duration, splitByEventType bool) ([]eventlog.VolumeBucket, error) {
	type key struct {
		bucket    int64
		eventType string
	}
	counts := make(map[key]int64)
	err := s.scan(ctx, q, func(e eventlog.Event) {
		k := key{bucket: timerange.BucketStart(e.CreatedAt, width).UnixNano()}
		if splitByEventType {
			k.eventType = e.EventType
		}
		counts[k]++
	})
	if err != nil {
		return nil, err
	}
	out := make([]eventlog.VolumeBucket, 0, len(counts))
	for k, c := range counts {
		out = append(out, eventlog.VolumeBucket{Bucket: time.Unix(0, k.bucket).UTC(), EventType: k.eventType, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Bucket.Equal(out[j].Bucket) {
			return out[i].Bucket.Before(out[j].Bucket)
		}
		return out[i].EventType < out[j].EventType
	})
	return out, nil
}

func (s *Store) Top(ctx context.Context, q eventlog.Query, dim eventlog.Dimension, n int) ([]eventlog.TopNRow, error) {
	counts := make(map[string]int64)
	err := s.scan(ctx, q, func(e eventlog.Event) {
		for _, k := range keys(e, dim) {
			counts[k]++
		}
	})
	if err != nil {
		return nil, err
	}
	out := make([]eventlog.TopNRow, 0, len(counts))
	for k, c := range counts {
		out = append(out, eventlog.TopNRow{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *Store) Events(ctx context.Context, q eventlog.Query, limit, offset int) ([]eventlog.Event, error) {
	var matched []eventlog.Event
	if err := s.scan(ctx, q, func(e eventlog.Event) { matched = append(matched, e) }); err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return strings.Compare(matched[i].ID, matched[j].ID) < 0
	})
	if offset >= len(matched) {
		return []eventlog.Event{}, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return slices.Clone(matched[offset:end]), nil
}

func (s *Store) DeviceStats(ctx context.Context, q eventlog.Query) ([]eventlog.DeviceStats, error) {
	byDevice := make(map[string]*eventlog.DeviceStats)
	err := s.scan(ctx, q, func(e eventlog.Event) {
		id, ok := eventlog.Ref(e.DeviceID)
		if !ok {
			return
		}
		st, ok := byDevice[id]
		if !ok {
			st = &eventlog.DeviceStats{DeviceID: id, TypeCounts: make(map[string]int64)}
			byDevice[id] = st
		}
		st.EventCount++
		st.TypeCounts[e.EventType]++
		if e.CreatedAt.After(st.LastEvent) {
			st.LastEvent = e.CreatedAt
		}
	})
	if err != nil {
		return nil, err
	}
	out := make([]eventlog.DeviceStats, 0, len(byDevice))
	for _, st := range byDevice {
		out = append(out, *st)
	}
	return out, nil
}

func (s *Store) ProfileStats(ctx context.Context, q eventlog.Query) ([]eventlog.ProfileStats, error) {
	type acc struct {
		stats     eventlog.ProfileStats
		devices   map[string]struct{}
		locations map[string]struct{}
	}
	byProfile := make(map[string]*acc)
	err := s.scan(ctx, q, func(e eventlog.Event) {
		for _, id := range identity.Resolve(e) {
			a, ok := byProfile[id]
			if !ok {
				a = &acc{
					stats:     eventlog.ProfileStats{ProfileID: id},
					devices:   make(map[string]struct{}),
					locations: make(map[string]struct{}),
				}
				byProfile[id] = a
			}
			a.stats.EventCount++
			if d, ok := eventlog.Ref(e.DeviceID); ok {
				a.devices[d] = struct{}{}
			}
			if l, ok := eventlog.Ref(e.LocationID); ok {
				a.locations[l] = struct{}{}
			}
			if e.CreatedAt.After(a.stats.LastActive) {
				a.stats.LastActive = e.CreatedAt
			}
		}
	})
	if err != nil {
		return nil, err
	}
	out := make([]eventlog.ProfileStats, 0, len(byProfile))
	for _, a := range byProfile {
		a.stats.DeviceCount = int64(len(a.devices))
		a.stats.LocationCount = int64(len(a.locations))
		out = append(out, a.stats)
	}
	return out, nil
}

func (s *Store) LocationStats(ctx context.Context, q eventlog.Query) ([]eventlog.LocationStats, error) {
	type acc struct {
		stats    eventlog.LocationStats
		devices  map[string]struct{}
		profiles map[string]struct{}
	}
	byLocation := make(map[string]*acc)
	err := s.scan(ctx, q, func(e eventlog.Event) {
		id, ok := eventlog.Ref(e.LocationID)
		if !ok {
			return
		}
		a, ok := byLocation[id]
		if !ok {
			a = &acc{
				stats:    eventlog.LocationStats{LocationID: id},
				devices:  make(map[string]struct{}),
				profiles: make(map[string]struct{}),
			}
			byLocation[id] = a
		}
		a.stats.EventCount++
		if d, ok := eventlog.Ref(e.DeviceID); ok {
			a.devices[d] = struct{}{}
		}
		for _, p := range identity.Resolve(e) {
			a.profiles[p] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}
	out := make([]eventlog.LocationStats, 0, len(byLocation))
	for _, a := range byLocation {
		a.stats.DeviceCount = int64(len(a.devices))
		a.stats.ProfileCount = int64(len(a.profiles))
		out = append(out, a.stats)
	}
	return out, nil
}

func (s *Store) LocationVolume(ctx context.Context, q eventlog.Query, width time.Duration) ([]eventlog.LocationBucket, error) {
	type key struct {
		location string
		bucket   int64
	}
	counts := make(map[key]int64)
	err := s.scan(ctx, q, func(e eventlog.Event) {
		id, ok := eventlog.Ref(e.LocationID)
		if !ok {
			return
		}
		counts[key{location: id, bucket: timerange.BucketStart(e.CreatedAt, width).UnixNano()}]++
	})
	if err != nil {
		return nil, err
	}
	out := make([]eventlog.LocationBucket, 0, len(counts))
	for k, c := range counts {
		out = append(out, eventlog.LocationBucket{LocationID: k.location, Bucket: time.Unix(0, k.bucket).UTC(), Count: c})
	}
	return out, nil
}
