package refdata_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
)

type fakeSource struct {
	mu        sync.Mutex
	devices   map[string]refdata.Device
	profiles  map[string]refdata.Profile
	locations map[string]refdata.Location
	calls     map[string]int
	err       error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		devices: map[string]refdata.Device{
			"d1": {ID: "d1", Name: "Front Door", LocationID: "L1", LocationName: "HQ"},
			"d2": {ID: "d2"},
		},
		profiles: map[string]refdata.Profile{
			"A": {ID: "A", DisplayName: "Alice"},
			"B": {ID: "B", DisplayName: "Bob"},
			"C": {ID: "C"},
		},
		locations: map[string]refdata.Location{
			"L1": {ID: "L1", Name: "HQ"},
		},
		calls: map[string]int{},
	}
}

func (f *fakeSource) called(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func lookup[T any](f *fakeSource, kind string, m map[string]T, id string) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[kind]++
	var zero T
	if f.err != nil {
		return zero, f.err
	}
	v, ok := m[id]
	if !ok {
		return zero, fmt.Errorf("%s %s: %w", kind, id, refdata.ErrNotFound)
	}
	return v, nil
}

func (f *fakeSource) Device(_ context.Context, id string) (refdata.Device, error) {
	return lookup(f, "device", f.devices, id)
}

func (f *fakeSource) Profile(_ context.Context, id string) (refdata.Profile, error) {
	return lookup(f, "profile", f.profiles, id)
}

func (f *fakeSource) Location(_ context.Context, id string) (refdata.Location, error) {
	return lookup(f, "location", f.locations, id)
}

func list[T any](f *fakeSource, kind string, m map[string]T) ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[kind]++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeSource) Devices(context.Context) ([]refdata.Device, error) {
	return list(f, "devices", f.devices)
}

func (f *fakeSource) Profiles(context.Context) ([]refdata.Profile, error) {
	return list(f, "profiles", f.profiles)
}

func (f *fakeSource) Locations(context.Context) ([]refdata.Location, error) {
	return list(f, "locations", f.locations)
}

func (f *fakeSource) LocationDeviceCounts(context.Context) ([]refdata.LocationCount, error) {
	return []refdata.LocationCount{{LocationID: "L1", Count: 1}}, nil
}

func (f *fakeSource) LocationProfileCounts(context.Context) ([]refdata.LocationCount, error) {
	return []refdata.LocationCount{{LocationID: "L1", Count: 2}}, nil
}

func (f *fakeSource) LocationProfiles(_ context.Context, locationID string) ([]refdata.Profile, error) {
	if locationID != "L1" {
		return []refdata.Profile{}, nil
	}
	return []refdata.Profile{f.profiles["A"], f.profiles["B"]}, nil
}
