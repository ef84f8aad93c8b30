package timerange

import "github.com/malbeclabs/eventdash/analytics/pkg/eventlog"

// Densify fills a sparse, unsplit series with zero-count buckets across tr. Points that
// fall outside the window's buckets are kept in order. Series split by event type
// should be densified per type by the caller.
func Densify(series []eventlog.VolumeBucket, tr TimeRange) []eventlog.VolumeBucket {
	buckets := tr.Buckets()
	if len(buckets) == 0 {
		return series
	}
	byBucket := make(map[int64]int64, len(series))
	for _, p := range series {
		byBucket[p.Bucket.UnixNano()] += p.Count
	}
	out := make([]eventlog.VolumeBucket, 0, len(buckets))
	for _, b := range buckets {
		key := b.UnixNano()
		out = append(out, eventlog.VolumeBucket{Bucket: b, Count: byBucket[key]})
		delete(byBucket, key)
	}
	for _, p := range series {
		if _, ok := byBucket[p.Bucket.UnixNano()]; ok {
			out = append(out, p)
		}
	}
	return out
}
