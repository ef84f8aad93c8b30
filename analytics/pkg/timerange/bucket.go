package timerange

import "time"

// BucketStart floors t to a multiple of width since the Unix epoch, in UTC.
func BucketStart(t time.Time, width time.Duration) time.Time {
	if width <= 0 {
		return t.UTC()
	}
	ns := t.UnixNano()
	w := int64(width)
	floored := ns - mod(ns, w)
	return time.Unix(0, floored).UTC()
}

// mod is a non-negative modulo so pre-epoch timestamps floor downward.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Buckets returns every bucket start that overlaps the window, ascending. The first
// bucket may start before tr.Start because buckets are epoch-aligned.
func (tr TimeRange) Buckets() []time.Time {
	if tr.Bucket <= 0 || !tr.End.After(tr.Start) {
		return nil
	}
	var out []time.Time
	for b := BucketStart(tr.Start, tr.Bucket); b.Before(tr.End); b = b.Add(tr.Bucket) {
		out = append(out, b)
	}
	return out
}
