package clickhouse

import (
	"fmt"
	"strings"
	"time"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
)

// profilesExpr evaluates to the event's profile id set: the primary column, else a
// string payload.profile_id, else the distinct non-empty strings of
// payload.profile_ids_present.
const profilesExpr = `multiIf(
	ifNull(primary_profile_id, '') != '', [assumeNotNull(primary_profile_id)],
	JSONExtractString(payload, 'profile_id') != '', [JSONExtractString(payload, 'profile_id')],
	arrayDistinct(arrayFilter(x -> x != '', arrayMap(r -> JSONExtractString(r), JSONExtractArrayRaw(payload, 'profile_ids_present'))))
)`

// windowExpr binds the bounds in nanoseconds so sub-millisecond starts and ends are not truncated.
const windowExpr = `created_at >= fromUnixTimestamp64Nano(toInt64(?), 'UTC') AND created_at < fromUnixTimestamp64Nano(toInt64(?), 'UTC')`

// where renders the window and scope predicates and appends their parameters.
func where(q eventlog.Query, args *[]any) string {
	conds := []string{windowExpr}
	*args = append(*args, q.Window.Start.UnixNano(), q.Window.End.UnixNano())
	if q.Scope.DeviceID != "" {
		conds = append(conds, "device_id = ?")
		*args = append(*args, q.Scope.DeviceID)
	}
	if q.Scope.LocationID != "" {
		conds = append(conds, "location_id = ?")
		*args = append(*args, q.Scope.LocationID)
	}
	if types := q.Scope.Types(); len(types) > 0 {
		conds = append(conds, "has(?, toString(event_type))")
		*args = append(*args, types)
	}
	if q.Scope.ProfileID != "" {
		conds = append(conds, "has("+profilesExpr+", ?)")
		*args = append(*args, q.Scope.ProfileID)
	}
	return strings.Join(conds, " AND ")
}

// keyExpr returns a non-nullable String expression for dim; "" means no key.
func keyExpr(dim eventlog.Dimension) (string, error) {
	switch dim {
	case eventlog.DimensionDevice:
		return "ifNull(device_id, '')", nil
	case eventlog.DimensionLocation:
		return "ifNull(location_id, '')", nil
	case eventlog.DimensionEventType:
		return "toString(event_type)", nil
	case eventlog.DimensionProfile:
		return "pid", nil
	}
	return "", fmt.Errorf("unsupported dimension %q", dim)
}

// from returns the FROM clause, exploding profiles into pid when needed.
func from(dim eventlog.Dimension) string {
	if dim == eventlog.DimensionProfile {
		return "event_log ARRAY JOIN " + profilesExpr + " AS pid"
	}
	return "event_log"
}

// bucketExpr floors created_at to an epoch-aligned bucket of width ms.
func bucketExpr(args *[]any, width time.Duration) string {
	ms := width.Milliseconds()
	*args = append(*args, ms, ms)
	return "fromUnixTimestamp64Milli(intDiv(toUnixTimestamp64Milli(created_at), toInt64(?)) * toInt64(?), 'UTC')"
}
