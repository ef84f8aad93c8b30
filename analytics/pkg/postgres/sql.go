package postgres

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
)

// directProfileExpr is the primary column, falling back to a string payload.profile_id.
// Empty strings and non-string JSON values are NULL.
const directProfileExpr = `COALESCE(
	NULLIF(primary_profile_id, ''),
	CASE WHEN jsonb_typeof(payload -> 'profile_id') = 'string' THEN NULLIF(payload ->> 'profile_id', '') END
)`

// profileListExpr is payload.profile_ids_present when it is an array, else [].
const profileListExpr = `CASE WHEN jsonb_typeof(payload -> 'profile_ids_present') = 'array'
	THEN payload -> 'profile_ids_present' ELSE '[]'::jsonb END`

type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

// where renders the window and scope predicates for event_log.
func where(q eventlog.Query, a *args) string {
	conds := []string{
		"created_at >= " + a.add(q.Window.Start),
		"created_at < " + a.add(q.Window.End),
	}
	if q.Scope.DeviceID != "" {
		conds = append(conds, "device_id = "+a.add(q.Scope.DeviceID))
	}
	if q.Scope.LocationID != "" {
		conds = append(conds, "location_id = "+a.add(q.Scope.LocationID))
	}
	if types := q.Scope.Types(); len(types) > 0 {
		conds = append(conds, "event_type = ANY("+a.add(types)+"::text[])")
	}
	if q.Scope.ProfileID != "" {
		p := a.add(q.Scope.ProfileID)
		conds = append(conds, fmt.Sprintf(`(%[1]s = %[2]s::text OR (%[1]s IS NULL
			AND jsonb_typeof(payload -> 'profile_ids_present') = 'array'
			AND payload -> 'profile_ids_present' @> jsonb_build_array(%[2]s::text)))`, directProfileExpr, p))
	}
	return strings.Join(conds, " AND ")
}

// profiledCTE defines "profiled": one row per (event, profile) pair. Events with a direct
// id contribute one row; events resolved through the list contribute one row per
// distinct id.
func profiledCTE(q eventlog.Query, a *args) string {
	return `WITH scoped AS (
		SELECT id, created_at, event_type, device_id, location_id, payload,
			` + directProfileExpr + ` AS direct_pid
		FROM event_log
		WHERE ` + where(q, a) + `
	), profiled AS (
		SELECT id, created_at, event_type, device_id, location_id, direct_pid AS profile_id
		FROM scoped
		WHERE direct_pid IS NOT NULL
		UNION ALL
		SELECT DISTINCT s.id, s.created_at, s.event_type, s.device_id, s.location_id, e.value #>> '{}' AS profile_id
		FROM scoped s
		CROSS JOIN LATERAL jsonb_array_elements(` + strings.ReplaceAll(profileListExpr, "payload", "s.payload") + `) AS e(value)
		WHERE s.direct_pid IS NULL
			AND jsonb_typeof(e.value) = 'string'
			AND e.value #>> '{}' <> ''
	)`
}

// keyExpr returns the grouping expression for dim over event_log or profiled.
func keyExpr(dim eventlog.Dimension) (string, error) {
	switch dim {
	case eventlog.DimensionDevice:
		return "NULLIF(device_id, '')", nil
	case eventlog.DimensionLocation:
		return "NULLIF(location_id, '')", nil
	case eventlog.DimensionEventType:
		return "NULLIF(event_type, '')", nil
	case eventlog.DimensionProfile:
		return "profile_id", nil
	}
	return "", fmt.Errorf("unsupported dimension %q", dim)
}

// bucketExpr floors created_at to an epoch-aligned bucket of the given width.
func bucketExpr(a *args, seconds float64) string {
	return "date_bin(make_interval(secs => " + a.add(seconds) + "::double precision), created_at, TIMESTAMPTZ 'epoch')"
}
