package pagination

import (
	"time"
)

// Query documents are plain maps so they marshal exactly as the search API
// expects them; the helpers below build the fragments the CLI commands use.

// And combines queries with a logical AND.
func And(queries ...map[string]any) map[string]any {
	return map[string]any{"type": "and", "queries": queries}
}

// MatchAll matches every object.
func MatchAll() map[string]any {
	return map[string]any{"type": "match_all"}
}

// ObjectTypeQuery restricts a search to one object type.
func ObjectTypeQuery(objectType string) map[string]any {
	return map[string]any{"type": "object_type", "object_type": objectType}
}

// RegularField references a built-in field of an object type.
func RegularField(objectType, fieldName string) map[string]any {
	return map[string]any{
		"type":        "regular_field",
		"object_type": objectType,
		"field_name":  fieldName,
	}
}

// CustomField references a custom field by identifier (without prefix).
func CustomField(customFieldID string) map[string]any {
	return map[string]any{"type": "custom_field", "custom_field_id": customFieldID}
}

// FieldCondition applies a condition to a field.
func FieldCondition(field, condition map[string]any) map[string]any {
	return map[string]any{"type": "field_condition", "field": field, "condition": condition}
}

// Term matches any of the given values.
func Term(values ...string) map[string]any {
	return map[string]any{"type": "term", "values": values}
}

// HasRelated matches objects with (or, negated, without) a related object
// matching relatedQuery.
func HasRelated(thisType, relatedType string, relatedQuery map[string]any, negate bool) map[string]any {
	q := map[string]any{
		"type":                "has_related",
		"this_object_type":    thisType,
		"related_object_type": relatedType,
		"related_query":       relatedQuery,
	}
	if negate {
		q["negate"] = true
	}
	return q
}

// DateRangeCondition matches field values on or after start and up to and
// including end, both taken as local calendar days.
func DateRangeCondition(objectType, fieldName string, start, end time.Time) map[string]any {
	return FieldCondition(RegularField(objectType, fieldName), map[string]any{
		"type": "moment_range",
		"on_or_after": map[string]any{
			"type":          "fixed_local_date",
			"value":         start.Format(time.DateOnly),
			"which_day_end": "start",
		},
		"before": map[string]any{
			"type":          "fixed_local_date",
			"value":         end.AddDate(0, 0, 1).Format(time.DateOnly),
			"which_day_end": "start",
		},
	})
}

// Offset is a relative distance into the past.
type Offset struct {
	Years, Months, Weeks, Days, Hours, Minutes, Seconds int
}

// OlderThanCondition matches field values before now minus offset.
func OlderThanCondition(objectType, fieldName string, offset Offset) map[string]any {
	return FieldCondition(RegularField(objectType, fieldName), map[string]any{
		"type": "moment_range",
		"before": map[string]any{
			"type":      "offset",
			"direction": "past",
			"moment":    map[string]any{"type": "now"},
			"offset": map[string]any{
				"years":   offset.Years,
				"months":  offset.Months,
				"weeks":   offset.Weeks,
				"days":    offset.Days,
				"hours":   offset.Hours,
				"minutes": offset.Minutes,
				"seconds": offset.Seconds,
			},
			"which_day_end": "start",
		},
		"on_or_after": nil,
	})
}

// SortBy orders results by a regular field; direction is "asc" or "desc".
func SortBy(objectType, fieldName, direction string) []map[string]any {
	return []map[string]any{{
		"field":     RegularField(objectType, fieldName),
		"direction": direction,
	}}
}
