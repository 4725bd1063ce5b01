// Package jobs maps decoded field maps onto the canonical raw-job record
// and materializes domain Job entities with derived timestamps.
package jobs

import (
	"strconv"
	"time"

	"arq-dashboard/internal/models"
)

// Older runtime generations serialize records with short field aliases
// instead of full names. Each canonical field is resolved by trying the
// full name first, then the alias, keeping every alias in one table.
var fieldAliases = map[string]string{
	"function":     "f",
	"queue":        "q",
	"args":         "a",
	"kwargs":       "kw",
	"enqueue_time": "et",
	"start_time":   "st",
	"finish_time":  "ft",
	"success":      "s",
	"result":       "r",
	"error":        "e",
	"traceback":    "tb",
	"retry":        "t",
	"expires":      "ex",
}

// Reconcile maps a generic decoded field map onto the canonical raw record.
// Absent fields get type-appropriate defaults; a record with no id gets one
// synthesized from function and enqueue_time so repeated scans of the same
// bytes agree on the identifier.
func Reconcile(fields map[string]any) models.RawJobRecord {
	raw := models.RawJobRecord{
		Function:    asString(field(fields, "function"), ""),
		Queue:       asString(field(fields, "queue"), "default"),
		Args:        asSlice(field(fields, "args")),
		Kwargs:      asMap(field(fields, "kwargs")),
		EnqueueTime: asFloat(field(fields, "enqueue_time"), float64(time.Now().Unix())),
		StartTime:   asFloatPtr(field(fields, "start_time")),
		FinishTime:  asFloatPtr(field(fields, "finish_time")),
		Result:      field(fields, "result"),
		Success:     asBoolPtr(field(fields, "success")),
		Error:       asString(field(fields, "error"), ""),
		Traceback:   asString(field(fields, "traceback"), ""),
		Retry:       asInt(field(fields, "retry"), 0),
		Expires:     asFloatPtr(field(fields, "expires")),
	}

	raw.ID = asString(fields["id"], "")
	if raw.ID == "" {
		raw.ID = raw.Function + ":" + strconv.FormatFloat(raw.EnqueueTime, 'f', -1, 64)
	}
	return raw
}

func field(fields map[string]any, name string) any {
	if v, ok := fields[name]; ok {
		return v
	}
	if alias, ok := fieldAliases[name]; ok {
		if v, ok := fields[alias]; ok {
			return v
		}
	}
	return nil
}

// The converters below map "wrong shape" to the field's default instead of
// failing: decoded payloads are not trusted to match any schema.

func asString(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func asFloat(v any, def float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return def
	}
}

func asFloatPtr(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case float32:
		f := float64(t)
		return &f
	case int64:
		f := float64(t)
		return &f
	case int:
		f := float64(t)
		return &f
	default:
		return nil
	}
}

func asInt(v any, def int) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int64:
		return int(t)
	case int:
		return t
	default:
		return def
	}
}

func asBoolPtr(v any) *bool {
	if b, ok := v.(bool); ok {
		return &b
	}
	return nil
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return []any{}
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
