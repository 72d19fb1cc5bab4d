// Package extract recovers loosely structured procurement records from
// network payloads and rendered page markup. Every strategy in this package
// is best-effort: the target site has no stable schema, so extraction works
// from content heuristics rather than selectors tied to a page revision.
package extract

import (
	"strconv"
	"strings"
)

// RawRecord is the loosely typed field bag produced by an extraction strategy
// before normalization. Keys are whatever the source used (English, Malay, or
// sheet-column artifacts); values are strings, float64s, or nil, matching what
// encoding/json yields for untyped payloads. RawRecords are transient and are
// never persisted directly.
type RawRecord struct {
	Fields    map[string]any `json:"fields"`
	SourceURL string         `json:"source_url"`
}

// First returns the value of the first key carrying a usable value,
// matching key names case-insensitively. A nil value or one that
// stringifies to empty counts as absent and the chain continues: a
// present-but-blank canonical key must not shadow a populated alternate
// spelling later in the chain. This is the fallback-chain lookup used
// for all field extraction: schema drift is absorbed by listing every
// known spelling of a field in priority order.
func First(fields map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		for k, v := range fields {
			if !strings.EqualFold(k, key) || v == nil {
				continue
			}
			if strings.TrimSpace(Stringify(v)) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

// FirstString is First with the value coerced to a trimmed string.
// Numeric values are formatted.
func FirstString(fields map[string]any, keys ...string) (string, bool) {
	v, ok := First(fields, keys...)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(Stringify(v)), true
}

// Stringify renders a JSON-primitive value as a string.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return ""
	}
}
