package extract

import (
	"encoding/json"
	"strings"
)

// markerTokens are the substrings that make a response body worth parsing.
// The interceptor sees every network response during a navigation; bodies
// without any of these tokens are discarded before JSON parsing.
var markerTokens = []string{
	"rm ", "rm.", "nilai", "harga", "amount", "price", "perolehan", "tender", "kontrak",
}

// amountLikeKeys is the loose field-presence heuristic for deciding whether a
// JSON object is a procurement record: it must carry a price-like key in one
// of the known spellings.
var amountLikeKeys = []string{
	"amount", "nilai", "nilai_perolehan", "harga", "price", "value", "jumlah", "contract_value", "kos",
}

// LooksLikeProcurementPayload reports whether a response body is worth
// attempting to parse for records.
func LooksLikeProcurementPayload(body string) bool {
	lower := strings.ToLower(body)
	for _, token := range markerTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// RecordsFromBody mines RawRecords from a network response body. The body is
// gated on marker substrings, parsed as JSON, and searched recursively for
// arrays of record-like objects. A nil slice means nothing usable was found;
// that is the common case and not an error.
func RecordsFromBody(body []byte, sourceURL string) []RawRecord {
	if len(body) == 0 || !LooksLikeProcurementPayload(string(body)) {
		return nil
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	return RecordsFromJSON(payload, sourceURL)
}

// RecordsFromJSON walks an arbitrary decoded JSON structure and collects
// every object that passes the record-likeness heuristic. Record-like objects
// are emitted as-is and not descended into; everything else is searched
// recursively, so records are found regardless of how deep the site's API
// nests its result arrays.
func RecordsFromJSON(v any, sourceURL string) []RawRecord {
	var out []RawRecord

	switch t := v.(type) {
	case []any:
		for _, elem := range t {
			out = append(out, RecordsFromJSON(elem, sourceURL)...)
		}
	case map[string]any:
		if looksLikeRecord(t) {
			out = append(out, RawRecord{Fields: t, SourceURL: sourceURL})
			return out
		}
		for _, val := range t {
			out = append(out, RecordsFromJSON(val, sourceURL)...)
		}
	}

	return out
}

func looksLikeRecord(m map[string]any) bool {
	if _, ok := First(m, amountLikeKeys...); !ok {
		return false
	}
	// A lone {"price": ...} pair is more likely a summary figure than a record.
	return len(m) >= 2
}
