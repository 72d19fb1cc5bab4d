package extract

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Text-length window for card candidates: long enough to hold a record,
// short enough to exclude whole-page wrapper elements.
const (
	minCardTextLen = 40
	maxCardTextLen = 1500
)

// FromHTML is the fallback extraction path: it parses visually rendered
// markup directly when no machine-readable payload was observed during
// navigation. Card-shaped elements are tried first, then data tables.
func FromHTML(html, sourceURL string) []RawRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	records := cardsFromDoc(doc, sourceURL)
	records = append(records, tablesFromDoc(doc, sourceURL)...)
	return records
}

// cardsFromDoc scans generic container elements and keeps those whose
// rendered text passes the content heuristics. Field extraction is regex
// pattern matching over the flattened text; this is deliberately imprecise
// in exchange for resilience against markup changes.
func cardsFromDoc(doc *goquery.Document, sourceURL string) []RawRecord {
	var records []RawRecord
	seen := make(map[string]struct{})

	doc.Find("div, article, section").Each(func(_ int, sel *goquery.Selection) {
		text, amount, ok := cardCandidate(sel)
		if !ok {
			return
		}
		// A wrapper around a card passes the same filter as the card itself
		// but with looser provenance: its text and first anchor belong to
		// the whole subtree. Yield to the deeper match.
		if hasCandidateDescendant(sel) {
			return
		}

		fields := map[string]any{
			"amount":   amount,
			"raw_text": text,
		}
		vendor := ""
		if v, ok := Vendor(text); ok {
			fields["vendor"] = v
			vendor = v
		}
		if m, ok := Ministry(text); ok {
			fields["ministry"] = m
		}
		if d, ok := Date(text); ok {
			fields["date"] = d
		}
		if r, ok := Reason(text); ok {
			fields["reason"] = r
		}
		if href, ok := firstHref(sel, sourceURL); ok {
			fields["contract_url"] = href
		}

		// Sibling cards can still repeat a record; keep only the first
		// element for each (amount, vendor) pair in this pass.
		key := fmt.Sprintf("%.2f|%s", amount, strings.ToLower(vendor))
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		records = append(records, RawRecord{Fields: fields, SourceURL: sourceURL})
	})

	return records
}

// cardCandidate applies the card content heuristics to one element and
// returns its flattened text and extracted amount when it qualifies.
func cardCandidate(sel *goquery.Selection) (string, float64, bool) {
	text := flattenText(sel)
	if len(text) < minCardTextLen || len(text) > maxCardTextLen {
		return "", 0, false
	}
	if !HasRecordMarkers(text) {
		return "", 0, false
	}
	amount, ok := Amount(text)
	if !ok {
		return "", 0, false
	}
	return text, amount, true
}

func hasCandidateDescendant(sel *goquery.Selection) bool {
	found := false
	sel.Find("div, article, section").EachWithBreak(func(_ int, child *goquery.Selection) bool {
		if _, _, ok := cardCandidate(child); ok {
			found = true
			return false
		}
		return true
	})
	return found
}

// tablesFromDoc parses header-keyed table rows into RawRecords. Only tables
// whose header row carries an amount-like column are considered.
func tablesFromDoc(doc *goquery.Document, sourceURL string) []RawRecord {
	var records []RawRecord
	seen := make(map[string]struct{})

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		headers := tableHeaders(table)
		if len(headers) == 0 || !hasAmountHeader(headers) {
			return
		}

		rows := table.Find("tbody tr")
		if rows.Length() == 0 {
			rows = table.Find("tr")
		}
		rows.Each(func(rowIdx int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() == 0 {
				return // header or empty row
			}

			fields := make(map[string]any, len(headers))
			cells.Each(func(i int, cell *goquery.Selection) {
				key := fmt.Sprintf("column_%d", i+1)
				if i < len(headers) && headers[i] != "" {
					key = headers[i]
				}
				if v := flattenText(cell); v != "" {
					fields[key] = v
				}
			})
			if len(fields) == 0 {
				return
			}
			if href, ok := firstHref(row, sourceURL); ok {
				fields["contract_url"] = href
			}

			key := rowFingerprint(fields)
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}

			records = append(records, RawRecord{Fields: fields, SourceURL: sourceURL})
		})
	})

	return records
}

func tableHeaders(table *goquery.Selection) []string {
	var headers []string
	headerCells := table.Find("thead th")
	if headerCells.Length() == 0 {
		headerCells = table.Find("tr").First().Find("th")
	}
	headerCells.Each(func(_ int, cell *goquery.Selection) {
		headers = append(headers, strings.ToLower(flattenText(cell)))
	})
	return headers
}

func hasAmountHeader(headers []string) bool {
	for _, h := range headers {
		for _, key := range amountLikeKeys {
			if strings.Contains(h, key) {
				return true
			}
		}
	}
	return false
}

func rowFingerprint(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(Stringify(fields[k]))
		sb.WriteByte('|')
	}
	return sb.String()
}

// firstHref returns the first anchor URL inside the selection, resolved
// against the page URL.
func firstHref(sel *goquery.Selection, sourceURL string) (string, bool) {
	href, ok := sel.Find("a[href]").First().Attr("href")
	if !ok || href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
		return "", false
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return href, true
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

func flattenText(sel *goquery.Selection) string {
	lines := strings.Split(sel.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.Join(strings.Fields(line), " "); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}
