// Package normalize maps heterogeneous raw field bags into the canonical
// procurement record schema. All defaulting, type coercion, and format policy
// lives here, regardless of which extraction strategy produced the input.
package normalize

import (
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/govwatchmy/procurement-pipeline/internal/extract"
	"github.com/govwatchmy/procurement-pipeline/internal/storage"
)

// Sentinel defaults and the closed method set.
const (
	UnknownMinistry = "Unknown Ministry"
	UnknownVendor   = "Unknown Vendor"
	DefaultCategory = "General"

	MethodOpenTender        = "Open Tender"
	MethodDirectNegotiation = "Direct Negotiation"
)

// Fallback chains: per logical field, every known spelling across the source
// conventions (site API, Excel re-exports, scraped card text), in priority
// order. The canonical key wins only when present; schema drift is absorbed
// by extending a chain, never by special-casing a caller.
var (
	ministryKeys = []string{"ministry", "kementerian", "agency", "agensi", "jabatan"}
	vendorKeys   = []string{"vendor", "nama_syarikat", "syarikat", "company", "pembekal", "supplier", "kontraktor"}
	amountKeys   = []string{"amount", "nilai", "nilai_perolehan", "harga", "price", "value", "jumlah", "contract_value", "kos"}
	dateKeys     = []string{"date", "tarikh", "tarikh_surat", "award_date", "tarikh_keputusan"}
	methodKeys   = []string{"method", "kaedah", "kaedah_perolehan", "procurement_method"}
	reasonKeys   = []string{"reason", "justification", "justifikasi", "sebab"}
	categoryKeys = []string{"category", "kategori", "jenis"}
	linkKeys     = []string{"contract_url", "url", "link", "href"}
	refKeys      = []string{"id", "no_rujukan", "reference", "ref_no"}
	freeTextKeys = []string{"raw_text", "text", "description", "keterangan", "tajuk", "title"}
)

// Method classification tokens, English and Malay. Matching is
// case-insensitive substring containment.
var directTokens = []string{"rundingan", "direct", "terus"}

// Category tokens for the works/supplies/services classification.
var categoryTokens = []struct {
	token    string
	category string
}{
	{"kerja", "Works"},
	{"works", "Works"},
	{"pembinaan", "Works"},
	{"bekalan", "Supplies"},
	{"supplies", "Supplies"},
	{"supply", "Supplies"},
	{"perkhidmatan", "Services"},
	{"services", "Services"},
	{"service", "Services"},
}

// Normalizer converts RawRecords into canonical records. The clock is
// injectable so date-defaulting behavior is testable.
type Normalizer struct {
	now func() time.Time
}

// New creates a Normalizer using the wall clock.
func New() *Normalizer {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Normalizer with a fixed clock, for tests.
func NewWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Record normalizes one raw record. The second return value is false when the
// record fails the validity gate: a record with neither a real ministry nor a
// positive amount is noise and is dropped before persistence.
func (n *Normalizer) Record(raw extract.RawRecord) (storage.ProcurementRecord, bool) {
	fields := raw.Fields
	now := n.now().UTC()

	// Placeholder cells like "-" survive extraction as non-empty values but
	// clean down to nothing; those keep the sentinel so the validity gate
	// below still sees them as missing.
	ministry := UnknownMinistry
	if v, ok := extract.FirstString(fields, ministryKeys...); ok {
		if c := cleanText(v); c != "" {
			ministry = c
		}
	}
	vendor := UnknownVendor
	if v, ok := extract.FirstString(fields, vendorKeys...); ok {
		if c := cleanText(v); c != "" {
			vendor = c
		}
	}

	amount := 0.0
	if v, ok := extract.First(fields, amountKeys...); ok {
		amount = ParseCurrency(v)
	}
	// The canonical schema forbids negative amounts; accounting-style
	// parenthesized values collapse to the suspicious-but-valid zero.
	if amount < 0 {
		amount = 0
	}

	if amount == 0 && ministry == UnknownMinistry {
		return storage.ProcurementRecord{}, false
	}

	freeText, _ := extract.FirstString(fields, freeTextKeys...)

	methodText, ok := extract.FirstString(fields, methodKeys...)
	if !ok {
		methodText = freeText
	}
	method := ClassifyMethod(methodText)

	date := now.Format("2006-01-02")
	if v, ok := extract.First(fields, dateKeys...); ok {
		date = NormalizeDate(v, now)
	}

	category := DefaultCategory
	if v, ok := extract.FirstString(fields, categoryKeys...); ok {
		category = ClassifyCategory(v)
	} else if c := ClassifyCategory(freeText); c != DefaultCategory {
		category = c
	}

	// Justification only makes sense for direct awards.
	var reason sql.NullString
	if method == MethodDirectNegotiation {
		if v, ok := extract.FirstString(fields, reasonKeys...); ok {
			if c := cleanText(v); c != "" {
				reason = sql.NullString{String: c, Valid: true}
			}
		}
	}

	var contractURL sql.NullString
	if v, ok := extract.FirstString(fields, linkKeys...); ok {
		contractURL = sql.NullString{String: v, Valid: true}
	} else if ref, ok := extract.FirstString(fields, refKeys...); ok {
		contractURL = sql.NullString{String: deepLink(raw.SourceURL, ref), Valid: true}
	}

	return storage.ProcurementRecord{
		ID:          uuid.New(),
		Ministry:    ministry,
		Vendor:      vendor,
		Amount:      amount,
		Method:      method,
		Category:    category,
		Date:        date,
		Reason:      reason,
		SourceURL:   raw.SourceURL,
		ContractURL: contractURL,
		CrawledAt:   now,
	}, true
}

// Records normalizes a batch and returns the accepted records plus the count
// of raw records dropped at the validity gate. Rejects are counted, not
// individually logged: noisy extraction passes would otherwise flood the log.
func (n *Normalizer) Records(raws []extract.RawRecord) ([]storage.ProcurementRecord, int) {
	out := make([]storage.ProcurementRecord, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		rec, ok := n.Record(raw)
		if !ok {
			dropped++
			continue
		}
		out = append(out, rec)
	}
	return out, dropped
}

var nonNumericRe = regexp.MustCompile(`[^0-9.\-]`)

// ParseCurrency coerces a raw amount value to a float. Strings are stripped
// of everything but digits, decimal point, and minus; parenthesized values
// follow the accounting convention for negatives. Unparseable input is 0.
func ParseCurrency(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
		s = nonNumericRe.ReplaceAllString(s, "")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		if negative {
			return -f
		}
		return f
	default:
		return 0
	}
}

// Excel serial dates count days from this epoch (the Lotus 1-2-3 convention
// carried by every spreadsheet re-export we receive).
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2 January 2006",
	"02 January 2006",
	"Jan 2, 2006",
}

// NormalizeDate coerces heterogeneous date inputs to a YYYY-MM-DD calendar
// date: ISO strings, locale strings, datetime strings (truncated at the
// separator), and Excel serial day numbers. Unparseable or absent input
// defaults to the processing date, keeping parity with how the established
// dataset was built.
func NormalizeDate(v any, fallback time.Time) string {
	switch t := v.(type) {
	case float64:
		return serialDate(t, fallback)
	case int:
		return serialDate(float64(t), fallback)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return fallback.Format("2006-01-02")
		}
		// Datetime strings keep only the calendar part.
		if i := strings.IndexAny(s, " T"); i > 0 {
			s = s[:i]
		}
		for _, layout := range dateFormats {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.Format("2006-01-02")
			}
		}
		// Numeric strings may be spreadsheet serials that survived a re-export.
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return serialDate(f, fallback)
		}
		return fallback.Format("2006-01-02")
	default:
		return fallback.Format("2006-01-02")
	}
}

func serialDate(days float64, fallback time.Time) string {
	if days < 1 || days > 100000 {
		return fallback.Format("2006-01-02")
	}
	return excelEpoch.AddDate(0, 0, int(days)).Format("2006-01-02")
}

// ClassifyMethod maps free text to the closed method set. Absence of a
// negotiation token is treated as evidence of an open award: this is a
// conservative bias, the default for unmatched text is the open category.
func ClassifyMethod(text string) string {
	lower := strings.ToLower(text)
	for _, token := range directTokens {
		if strings.Contains(lower, token) {
			return MethodDirectNegotiation
		}
	}
	return MethodOpenTender
}

// ClassifyCategory maps free text to the works/supplies/services
// classification, defaulting to General.
func ClassifyCategory(text string) string {
	lower := strings.ToLower(text)
	for _, ct := range categoryTokens {
		if strings.Contains(lower, ct.token) {
			return ct.category
		}
	}
	return DefaultCategory
}

func cleanText(s string) string {
	s = strings.Trim(strings.TrimSpace(s), ":-– \t")
	return strings.Join(strings.Fields(s), " ")
}

// deepLink builds a detail-page link from a recovered record identifier.
func deepLink(sourceURL, ref string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Host == "" {
		return sourceURL
	}
	q := url.Values{}
	q.Set("id", ref)
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

// Summary formats a dropped-record counter for run reporting.
func Summary(accepted, dropped int) string {
	return fmt.Sprintf("%d accepted, %d dropped at validity gate", accepted, dropped)
}
