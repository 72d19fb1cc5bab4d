package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Field heuristics for free-text card content. Each function takes a flattened
// text block and returns an optional typed value, so each can be tested in
// isolation against sample text without a live browser.

var (
	currencyRe = regexp.MustCompile(`(?i)\bRM\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)

	// Lines where the keyword is part of the proper name (Kementerian
	// Kesihatan, Jabatan Kerja Raya) keep the whole line.
	ministryLineRe  = regexp.MustCompile(`(?im)^[^\S\n]*((?:kementerian|jabatan)\s+[^\n:;]{3,})`)
	ministryLabelRe = regexp.MustCompile(`(?im)^[^\S\n]*(?:ministry|agency|agensi)\s*[:\-]\s*([^\n]+)`)

	vendorLabelRe  = regexp.MustCompile(`(?im)^[^\S\n]*(?:vendor|syarikat|company|pembekal|supplier|kontraktor)\s*[:\-]\s*([^\n]+)`)
	companyLineRe  = regexp.MustCompile(`(?im)^[^\S\n]*([^\n:]*\b(?:sdn\.?\s?bhd\.?|berhad|enterprise|trading|resources|holdings)\b[^\n]*)`)
	reasonLabelRe  = regexp.MustCompile(`(?im)^[^\S\n]*(?:justification|justifikasi|reason|sebab)\s*[:\-]\s*([^\n]+)`)
	domainKeywords = regexp.MustCompile(`(?i)kementerian|ministry|jabatan|agensi|agency|vendor|syarikat|kontrak|tender|perolehan`)

	isoDateRe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dmyDateRe = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4})\b`)
)

// Amount returns the first currency-prefixed numeric token in the text.
// Candidates whose amount parses to NaN or zero are rejected.
func Amount(text string) (float64, bool) {
	m := currencyRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

// Ministry returns the first line that looks like a ministry or agency name.
func Ministry(text string) (string, bool) {
	if m := ministryLineRe.FindStringSubmatch(text); m != nil {
		return cleanLine(m[1]), true
	}
	if m := ministryLabelRe.FindStringSubmatch(text); m != nil {
		return cleanLine(m[1]), true
	}
	return "", false
}

// Vendor returns the first line that looks like a company name, preferring an
// explicit label over a company-suffix match.
func Vendor(text string) (string, bool) {
	if m := vendorLabelRe.FindStringSubmatch(text); m != nil {
		return cleanLine(m[1]), true
	}
	if m := companyLineRe.FindStringSubmatch(text); m != nil {
		return cleanLine(m[1]), true
	}
	return "", false
}

// Reason returns justification text when an explicit label is present.
func Reason(text string) (string, bool) {
	if m := reasonLabelRe.FindStringSubmatch(text); m != nil {
		return cleanLine(m[1]), true
	}
	return "", false
}

// Date returns the first date token in the text as YYYY-MM-DD. ISO dates win
// over day-first locale dates.
func Date(text string) (string, bool) {
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		if d, ok := validDate(m[1], m[2], m[3]); ok {
			return d, true
		}
	}
	if m := dmyDateRe.FindStringSubmatch(text); m != nil {
		if d, ok := validDate(m[3], m[2], m[1]); ok {
			return d, true
		}
	}
	return "", false
}

// HasRecordMarkers reports whether a text block carries both a currency
// marker and at least one procurement domain keyword. Used to filter DOM
// card candidates.
func HasRecordMarkers(text string) bool {
	return currencyRe.MatchString(text) && domainKeywords.MatchString(text)
}

func validDate(year, month, day string) (string, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if y < 1990 || y > 2100 || m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if int(t.Month()) != m || t.Day() != d {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d), true
}

func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ":-– \t")
	return strings.Join(strings.Fields(s), " ")
}
