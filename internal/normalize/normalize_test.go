package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govwatchmy/procurement-pipeline/internal/extract"
)

var fixedNow = time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	return NewWithClock(func() time.Time { return fixedNow })
}

func TestRecordFullFields(t *testing.T) {
	n := testNormalizer()

	raw := extract.RawRecord{
		Fields: map[string]any{
			"kementerian":     "Kementerian Kesihatan Malaysia",
			"nama_syarikat":   "Alpha Engineering Sdn Bhd",
			"nilai_perolehan": "RM 1,000,000.00",
			"tarikh_surat":    "2024-03-01",
		},
		SourceURL: "https://example.gov.my/awards",
	}

	rec, ok := n.Record(raw)
	require.True(t, ok)
	assert.Equal(t, "Kementerian Kesihatan Malaysia", rec.Ministry)
	assert.Equal(t, "Alpha Engineering Sdn Bhd", rec.Vendor)
	assert.InDelta(t, 1000000.0, rec.Amount, 0.001)
	assert.Equal(t, "2024-03-01", rec.Date)
	assert.Equal(t, MethodOpenTender, rec.Method)
	assert.Equal(t, DefaultCategory, rec.Category)
	assert.Equal(t, "https://example.gov.my/awards", rec.SourceURL)
	assert.NotEqual(t, "", rec.ID.String())
}

func TestRecordFallbackChainOrder(t *testing.T) {
	n := testNormalizer()

	// Both the canonical key and a fallback spelling are present; the
	// earlier key in the chain must win.
	raw := extract.RawRecord{
		Fields: map[string]any{
			"ministry":    "Ministry of Health",
			"kementerian": "Kementerian Kesihatan",
			"amount":      "RM 100.00",
			"nilai":       "RM 999.00",
		},
	}

	rec, ok := n.Record(raw)
	require.True(t, ok)
	assert.Equal(t, "Ministry of Health", rec.Ministry)
	assert.InDelta(t, 100.0, rec.Amount, 0.001)
}

func TestRecordValidityGate(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		name   string
		fields map[string]any
		wantOK bool
	}{
		{
			name:   "amount only",
			fields: map[string]any{"nilai": "RM 50.00"},
			wantOK: true,
		},
		{
			name:   "ministry only",
			fields: map[string]any{"kementerian": "Kementerian Kewangan"},
			wantOK: true,
		},
		{
			name:   "neither",
			fields: map[string]any{"vendor": "Alpha Sdn Bhd", "tarikh": "2024-01-01"},
			wantOK: false,
		},
		{
			name:   "unparseable amount and no ministry",
			fields: map[string]any{"nilai": "tiada", "vendor": "Alpha Sdn Bhd"},
			wantOK: false,
		},
		{
			name:   "placeholder ministry cell",
			fields: map[string]any{"ministry": "-", "nilai": "tiada", "vendor": "Alpha Sdn Bhd"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := n.Record(extract.RawRecord{Fields: tt.fields})
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestRecordDefaults(t *testing.T) {
	n := testNormalizer()

	rec, ok := n.Record(extract.RawRecord{
		Fields: map[string]any{"nilai": "RM 500.00"},
	})
	require.True(t, ok)
	assert.Equal(t, UnknownMinistry, rec.Ministry)
	assert.Equal(t, UnknownVendor, rec.Vendor)
	assert.Equal(t, "2025-06-15", rec.Date, "missing date defaults to the processing date")
	assert.Equal(t, MethodOpenTender, rec.Method)
	assert.Equal(t, DefaultCategory, rec.Category)
	assert.False(t, rec.Reason.Valid)
	assert.False(t, rec.ContractURL.Valid)
}

func TestRecordPlaceholderCellsKeepSentinels(t *testing.T) {
	n := testNormalizer()

	// "-" is a common placeholder in exported sheets; it must not survive
	// cleaning as an empty ministry or vendor.
	rec, ok := n.Record(extract.RawRecord{
		Fields: map[string]any{"ministry": "-", "vendor": " - ", "nilai": "RM 500.00"},
	})
	require.True(t, ok)
	assert.Equal(t, UnknownMinistry, rec.Ministry)
	assert.Equal(t, UnknownVendor, rec.Vendor)
}

func TestRecordNegativeAmountClamped(t *testing.T) {
	n := testNormalizer()

	rec, ok := n.Record(extract.RawRecord{
		Fields: map[string]any{
			"kementerian": "Kementerian Kewangan",
			"nilai":       "(RM 500.00)",
		},
	})
	require.True(t, ok, "real ministry keeps the record valid at zero amount")
	assert.Equal(t, 0.0, rec.Amount)
}

func TestRecordReasonOnlyForDirectAwards(t *testing.T) {
	n := testNormalizer()

	direct, ok := n.Record(extract.RawRecord{Fields: map[string]any{
		"kementerian": "Kementerian Kesihatan",
		"nilai":       "RM 100.00",
		"kaedah":      "Rundingan Terus",
		"sebab":       "bekalan kritikal",
	}})
	require.True(t, ok)
	assert.Equal(t, MethodDirectNegotiation, direct.Method)
	require.True(t, direct.Reason.Valid)
	assert.Equal(t, "bekalan kritikal", direct.Reason.String)

	open, ok := n.Record(extract.RawRecord{Fields: map[string]any{
		"kementerian": "Kementerian Kesihatan",
		"nilai":       "RM 100.00",
		"kaedah":      "Tender Terbuka",
		"sebab":       "should be discarded",
	}})
	require.True(t, ok)
	assert.Equal(t, MethodOpenTender, open.Method)
	assert.False(t, open.Reason.Valid)
}

func TestRecordDeepLinkFromReference(t *testing.T) {
	n := testNormalizer()

	rec, ok := n.Record(extract.RawRecord{
		Fields: map[string]any{
			"kementerian": "Kementerian Kesihatan",
			"nilai":       "RM 100.00",
			"no_rujukan":  "T2024-001",
		},
		SourceURL: "https://example.gov.my/awards?page=3",
	})
	require.True(t, ok)
	require.True(t, rec.ContractURL.Valid)
	assert.Equal(t, "https://example.gov.my/awards?id=T2024-001", rec.ContractURL.String)
}

func TestRecordsBatch(t *testing.T) {
	n := testNormalizer()

	raws := []extract.RawRecord{
		{Fields: map[string]any{"kementerian": "Kementerian Kesihatan", "nilai": "RM 100.00"}},
		{Fields: map[string]any{"vendor": "noise"}},
		{Fields: map[string]any{"nilai": "RM 200.00"}},
	}

	records, dropped := n.Records(raws)
	assert.Len(t, records, 2)
	assert.Equal(t, 1, dropped)
}

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"formatted string", "RM 1,234,567.89", 1234567.89},
		{"plain number string", "1500000", 1500000},
		{"float64 passthrough", float64(42.5), 42.5},
		{"int", 7, 7},
		{"accounting negative", "(RM 500.00)", -500},
		{"explicit negative", "-250.00", -250},
		{"garbage", "tiada nilai", 0},
		{"empty string", "", 0},
		{"nil", nil, 0},
		{"bool", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseCurrency(tt.in), 0.001)
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	fallback := fixedNow

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"iso", "2024-03-01", "2024-03-01"},
		{"datetime truncated at space", "2024-03-01 15:04:05", "2024-03-01"},
		{"datetime truncated at T", "2024-03-01T15:04:05Z", "2024-03-01"},
		{"day first", "15/03/2024", "2024-03-15"},
		{"day first single digits", "5/3/2024", "2024-03-05"},
		{"dotted", "15.03.2024", "2024-03-15"},
		{"long form", "15 March 2024", "2024-03-15"},
		{"excel serial number", float64(45000), "2023-03-15"},
		{"excel serial string", "45000", "2023-03-15"},
		{"serial out of range", float64(500000), "2025-06-15"},
		{"unparseable", "esok", "2025-06-15"},
		{"empty", "", "2025-06-15"},
		{"nil", nil, "2025-06-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDate(tt.in, fallback))
		})
	}
}

func TestClassifyMethod(t *testing.T) {
	assert.Equal(t, MethodDirectNegotiation, ClassifyMethod("Rundingan Terus"))
	assert.Equal(t, MethodDirectNegotiation, ClassifyMethod("DIRECT negotiation"))
	assert.Equal(t, MethodDirectNegotiation, ClassifyMethod("perolehan secara terus"))
	assert.Equal(t, MethodOpenTender, ClassifyMethod("Tender Terbuka"))
	assert.Equal(t, MethodOpenTender, ClassifyMethod(""))
	assert.Equal(t, MethodOpenTender, ClassifyMethod("sebut harga"))
}

func TestClassifyCategory(t *testing.T) {
	assert.Equal(t, "Works", ClassifyCategory("Kerja-kerja pembinaan jalan"))
	assert.Equal(t, "Supplies", ClassifyCategory("Bekalan ubat-ubatan"))
	assert.Equal(t, "Services", ClassifyCategory("Perkhidmatan kawalan keselamatan"))
	assert.Equal(t, "Services", ClassifyCategory("cleaning services"))
	assert.Equal(t, DefaultCategory, ClassifyCategory("lain-lain"))
	assert.Equal(t, DefaultCategory, ClassifyCategory(""))
}
