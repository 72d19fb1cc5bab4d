package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirst(t *testing.T) {
	fields := map[string]any{
		"Kementerian": "Kementerian Kesihatan",
		"nilai":       "RM 500,000.00",
		"empty":       nil,
	}

	v, ok := First(fields, "ministry", "kementerian")
	assert.True(t, ok)
	assert.Equal(t, "Kementerian Kesihatan", v, "lookup is case-insensitive")

	v, ok = First(fields, "amount", "nilai")
	assert.True(t, ok)
	assert.Equal(t, "RM 500,000.00", v, "earlier keys in the chain win")

	_, ok = First(fields, "empty")
	assert.False(t, ok, "nil values count as absent")

	_, ok = First(fields, "vendor", "syarikat")
	assert.False(t, ok)
}

func TestFirstString(t *testing.T) {
	fields := map[string]any{
		"amount": float64(1500000),
		"vendor": "  Alpha Sdn Bhd  ",
		"blank":  "   ",
	}

	s, ok := FirstString(fields, "vendor")
	assert.True(t, ok)
	assert.Equal(t, "Alpha Sdn Bhd", s)

	s, ok = FirstString(fields, "amount")
	assert.True(t, ok)
	assert.Equal(t, "1500000", s, "numbers are formatted without exponent")

	_, ok = FirstString(fields, "blank")
	assert.False(t, ok, "whitespace-only strings count as absent")
}

func TestFirstStringSkipsEmptyValuesInChain(t *testing.T) {
	fields := map[string]any{
		"ministry":    "",
		"kementerian": "Kementerian Kesihatan",
	}

	s, ok := FirstString(fields, "ministry", "kementerian")
	require.True(t, ok, "a blank canonical key must not shadow a populated alternate")
	assert.Equal(t, "Kementerian Kesihatan", s)

	v, ok := First(fields, "ministry", "kementerian")
	require.True(t, ok)
	assert.Equal(t, "Kementerian Kesihatan", v)
}

func TestRecordsFromBody(t *testing.T) {
	t.Run("nested result array", func(t *testing.T) {
		body := []byte(`{
			"status": "ok",
			"data": {
				"page": 1,
				"results": [
					{"kementerian": "Kementerian Kesihatan", "nama_syarikat": "Alpha Sdn Bhd", "nilai_perolehan": "RM 1,000,000.00"},
					{"kementerian": "Kementerian Pendidikan", "nama_syarikat": "Beta Sdn Bhd", "nilai_perolehan": "RM 250,000.00"}
				]
			}
		}`)

		records := RecordsFromBody(body, "https://example.gov.my/api")
		require.Len(t, records, 2)
		assert.Equal(t, "https://example.gov.my/api", records[0].SourceURL)
		assert.Equal(t, "Kementerian Kesihatan", records[0].Fields["kementerian"])
		assert.Equal(t, "Beta Sdn Bhd", records[1].Fields["nama_syarikat"])
	})

	t.Run("record objects are not descended into", func(t *testing.T) {
		body := []byte(`[{"nilai": 100, "detail": {"harga": 50, "note": "inner"}}]`)
		records := RecordsFromBody(body, "u")
		require.Len(t, records, 1)
		assert.Contains(t, records[0].Fields, "detail")
	})

	t.Run("body without marker tokens is skipped", func(t *testing.T) {
		body := []byte(`[{"foo": 1, "bar": 2}]`)
		assert.Nil(t, RecordsFromBody(body, "u"))
	})

	t.Run("non-JSON body with markers", func(t *testing.T) {
		body := []byte(`<html>harga RM 500</html>`)
		assert.Nil(t, RecordsFromBody(body, "u"))
	})

	t.Run("empty body", func(t *testing.T) {
		assert.Nil(t, RecordsFromBody(nil, "u"))
	})

	t.Run("lone summary figure is not a record", func(t *testing.T) {
		body := []byte(`{"nilai": 12345}`)
		assert.Empty(t, RecordsFromBody(body, "u"))
	})
}

func TestLooksLikeProcurementPayload(t *testing.T) {
	assert.True(t, LooksLikeProcurementPayload(`{"nilai_perolehan": 100}`))
	assert.True(t, LooksLikeProcurementPayload(`TENDER TERBUKA`))
	assert.False(t, LooksLikeProcurementPayload(`{"users": ["a", "b"]}`))
}
