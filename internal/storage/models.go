// Package storage provides database models and the deduplicating record sink.
package storage

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ProcurementRecord is the canonical, persisted procurement entity. Records
// are created once per unique identity key and never mutated afterwards;
// re-scrapes that find an existing key are no-ops.
type ProcurementRecord struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	Ministry    string         `json:"ministry" db:"ministry"`
	Vendor      string         `json:"vendor" db:"vendor"`
	Amount      float64        `json:"amount" db:"amount"`
	Method      string         `json:"method" db:"method"`
	Category    string         `json:"category" db:"category"`
	Date        string         `json:"date" db:"contract_date"` // YYYY-MM-DD
	Reason      sql.NullString `json:"reason" db:"reason"`
	SourceURL   string         `json:"source_url" db:"source_url"`
	ContractURL sql.NullString `json:"contract_url" db:"contract_url"`
	CrawledAt   time.Time      `json:"crawled_at" db:"crawled_at"`
}

// IdentityKey is the composite natural key used for deduplication. The source
// has no stable record ID, so two records sharing this tuple are treated as
// the same contract regardless of differing dates or titles. This accepts a
// known false-negative risk: genuinely different contracts with identical
// vendor, amount, and ministry collapse into one.
type IdentityKey struct {
	Vendor   string
	Amount   float64
	Ministry string
}

// Identity returns the record's deduplication key.
func (r ProcurementRecord) Identity() IdentityKey {
	return IdentityKey{Vendor: r.Vendor, Amount: r.Amount, Ministry: r.Ministry}
}
