package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/govwatchmy/procurement-pipeline/pkg/logger"
)

// RecordStore is the deduplicating sink for canonical procurement records.
// Implementations must make repeated pipeline runs idempotent against
// persisted state.
type RecordStore interface {
	// UpsertIfNew persists the record unless one with the same identity key
	// already exists. It reports whether an insert happened; existing records
	// are never modified.
	UpsertIfNew(ctx context.Context, rec ProcurementRecord) (bool, error)

	// InsertBatch feeds a sequence of records through UpsertIfNew and returns
	// the inserted count. Records are processed independently: one record's
	// persistence failure must not abort the remaining batch.
	InsertBatch(ctx context.Context, recs []ProcurementRecord) (int, error)

	// Count returns the number of persisted records.
	Count(ctx context.Context) (int64, error)
}

// PostgresRecordStore implements RecordStore on Postgres.
//
// The dedup check-then-insert pair is not guarded by a serializable
// transaction; that is acceptable while scraping stays strictly serial, which
// the pipeline enforces. Running concurrent writers would need at least a
// unique index on the identity columns.
type PostgresRecordStore struct {
	db  *PostgresDB
	log *logger.Logger
}

// NewRecordStore creates a Postgres-backed record store.
func NewRecordStore(db *PostgresDB, log *logger.Logger) *PostgresRecordStore {
	if log == nil {
		log = logger.Default()
	}
	return &PostgresRecordStore{
		db:  db,
		log: log.WithComponent("record-store"),
	}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS procurement_records (
	id            UUID PRIMARY KEY,
	ministry      TEXT NOT NULL,
	vendor        TEXT NOT NULL,
	amount        NUMERIC(16,2) NOT NULL,
	method        TEXT NOT NULL,
	category      TEXT NOT NULL,
	contract_date DATE NOT NULL,
	reason        TEXT,
	source_url    TEXT NOT NULL,
	contract_url  TEXT,
	crawled_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_procurement_identity
	ON procurement_records (vendor, amount, ministry);
`

// EnsureSchema creates the records table and identity index if missing.
func (s *PostgresRecordStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpsertIfNew looks up the identity key and inserts only when absent.
func (s *PostgresRecordStore) UpsertIfNew(ctx context.Context, rec ProcurementRecord) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM procurement_records
			WHERE vendor = $1 AND amount = $2 AND ministry = $3
		)`,
		rec.Vendor, rec.Amount, rec.Ministry,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dedup lookup failed: %w", err)
	}
	if exists {
		return false, nil
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO procurement_records
			(id, ministry, vendor, amount, method, category, contract_date,
			 reason, source_url, contract_url, crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.Ministry, rec.Vendor, rec.Amount, rec.Method, rec.Category,
		rec.Date, rec.Reason, rec.SourceURL, rec.ContractURL, rec.CrawledAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert failed: %w", err)
	}

	return true, nil
}

// InsertBatch processes each record independently; failures are logged and
// counted but never abort the batch.
func (s *PostgresRecordStore) InsertBatch(ctx context.Context, recs []ProcurementRecord) (int, error) {
	inserted := 0
	failed := 0

	for _, rec := range recs {
		ok, err := s.UpsertIfNew(ctx, rec)
		if err != nil {
			failed++
			s.log.WithError(err).Warn("record persistence failed",
				"vendor", rec.Vendor, "ministry", rec.Ministry)
			continue
		}
		if ok {
			inserted++
		}
	}

	if failed > 0 {
		s.log.Warn("batch completed with failures",
			"inserted", inserted, "failed", failed, "total", len(recs))
	}

	return inserted, nil
}

// Count returns the number of persisted records.
func (s *PostgresRecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM procurement_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return n, nil
}
