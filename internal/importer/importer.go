// Package importer loads historical procurement data from CSV and XLSX
// exports and feeds it through the same normalization as live scrapes.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/govwatchmy/procurement-pipeline/internal/extract"
	"github.com/govwatchmy/procurement-pipeline/internal/normalize"
	"github.com/govwatchmy/procurement-pipeline/internal/storage"
	"github.com/govwatchmy/procurement-pipeline/pkg/logger"
)

// Result summarizes an import run.
type Result struct {
	Rows     int
	Inserted int
	Dropped  int
}

// Importer reads tabular files into the record store.
type Importer struct {
	sink storage.RecordStore
	norm *normalize.Normalizer
	log  *logger.Logger

	// Progress is called after each row is read, if set.
	Progress func()
}

// New creates an Importer writing to sink.
func New(sink storage.RecordStore, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.Default()
	}
	return &Importer{
		sink: sink,
		norm: normalize.New(),
		log:  log.WithComponent("importer"),
	}
}

// File imports a single file, dispatching on extension. The file path is
// recorded as each row's source.
func (im *Importer) File(ctx context.Context, path string) (Result, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return im.csvFile(ctx, path)
	case ".xlsx", ".xls":
		return im.xlsxFile(ctx, path)
	default:
		return Result{}, fmt.Errorf("unsupported file type: %s", path)
	}
}

// CountRows returns the number of data rows in a file, for progress reporting.
func (im *Importer) CountRows(path string) (int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		n := 0
		for {
			if _, err := r.Read(); err != nil {
				if err == io.EOF {
					break
				}
				return 0, err
			}
			n++
		}
		if n > 0 {
			n-- // header
		}
		return n, nil
	case ".xlsx", ".xls":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		n := 0
		for _, sheet := range f.GetSheetList() {
			rows, err := f.GetRows(sheet)
			if err != nil || len(rows) == 0 {
				continue
			}
			n += len(rows) - 1
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported file type: %s", path)
	}
}

func (im *Importer) csvFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return Result{}, fmt.Errorf("read csv header: %w", err)
	}
	keys := headerKeys(header)

	var raws []extract.RawRecord
	rows := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			im.log.WithError(err).Warn("skipping malformed csv row", "file", path)
			continue
		}
		rows++
		if raw, ok := rowToRaw(keys, row, path); ok {
			raws = append(raws, raw)
		}
		if im.Progress != nil {
			im.Progress()
		}
	}

	return im.store(ctx, raws, rows)
}

func (im *Importer) xlsxFile(ctx context.Context, path string) (Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var raws []extract.RawRecord
	totalRows := 0
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			im.log.WithError(err).Warn("skipping unreadable sheet", "file", path, "sheet", sheet)
			continue
		}
		if len(rows) == 0 {
			continue
		}
		keys := headerKeys(rows[0])
		for _, row := range rows[1:] {
			totalRows++
			if raw, ok := rowToRaw(keys, row, path); ok {
				raws = append(raws, raw)
			}
			if im.Progress != nil {
				im.Progress()
			}
		}
	}

	return im.store(ctx, raws, totalRows)
}

func (im *Importer) store(ctx context.Context, raws []extract.RawRecord, rows int) (Result, error) {
	records, dropped := im.norm.Records(raws)
	inserted, err := im.sink.InsertBatch(ctx, records)
	if err != nil {
		return Result{}, fmt.Errorf("store records: %w", err)
	}
	res := Result{Rows: rows, Inserted: inserted, Dropped: dropped + (rows - len(raws))}
	im.log.Info("import complete", "rows", res.Rows, "inserted", res.Inserted, "dropped", res.Dropped)
	return res, nil
}

// headerKeys normalizes header cells into lookup keys. Raw header text is kept
// as-is apart from trimming; the fallback-chain lookup is already
// case-insensitive.
func headerKeys(header []string) []string {
	keys := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i)
		}
		keys[i] = h
	}
	return keys
}

// rowToRaw maps a row onto its header keys. Rows with no non-empty cells are
// dropped.
func rowToRaw(keys, row []string, source string) (extract.RawRecord, bool) {
	fields := make(map[string]any, len(keys))
	empty := true
	for i, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		empty = false
		key := fmt.Sprintf("column_%d", i)
		if i < len(keys) {
			key = keys[i]
		}
		fields[key] = cell
	}
	if empty {
		return extract.RawRecord{}, false
	}
	return extract.RawRecord{Fields: fields, SourceURL: source}, true
}
