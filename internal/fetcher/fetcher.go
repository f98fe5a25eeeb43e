// Package fetcher reads incident batches from XLSX and CSV sources, local
// or downloaded over HTTP.
package fetcher

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/incident-sync/internal/record"
)

// Batch is the parsed content of one source file: the header fields in
// column order and one record per data row. Cell values arrive as strings
// (empty cells as nulls); downstream translation coerces them to the
// target's field kinds.
type Batch struct {
	Fields  []string
	Records []*record.Record
}

// Options configures source parsing.
type Options struct {
	// Sheet selects the XLSX worksheet by name; empty means the first
	// sheet. Ignored for CSV.
	Sheet string

	// Delimiter overrides the CSV field separator (default ','). Ignored
	// for XLSX.
	Delimiter rune
}

// ReadFile parses a source file, dispatching on its extension.
func ReadFile(path string, opts Options) (*Batch, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, opts)
	case ".csv", ".txt":
		return readCSVFile(path, opts)
	default:
		return nil, eris.Errorf("fetcher: unsupported source type %q", filepath.Ext(path))
	}
}

// batchFromRows assembles a Batch from a header row and data rows. Rows
// shorter than the header pad with nulls; longer rows drop the excess.
func batchFromRows(header []string, rows [][]string) (*Batch, error) {
	fields := make([]string, 0, len(header))
	for _, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		fields = append(fields, h)
	}
	if len(fields) == 0 {
		return nil, eris.New("fetcher: source has no header row")
	}

	batch := &Batch{Fields: fields}
	for _, row := range rows {
		if emptyRow(row) {
			continue
		}
		rec := record.NewRecord(fields)
		for i, f := range fields {
			if i >= len(row) || strings.TrimSpace(row[i]) == "" {
				rec.Set(f, record.Null(record.KindString))
				continue
			}
			rec.Set(f, record.String(strings.TrimSpace(row[i])))
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
