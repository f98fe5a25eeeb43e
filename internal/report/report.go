// Package report collects the records an import run could not place in the
// target and renders them as CSV reports plus a human-readable run log.
package report

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/incident-sync/internal/record"
)

// Category classifies why a record was set aside.
type Category int

const (
	// NullRequired marks records rejected for a missing id or report date.
	NullRequired Category = iota

	// Unmatched marks records whose address did not geocode to an accepted
	// match status or address type.
	Unmatched

	// NotAppended marks records the target refused or the coordinate rules
	// filtered out.
	NotAppended
)

func (c Category) String() string {
	switch c {
	case NullRequired:
		return "null_required"
	case Unmatched:
		return "unmatched"
	case NotAppended:
		return "not_appended"
	default:
		return "unknown"
	}
}

// errorField is the first column of every report row, holding the reason.
const errorField = "ERRORFIELD"

// Row is one reported record with its reason.
type Row struct {
	Rec    *record.Record
	Reason string
}

// Sink accumulates report rows by category. It is not safe for concurrent
// use; the importer owns one per run.
type Sink struct {
	fields []string
	rows   map[Category][]Row
}

// NewSink creates a sink whose CSV output carries the given field columns.
func NewSink(fields []string) *Sink {
	return &Sink{
		fields: append([]string(nil), fields...),
		rows:   make(map[Category][]Row),
	}
}

// Add files a record under a category with a reason.
func (s *Sink) Add(cat Category, rec *record.Record, reason string) {
	s.rows[cat] = append(s.rows[cat], Row{Rec: rec, Reason: reason})
}

// Count returns the number of rows filed under a category.
func (s *Sink) Count(cat Category) int { return len(s.rows[cat]) }

// Rows returns the rows filed under a category.
func (s *Sink) Rows(cat Category) []Row { return s.rows[cat] }

// Total returns the number of rows across all categories.
func (s *Sink) Total() int {
	n := 0
	for _, rows := range s.rows {
		n += len(rows)
	}
	return n
}

// WriteCSV renders one category as CSV. The header is the sink's field list
// with ERRORFIELD prepended and the X, Y coordinate columns appended, in
// that order; downstream consumers depend on the column positions.
func (s *Sink) WriteCSV(cat Category, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(s.fields)+3)
	header = append(header, errorField)
	header = append(header, s.fields...)
	header = append(header, "X", "Y")
	if err := cw.Write(header); err != nil {
		return eris.Wrapf(err, "report: write %s header", cat)
	}

	for _, row := range s.rows[cat] {
		line := make([]string, 0, len(header))
		line = append(line, row.Reason)
		for _, f := range s.fields {
			v := row.Rec.Value(f)
			if v.IsNull() {
				line = append(line, "")
				continue
			}
			line = append(line, v.Text())
		}
		line = append(line, pointColumns(row.Rec)...)
		if err := cw.Write(line); err != nil {
			return eris.Wrapf(err, "report: write %s row", cat)
		}
	}

	cw.Flush()
	return eris.Wrapf(cw.Error(), "report: flush %s", cat)
}

// pointColumns renders a record's geometry as X and Y cells, empty when the
// record has none.
func pointColumns(rec *record.Record) []string {
	p := rec.Geometry()
	if p == nil {
		return []string{"", ""}
	}
	return []string{
		record.Float(p.X()).Text(),
		record.Float(p.Y()).Text(),
	}
}
