package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/incident-sync/internal/record"
)

// RunLog accumulates the narrative of one import run and renders it as a
// plain-text log for operators.
type RunLog struct {
	ID      uuid.UUID
	Started time.Time
	User    string
	Source  string
	Target  string
	Locator string

	summaryField string
	summary      map[string]int
	nullSummary  int

	TotalRecords int
	Updated      int
	Removed      int
	Geocoded     int
	Appended     int
	NotAppended  int
}

// NewRunLog starts a run log stamped with a fresh run id and the current
// time.
func NewRunLog(user, source, target string) *RunLog {
	return &RunLog{
		ID:      uuid.New(),
		Started: time.Now(),
		User:    user,
		Source:  source,
		Target:  target,
		summary: make(map[string]int),
	}
}

// Summarize tallies one summary-field value. Null values are counted
// separately and noted in the rendered log.
func (l *RunLog) Summarize(field string, v record.Value) {
	l.summaryField = field
	if v.IsNull() {
		l.nullSummary++
		return
	}
	l.summary[v.Text()]++
}

// Write renders the log.
func (l *RunLog) Write(w io.Writer) error {
	var err error
	p := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	p("Run id:         %s\n", l.ID)
	p("Run date:       %s\n", l.Started.Format("2006-01-02 15:04:05"))
	p("User name:      %s\n", l.User)
	p("Incidents:      %s\n", l.Source)
	p("Target:         %s\n", l.Target)
	if l.Locator != "" {
		p("Locator:        %s\n", l.Locator)
	}
	p("\n")

	p("  -- %d records found in %s.\n\n", l.TotalRecords, l.Source)

	if l.summaryField != "" {
		if l.nullSummary > 0 {
			p("%d records are not included in this summary because they did not contain a valid value in the summary field.\n", l.nullSummary)
		}
		p("    Incidents summarized by %s\n", l.summaryField)

		vals := make([]string, 0, len(l.summary))
		for v := range l.summary {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		for _, v := range vals {
			p("       -- %s  # Incidents: %d\n", v, l.summary[v])
		}
		p("\n")
	}

	p("  -- %d features updated in %s.\n", l.Updated, l.Target)
	p("  -- %d records will not be processed further. They may contain null values in required fields, they may be duplicates of other records in the spreadsheet, or they may be older than records that already exist in %s.\n", l.Removed, l.Target)
	if l.Locator != "" {
		p("  -- %d records successfully geocoded.\n", l.Geocoded)
	}
	p("  -- %d records successfully appended to %s.\n", l.Appended, l.Target)
	if l.NotAppended > 0 {
		p("*** %d records could not be appended to %s.\n", l.NotAppended, l.Target)
	}

	return eris.Wrap(err, "report: write run log")
}
