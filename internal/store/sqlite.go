package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/incident-sync/internal/record"
)

// sqliteTimeLayout is the storage form for date fields in local tables.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// SQLite implements Store over a local SQLite incident table.
type SQLite struct {
	db     *sql.DB
	table  string
	loc    *time.Location
	schema *record.Schema
}

// SQLiteOption configures the SQLite store.
type SQLiteOption func(*SQLite)

// WithTimeLocation sets the location date text in the table is interpreted
// in. Local tables hold wall-clock timestamps with no zone marker, so this
// must match the location the reconciliation engine parses batch dates in.
func WithTimeLocation(loc *time.Location) SQLiteOption {
	return func(s *SQLite) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewSQLite opens the database at dsn and targets the named table.
func NewSQLite(dsn, table string, opts ...SQLiteOption) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	s := &SQLite{db: db, table: table, loc: time.UTC}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB exposes the underlying handle, used by tests to seed tables.
func (s *SQLite) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

// Schema introspects the table's columns. The implicit rowid is the row
// identity field; tables created WITHOUT ROWID are not supported.
func (s *SQLite) Schema(ctx context.Context) (record.Schema, error) {
	if s.schema != nil {
		return *s.schema, nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", s.table))
	if err != nil {
		return record.Schema{}, eris.Wrapf(err, "sqlite: table_info %s", s.table)
	}
	defer rows.Close()

	schema := record.Schema{RowID: "rowid"}
	for rows.Next() {
		var (
			cid     int
			name    string
			decl    string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &decl, &notNull, &dflt, &pk); err != nil {
			return record.Schema{}, eris.Wrap(err, "sqlite: scan table_info")
		}
		schema.Fields = append(schema.Fields, record.Field{
			Name:     name,
			Kind:     kindFromDecl(decl),
			Nullable: notNull == 0,
		})
	}
	if err := rows.Err(); err != nil {
		return record.Schema{}, eris.Wrap(err, "sqlite: iterate table_info")
	}
	if len(schema.Fields) == 0 {
		return record.Schema{}, eris.Errorf("sqlite: table %s not found or empty", s.table)
	}

	s.schema = &schema
	return schema, nil
}

// kindFromDecl maps a SQLite column declaration to a field kind using the
// same affinity rules the engine applies.
func kindFromDecl(decl string) record.Kind {
	d := strings.ToUpper(decl)
	switch {
	case strings.Contains(d, "INT"):
		return record.KindInteger
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"), strings.Contains(d, "NUMERIC"), strings.Contains(d, "DECIMAL"):
		return record.KindFloat
	case strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return record.KindDate
	default:
		return record.KindString
	}
}

func (s *SQLite) Query(ctx context.Context, where string, fields []string) ([]*record.Record, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if where == "" {
		where = "1=1"
	}
	if len(fields) == 0 {
		fields = schema.Names()
	}

	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, "rowid")
	cols = append(cols, quoteColumns(fields)...)

	query := fmt.Sprintf("SELECT %s FROM %q WHERE %s", strings.Join(cols, ", "), s.table, where)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query %s", s.table)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		dest := make([]any, len(fields)+1)
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}

		rec := record.NewRecord(append([]string{"rowid"}, fields...))
		rec.Set("rowid", record.FromAny(*dest[0].(*any), record.KindInteger))
		for i, f := range fields {
			kind, _ := schema.Kind(f)
			rec.Set(f, sqliteValue(*dest[i+1].(*any), kind, s.loc))
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate rows")
}

// sqliteValue converts a scanned driver value, recovering date fields from
// their storage form. Wall-clock date text carries no zone marker and is
// interpreted in the store's configured location; RFC 3339 text carries its
// own offset.
func sqliteValue(raw any, kind record.Kind, loc *time.Location) record.Value {
	v := record.FromAny(raw, kind)
	if kind == record.KindDate && !v.IsNull() && v.Kind() == record.KindDate {
		if s := v.Str(); s != "" {
			if t, err := time.ParseInLocation(sqliteTimeLayout, s, loc); err == nil {
				return record.Date(t)
			}
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
				if t, err := time.Parse(layout, s); err == nil {
					return record.Date(t)
				}
			}
		}
	}
	return v
}

func (s *SQLite) QueryIDs(ctx context.Context, idField string) (map[string]record.Value, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	kind, ok := schema.Kind(idField)
	if !ok {
		return nil, eris.Errorf("sqlite: field %s does not exist in %s", idField, s.table)
	}

	query := fmt.Sprintf("SELECT %s FROM %q WHERE %s IS NOT NULL", quoteColumn(idField), s.table, quoteColumn(idField))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query ids in %s", s.table)
	}
	defer rows.Close()

	ids := make(map[string]record.Value)
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan id")
		}
		id := record.CastID(record.FromAny(raw, kind), kind)
		ids[id.Key()] = id
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate ids")
}

func (s *SQLite) InsertBatch(ctx context.Context, recs []*record.Record) (EditResult, error) {
	var res EditResult
	if len(recs) == 0 {
		return res, nil
	}

	schema, err := s.Schema(ctx)
	if err != nil {
		return res, err
	}

	for i, rec := range recs {
		cols, vals := bindable(rec, schema)
		if len(cols) == 0 {
			res.Failures = append(res.Failures, Failure{Index: i, Err: eris.New("sqlite: record has no insertable fields")})
			continue
		}
		placeholders := strings.TrimRight(strings.Repeat("?, ", len(cols)), ", ")
		query := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", s.table, strings.Join(quoteColumns(cols), ", "), placeholders)
		if _, err := s.db.ExecContext(ctx, query, sqliteBind(vals, s.loc)...); err != nil {
			res.Failures = append(res.Failures, Failure{Index: i, Err: eris.Wrapf(err, "sqlite: insert into %s", s.table)})
			continue
		}
		res.SuccessCount++
	}
	return res, nil
}

func (s *SQLite) UpdateBatch(ctx context.Context, recs []*record.Record) (EditResult, error) {
	var res EditResult
	if len(recs) == 0 {
		return res, nil
	}

	schema, err := s.Schema(ctx)
	if err != nil {
		return res, err
	}

	for i, rec := range recs {
		rowID := rec.Value("rowid")
		if rowID.IsNull() {
			res.Failures = append(res.Failures, Failure{Index: i, Err: eris.New("sqlite: update record is missing its rowid")})
			continue
		}

		cols, vals := bindable(rec, schema)
		if len(cols) == 0 {
			res.Failures = append(res.Failures, Failure{Index: i, Err: eris.New("sqlite: record has no updatable fields")})
			continue
		}

		sets := make([]string, len(cols))
		for j, c := range cols {
			sets[j] = quoteColumn(c) + " = ?"
		}
		vals = append(vals, rowID.IntVal())
		query := fmt.Sprintf("UPDATE %q SET %s WHERE rowid = ?", s.table, strings.Join(sets, ", "))
		if _, err := s.db.ExecContext(ctx, query, sqliteBind(vals, s.loc)...); err != nil {
			res.Failures = append(res.Failures, Failure{Index: i, Err: eris.Wrapf(err, "sqlite: update %s", s.table)})
			continue
		}
		res.SuccessCount++
	}
	return res, nil
}

func (s *SQLite) DeleteWhere(ctx context.Context, where string) (int, error) {
	if where == "" {
		return 0, eris.New("sqlite: refusing to delete with empty where clause")
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %q WHERE %s", s.table, where))
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete from %s", s.table)
	}
	n, err := result.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// bindable returns the record's fields that exist in the schema (excluding
// the row identity field) and their driver values.
func bindable(rec *record.Record, schema record.Schema) ([]string, []any) {
	var cols []string
	var vals []any
	for _, f := range rec.Fields() {
		if f == schema.RowID {
			continue
		}
		if !schema.Has(f) {
			continue
		}
		cols = append(cols, f)
		vals = append(vals, rec.Value(f).Any())
	}
	return cols, vals
}

// sqliteBind rewrites time values into the table's date storage form, as
// wall-clock text in the store's configured location.
func sqliteBind(vals []any, loc *time.Location) []any {
	for i, v := range vals {
		if t, ok := v.(time.Time); ok {
			vals[i] = t.In(loc).Format(sqliteTimeLayout)
		}
	}
	return vals
}

func quoteColumn(c string) string {
	return `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
}

func quoteColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteColumn(c)
	}
	return out
}
