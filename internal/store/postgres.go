package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/incident-sync/internal/db"
	"github.com/sells-group/incident-sync/internal/record"
)

// Postgres implements Store over a local Postgres incident table.
type Postgres struct {
	pool   db.Pool
	table  string
	rowID  string
	schema *record.Schema
}

// PostgresOption configures the Postgres store.
type PostgresOption func(*Postgres)

// WithRowIDColumn overrides the row identity column (default "objectid").
func WithRowIDColumn(col string) PostgresOption {
	return func(p *Postgres) { p.rowID = col }
}

// NewPostgres creates a Postgres store for a possibly schema-qualified
// table name like "gis.incidents".
func NewPostgres(pool db.Pool, table string, opts ...PostgresOption) *Postgres {
	p := &Postgres{pool: pool, table: table, rowID: "objectid"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Postgres) splitTable() (schema, name string) {
	parts := strings.SplitN(p.table, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "public", p.table
}

func (p *Postgres) Schema(ctx context.Context) (record.Schema, error) {
	if p.schema != nil {
		return *p.schema, nil
	}

	schemaName, tableName := p.splitTable()
	rows, err := p.pool.Query(ctx,
		`SELECT column_name, data_type, is_nullable
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		schemaName, tableName,
	)
	if err != nil {
		return record.Schema{}, eris.Wrapf(err, "postgres: columns of %s", p.table)
	}
	defer rows.Close()

	out := record.Schema{RowID: p.rowID}
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return record.Schema{}, eris.Wrap(err, "postgres: scan column")
		}
		out.Fields = append(out.Fields, record.Field{
			Name:     name,
			Kind:     kindFromPgType(dataType),
			Nullable: nullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return record.Schema{}, eris.Wrap(err, "postgres: iterate columns")
	}
	if len(out.Fields) == 0 {
		return record.Schema{}, eris.Errorf("postgres: table %s not found or empty", p.table)
	}

	p.schema = &out
	return out, nil
}

func kindFromPgType(dataType string) record.Kind {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint":
		return record.KindInteger
	case "real", "double precision", "numeric", "decimal":
		return record.KindFloat
	case "date", "timestamp without time zone", "timestamp with time zone":
		return record.KindDate
	default:
		return record.KindString
	}
}

func (p *Postgres) Query(ctx context.Context, where string, fields []string) ([]*record.Record, error) {
	schema, err := p.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if where == "" {
		where = "1=1"
	}
	if len(fields) == 0 {
		fields = schema.Names()
	}

	cols := []string{p.rowID}
	for _, f := range fields {
		if f != p.rowID {
			cols = append(cols, f)
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		db.QuoteAndJoin(cols), db.SanitizeTable(p.table), where)
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s", p.table)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: row values")
		}

		rec := record.NewRecord(cols)
		for i, c := range cols {
			kind, _ := schema.Kind(c)
			rec.Set(c, record.FromAny(raw[i], kind))
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate rows")
}

func (p *Postgres) QueryIDs(ctx context.Context, idField string) (map[string]record.Value, error) {
	schema, err := p.Schema(ctx)
	if err != nil {
		return nil, err
	}
	kind, ok := schema.Kind(idField)
	if !ok {
		return nil, eris.Errorf("postgres: field %s does not exist in %s", idField, p.table)
	}

	col := db.QuoteAndJoin([]string{idField})
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL", col, db.SanitizeTable(p.table), col)
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query ids in %s", p.table)
	}
	defer rows.Close()

	ids := make(map[string]record.Value)
	for rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: id values")
		}
		id := record.CastID(record.FromAny(raw[0], kind), kind)
		ids[id.Key()] = id
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate ids")
}

// InsertBatch inserts via COPY when the whole chunk is clean, falling back
// to per-row inserts so individual failures can be enumerated.
func (p *Postgres) InsertBatch(ctx context.Context, recs []*record.Record) (EditResult, error) {
	var res EditResult
	if len(recs) == 0 {
		return res, nil
	}

	schema, err := p.Schema(ctx)
	if err != nil {
		return res, err
	}

	cols, rows := copyRows(recs, schema)
	if n, err := db.CopyFrom(ctx, p.pool, p.table, cols, rows); err == nil {
		res.SuccessCount = int(n)
		return res, nil
	} else {
		zap.L().Debug("postgres: COPY failed, retrying row by row",
			zap.String("table", p.table), zap.Error(err))
	}

	for i, rec := range recs {
		c, vals := bindable(rec, schema)
		if len(c) == 0 {
			res.Failures = append(res.Failures, Failure{Index: i, Err: eris.New("postgres: record has no insertable fields")})
			continue
		}
		placeholders := make([]string, len(c))
		for j := range c {
			placeholders[j] = fmt.Sprintf("$%d", j+1)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			db.SanitizeTable(p.table), db.QuoteAndJoin(c), strings.Join(placeholders, ", "))
		if _, err := p.pool.Exec(ctx, query, vals...); err != nil {
			res.Failures = append(res.Failures, Failure{Index: i, Err: eris.Wrapf(err, "postgres: insert into %s", p.table)})
			continue
		}
		res.SuccessCount++
	}
	return res, nil
}

func (p *Postgres) UpdateBatch(ctx context.Context, recs []*record.Record) (EditResult, error) {
	var res EditResult
	if len(recs) == 0 {
		return res, nil
	}

	schema, err := p.Schema(ctx)
	if err != nil {
		return res, err
	}

	for i, rec := range recs {
		rowID := rec.Value(p.rowID)
		if rowID.IsNull() {
			res.Failures = append(res.Failures, Failure{Index: i, Err: eris.Errorf("postgres: update record is missing %s", p.rowID)})
			continue
		}

		cols, vals := bindable(rec, schema)
		if len(cols) == 0 {
			res.Failures = append(res.Failures, Failure{Index: i, Err: eris.New("postgres: record has no updatable fields")})
			continue
		}

		sets := make([]string, len(cols))
		for j, c := range cols {
			sets[j] = fmt.Sprintf("%s = $%d", db.QuoteAndJoin([]string{c}), j+1)
		}
		vals = append(vals, rowID.Any())
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
			db.SanitizeTable(p.table), strings.Join(sets, ", "),
			db.QuoteAndJoin([]string{p.rowID}), len(vals))
		if _, err := p.pool.Exec(ctx, query, vals...); err != nil {
			res.Failures = append(res.Failures, Failure{Index: i, Err: eris.Wrapf(err, "postgres: update %s", p.table)})
			continue
		}
		res.SuccessCount++
	}
	return res, nil
}

func (p *Postgres) DeleteWhere(ctx context.Context, where string) (int, error) {
	if where == "" {
		return 0, eris.New("postgres: refusing to delete with empty where clause")
	}
	tag, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", db.SanitizeTable(p.table), where))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete from %s", p.table)
	}
	return int(tag.RowsAffected()), nil
}

// copyRows projects records onto the union of schema fields they populate,
// in schema order, for the COPY fast path.
func copyRows(recs []*record.Record, schema record.Schema) ([]string, [][]any) {
	present := make(map[string]bool)
	for _, rec := range recs {
		for _, f := range rec.Fields() {
			present[f] = true
		}
	}

	var cols []string
	for _, f := range schema.Fields {
		if f.Name != schema.RowID && present[f.Name] {
			cols = append(cols, f.Name)
		}
	}

	rows := make([][]any, len(recs))
	for i, rec := range recs {
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = rec.Value(c).Any()
		}
		rows[i] = row
	}
	return cols, rows
}
