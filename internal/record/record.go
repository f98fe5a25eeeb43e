// Package record defines the typed data model shared by the import pipeline:
// field kinds, values, records, schemas, identifier casting, and the
// type-tolerant comparisons used during reconciliation.
package record

import (
	"fmt"
	"strconv"
	"time"

	"github.com/twpayne/go-geom"
)

// Kind classifies a field for casting and comparison purposes.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindFloat
	KindDate
)

// String returns the human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Numeric reports whether values of this kind render unquoted in predicates.
func (k Kind) Numeric() bool {
	return k == KindInteger || k == KindFloat
}

// Value is a typed field value. The zero Value is a null string.
type Value struct {
	kind Kind
	null bool
	str  string
	i    int64
	f    float64
	t    time.Time
}

// Null returns a null value of the given kind.
func Null(kind Kind) Value {
	return Value{kind: kind, null: true}
}

// String constructs a string value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Int constructs an integer value.
func Int(i int64) Value {
	return Value{kind: KindInteger, i: i}
}

// Float constructs a float value.
func Float(f float64) Value {
	return Value{kind: KindFloat, f: f}
}

// Date constructs a date value.
func Date(t time.Time) Value {
	return Value{kind: KindDate, t: t}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.null }

// Str returns the string payload. Only meaningful for KindString.
func (v Value) Str() string { return v.str }

// IntVal returns the integer payload. Only meaningful for KindInteger.
func (v Value) IntVal() int64 { return v.i }

// FloatVal returns the float payload. Only meaningful for KindFloat.
func (v Value) FloatVal() float64 { return v.f }

// Time returns the date payload. Only meaningful for KindDate.
func (v Value) Time() time.Time { return v.t }

// Any returns the payload as a native Go value, or nil for null.
func (v Value) Any() any {
	if v.null {
		return nil
	}
	switch v.kind {
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindDate:
		return v.t
	default:
		return v.str
	}
}

// Text renders the value as a plain string, with integral floats rendered in
// integer form so "2013.0" and "2013" agree.
func (v Value) Text() string {
	if v.null {
		return ""
	}
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		if v.f == float64(int64(v.f)) {
			return strconv.FormatInt(int64(v.f), 10)
		}
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindDate:
		if v.t.IsZero() && v.str != "" {
			return v.str
		}
		return v.t.Format(time.RFC3339)
	default:
		return v.str
	}
}

// FromAny converts a native Go value (as produced by database drivers or
// JSON decoding) into a Value of the given kind. Unrecognized types fall
// back to their string form.
func FromAny(raw any, kind Kind) Value {
	if raw == nil {
		return Null(kind)
	}
	switch x := raw.(type) {
	case string:
		return Value{kind: kind, str: x}
	case []byte:
		return Value{kind: kind, str: string(x)}
	case int:
		return Value{kind: kind, i: int64(x)}
	case int32:
		return Value{kind: kind, i: int64(x)}
	case int64:
		return Value{kind: kind, i: x}
	case float32:
		return Value{kind: kind, f: float64(x)}
	case float64:
		// JSON numbers always decode as float64; keep integral ones exact.
		if kind == KindInteger && x == float64(int64(x)) {
			return Value{kind: kind, i: int64(x)}
		}
		return Value{kind: kind, f: x}
	case bool:
		return Value{kind: kind, str: strconv.FormatBool(x)}
	case time.Time:
		return Value{kind: kind, t: x}
	default:
		return Value{kind: kind, str: fmt.Sprintf("%v", raw)}
	}
}

// Record is an ordered mapping from field name to typed value. One Record
// represents one incident row, whether it came from the incoming batch, the
// target store, or an exception report. A record may additionally carry a
// point geometry once it has been located.
type Record struct {
	names []string
	vals  map[string]Value
	geom  *geom.Point
}

// NewRecord creates an empty record with the given field order.
func NewRecord(fields []string) *Record {
	names := make([]string, len(fields))
	copy(names, fields)
	return &Record{
		names: names,
		vals:  make(map[string]Value, len(fields)),
	}
}

// Fields returns the record's field names in order.
func (r *Record) Fields() []string { return r.names }

// Get returns the value for a field and whether the field exists.
func (r *Record) Get(name string) (Value, bool) {
	v, ok := r.vals[name]
	return v, ok
}

// Value returns the value for a field, or a null string value if absent.
func (r *Record) Value(name string) Value {
	if v, ok := r.vals[name]; ok {
		return v
	}
	return Null(KindString)
}

// Set stores a value, appending the field to the order if it is new.
func (r *Record) Set(name string, v Value) {
	if _, ok := r.vals[name]; !ok {
		r.names = append(r.names, name)
	}
	r.vals[name] = v
}

// Geometry returns the record's point geometry, or nil if it has none.
func (r *Record) Geometry() *geom.Point { return r.geom }

// SetGeometry attaches a point geometry to the record.
func (r *Record) SetGeometry(p *geom.Point) { r.geom = p }

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := NewRecord(r.names)
	for k, v := range r.vals {
		c.vals[k] = v
	}
	c.geom = r.geom
	return c
}

// Values returns the record's values in field order.
func (r *Record) Values() []Value {
	out := make([]Value, len(r.names))
	for i, n := range r.names {
		out[i] = r.vals[n]
	}
	return out
}

// Field describes one column of a schema.
type Field struct {
	Name     string
	Kind     Kind
	Nullable bool
}

// Schema is an ordered field list plus the name of the backend's own row
// identity field (OBJECTID, rowid, a serial key). The row identity field is
// excluded from matching-field computation because it differs between source
// and target by construction.
type Schema struct {
	Fields []Field
	RowID  string
}

// Kind returns the kind of a named field and whether the field exists.
func (s Schema) Kind(name string) (Kind, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Kind, true
		}
	}
	return KindString, false
}

// Names returns the schema's field names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Has reports whether the schema contains a field with the given name.
func (s Schema) Has(name string) bool {
	_, ok := s.Kind(name)
	return ok
}

// MatchingFields returns the field names present in both schemas, in this
// schema's order, excluding either schema's row identity field.
func (s Schema) MatchingFields(other Schema) []string {
	var out []string
	for _, f := range s.Fields {
		if f.Name == s.RowID || f.Name == other.RowID {
			continue
		}
		if other.Has(f.Name) {
			out = append(out, f.Name)
		}
	}
	return out
}
